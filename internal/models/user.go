// Package models contains data structures for the application's domain models.
package models

import (
	"time"

	"gorm.io/gorm"
)

// Role defines what a user may do inside their tenant.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
	RoleGuest     Role = "guest"
)

// PresenceStatus is the coarse online status tracked per user.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusOffline PresenceStatus = "offline"
)

// ValidPresenceStatus reports whether s is one of the four allowed values.
func ValidPresenceStatus(s PresenceStatus) bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// User represents an account inside a tenant.
//
// OnlineStatus is advisory: it reflects the last known presence transition,
// not a live connection count. Multiple concurrent connections for one user
// collapse to a single status value. Accounts are never hard-deleted; they
// are deactivated via IsActive.
type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	TenantID     uint           `gorm:"not null;index" json:"tenant_id"`
	Tenant       *Tenant        `gorm:"foreignKey:TenantID" json:"tenant,omitempty"`
	DisplayName  string         `gorm:"size:80;not null" json:"display_name"`
	Email        string         `gorm:"unique;not null" json:"email"`
	Password     string         `gorm:"not null" json:"-"`
	Role         Role           `gorm:"type:varchar(20);not null;default:'member'" json:"role"`
	IsActive     bool           `gorm:"not null;default:true" json:"is_active"`
	OnlineStatus PresenceStatus `gorm:"type:varchar(10);not null;default:'offline'" json:"online_status"`
	LastSeenAt   *time.Time     `json:"last_seen_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}
