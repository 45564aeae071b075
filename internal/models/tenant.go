package models

import "time"

// Tenant is an isolated organization. Every user, conversation and message
// belongs to exactly one tenant; cross-tenant conversations are an explicit
// opt-in flag on the conversation, never the default.
type Tenant struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:120;not null" json:"name"`
	Slug      string    `gorm:"size:40;not null;uniqueIndex" json:"slug"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
