// Package validation provides input validation utilities.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	slugRegex  = regexp.MustCompile(`^[a-z0-9-]{3,24}$`)
	emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// reservedSlugs are workspace slugs that would collide with API routes or
// confuse operators.
var reservedSlugs = map[string]struct{}{
	"admin":         {},
	"api":           {},
	"auth":          {},
	"conversations": {},
	"health":        {},
	"login":         {},
	"logout":        {},
	"messages":      {},
	"metrics":       {},
	"tenants":       {},
	"users":         {},
	"ws":            {},
}

// ValidateSlug validates workspace slug format and reserved names.
func ValidateSlug(slug string) error {
	if !slugRegex.MatchString(slug) {
		return fmt.Errorf("slug must be 3-24 characters and contain only lowercase letters, numbers, and hyphens")
	}

	if strings.HasPrefix(slug, "-") || strings.HasSuffix(slug, "-") {
		return fmt.Errorf("slug cannot start or end with a hyphen")
	}

	if _, exists := reservedSlugs[slug]; exists {
		return fmt.Errorf("slug is reserved")
	}

	return nil
}

// ValidateEmail checks basic email shape. Deliverability is the mail
// server's problem.
func ValidateEmail(email string) error {
	if len(email) > 254 {
		return fmt.Errorf("email must not exceed 254 characters")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email address")
	}
	return nil
}

// ValidatePassword checks if a password meets security requirements.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}
	if len(password) > 128 {
		return fmt.Errorf("password must not exceed 128 characters")
	}
	return nil
}

// ValidateDisplayName checks if a display name meets requirements.
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name is required")
	}
	if len(name) > 80 {
		return fmt.Errorf("display name must not exceed 80 characters")
	}
	return nil
}
