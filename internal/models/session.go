package models

import "time"

// Session is a time-bounded proof of authentication tied to one account
// and one device. The registry aims for at most one active, non-expired
// session per (account, device hash) pair; that is converged to by the
// login reconciliation protocol, not enforced by a uniqueness constraint.
type Session struct {
	ID             string    `json:"id" db:"id"`
	AccountID      string    `json:"account_id" db:"account_id"`
	DeviceHash     string    `json:"device_hash" db:"device_hash"`
	Token          string    `json:"-" db:"token"`
	ExpiresAt      time.Time `json:"expires_at" db:"expires_at"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	LastActivityAt time.Time `json:"last_activity_at" db:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Expired reports whether the session's validity window has passed.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
