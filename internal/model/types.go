package model

import "time"

// AccountStatus is the lifecycle status of an account.
type AccountStatus string

const (
	StatusActive AccountStatus = "ACTIVE"
	StatusFrozen AccountStatus = "FROZEN"
)

// Role is used for authorization on admin routes.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Account represents a registered user. RefreshToken holds the single
// currently valid refresh token; issuing a new one invalidates the old.
type Account struct {
	ID              int64
	Phone           string
	PasswordHash    string
	RefreshToken    string
	LoginErrorCount int
	Status          AccountStatus
	Role            Role
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OtpChallenge is the per-phone registration challenge row. There is at most
// one row per phone; it is upserted on every request and never deleted.
// Daily quotas and expiry windows are derived from UpdatedAt at read time.
type OtpChallenge struct {
	ID            int64
	Phone         string
	OtpHash       string
	RememberToken string
	VerifyToken   *string
	RequestCount  int
	ErrorCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Verified reports whether the challenge has passed OTP verification and
// still holds an unconsumed verify token.
func (c OtpChallenge) Verified() bool {
	return c.VerifyToken != nil && *c.VerifyToken != ""
}
