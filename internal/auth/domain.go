package auth

import "time"

// User is an authenticated account. Authentication yields a verified
// email; the authorization engine trusts nothing else about the user.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
