package domain

import "time"

// User is an account allowed to observe transfers through the API.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
