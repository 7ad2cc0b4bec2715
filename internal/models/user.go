package models

import "time"

// User is an authenticated identity supplied by the identity collaborator.
// The core never authenticates; it trusts the caller-resolved record.
type User struct {
	UID            string    `json:"uid"`
	Name           string    `json:"name"`
	Picture        string    `json:"picture,omitempty"`
	MentorVerified bool      `json:"mentor_verified"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
