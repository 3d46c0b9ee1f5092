package models

import "time"

// User is a registered chat user. The password hash is never serialized.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	AvatarURL    string     `json:"avatarUrl,omitempty"`
	IsOnline     bool       `json:"isOnline"`
	LastSeenAt   *time.Time `json:"lastSeen,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// NewUser is the input of a user write. PasswordHash must already be hashed.
type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	AvatarURL    string
}

// Presence is the stored online state of a user.
type Presence struct {
	UserID     int64      `json:"userId"`
	IsOnline   bool       `json:"isOnline"`
	LastSeenAt *time.Time `json:"lastSeen,omitempty"`
}
