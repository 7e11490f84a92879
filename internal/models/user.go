package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Username       string
	Email          string
	HashedPassword string
	Confirmed      bool
	AvatarURL      *string // nil if avatar was never uploaded

	// The only refresh token valid for the user, nil means no active session
	RefreshToken *string
}

// Whether presented refresh token is the one stored for the user
func (u User) HasRefreshToken(token string) bool {
	return u.RefreshToken != nil && *u.RefreshToken == token
}
