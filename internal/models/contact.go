package models

import (
	"time"

	"github.com/google/uuid"
)

// Contact belongs to exactly one user and is never visible to others
type Contact struct {
	ID          int64
	UserID      uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FirstName   string
	LastName    string
	Email       *string
	PhoneNumber string
	Birthday    *time.Time // date only, time part is zero
	Position    *string
}
