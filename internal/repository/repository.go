package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/mycontacts/internal/models"
)

type CreateUserParams struct {
	Username       string
	Email          string
	HashedPassword string
}

// User repository interface
// Every method commits durably before return
type UserRepo interface {
	// Create unconfirmed user without refresh token
	// If user with same username or email exists has to return apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, arg CreateUserParams) (models.User, error)

	// Get user by email
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	// Setters below return apperrors.ErrUserNotFound if there is no user with the email
	SetConfirmed(ctx context.Context, email string) error
	SetPasswordHash(ctx context.Context, email string, hashedPassword string) error
	SetAvatarURL(ctx context.Context, email string, url string) error

	// Overwrite stored refresh token. nil clears it
	SetRefreshToken(ctx context.Context, email string, token *string) error

	// Compare-and-set stored refresh token: replace it with 'next' only if stored one equals 'current'
	// Returns false (and no error) if stored token differs, so concurrent rotations of the same token can't both win
	SwapRefreshToken(ctx context.Context, email string, current string, next string) (swapped bool, err error)
}

// Fields of contact set on create and full update
type ContactParams struct {
	FirstName   string
	LastName    string
	Email       *string
	PhoneNumber string
	Birthday    *time.Time
	Position    *string
}

// Partial update, nil fields are kept as is
type ContactPatch struct {
	Email       *string
	PhoneNumber *string
	Position    *string
}

type ListContactsOpts struct {
	UserID uuid.UUID

	// Case insensitive substring of first name, last name or email. Any contact if empty
	Query string

	// Contacts without birthday are skipped
	WithBirthday bool

	// Contacts are ordered by id. Limit 0 means no limit
	Offset int
	Limit  int
}

// Contact repository interface
// Every method is scoped by user: contact of other user is reported as apperrors.ErrContactNotFound
type ContactRepo interface {
	// If user already has contact with same email or phone number has to return apperrors.DuplicateContactError
	CreateContact(ctx context.Context, userID uuid.UUID, arg ContactParams) (models.Contact, error)

	GetContact(ctx context.Context, userID uuid.UUID, id int64) (models.Contact, error)
	ListContacts(ctx context.Context, opts ListContactsOpts) ([]models.Contact, error)

	// Updates may clash with other contacts the same way create does
	UpdateContact(ctx context.Context, userID uuid.UUID, id int64, arg ContactParams) (models.Contact, error)
	PatchContact(ctx context.Context, userID uuid.UUID, id int64, arg ContactPatch) (models.Contact, error)

	// Return deleted contact
	DeleteContact(ctx context.Context, userID uuid.UUID, id int64) (models.Contact, error)
}

type Storage interface {
	User() UserRepo
	Contact() ContactRepo

	// Check storage is reachable
	Ping(ctx context.Context) error

	// Run fn in transaction. Commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}
