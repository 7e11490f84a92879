package apperrors

import (
	"errors"
	"strings"
)

var (
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserNotConfirmed   = errors.New("user email is not confirmed")
	ErrInvalidCredentials = errors.New("incorrect username or password")

	// Token decoding
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrTokenExpired     = errors.New("token is expired")

	// Session tokens (access, refresh)
	// ErrWrongScope, ErrRefreshMismatch and user lookup failures are wrapped into ErrUnauthorized by auth service
	ErrUnauthorized    = errors.New("unauthorized")
	ErrWrongScope      = errors.New("token has wrong scope")
	ErrRefreshMismatch = errors.New("refresh token does not match stored one")

	// Purpose tokens (email confirmation, password reset)
	ErrInvalidToken = errors.New("invalid token")
	ErrVerification = errors.New("verification error")

	ErrRateLimited   = errors.New("rate limited")
	ErrAvatarInvalid = errors.New("avatar is invalid")

	ErrContactNotFound      = errors.New("contact not found")
	ErrContactAlreadyExists = errors.New("contact already exists")
	ErrBirthdayNotInPast    = errors.New("birthday must be in the past")
)

// Contact clashes with another contact of the same user
// Fields holds names of clashing fields: "email", "phone_number"
type DuplicateContactError struct {
	Fields []string
}

func (e *DuplicateContactError) Error() string {
	return "duplicate fields: " + strings.Join(e.Fields, ", ")
}

func (e *DuplicateContactError) Unwrap() error {
	return ErrContactAlreadyExists
}
