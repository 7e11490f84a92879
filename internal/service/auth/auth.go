package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nkiryanov/mycontacts/internal/apperrors"
	"github.com/nkiryanov/mycontacts/internal/models"
	"github.com/nkiryanov/mycontacts/internal/repository"
	"github.com/nkiryanov/mycontacts/internal/service/auth/tokenmanager"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

type Config struct {
	// Hasher to user during user registration or login process
	// DefaultHasher if not set
	Hasher PasswordHasher

	// Drop user's refresh token when password is reset,
	// so the session started before the reset can't be continued
	RevokeOnPasswordReset bool
}

// Auth service
type AuthService struct {
	// Manager to issue and decode tokens
	tokens *tokenmanager.TokenManager

	// hasher to hash or compare user passwords
	hasher PasswordHasher

	// Storage to access long term data
	storage repository.Storage

	revokeOnPasswordReset bool

	// Hash to compare against when user not found, so login takes same time for unknown users
	dummyHash func() (string, error)
}

func NewService(cfg Config, tokens *tokenmanager.TokenManager, storage repository.Storage) (*AuthService, error) {
	if tokens == nil || storage == nil {
		return nil, errors.New("token manager and storage must not be nil")
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = DefaultHasher
	}

	return &AuthService{
		tokens:                tokens,
		hasher:                hasher,
		storage:               storage,
		revokeOnPasswordReset: cfg.RevokeOnPasswordReset,
		dummyHash: sync.OnceValues(func() (string, error) {
			return hasher.Hash("not a password of any user")
		}),
	}, nil
}

// Create new unconfirmed user
func (s *AuthService) Signup(ctx context.Context, username string, email string, password string) (models.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.User{}, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	return s.storage.User().CreateUser(ctx, repository.CreateUserParams{
		Username:       username,
		Email:          email,
		HashedPassword: hash,
	})
}

// Check user credentials and start new session
// The new refresh token replaces stored one, so only last login session may be refreshed
func (s *AuthService) Login(ctx context.Context, email string, password string) (models.TokenPair, error) {
	user, err := s.storage.User().GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		if hash, err := s.dummyHash(); err == nil {
			_ = s.hasher.Compare(hash, password)
		}
		return models.TokenPair{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return models.TokenPair{}, err
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		return models.TokenPair{}, apperrors.ErrInvalidCredentials
	}

	if !user.Confirmed {
		return models.TokenPair{}, apperrors.ErrUserNotConfirmed
	}

	pair, err := s.tokens.IssuePair(user.Email)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	if err := s.storage.User().SetRefreshToken(ctx, user.Email, &pair.Refresh.Value); err != nil {
		return models.TokenPair{}, err
	}

	return pair, nil
}

// Resolve user by access token
// Every failure wraps apperrors.ErrUnauthorized
func (s *AuthService) Authenticate(ctx context.Context, access string) (models.User, error) {
	claims, err := s.decodeSession(access, models.ScopeAccessToken)
	if err != nil {
		return models.User{}, err
	}

	return s.sessionUser(ctx, claims.Subject)
}

// Exchange refresh token for new token pair
// Refresh token is single use: the presented token has to match the stored one and is replaced atomically.
// Presenting any other token ends the session
func (s *AuthService) RefreshPair(ctx context.Context, refresh string) (models.TokenPair, error) {
	claims, err := s.decodeSession(refresh, models.ScopeRefreshToken)
	if err != nil {
		return models.TokenPair{}, err
	}

	user, err := s.sessionUser(ctx, claims.Subject)
	if err != nil {
		return models.TokenPair{}, err
	}

	if !user.HasRefreshToken(refresh) {
		return models.TokenPair{}, s.endSession(ctx, user.Email)
	}

	pair, err := s.tokens.IssuePair(user.Email)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	swapped, err := s.storage.User().SwapRefreshToken(ctx, user.Email, refresh, pair.Refresh.Value)
	if err != nil {
		return models.TokenPair{}, err
	}
	if !swapped {
		// Token was rotated concurrently
		return models.TokenPair{}, s.endSession(ctx, user.Email)
	}

	return pair, nil
}

// Token to put into confirmation email
func (s *AuthService) IssueEmailConfirmation(email string) (string, error) {
	token, err := s.tokens.IssuePurpose(email, s.tokens.ConfirmEmailTTL())
	return token.Value, err
}

// Token to resend confirmation email
// Token is empty if user already confirmed
func (s *AuthService) RequestEmailConfirmation(ctx context.Context, email string) (models.User, string, error) {
	user, err := s.storage.User().GetUserByEmail(ctx, email)
	if err != nil || user.Confirmed {
		return user, "", err
	}

	token, err := s.IssueEmailConfirmation(user.Email)
	return user, token, err
}

// Mark user confirmed
// Confirming twice is ok, alreadyConfirmed is set then and nothing is written
func (s *AuthService) ConfirmEmail(ctx context.Context, token string) (alreadyConfirmed bool, err error) {
	email, err := s.decodePurpose(token)
	if err != nil {
		return false, err
	}

	user, err := s.storage.User().GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return false, fmt.Errorf("%w: %w", apperrors.ErrVerification, err)
	case err != nil:
		return false, err
	}

	if user.Confirmed {
		return true, nil
	}

	return false, s.storage.User().SetConfirmed(ctx, email)
}

// Token to put into password reset email. User has to exist
func (s *AuthService) IssuePasswordReset(ctx context.Context, email string) (models.User, string, error) {
	user, err := s.storage.User().GetUserByEmail(ctx, email)
	if err != nil {
		return models.User{}, "", err
	}

	token, err := s.tokens.IssuePurpose(user.Email, s.tokens.PasswordResetTTL())
	if err != nil {
		return models.User{}, "", err
	}

	return user, token.Value, nil
}

// User the password reset token was issued for
func (s *AuthService) CheckPasswordReset(ctx context.Context, token string) (models.User, error) {
	email, err := s.decodePurpose(token)
	if err != nil {
		return models.User{}, err
	}

	return s.storage.User().GetUserByEmail(ctx, email)
}

// Set new password for the user the token was issued for
func (s *AuthService) ResetPassword(ctx context.Context, token string, newPassword string) (models.User, error) {
	user, err := s.CheckPasswordReset(ctx, token)
	if err != nil {
		return models.User{}, err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return models.User{}, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	err = s.storage.InTx(ctx, func(tx repository.Storage) error {
		if err := tx.User().SetPasswordHash(ctx, user.Email, hash); err != nil {
			return err
		}
		if s.revokeOnPasswordReset {
			return tx.User().SetRefreshToken(ctx, user.Email, nil)
		}
		return nil
	})
	if err != nil {
		return models.User{}, err
	}

	user.HashedPassword = hash
	if s.revokeOnPasswordReset {
		user.RefreshToken = nil
	}

	return user, nil
}

func (s *AuthService) decodeSession(token string, scope string) (tokenmanager.Claims, error) {
	claims, err := s.tokens.Decode(token)
	if err != nil {
		return claims, fmt.Errorf("%w: %w", apperrors.ErrUnauthorized, err)
	}

	if claims.Scope != scope {
		return claims, fmt.Errorf("%w: %w", apperrors.ErrUnauthorized, apperrors.ErrWrongScope)
	}

	return claims, nil
}

func (s *AuthService) sessionUser(ctx context.Context, email string) (models.User, error) {
	user, err := s.storage.User().GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return user, fmt.Errorf("%w: %w", apperrors.ErrUnauthorized, err)
	default:
		return user, err
	}
}

// Clear stored refresh token and report mismatch
func (s *AuthService) endSession(ctx context.Context, email string) error {
	if err := s.storage.User().SetRefreshToken(ctx, email, nil); err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	return fmt.Errorf("%w: %w", apperrors.ErrUnauthorized, apperrors.ErrRefreshMismatch)
}

// Email the purpose token was issued for
// Session tokens are not accepted here
func (s *AuthService) decodePurpose(token string) (string, error) {
	claims, err := s.tokens.Decode(token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperrors.ErrInvalidToken, err)
	}

	if claims.Scope != "" {
		return "", fmt.Errorf("%w: %w", apperrors.ErrInvalidToken, apperrors.ErrWrongScope)
	}

	return claims.Subject, nil
}
