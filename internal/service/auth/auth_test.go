package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/mycontacts/internal/apperrors"
	"github.com/nkiryanov/mycontacts/internal/models"
	"github.com/nkiryanov/mycontacts/internal/repository"
	"github.com/nkiryanov/mycontacts/internal/repository/memory"
	"github.com/nkiryanov/mycontacts/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/mycontacts/internal/testutil"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "password123"
)

type testEnv struct {
	s       *AuthService
	tokens  *tokenmanager.TokenManager
	storage *memory.Storage
	clock   *testutil.Clock
}

func newTestEnv(t *testing.T, cfg Config) testEnv {
	t.Helper()

	clock := testutil.NewClock(testutil.MustParseTime("2026-01-01 12:00:00Z"))
	tokens, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret-key", Now: clock.Now})
	require.NoError(t, err, "token manager should be created without errors")

	if cfg.Hasher == nil {
		cfg.Hasher = BcryptHasher{Cost: bcrypt.MinCost}
	}
	storage := memory.NewStorage()
	s, err := NewService(cfg, tokens, storage)
	require.NoError(t, err, "auth service could't be started")

	return testEnv{s: s, tokens: tokens, storage: storage, clock: clock}
}

// Signed up and confirmed user
func (e testEnv) confirmedUser(t *testing.T) models.User {
	t.Helper()

	_, err := e.s.Signup(t.Context(), "alice", testEmail, testPassword)
	require.NoError(t, err)
	require.NoError(t, e.storage.User().SetConfirmed(t.Context(), testEmail))

	user, err := e.storage.User().GetUserByEmail(t.Context(), testEmail)
	require.NoError(t, err)
	return user
}

func (e testEnv) login(t *testing.T) models.TokenPair {
	t.Helper()

	e.confirmedUser(t)
	pair, err := e.s.Login(t.Context(), testEmail, testPassword)
	require.NoError(t, err)
	return pair
}

func (e testEnv) storedRefresh(t *testing.T) *string {
	t.Helper()

	user, err := e.storage.User().GetUserByEmail(t.Context(), testEmail)
	require.NoError(t, err)
	return user.RefreshToken
}

func Test_Auth(t *testing.T) {
	t.Parallel()

	t.Run("new auth service defaults", func(t *testing.T) {
		tokens, err := tokenmanager.New(tokenmanager.Config{SecretKey: "secret"})
		require.NoError(t, err)

		s, err := NewService(Config{}, tokens, memory.NewStorage())

		require.NoError(t, err, "auth service should be created without errors")
		require.Equal(t, DefaultHasher, s.hasher, "default hasher should be set to BcryptHasher")
		require.False(t, s.revokeOnPasswordReset)
	})

	t.Run("new auth service without deps fail", func(t *testing.T) {
		_, err := NewService(Config{}, nil, nil)

		require.Error(t, err)
	})

	t.Run("Signup", func(t *testing.T) {
		t.Run("new user ok", func(t *testing.T) {
			e := newTestEnv(t, Config{})

			user, err := e.s.Signup(t.Context(), "alice", testEmail, testPassword)

			require.NoError(t, err)
			assert.Equal(t, "alice", user.Username)
			assert.Equal(t, testEmail, user.Email)
			assert.False(t, user.Confirmed, "new user is not confirmed")
			assert.NotEqual(t, testPassword, user.HashedPassword, "password must be stored hashed")
			assert.Nil(t, user.RefreshToken)
		})

		t.Run("fail if user exists", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			_, err := e.s.Signup(t.Context(), "alice", testEmail, testPassword)
			require.NoError(t, err, "no error has should happen if user not exists")

			_, err = e.s.Signup(t.Context(), "alice", testEmail, "other-pwd")

			require.Error(t, err)
			require.ErrorIs(t, err, apperrors.ErrUserAlreadyExists)
		})
	})

	t.Run("Login", func(t *testing.T) {
		t.Run("ok", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			e.confirmedUser(t)

			pair, err := e.s.Login(t.Context(), testEmail, testPassword)

			require.NoError(t, err)
			access, err := e.tokens.Decode(pair.Access.Value)
			require.NoError(t, err)
			assert.Equal(t, models.ScopeAccessToken, access.Scope)
			assert.Equal(t, testEmail, access.Subject)
			refresh, err := e.tokens.Decode(pair.Refresh.Value)
			require.NoError(t, err)
			assert.Equal(t, models.ScopeRefreshToken, refresh.Scope)

			stored := e.storedRefresh(t)
			require.NotNil(t, stored, "refresh token has to be stored")
			assert.Equal(t, pair.Refresh.Value, *stored)
		})

		t.Run("fail", func(t *testing.T) {
			tests := []struct {
				name     string
				email    string
				password string
				confirm  bool
				wantErr  error
			}{
				{"unknown user", "bob@example.com", testPassword, true, apperrors.ErrInvalidCredentials},
				{"wrong password", testEmail, "wrong-password", true, apperrors.ErrInvalidCredentials},
				{"unconfirmed", testEmail, testPassword, false, apperrors.ErrUserNotConfirmed},
				{"unconfirmed and wrong password", testEmail, "wrong-password", false, apperrors.ErrInvalidCredentials},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					e := newTestEnv(t, Config{})
					_, err := e.s.Signup(t.Context(), "alice", testEmail, testPassword)
					require.NoError(t, err)
					if tt.confirm {
						require.NoError(t, e.storage.User().SetConfirmed(t.Context(), testEmail))
					}

					_, err = e.s.Login(t.Context(), tt.email, tt.password)

					require.Error(t, err)
					require.ErrorIs(t, err, tt.wantErr)
					assert.Nil(t, e.storedRefresh(t), "no session on failed login")
				})
			}
		})

		t.Run("second login replaces refresh token", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			first := e.login(t)

			second, err := e.s.Login(t.Context(), testEmail, testPassword)
			require.NoError(t, err)

			_, err = e.s.RefreshPair(t.Context(), first.Refresh.Value)
			require.ErrorIs(t, err, apperrors.ErrRefreshMismatch, "only last session is valid")
			_, err = e.s.RefreshPair(t.Context(), second.Refresh.Value)
			require.ErrorIs(t, err, apperrors.ErrRefreshMismatch, "presenting stale token ended the session")
		})
	})

	t.Run("Authenticate", func(t *testing.T) {
		t.Run("ok", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			pair := e.login(t)

			user, err := e.s.Authenticate(t.Context(), pair.Access.Value)

			require.NoError(t, err)
			assert.Equal(t, testEmail, user.Email)
		})

		t.Run("refresh token is not access token", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			pair := e.login(t)

			_, err := e.s.Authenticate(t.Context(), pair.Refresh.Value)

			require.ErrorIs(t, err, apperrors.ErrUnauthorized)
			require.ErrorIs(t, err, apperrors.ErrWrongScope)
			assert.NotNil(t, e.storedRefresh(t), "authenticate never changes state")
		})

		t.Run("purpose token is not access token", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			e.confirmedUser(t)
			token, err := e.s.IssueEmailConfirmation(testEmail)
			require.NoError(t, err)

			_, err = e.s.Authenticate(t.Context(), token)

			require.ErrorIs(t, err, apperrors.ErrUnauthorized)
			require.ErrorIs(t, err, apperrors.ErrWrongScope)
		})

		t.Run("expired", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			pair := e.login(t)
			e.clock.Advance(20 * time.Minute)

			_, err := e.s.Authenticate(t.Context(), pair.Access.Value)

			require.ErrorIs(t, err, apperrors.ErrUnauthorized)
			require.ErrorIs(t, err, apperrors.ErrTokenExpired)
		})

		t.Run("garbage", func(t *testing.T) {
			e := newTestEnv(t, Config{})

			_, err := e.s.Authenticate(t.Context(), "not a token")

			require.ErrorIs(t, err, apperrors.ErrUnauthorized)
			require.ErrorIs(t, err, apperrors.ErrInvalidSignature)
		})

		t.Run("unknown user", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			token, err := e.tokens.IssueAccess("ghost@example.com")
			require.NoError(t, err)

			_, err = e.s.Authenticate(t.Context(), token.Value)

			require.ErrorIs(t, err, apperrors.ErrUnauthorized)
			require.ErrorIs(t, err, apperrors.ErrUserNotFound)
		})
	})

	t.Run("RefreshPair", func(t *testing.T) {
		t.Run("rotate ok", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			pair := e.login(t)

			next, err := e.s.RefreshPair(t.Context(), pair.Refresh.Value)

			require.NoError(t, err)
			assert.NotEqual(t, pair.Refresh.Value, next.Refresh.Value, "refresh token has to be rotated")
			stored := e.storedRefresh(t)
			require.NotNil(t, stored)
			assert.Equal(t, next.Refresh.Value, *stored)

			_, err = e.s.Authenticate(t.Context(), next.Access.Value)
			require.NoError(t, err, "new access token should be valid")
		})

		t.Run("rotation chain", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			pair := e.login(t)

			for range 3 {
				next, err := e.s.RefreshPair(t.Context(), pair.Refresh.Value)
				require.NoError(t, err)
				pair = next
			}
		})

		t.Run("reuse ends session", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			refresh0 := e.login(t).Refresh.Value

			pair1, err := e.s.RefreshPair(t.Context(), refresh0)
			require.NoError(t, err, "first use of refresh token is ok")

			_, err = e.s.RefreshPair(t.Context(), refresh0)
			require.ErrorIs(t, err, apperrors.ErrUnauthorized)
			require.ErrorIs(t, err, apperrors.ErrRefreshMismatch)
			assert.Nil(t, e.storedRefresh(t), "stored token has to be cleared on reuse")

			_, err = e.s.RefreshPair(t.Context(), pair1.Refresh.Value)
			require.ErrorIs(t, err, apperrors.ErrRefreshMismatch, "legit holder is logged out as well")
		})

		t.Run("access token is not refresh token", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			pair := e.login(t)

			_, err := e.s.RefreshPair(t.Context(), pair.Access.Value)

			require.ErrorIs(t, err, apperrors.ErrUnauthorized)
			require.ErrorIs(t, err, apperrors.ErrWrongScope)
			stored := e.storedRefresh(t)
			require.NotNil(t, stored, "wrong scope doesn't change state")
			assert.Equal(t, pair.Refresh.Value, *stored)
		})

		t.Run("expired", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			pair := e.login(t)
			e.clock.Advance(5 * 24 * time.Hour)

			_, err := e.s.RefreshPair(t.Context(), pair.Refresh.Value)

			require.ErrorIs(t, err, apperrors.ErrUnauthorized)
			require.ErrorIs(t, err, apperrors.ErrTokenExpired)
			assert.NotNil(t, e.storedRefresh(t), "expired token doesn't change state")
		})

		t.Run("unknown user", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			token, err := e.tokens.IssueRefresh("ghost@example.com")
			require.NoError(t, err)

			_, err = e.s.RefreshPair(t.Context(), token.Value)

			require.ErrorIs(t, err, apperrors.ErrUnauthorized)
			require.ErrorIs(t, err, apperrors.ErrUserNotFound)
		})

		t.Run("valid token of logged out user", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			e.confirmedUser(t)
			token, err := e.tokens.IssueRefresh(testEmail)
			require.NoError(t, err)

			_, err = e.s.RefreshPair(t.Context(), token.Value)

			require.ErrorIs(t, err, apperrors.ErrRefreshMismatch)
		})

		t.Run("lost concurrent rotation ends session", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			pair := e.login(t)
			racing := &racingStorage{Storage: e.storage}
			s, err := NewService(Config{Hasher: e.s.hasher}, e.tokens, racing)
			require.NoError(t, err)

			_, err = s.RefreshPair(t.Context(), pair.Refresh.Value)

			require.ErrorIs(t, err, apperrors.ErrRefreshMismatch)
			assert.Nil(t, e.storedRefresh(t), "loser clears stored token")
		})
	})

	t.Run("ConfirmEmail", func(t *testing.T) {
		t.Run("confirm ok and idempotent", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			_, err := e.s.Signup(t.Context(), "alice", testEmail, testPassword)
			require.NoError(t, err)
			token, err := e.s.IssueEmailConfirmation(testEmail)
			require.NoError(t, err)

			already, err := e.s.ConfirmEmail(t.Context(), token)
			require.NoError(t, err)
			require.False(t, already)

			already, err = e.s.ConfirmEmail(t.Context(), token)
			require.NoError(t, err)
			require.True(t, already, "second confirmation reports already confirmed")

			_, err = e.s.Login(t.Context(), testEmail, testPassword)
			require.NoError(t, err, "confirmed user may login")
		})

		t.Run("confirmation token lives 5 days", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			_, err := e.s.Signup(t.Context(), "alice", testEmail, testPassword)
			require.NoError(t, err)
			token, err := e.s.IssueEmailConfirmation(testEmail)
			require.NoError(t, err)
			e.clock.Advance(5 * 24 * time.Hour)

			_, err = e.s.ConfirmEmail(t.Context(), token)

			require.ErrorIs(t, err, apperrors.ErrInvalidToken)
			require.ErrorIs(t, err, apperrors.ErrTokenExpired)
		})

		t.Run("fail", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			pair := e.login(t)
			ghost, err := e.s.IssueEmailConfirmation("ghost@example.com")
			require.NoError(t, err)

			tests := []struct {
				name    string
				token   string
				wantErr error
			}{
				{"garbage", "not a token", apperrors.ErrInvalidToken},
				{"access token", pair.Access.Value, apperrors.ErrInvalidToken},
				{"refresh token", pair.Refresh.Value, apperrors.ErrInvalidToken},
				{"unknown user", ghost, apperrors.ErrVerification},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					_, err := e.s.ConfirmEmail(t.Context(), tt.token)

					require.ErrorIs(t, err, tt.wantErr)
				})
			}
		})
	})

	t.Run("RequestEmailConfirmation", func(t *testing.T) {
		t.Run("unconfirmed user gets token", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			_, err := e.s.Signup(t.Context(), "alice", testEmail, testPassword)
			require.NoError(t, err)

			user, token, err := e.s.RequestEmailConfirmation(t.Context(), testEmail)
			require.NoError(t, err)
			assert.Equal(t, "alice", user.Username)
			require.NotEmpty(t, token)

			already, err := e.s.ConfirmEmail(t.Context(), token)
			require.NoError(t, err)
			assert.False(t, already)
		})

		t.Run("confirmed user gets nothing", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			e.confirmedUser(t)

			user, token, err := e.s.RequestEmailConfirmation(t.Context(), testEmail)

			require.NoError(t, err)
			assert.True(t, user.Confirmed)
			assert.Empty(t, token)
		})

		t.Run("unknown user", func(t *testing.T) {
			e := newTestEnv(t, Config{})

			_, _, err := e.s.RequestEmailConfirmation(t.Context(), "ghost@example.com")

			require.ErrorIs(t, err, apperrors.ErrUserNotFound)
		})
	})

	t.Run("PasswordReset", func(t *testing.T) {
		t.Run("reset ok", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			pair := e.login(t)

			user, token, err := e.s.IssuePasswordReset(t.Context(), testEmail)
			require.NoError(t, err)
			assert.Equal(t, "alice", user.Username)

			checked, err := e.s.CheckPasswordReset(t.Context(), token)
			require.NoError(t, err)
			assert.Equal(t, testEmail, checked.Email)

			user, err = e.s.ResetPassword(t.Context(), token, "new-password")
			require.NoError(t, err)
			assert.Equal(t, testEmail, user.Email)

			_, err = e.s.Login(t.Context(), testEmail, testPassword)
			require.ErrorIs(t, err, apperrors.ErrInvalidCredentials, "old password doesn't work")

			_, err = e.s.Login(t.Context(), testEmail, "new-password")
			require.NoError(t, err, "new password works")

			_, err = e.s.RefreshPair(t.Context(), pair.Refresh.Value)
			require.ErrorIs(t, err, apperrors.ErrRefreshMismatch, "new login replaced the session")
		})

		t.Run("session survives reset by default", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			pair := e.login(t)
			_, token, err := e.s.IssuePasswordReset(t.Context(), testEmail)
			require.NoError(t, err)

			_, err = e.s.ResetPassword(t.Context(), token, "new-password")
			require.NoError(t, err)

			_, err = e.s.RefreshPair(t.Context(), pair.Refresh.Value)
			require.NoError(t, err)
		})

		t.Run("session revoked if configured", func(t *testing.T) {
			e := newTestEnv(t, Config{RevokeOnPasswordReset: true})
			pair := e.login(t)
			_, token, err := e.s.IssuePasswordReset(t.Context(), testEmail)
			require.NoError(t, err)

			user, err := e.s.ResetPassword(t.Context(), token, "new-password")
			require.NoError(t, err)
			assert.Nil(t, user.RefreshToken)

			_, err = e.s.RefreshPair(t.Context(), pair.Refresh.Value)
			require.ErrorIs(t, err, apperrors.ErrRefreshMismatch)
		})

		t.Run("reset token expires after 10 minutes", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			e.confirmedUser(t)
			_, token, err := e.s.IssuePasswordReset(t.Context(), testEmail)
			require.NoError(t, err)
			e.clock.Advance(10 * time.Minute)

			_, err = e.s.ResetPassword(t.Context(), token, "new-password")

			require.ErrorIs(t, err, apperrors.ErrInvalidToken)
			require.ErrorIs(t, err, apperrors.ErrTokenExpired)
		})

		t.Run("unknown email", func(t *testing.T) {
			e := newTestEnv(t, Config{})

			_, _, err := e.s.IssuePasswordReset(t.Context(), "ghost@example.com")

			require.ErrorIs(t, err, apperrors.ErrUserNotFound)
		})

		t.Run("token for deleted user", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			token, err := e.tokens.IssuePurpose("ghost@example.com", e.tokens.PasswordResetTTL())
			require.NoError(t, err)

			_, err = e.s.ResetPassword(t.Context(), token.Value, "new-password")

			require.ErrorIs(t, err, apperrors.ErrUserNotFound)
		})

		t.Run("session tokens rejected", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			pair := e.login(t)

			_, err := e.s.ResetPassword(t.Context(), pair.Access.Value, "new-password")
			require.ErrorIs(t, err, apperrors.ErrInvalidToken)

			_, err = e.s.CheckPasswordReset(t.Context(), pair.Refresh.Value)
			require.ErrorIs(t, err, apperrors.ErrInvalidToken)
		})

		t.Run("failed hasher leaves password unchanged", func(t *testing.T) {
			e := newTestEnv(t, Config{})
			user := e.confirmedUser(t)
			_, token, err := e.s.IssuePasswordReset(t.Context(), testEmail)
			require.NoError(t, err)
			s, err := NewService(Config{Hasher: failingHasher{}}, e.tokens, e.storage)
			require.NoError(t, err)

			_, err = s.ResetPassword(t.Context(), token, "new-password")

			require.Error(t, err)
			got, err := e.storage.User().GetUserByEmail(t.Context(), testEmail)
			require.NoError(t, err)
			assert.Equal(t, user.HashedPassword, got.HashedPassword)
		})
	})
}

// Storage where somebody else rotates refresh token right before our swap
type racingStorage struct {
	*memory.Storage
}

func (s *racingStorage) User() repository.UserRepo {
	return &racingUserRepo{UserRepo: s.Storage.User()}
}

type racingUserRepo struct {
	repository.UserRepo
}

func (r *racingUserRepo) SwapRefreshToken(ctx context.Context, email string, current string, next string) (bool, error) {
	if _, err := r.UserRepo.SwapRefreshToken(ctx, email, current, "winner"); err != nil {
		return false, err
	}
	return r.UserRepo.SwapRefreshToken(ctx, email, current, next)
}

type failingHasher struct{}

func (failingHasher) Hash(string) (string, error) { return "", errors.New("hasher failed") }
func (failingHasher) Compare(string, string) error { return errors.New("hasher failed") }
