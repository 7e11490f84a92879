package postgres

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/mycontacts/internal/apperrors"
	"github.com/nkiryanov/mycontacts/internal/repository"
	"github.com/nkiryanov/mycontacts/internal/testutil"
)

func Test_UserRepo(t *testing.T) {
	t.Parallel() // It's ok to run in parallel with other tests, but not with subtests

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	params := repository.CreateUserParams{
		Username:       "testuser",
		Email:          "test@example.com",
		HashedPassword: "hashedpassword123",
	}

	t.Run("create user ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}

			user, err := r.CreateUser(t.Context(), params)

			require.NoError(t, err)
			assert.NotEmpty(t, user.ID)
			assert.Equal(t, "testuser", user.Username)
			assert.Equal(t, "test@example.com", user.Email)
			assert.Equal(t, "hashedpassword123", user.HashedPassword)
			assert.False(t, user.Confirmed, "new user is not confirmed")
			assert.Nil(t, user.RefreshToken, "new user has no refresh token")
			assert.Nil(t, user.AvatarURL)
			assert.WithinDuration(t, time.Now(), user.CreatedAt, time.Second, "CreatedAt should be recent")
		})
	})

	t.Run("create user duplicate fail", func(t *testing.T) {
		tests := []struct {
			name   string
			params repository.CreateUserParams
		}{
			{"same username", repository.CreateUserParams{Username: "testuser", Email: "other@example.com", HashedPassword: "x"}},
			{"same email", repository.CreateUserParams{Username: "otheruser", Email: "test@example.com", HashedPassword: "x"}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
					r := UserRepo{DB: tx}
					_, err := r.CreateUser(t.Context(), params)
					require.NoError(t, err)

					_, err = r.CreateUser(t.Context(), tt.params)

					require.Error(t, err)
					require.ErrorIs(t, err, apperrors.ErrUserAlreadyExists, "if user exists must return well defined error")
				})
			})
		}
	})

	t.Run("get user by email ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}
			created, err := r.CreateUser(t.Context(), params)
			require.NoError(t, err)

			got, err := r.GetUserByEmail(t.Context(), "test@example.com")

			require.NoError(t, err)
			assert.Equal(t, created.ID, got.ID)
			assert.Equal(t, created.Username, got.Username)
			assert.Equal(t, created.HashedPassword, got.HashedPassword)
			assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
		})
	})

	t.Run("get user by email not found", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}

			_, err := r.GetUserByEmail(t.Context(), "nobody@example.com")

			require.Error(t, err)
			require.ErrorIs(t, err, apperrors.ErrUserNotFound, "should return well known error")
		})
	})

	t.Run("setters", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}
			_, err := r.CreateUser(t.Context(), params)
			require.NoError(t, err)
			token := "refresh"

			require.NoError(t, r.SetConfirmed(t.Context(), "test@example.com"))
			require.NoError(t, r.SetPasswordHash(t.Context(), "test@example.com", "newhash"))
			require.NoError(t, r.SetAvatarURL(t.Context(), "test@example.com", "https://cdn.example.com/avatars/testuser"))
			require.NoError(t, r.SetRefreshToken(t.Context(), "test@example.com", &token))

			got, err := r.GetUserByEmail(t.Context(), "test@example.com")
			require.NoError(t, err)
			assert.True(t, got.Confirmed)
			assert.Equal(t, "newhash", got.HashedPassword)
			require.NotNil(t, got.AvatarURL)
			assert.Equal(t, "https://cdn.example.com/avatars/testuser", *got.AvatarURL)
			assert.True(t, got.HasRefreshToken("refresh"))

			require.NoError(t, r.SetRefreshToken(t.Context(), "test@example.com", nil))
			got, err = r.GetUserByEmail(t.Context(), "test@example.com")
			require.NoError(t, err)
			assert.Nil(t, got.RefreshToken, "nil should clear refresh token")
		})
	})

	t.Run("setters for unknown user fail", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}

			errs := []error{
				r.SetConfirmed(t.Context(), "nobody@example.com"),
				r.SetPasswordHash(t.Context(), "nobody@example.com", "x"),
				r.SetAvatarURL(t.Context(), "nobody@example.com", "x"),
				r.SetRefreshToken(t.Context(), "nobody@example.com", nil),
			}

			for _, err := range errs {
				require.ErrorIs(t, err, apperrors.ErrUserNotFound)
			}
		})
	})

	t.Run("swap refresh token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}
			_, err := r.CreateUser(t.Context(), params)
			require.NoError(t, err)
			current := "token-0"
			require.NoError(t, r.SetRefreshToken(t.Context(), "test@example.com", &current))

			swapped, err := r.SwapRefreshToken(t.Context(), "test@example.com", "token-0", "token-1")
			require.NoError(t, err)
			require.True(t, swapped)

			swapped, err = r.SwapRefreshToken(t.Context(), "test@example.com", "token-0", "token-2")
			require.NoError(t, err)
			require.False(t, swapped, "stale token must not be swapped")

			got, err := r.GetUserByEmail(t.Context(), "test@example.com")
			require.NoError(t, err)
			assert.True(t, got.HasRefreshToken("token-1"))
		})
	})

	t.Run("swap when no token stored", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}
			_, err := r.CreateUser(t.Context(), params)
			require.NoError(t, err)

			swapped, err := r.SwapRefreshToken(t.Context(), "test@example.com", "token-0", "token-1")

			require.NoError(t, err)
			require.False(t, swapped)
		})
	})

	t.Run("concurrent swaps only one wins", func(t *testing.T) {
		s := NewStorage(pg.Pool)
		email := "race@example.com"
		_, err := s.User().CreateUser(t.Context(), repository.CreateUserParams{Username: "racer", Email: email, HashedPassword: "x"})
		require.NoError(t, err)
		t.Cleanup(func() {
			_, _ = pg.Pool.Exec(t.Context(), "DELETE FROM users WHERE email = $1", email)
		})
		current := "token-0"
		require.NoError(t, s.User().SetRefreshToken(t.Context(), email, &current))

		var wg sync.WaitGroup
		results := make(chan bool, 10)
		for i := range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				swapped, err := s.User().SwapRefreshToken(t.Context(), email, "token-0", "next-"+string(rune('a'+i)))
				assert.NoError(t, err)
				results <- swapped
			}()
		}
		wg.Wait()
		close(results)

		wins := 0
		for swapped := range results {
			if swapped {
				wins++
			}
		}
		assert.Equal(t, 1, wins, "exactly one rotation has to win")
	})
}

func Test_Storage(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("ping", func(t *testing.T) {
		s := NewStorage(pg.Pool)

		err := s.Ping(t.Context())

		require.NoError(t, err)
	})

	t.Run("in tx rollback on error", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := NewStorage(tx)
			errBoom := errors.New("boom")

			err := s.InTx(t.Context(), func(s repository.Storage) error {
				_, err := s.User().CreateUser(t.Context(), repository.CreateUserParams{Username: "txuser", Email: "tx@example.com", HashedPassword: "x"})
				require.NoError(t, err)
				return errBoom
			})
			require.ErrorIs(t, err, errBoom)

			_, err = s.User().GetUserByEmail(t.Context(), "tx@example.com")
			require.ErrorIs(t, err, apperrors.ErrUserNotFound, "user must be rolled back")
		})
	})

	t.Run("in tx commit", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := NewStorage(tx)

			err := s.InTx(t.Context(), func(s repository.Storage) error {
				_, err := s.User().CreateUser(t.Context(), repository.CreateUserParams{Username: "txuser", Email: "tx@example.com", HashedPassword: "x"})
				return err
			})
			require.NoError(t, err)

			_, err = s.User().GetUserByEmail(t.Context(), "tx@example.com")
			require.NoError(t, err)
		})
	})
}
