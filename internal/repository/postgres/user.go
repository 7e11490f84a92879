package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/mycontacts/internal/apperrors"
	"github.com/nkiryanov/mycontacts/internal/models"
	"github.com/nkiryanov/mycontacts/internal/repository"
)

type UserRepo struct {
	DB DBTX
}

const userColumns = `id, created_at, updated_at, username, email, password_hash, confirmed, avatar_url, refresh_token`

const createUser = `-- name: CreateUser
INSERT INTO users (id, username, email, password_hash)
VALUES ($1, $2, $3, $4)
RETURNING ` + userColumns

func (r *UserRepo) CreateUser(ctx context.Context, arg repository.CreateUserParams) (models.User, error) {
	rows, _ := r.DB.Query(ctx, createUser, uuid.New(), arg.Username, arg.Email, arg.HashedPassword)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return user, apperrors.ErrUserAlreadyExists
		}

		return user, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

const getUserByEmail = `-- name: GetUserByEmail
SELECT ` + userColumns + ` FROM users
WHERE email = $1
`

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByEmail, email)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

const setConfirmed = `-- name: SetConfirmed
UPDATE users SET confirmed = TRUE, updated_at = now()
WHERE email = $1
`

func (r *UserRepo) SetConfirmed(ctx context.Context, email string) error {
	return r.update(ctx, setConfirmed, email)
}

const setPasswordHash = `-- name: SetPasswordHash
UPDATE users SET password_hash = $2, updated_at = now()
WHERE email = $1
`

func (r *UserRepo) SetPasswordHash(ctx context.Context, email string, hashedPassword string) error {
	return r.update(ctx, setPasswordHash, email, hashedPassword)
}

const setAvatarURL = `-- name: SetAvatarURL
UPDATE users SET avatar_url = $2, updated_at = now()
WHERE email = $1
`

func (r *UserRepo) SetAvatarURL(ctx context.Context, email string, url string) error {
	return r.update(ctx, setAvatarURL, email, url)
}

const setRefreshToken = `-- name: SetRefreshToken
UPDATE users SET refresh_token = $2, updated_at = now()
WHERE email = $1
`

func (r *UserRepo) SetRefreshToken(ctx context.Context, email string, token *string) error {
	return r.update(ctx, setRefreshToken, email, token)
}

// Single statement makes compare and set atomic: row lock is held by UPDATE
// Concurrent swap of the same token waits for the first one and then matches nothing
const swapRefreshToken = `-- name: SwapRefreshToken
UPDATE users SET refresh_token = $3, updated_at = now()
WHERE email = $1 AND refresh_token = $2
`

func (r *UserRepo) SwapRefreshToken(ctx context.Context, email string, current string, next string) (bool, error) {
	tag, err := r.DB.Exec(ctx, swapRefreshToken, email, current, next)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *UserRepo) update(ctx context.Context, query string, email string, args ...any) error {
	tag, err := r.DB.Exec(ctx, query, append([]any{email}, args...)...)
	switch {
	case err != nil:
		return fmt.Errorf("db error: %w", err)
	case tag.RowsAffected() == 0:
		return apperrors.ErrUserNotFound
	default:
		return nil
	}
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.Username,
		&u.Email,
		&u.HashedPassword,
		&u.Confirmed,
		&u.AvatarURL,
		&u.RefreshToken,
	)
	return u, err
}
