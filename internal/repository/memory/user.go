package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/mycontacts/internal/apperrors"
	"github.com/nkiryanov/mycontacts/internal/models"
	"github.com/nkiryanov/mycontacts/internal/repository"
)

type UserRepo struct {
	s *Storage
}

func (r *UserRepo) CreateUser(ctx context.Context, arg repository.CreateUserParams) (models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[arg.Email]; ok {
		return models.User{}, apperrors.ErrUserAlreadyExists
	}
	for _, rec := range r.s.users {
		if rec.Username == arg.Username {
			return models.User{}, apperrors.ErrUserAlreadyExists
		}
	}

	now := time.Now()
	user := models.User{
		ID:             uuid.New(),
		CreatedAt:      now,
		UpdatedAt:      now,
		Username:       arg.Username,
		Email:          arg.Email,
		HashedPassword: arg.HashedPassword,
	}
	r.s.users[arg.Email] = user

	return user, nil
}

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rec, ok := r.s.users[email]
	if !ok {
		return models.User{}, apperrors.ErrUserNotFound
	}

	return rec, nil
}

func (r *UserRepo) SetConfirmed(ctx context.Context, email string) error {
	return r.update(email, func(u *models.User) { u.Confirmed = true })
}

func (r *UserRepo) SetPasswordHash(ctx context.Context, email string, hashedPassword string) error {
	return r.update(email, func(u *models.User) { u.HashedPassword = hashedPassword })
}

func (r *UserRepo) SetAvatarURL(ctx context.Context, email string, url string) error {
	return r.update(email, func(u *models.User) { u.AvatarURL = &url })
}

func (r *UserRepo) SetRefreshToken(ctx context.Context, email string, token *string) error {
	if token != nil {
		t := *token
		token = &t
	}
	return r.update(email, func(u *models.User) { u.RefreshToken = token })
}

func (r *UserRepo) SwapRefreshToken(ctx context.Context, email string, current string, next string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec, ok := r.s.users[email]
	if !ok || !rec.HasRefreshToken(current) {
		return false, nil
	}

	rec.RefreshToken = &next
	rec.UpdatedAt = time.Now()
	r.s.users[email] = rec

	return true, nil
}

func (r *UserRepo) update(email string, fn func(u *models.User)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec, ok := r.s.users[email]
	if !ok {
		return apperrors.ErrUserNotFound
	}

	fn(&rec)
	rec.UpdatedAt = time.Now()
	r.s.users[email] = rec

	return nil
}
