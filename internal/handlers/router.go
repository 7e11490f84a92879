package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nkiryanov/mycontacts/internal/handlers/middleware"
	"github.com/nkiryanov/mycontacts/internal/logger"
	"github.com/nkiryanov/mycontacts/internal/models"
	"github.com/nkiryanov/mycontacts/internal/repository"
	"github.com/nkiryanov/mycontacts/internal/service/mail"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

// Services used by handlers
// Avatars and limiters are optional: avatar route is not registered and requests are not limited if nil
type Services struct {
	Auth     authService
	Mailer   mailer
	Storage  pinger
	Contacts contactService
	Avatars  avatarService

	Limiter        limiter
	ContactLimiter limiter

	// Base url put into emails, request Host is never trusted for that
	PublicURL string
}

func NewRouter(s Services, logger logger.Logger) http.Handler {
	withAuth := middleware.AuthMiddleware(s.Auth, logger)

	limitWith := func(lim limiter) func(prefix string) func(http.Handler) http.Handler {
		return func(prefix string) func(http.Handler) http.Handler {
			if lim == nil {
				return func(h http.Handler) http.Handler { return h }
			}
			return middleware.RateLimitMiddleware(lim, prefix, logger)
		}
	}
	withLimit := limitWith(s.Limiter)
	withContactLimit := limitWith(s.ContactLimiter)

	publicURL := s.PublicURL
	if !strings.HasSuffix(publicURL, "/") {
		publicURL += "/"
	}

	apiauth := http.NewServeMux()
	apiauth.Handle("POST /signup", withLimit("signup")(handleSignup(s.Auth, s.Mailer, publicURL, logger)))
	apiauth.Handle("POST /login", withLimit("login")(handleLogin(s.Auth, logger)))
	apiauth.Handle("GET /refresh_token", withLimit("refresh")(handleRefreshToken(s.Auth, logger)))
	apiauth.Handle("GET /confirmed_email/{token}", handleConfirmEmail(s.Auth, logger))
	apiauth.Handle("POST /request_email", withLimit("request_email")(handleRequestEmail(s.Auth, s.Mailer, publicURL, logger)))

	apiusers := http.NewServeMux()
	apiusers.Handle("GET /me", withAuth(handleUserMe()))
	apiusers.Handle("POST /forgot_password", withLimit("forgot_password")(handleForgotPassword(s.Auth, s.Mailer, publicURL, logger)))
	apiusers.Handle("GET /reset_password/{token}", handleCheckResetPassword(s.Auth, logger))
	apiusers.Handle("POST /reset_password/{token}", handleResetPassword(s.Auth, s.Mailer, publicURL, logger))
	if s.Avatars != nil {
		apiusers.Handle("PATCH /avatar", withAuth(handleUpdateAvatar(s.Avatars, logger)))
	}

	apicontacts := http.NewServeMux()
	contactRoute := func(pattern string, prefix string, h http.Handler) {
		apicontacts.Handle(pattern, chain(h, withContactLimit(prefix), withAuth))
	}
	contactRoute("GET /{$}", "contacts_list", handleListContacts(s.Contacts, logger))
	contactRoute("POST /{$}", "contacts_create", handleCreateContact(s.Contacts, logger))
	contactRoute("GET /upcoming_birthdays", "contacts_birthdays", handleUpcomingBirthdays(s.Contacts, logger))
	contactRoute("GET /upcoming_birthdays/{$}", "contacts_birthdays", handleUpcomingBirthdays(s.Contacts, logger))
	contactRoute("GET /{contact_id}", "contacts_get", handleGetContact(s.Contacts, logger))
	contactRoute("PUT /{contact_id}", "contacts_update", handleUpdateContact(s.Contacts, logger))
	contactRoute("PATCH /{contact_id}", "contacts_patch", handlePatchContact(s.Contacts, logger))
	contactRoute("DELETE /{contact_id}", "contacts_delete", handleDeleteContact(s.Contacts, logger))

	root := http.NewServeMux()
	root.Handle("/api/auth/", http.StripPrefix("/api/auth", apiauth))
	root.Handle("/api/users/", http.StripPrefix("/api/users", apiusers))
	if s.Contacts != nil {
		root.Handle("/api/contacts/", http.StripPrefix("/api/contacts", apicontacts))
	}
	root.Handle("GET /api/healthchecker", handleHealthChecker(s.Storage, logger))

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type authService interface {
	// Create unconfirmed user
	// Has to return apperrors.ErrUserAlreadyExists if username or email is taken
	Signup(ctx context.Context, username string, email string, password string) (models.User, error)

	// Login with email and password
	// Has to return apperrors.ErrInvalidCredentials or apperrors.ErrUserNotConfirmed
	Login(ctx context.Context, email string, password string) (models.TokenPair, error)

	// Resolve user by access token. Errors wrap apperrors.ErrUnauthorized
	Authenticate(ctx context.Context, access string) (models.User, error)

	// Rotate refresh token. Errors wrap apperrors.ErrUnauthorized,
	// apperrors.ErrRefreshMismatch and apperrors.ErrWrongScope tell the reason
	RefreshPair(ctx context.Context, refresh string) (models.TokenPair, error)

	IssueEmailConfirmation(email string) (string, error)
	RequestEmailConfirmation(ctx context.Context, email string) (models.User, string, error)

	// Has to return apperrors.ErrInvalidToken for bad token and apperrors.ErrVerification for unknown user
	ConfirmEmail(ctx context.Context, token string) (alreadyConfirmed bool, err error)

	IssuePasswordReset(ctx context.Context, email string) (models.User, string, error)
	CheckPasswordReset(ctx context.Context, token string) (models.User, error)
	ResetPassword(ctx context.Context, token string, newPassword string) (models.User, error)
}

// Notifications are sent in background, errors only mean email was not queued
type mailer interface {
	SendConfirmation(to mail.Recipient, host string, token string) error
	SendPasswordReset(to mail.Recipient, host string, token string) error
	SendPasswordChanged(to mail.Recipient, host string) error
}

// Every method is scoped by user: contacts of other users are reported as apperrors.ErrContactNotFound
type contactService interface {
	// Has to return apperrors.DuplicateContactError if user has contact with same email or phone
	// and apperrors.ErrBirthdayNotInPast if birthday is not in the past
	CreateContact(ctx context.Context, userID uuid.UUID, arg repository.ContactParams) (models.Contact, error)
	ListContacts(ctx context.Context, opts repository.ListContactsOpts) ([]models.Contact, error)
	GetContact(ctx context.Context, userID uuid.UUID, id int64) (models.Contact, error)
	UpdateContact(ctx context.Context, userID uuid.UUID, id int64, arg repository.ContactParams) (models.Contact, error)
	PatchContact(ctx context.Context, userID uuid.UUID, id int64, arg repository.ContactPatch) (models.Contact, error)
	DeleteContact(ctx context.Context, userID uuid.UUID, id int64) (models.Contact, error)

	// Contacts with birthday within next 'days' days
	UpcomingBirthdays(ctx context.Context, userID uuid.UUID, days int) ([]models.Contact, error)
}

type avatarService interface {
	// Has to return apperrors.ErrAvatarInvalid if file is not acceptable
	Upload(ctx context.Context, user models.User, body io.Reader, size int64, contentType string) (models.User, error)
}

type limiter interface {
	Allow(ctx context.Context, key string) error
}

type pinger interface {
	Ping(ctx context.Context) error
}
