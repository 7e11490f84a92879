package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/mycontacts/internal/apperrors"
	"github.com/nkiryanov/mycontacts/internal/handlers/middleware"
	"github.com/nkiryanov/mycontacts/internal/handlers/render"
	"github.com/nkiryanov/mycontacts/internal/logger"
	"github.com/nkiryanov/mycontacts/internal/models"
	"github.com/nkiryanov/mycontacts/internal/service/mail"
)

func recipient(u models.User) mail.Recipient {
	return mail.Recipient{Email: u.Email, Username: u.Username}
}

func handleSignup(auth authService, mailer mailer, publicURL string, l logger.Logger) http.Handler {
	type request struct {
		Username string `json:"username" validate:"required,min=4,max=50"`
		Email    string `json:"user_email" validate:"required,email,max=50"`
		Password string `json:"password" validate:"required,min=8,max=20"`
	}
	type response struct {
		User   [2]string `json:"user"`
		Detail string    `json:"detail"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, err := auth.Signup(r.Context(), data.Username, data.Email, data.Password)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrUserAlreadyExists):
			render.ServiceError(w, "User already exists", http.StatusConflict)
			return
		default:
			l.Error("Failed to create user", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		sendConfirmation(auth, mailer, user, publicURL, l)

		render.JSONWithStatus(w, response{
			User:   [2]string{user.Username, user.Email},
			Detail: "User successfully created. Check your email for confirmation.",
		}, http.StatusCreated)
	})
}

// User is created anyway, failure to send email is logged only
func sendConfirmation(auth authService, mailer mailer, user models.User, host string, l logger.Logger) {
	token, err := auth.IssueEmailConfirmation(user.Email)
	if err != nil {
		l.Error("Failed to issue email confirmation token", "error", err)
		return
	}
	if err := mailer.SendConfirmation(recipient(user), host, token); err != nil {
		l.Error("Failed to queue confirmation email", "error", err)
	}
}

func handleLogin(auth authService, l logger.Logger) http.Handler {
	// OAuth2 password flow form, username holds user email
	type request struct {
		Username string `form:"username" validate:"required"`
		Password string `form:"password" validate:"required"`
	}
	type response struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindFormAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := auth.Login(r.Context(), data.Username, data.Password)
		switch {
		case err == nil:
			render.JSONWithStatus(w, response{
				AccessToken:  pair.Access.Value,
				RefreshToken: pair.Refresh.Value,
				TokenType:    models.TokenTypeBearer,
			}, http.StatusCreated)
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			middleware.Unauthorized(w, "Incorrect username or password")
		case errors.Is(err, apperrors.ErrUserNotConfirmed):
			middleware.Unauthorized(w, "Please confirm your account")
		default:
			l.Error("Failed to login", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleRefreshToken(auth authService, l logger.Logger) http.Handler {
	type response struct {
		NewAccessToken string `json:"new_access_token"`
		RefreshToken   string `json:"refresh_token"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refresh, ok := middleware.BearerToken(r)
		if !ok {
			middleware.Unauthorized(w, "Not authenticated")
			return
		}

		pair, err := auth.RefreshPair(r.Context(), refresh)
		switch {
		case err == nil:
			render.JSON(w, response{NewAccessToken: pair.Access.Value, RefreshToken: pair.Refresh.Value})
		case errors.Is(err, apperrors.ErrRefreshMismatch):
			l.Info("Refresh token mismatch, session ended", "error", err)
			middleware.Unauthorized(w, "Invalid refresh token")
		case errors.Is(err, apperrors.ErrWrongScope):
			l.Debug("Refresh failed", "error", err)
			middleware.Unauthorized(w, "Invalid scope for token")
		case errors.Is(err, apperrors.ErrUnauthorized):
			l.Debug("Refresh failed", "error", err)
			middleware.Unauthorized(w, "Could not validate credentials")
		default:
			l.Error("Failed to refresh tokens", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

type messageResponse struct {
	Message string `json:"message"`
}

func handleConfirmEmail(auth authService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		alreadyConfirmed, err := auth.ConfirmEmail(r.Context(), r.PathValue("token"))
		switch {
		case err == nil && alreadyConfirmed:
			render.JSON(w, messageResponse{Message: "Your email is already confirmed"})
		case err == nil:
			render.JSON(w, messageResponse{Message: "Your email is confirmed"})
		case errors.Is(err, apperrors.ErrInvalidToken):
			l.Debug("Email confirmation failed", "error", err)
			render.ServiceError(w, "Invalid token for email verification", http.StatusUnprocessableEntity)
		case errors.Is(err, apperrors.ErrVerification):
			render.ServiceError(w, "Verification error", http.StatusBadRequest)
		default:
			l.Error("Failed to confirm email", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

// Answer is the same whether user exists or not
func handleRequestEmail(auth authService, mailer mailer, publicURL string, l logger.Logger) http.Handler {
	type request struct {
		Email string `json:"email" validate:"required,email"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, token, err := auth.RequestEmailConfirmation(r.Context(), data.Email)
		switch {
		case err == nil && token != "":
			if err := mailer.SendConfirmation(recipient(user), publicURL, token); err != nil {
				l.Error("Failed to queue confirmation email", "error", err)
			}
		case err == nil, errors.Is(err, apperrors.ErrUserNotFound):
		default:
			l.Error("Failed to request email confirmation", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, messageResponse{Message: "Check your email for confirmation."})
	})
}
