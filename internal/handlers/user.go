package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/mycontacts/internal/apperrors"
	"github.com/nkiryanov/mycontacts/internal/handlers/render"
	"github.com/nkiryanov/mycontacts/internal/handlers/userctx"
	"github.com/nkiryanov/mycontacts/internal/logger"
	"github.com/nkiryanov/mycontacts/internal/service/avatar"
)

type userResponse struct {
	Username string `json:"username"`
	Email    string `json:"user_email"`
	Detail   string `json:"detail"`
}

func handleUserMe() http.Handler {
	type response struct {
		ID        uuid.UUID `json:"id"`
		Username  string    `json:"username"`
		Email     string    `json:"user_email"`
		Confirmed bool      `json:"confirmed"`
		AvatarURL *string   `json:"avatar_url"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())
		render.JSON(w, response{
			ID:        user.ID,
			Username:  user.Username,
			Email:     user.Email,
			Confirmed: user.Confirmed,
			AvatarURL: user.AvatarURL,
		})
	})
}

func handleForgotPassword(auth authService, mailer mailer, publicURL string, l logger.Logger) http.Handler {
	type request struct {
		Email string `json:"user_email" validate:"required,email"`
	}
	type response struct {
		Email  string `json:"user_email"`
		Detail string `json:"detail"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, token, err := auth.IssuePasswordReset(r.Context(), data.Email)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "User not found", http.StatusNotFound)
			return
		default:
			l.Error("Failed to issue password reset", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if err := mailer.SendPasswordReset(recipient(user), publicURL, token); err != nil {
			l.Error("Failed to queue password reset email", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, response{Email: user.Email, Detail: "Check your email for reset password."})
	})
}

func handleCheckResetPassword(auth authService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := auth.CheckPasswordReset(r.Context(), r.PathValue("token"))
		switch {
		case err == nil:
			render.JSON(w, userResponse{Username: user.Username, Email: user.Email, Detail: "Token is valid"})
		case errors.Is(err, apperrors.ErrInvalidToken), errors.Is(err, apperrors.ErrUserNotFound):
			l.Debug("Password reset token check failed", "error", err)
			render.ServiceError(w, "Incorrect token.", http.StatusNotFound)
		default:
			l.Error("Failed to check password reset token", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleResetPassword(auth authService, mailer mailer, publicURL string, l logger.Logger) http.Handler {
	type request struct {
		NewPassword string `form:"new_password" validate:"required,min=8,max=20"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindFormAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, err := auth.ResetPassword(r.Context(), r.PathValue("token"), data.NewPassword)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrInvalidToken):
			l.Debug("Password reset failed", "error", err)
			render.ServiceError(w, "Invalid token for email verification", http.StatusUnprocessableEntity)
			return
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "Incorrect token.", http.StatusNotFound)
			return
		default:
			l.Error("Failed to reset password", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if err := mailer.SendPasswordChanged(recipient(user), publicURL); err != nil {
			l.Error("Failed to queue password changed email", "error", err)
		}

		render.JSONWithStatus(w, userResponse{
			Username: user.Username,
			Email:    user.Email,
			Detail:   "Password was changed successfully",
		}, http.StatusCreated)
	})
}

// Multipart body may carry some form overhead besides the file
const maxAvatarRequestSize = avatar.MaxSize + 1<<20

func handleUpdateAvatar(avatars avatarService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())

		r.Body = http.MaxBytesReader(w, r.Body, maxAvatarRequestSize)
		file, header, err := r.FormFile("file")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				render.ServiceError(w, "File is too large", http.StatusRequestEntityTooLarge)
				return
			}
			render.ServiceError(w, "File is required", http.StatusUnprocessableEntity)
			return
		}
		defer file.Close() // nolint:errcheck

		// Trust content, not client provided content type
		head := make([]byte, 512)
		n, err := io.ReadFull(file, head)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			l.Error("Failed to read avatar", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			l.Error("Failed to read avatar", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		contentType := http.DetectContentType(head[:n])

		user, err = avatars.Upload(r.Context(), user, file, header.Size, contentType)
		switch {
		case err == nil:
			render.JSON(w, userResponse{Username: user.Username, Email: user.Email, Detail: "Avatar successfully updated"})
		case errors.Is(err, apperrors.ErrAvatarInvalid):
			render.ServiceError(w, "Avatar has to be an image up to 5 MiB", http.StatusUnprocessableEntity)
		default:
			l.Error("Failed to upload avatar", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
