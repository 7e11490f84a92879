package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nkiryanov/mycontacts/internal/apperrors"
	"github.com/nkiryanov/mycontacts/internal/handlers/render"
	"github.com/nkiryanov/mycontacts/internal/handlers/userctx"
	"github.com/nkiryanov/mycontacts/internal/logger"
	"github.com/nkiryanov/mycontacts/internal/models"
	"github.com/nkiryanov/mycontacts/internal/repository"
)

const (
	defaultContactsLimit = 10
	maxContactsLimit     = 100
	defaultBirthdayDays  = 7
	maxBirthdayDays      = 365
)

type contactRequest struct {
	FirstName   string  `json:"first_name" validate:"required,max=50"`
	LastName    string  `json:"last_name" validate:"required,max=50"`
	Email       *string `json:"email" validate:"omitempty,email,max=50"`
	PhoneNumber string  `json:"phone_number" validate:"required,e164"`
	Birthday    *string `json:"birthday" validate:"omitempty,datetime=2006-01-02"`
	Position    *string `json:"position" validate:"omitempty,max=50"`
}

// Birthday is already validated
func (req contactRequest) params() repository.ContactParams {
	p := repository.ContactParams{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		Position:    req.Position,
	}
	if req.Birthday != nil {
		if b, err := time.Parse(time.DateOnly, *req.Birthday); err == nil {
			p.Birthday = &b
		}
	}
	return p
}

type contactResponse struct {
	ID          int64     `json:"id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Email       *string   `json:"email"`
	PhoneNumber string    `json:"phone_number"`
	Birthday    *string   `json:"birthday"`
	Position    *string   `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newContactResponse(c models.Contact) contactResponse {
	res := contactResponse{
		ID:          c.ID,
		FirstName:   c.FirstName,
		LastName:    c.LastName,
		Email:       c.Email,
		PhoneNumber: c.PhoneNumber,
		Position:    c.Position,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	if c.Birthday != nil {
		b := c.Birthday.Format(time.DateOnly)
		res.Birthday = &b
	}
	return res
}

func newContactsResponse(contacts []models.Contact) []contactResponse {
	res := make([]contactResponse, 0, len(contacts))
	for _, c := range contacts {
		res = append(res, newContactResponse(c))
	}
	return res
}

func handleListContacts(contacts contactService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())

		skip, ok := queryInt(w, r, "skip", 0, 0, -1)
		if !ok {
			return
		}
		limit, ok := queryInt(w, r, "limit", defaultContactsLimit, 1, maxContactsLimit)
		if !ok {
			return
		}

		found, err := contacts.ListContacts(r.Context(), repository.ListContactsOpts{
			UserID: user.ID,
			Query:  strings.TrimSpace(r.URL.Query().Get("q")),
			Offset: skip,
			Limit:  limit,
		})
		switch {
		case err != nil:
			l.Error("Failed to list contacts", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		case len(found) == 0:
			render.ServiceError(w, "No contacts were found", http.StatusNotFound)
		default:
			render.JSON(w, newContactsResponse(found))
		}
	})
}

func handleUpcomingBirthdays(contacts contactService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())

		days, ok := queryInt(w, r, "days", defaultBirthdayDays, 1, maxBirthdayDays)
		if !ok {
			return
		}

		found, err := contacts.UpcomingBirthdays(r.Context(), user.ID, days)
		switch {
		case err != nil:
			l.Error("Failed to find upcoming birthdays", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		case len(found) == 0:
			render.ServiceError(w, "Contacts not found", http.StatusNotFound)
		default:
			render.JSON(w, newContactsResponse(found))
		}
	})
}

func handleCreateContact(contacts contactService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())

		data, err := render.BindAndValidate[contactRequest](w, r)
		if err != nil {
			return
		}

		contact, err := contacts.CreateContact(r.Context(), user.ID, data.params())
		if err != nil {
			contactError(w, err, l)
			return
		}

		render.JSONWithStatus(w, newContactResponse(contact), http.StatusCreated)
	})
}

func handleGetContact(contacts contactService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())

		id, ok := contactID(w, r)
		if !ok {
			return
		}

		contact, err := contacts.GetContact(r.Context(), user.ID, id)
		if err != nil {
			contactError(w, err, l)
			return
		}

		render.JSON(w, newContactResponse(contact))
	})
}

func handleUpdateContact(contacts contactService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())

		id, ok := contactID(w, r)
		if !ok {
			return
		}
		data, err := render.BindAndValidate[contactRequest](w, r)
		if err != nil {
			return
		}

		contact, err := contacts.UpdateContact(r.Context(), user.ID, id, data.params())
		if err != nil {
			contactError(w, err, l)
			return
		}

		render.JSON(w, newContactResponse(contact))
	})
}

func handlePatchContact(contacts contactService, l logger.Logger) http.Handler {
	type request struct {
		Email       *string `json:"email" validate:"omitempty,email,max=50"`
		PhoneNumber *string `json:"phone_number" validate:"omitempty,e164"`
		Position    *string `json:"position" validate:"omitempty,max=50"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())

		id, ok := contactID(w, r)
		if !ok {
			return
		}
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		contact, err := contacts.PatchContact(r.Context(), user.ID, id, repository.ContactPatch{
			Email:       data.Email,
			PhoneNumber: data.PhoneNumber,
			Position:    data.Position,
		})
		if err != nil {
			contactError(w, err, l)
			return
		}

		render.JSON(w, newContactResponse(contact))
	})
}

func handleDeleteContact(contacts contactService, l logger.Logger) http.Handler {
	type response struct {
		Detail string `json:"detail"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())

		id, ok := contactID(w, r)
		if !ok {
			return
		}

		contact, err := contacts.DeleteContact(r.Context(), user.ID, id)
		if err != nil {
			contactError(w, err, l)
			return
		}

		render.JSON(w, response{Detail: fmt.Sprintf("%s %s was deleted", contact.FirstName, contact.LastName)})
	})
}

func contactError(w http.ResponseWriter, err error, l logger.Logger) {
	var dup *apperrors.DuplicateContactError
	switch {
	case errors.Is(err, apperrors.ErrContactNotFound):
		render.ServiceError(w, "Contact not found", http.StatusNotFound)
	case errors.As(err, &dup):
		render.ServiceError(w, "Duplicate fields: "+strings.Join(dup.Fields, ", "), http.StatusConflict)
	case errors.Is(err, apperrors.ErrBirthdayNotInPast):
		render.ServiceError(w, "Birthday must be in the past", http.StatusUnprocessableEntity)
	default:
		l.Error("Contact operation failed", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func contactID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("contact_id"), 10, 64)
	if err != nil || id < 1 {
		fieldError(w, "contact_id", "Value has to be a positive integer")
		return 0, false
	}
	return id, true
}

// Integer query parameter within [lo, hi], hi < 0 means no upper bound
// Default is used if parameter is missing. Writes 422 response if value is not acceptable
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int, lo int, hi int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}

	v, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		fieldError(w, name, "Value has to be an integer")
	case v < lo:
		fieldError(w, name, fmt.Sprintf("Value has to be at least %d", lo))
	case hi >= 0 && v > hi:
		fieldError(w, name, fmt.Sprintf("Value has to be at most %d", hi))
	default:
		return v, true
	}
	return 0, false
}

func fieldError(w http.ResponseWriter, field string, message string) {
	render.JSONWithStatus(w, render.ErrorResponse{
		Error:   render.ValidationErrorType,
		Message: "Request validation failed",
		Fields:  map[string]string{field: message},
	}, http.StatusUnprocessableEntity)
}
