package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/mycontacts/internal/apperrors"
	"github.com/nkiryanov/mycontacts/internal/models"
	"github.com/nkiryanov/mycontacts/internal/repository"
)

type ContactRepo struct {
	DB DBTX
}

const contactColumns = `id, user_id, created_at, updated_at, first_name, last_name, email, phone_number, birthday, position`

// Unique constraints of contacts table and fields they guard
var contactConstraints = map[string]string{
	"contacts_user_email_key":        "email",
	"contacts_user_phone_number_key": "phone_number",
}

const createContact = `-- name: CreateContact
INSERT INTO contacts (user_id, first_name, last_name, email, phone_number, birthday, position)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + contactColumns

func (r *ContactRepo) CreateContact(ctx context.Context, userID uuid.UUID, arg repository.ContactParams) (models.Contact, error) {
	rows, _ := r.DB.Query(ctx, createContact,
		userID, arg.FirstName, arg.LastName, arg.Email, arg.PhoneNumber, arg.Birthday, arg.Position,
	)
	return collectContact(rows)
}

const getContact = `-- name: GetContact
SELECT ` + contactColumns + ` FROM contacts
WHERE user_id = $1 AND id = $2
`

func (r *ContactRepo) GetContact(ctx context.Context, userID uuid.UUID, id int64) (models.Contact, error) {
	rows, _ := r.DB.Query(ctx, getContact, userID, id)
	return collectContact(rows)
}

// Empty pattern matches any contact. NULL limit means no limit
const listContacts = `-- name: ListContacts
SELECT ` + contactColumns + ` FROM contacts
WHERE user_id = $1
  AND ($2::text = '' OR first_name ILIKE $2 OR last_name ILIKE $2 OR email ILIKE $2)
  AND (NOT $3::boolean OR birthday IS NOT NULL)
ORDER BY id
OFFSET $4
LIMIT $5
`

func (r *ContactRepo) ListContacts(ctx context.Context, opts repository.ListContactsOpts) ([]models.Contact, error) {
	var pattern string
	if opts.Query != "" {
		pattern = "%" + likeEscaper.Replace(opts.Query) + "%"
	}

	var limit *int
	if opts.Limit > 0 {
		limit = &opts.Limit
	}

	rows, _ := r.DB.Query(ctx, listContacts, opts.UserID, pattern, opts.WithBirthday, opts.Offset, limit)
	contacts, err := pgx.CollectRows(rows, rowToContact)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return contacts, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

const updateContact = `-- name: UpdateContact
UPDATE contacts SET
	first_name = $3,
	last_name = $4,
	email = $5,
	phone_number = $6,
	birthday = $7,
	position = $8,
	updated_at = now()
WHERE user_id = $1 AND id = $2
RETURNING ` + contactColumns

func (r *ContactRepo) UpdateContact(ctx context.Context, userID uuid.UUID, id int64, arg repository.ContactParams) (models.Contact, error) {
	rows, _ := r.DB.Query(ctx, updateContact,
		userID, id, arg.FirstName, arg.LastName, arg.Email, arg.PhoneNumber, arg.Birthday, arg.Position,
	)
	return collectContact(rows)
}

const patchContact = `-- name: PatchContact
UPDATE contacts SET
	email = COALESCE($3, email),
	phone_number = COALESCE($4, phone_number),
	position = COALESCE($5, position),
	updated_at = now()
WHERE user_id = $1 AND id = $2
RETURNING ` + contactColumns

func (r *ContactRepo) PatchContact(ctx context.Context, userID uuid.UUID, id int64, arg repository.ContactPatch) (models.Contact, error) {
	rows, _ := r.DB.Query(ctx, patchContact, userID, id, arg.Email, arg.PhoneNumber, arg.Position)
	return collectContact(rows)
}

const deleteContact = `-- name: DeleteContact
DELETE FROM contacts
WHERE user_id = $1 AND id = $2
RETURNING ` + contactColumns

func (r *ContactRepo) DeleteContact(ctx context.Context, userID uuid.UUID, id int64) (models.Contact, error) {
	rows, _ := r.DB.Query(ctx, deleteContact, userID, id)
	return collectContact(rows)
}

func collectContact(rows pgx.Rows) (models.Contact, error) {
	contact, err := pgx.CollectOneRow(rows, rowToContact)

	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return contact, nil
	case errors.Is(err, pgx.ErrNoRows):
		return contact, apperrors.ErrContactNotFound
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation:
		field, ok := contactConstraints[pgErr.ConstraintName]
		if !ok {
			return contact, fmt.Errorf("db error: %w", err)
		}
		return contact, &apperrors.DuplicateContactError{Fields: []string{field}}
	default:
		return contact, fmt.Errorf("db error: %w", err)
	}
}

func rowToContact(row pgx.CollectableRow) (models.Contact, error) {
	var c models.Contact
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.FirstName,
		&c.LastName,
		&c.Email,
		&c.PhoneNumber,
		&c.Birthday,
		&c.Position,
	)
	return c, err
}
