package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/mycontacts/internal/apperrors"
	"github.com/nkiryanov/mycontacts/internal/models"
	"github.com/nkiryanov/mycontacts/internal/repository"
)

type ContactRepo struct {
	s *Storage
}

func (r *ContactRepo) CreateContact(ctx context.Context, userID uuid.UUID, arg repository.ContactParams) (models.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.checkUnique(userID, 0, arg.Email, arg.PhoneNumber); err != nil {
		return models.Contact{}, err
	}

	r.s.nextContactID++
	now := time.Now()
	c := models.Contact{
		ID:        r.s.nextContactID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	setParams(&c, arg)
	r.s.contacts[c.ID] = c

	return c, nil
}

func (r *ContactRepo) GetContact(ctx context.Context, userID uuid.UUID, id int64) (models.Contact, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.get(userID, id)
}

func (r *ContactRepo) ListContacts(ctx context.Context, opts repository.ListContactsOpts) ([]models.Contact, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	query := strings.ToLower(opts.Query)
	contacts := make([]models.Contact, 0)
	for _, c := range r.s.contacts {
		if c.UserID != opts.UserID || (opts.WithBirthday && c.Birthday == nil) {
			continue
		}
		if query != "" && !matches(c, query) {
			continue
		}
		contacts = append(contacts, c)
	}
	slices.SortFunc(contacts, func(a, b models.Contact) int { return cmp.Compare(a.ID, b.ID) })

	contacts = contacts[min(opts.Offset, len(contacts)):]
	if opts.Limit > 0 {
		contacts = contacts[:min(opts.Limit, len(contacts))]
	}

	return contacts, nil
}

func (r *ContactRepo) UpdateContact(ctx context.Context, userID uuid.UUID, id int64, arg repository.ContactParams) (models.Contact, error) {
	return r.update(userID, id, arg.Email, &arg.PhoneNumber, func(c *models.Contact) { setParams(c, arg) })
}

func (r *ContactRepo) PatchContact(ctx context.Context, userID uuid.UUID, id int64, arg repository.ContactPatch) (models.Contact, error) {
	return r.update(userID, id, arg.Email, arg.PhoneNumber, func(c *models.Contact) {
		if arg.Email != nil {
			c.Email = clone(arg.Email)
		}
		if arg.PhoneNumber != nil {
			c.PhoneNumber = *arg.PhoneNumber
		}
		if arg.Position != nil {
			c.Position = clone(arg.Position)
		}
	})
}

func (r *ContactRepo) DeleteContact(ctx context.Context, userID uuid.UUID, id int64) (models.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, err := r.get(userID, id)
	if err != nil {
		return c, err
	}
	delete(r.s.contacts, id)

	return c, nil
}

func (r *ContactRepo) get(userID uuid.UUID, id int64) (models.Contact, error) {
	c, ok := r.s.contacts[id]
	if !ok || c.UserID != userID {
		return models.Contact{}, apperrors.ErrContactNotFound
	}
	return c, nil
}

// Email or phone may be nil if not changed
func (r *ContactRepo) update(userID uuid.UUID, id int64, email *string, phone *string, fn func(c *models.Contact)) (models.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, err := r.get(userID, id)
	if err != nil {
		return c, err
	}

	var phoneNumber string
	if phone != nil {
		phoneNumber = *phone
	}
	if err := r.checkUnique(userID, id, email, phoneNumber); err != nil {
		return models.Contact{}, err
	}

	fn(&c)
	c.UpdatedAt = time.Now()
	r.s.contacts[id] = c

	return c, nil
}

// Contact with id 'self' is not compared with itself. Empty phone is not checked
func (r *ContactRepo) checkUnique(userID uuid.UUID, self int64, email *string, phone string) error {
	var fields []string
	for _, c := range r.s.contacts {
		if c.UserID != userID || c.ID == self {
			continue
		}
		if email != nil && c.Email != nil && *c.Email == *email && !slices.Contains(fields, "email") {
			fields = append(fields, "email")
		}
		if phone != "" && c.PhoneNumber == phone && !slices.Contains(fields, "phone_number") {
			fields = append(fields, "phone_number")
		}
	}

	if len(fields) > 0 {
		slices.Sort(fields)
		return &apperrors.DuplicateContactError{Fields: fields}
	}
	return nil
}

func matches(c models.Contact, query string) bool {
	if strings.Contains(strings.ToLower(c.FirstName), query) || strings.Contains(strings.ToLower(c.LastName), query) {
		return true
	}
	return c.Email != nil && strings.Contains(strings.ToLower(*c.Email), query)
}

func setParams(c *models.Contact, arg repository.ContactParams) {
	c.FirstName = arg.FirstName
	c.LastName = arg.LastName
	c.Email = clone(arg.Email)
	c.PhoneNumber = arg.PhoneNumber
	c.Position = clone(arg.Position)
	c.Birthday = nil
	if arg.Birthday != nil {
		b := *arg.Birthday
		c.Birthday = &b
	}
}

func clone(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
