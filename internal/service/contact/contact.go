package contact

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/mycontacts/internal/apperrors"
	"github.com/nkiryanov/mycontacts/internal/models"
	"github.com/nkiryanov/mycontacts/internal/repository"
)

type ContactService struct {
	storage repository.Storage
	now     func() time.Time
}

// now is used to check birthdays, time.Now if nil
func NewService(storage repository.Storage, now func() time.Time) *ContactService {
	if now == nil {
		now = time.Now
	}
	return &ContactService{storage: storage, now: now}
}

func (s *ContactService) CreateContact(ctx context.Context, userID uuid.UUID, arg repository.ContactParams) (models.Contact, error) {
	if err := s.checkBirthday(arg.Birthday); err != nil {
		return models.Contact{}, err
	}
	return s.storage.Contact().CreateContact(ctx, userID, arg)
}

func (s *ContactService) ListContacts(ctx context.Context, opts repository.ListContactsOpts) ([]models.Contact, error) {
	return s.storage.Contact().ListContacts(ctx, opts)
}

func (s *ContactService) GetContact(ctx context.Context, userID uuid.UUID, id int64) (models.Contact, error) {
	return s.storage.Contact().GetContact(ctx, userID, id)
}

func (s *ContactService) UpdateContact(ctx context.Context, userID uuid.UUID, id int64, arg repository.ContactParams) (models.Contact, error) {
	if err := s.checkBirthday(arg.Birthday); err != nil {
		return models.Contact{}, err
	}
	return s.storage.Contact().UpdateContact(ctx, userID, id, arg)
}

func (s *ContactService) PatchContact(ctx context.Context, userID uuid.UUID, id int64, arg repository.ContactPatch) (models.Contact, error) {
	return s.storage.Contact().PatchContact(ctx, userID, id, arg)
}

func (s *ContactService) DeleteContact(ctx context.Context, userID uuid.UUID, id int64) (models.Contact, error) {
	return s.storage.Contact().DeleteContact(ctx, userID, id)
}

// Contacts whose birthday falls within next 'days' days, today excluded
// Ordered by nearest birthday first
func (s *ContactService) UpcomingBirthdays(ctx context.Context, userID uuid.UUID, days int) ([]models.Contact, error) {
	contacts, err := s.storage.Contact().ListContacts(ctx, repository.ListContactsOpts{
		UserID:       userID,
		WithBirthday: true,
	})
	if err != nil {
		return nil, err
	}

	today := s.today()
	end := today.AddDate(0, 0, days)

	type upcoming struct {
		contact models.Contact
		date    time.Time
	}
	var found []upcoming
	for _, c := range contacts {
		if date, ok := nextBirthday(*c.Birthday, today, end); ok {
			found = append(found, upcoming{contact: c, date: date})
		}
	}
	slices.SortStableFunc(found, func(a, b upcoming) int { return a.date.Compare(b.date) })

	result := make([]models.Contact, 0, len(found))
	for _, u := range found {
		result = append(result, u.contact)
	}
	return result, nil
}

// Birthday anniversary in (today, end]. Feb 29 falls on Mar 1 in non leap years
func nextBirthday(birthday time.Time, today time.Time, end time.Time) (time.Time, bool) {
	for _, year := range []int{today.Year(), today.Year() + 1} {
		date := time.Date(year, birthday.Month(), birthday.Day(), 0, 0, 0, 0, time.UTC)
		if date.After(today) && !date.After(end) {
			return date, true
		}
	}
	return time.Time{}, false
}

func (s *ContactService) checkBirthday(birthday *time.Time) error {
	if birthday == nil {
		return nil
	}
	y, m, d := birthday.Date()
	if !time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Before(s.today()) {
		return apperrors.ErrBirthdayNotInPast
	}
	return nil
}

// Current date at UTC midnight
func (s *ContactService) today() time.Time {
	y, m, d := s.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
