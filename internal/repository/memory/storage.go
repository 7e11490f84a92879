// Package memory keeps users and their contacts in process memory.
// Used for tests and for local runs without database
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/nkiryanov/mycontacts/internal/models"
	"github.com/nkiryanov/mycontacts/internal/repository"
)

var _ repository.Storage = (*Storage)(nil)

type Storage struct {
	mu    sync.RWMutex
	users map[string]models.User // by email

	contacts      map[int64]models.Contact
	nextContactID int64
}

func NewStorage() *Storage {
	return &Storage{
		users:    make(map[string]models.User),
		contacts: make(map[int64]models.Contact),
	}
}

func (s *Storage) User() repository.UserRepo {
	return &UserRepo{s: s}
}

func (s *Storage) Contact() repository.ContactRepo {
	return &ContactRepo{s: s}
}

func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Run fn against snapshot of storage and publish snapshot back if fn succeeded
// Storage is locked until fn returns: other writers wait, so their writes are not lost on publish.
// fn must use the storage it is given only
func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Storage{
		users:         maps.Clone(s.users),
		contacts:      maps.Clone(s.contacts),
		nextContactID: s.nextContactID,
	}

	if err := fn(tx); err != nil {
		return err
	}

	s.users = tx.users
	s.contacts = tx.contacts
	s.nextContactID = tx.nextContactID

	return nil
}
