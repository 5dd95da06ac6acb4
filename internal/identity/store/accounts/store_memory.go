package accounts

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/eol-uchile/uchileedxlogin/internal/identity/models"
	"github.com/eol-uchile/uchileedxlogin/pkg/platform/sentinel"
)

// Error Contract:
// - ErrNotFound when the requested account does not exist
// - ErrConflict when a username or email is already taken
// - nil for successful operations
// InMemoryStore keeps accounts in memory for tests/dev.
type InMemoryStore struct {
	mu         sync.RWMutex
	byID       map[uuid.UUID]*models.Account
	byUsername map[string]uuid.UUID
	byEmail    map[string]uuid.UUID
}

// New constructs an empty in-memory account store.
func New() *InMemoryStore {
	return &InMemoryStore{
		byID:       make(map[uuid.UUID]*models.Account),
		byUsername: make(map[string]uuid.UUID),
		byEmail:    make(map[string]uuid.UUID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byUsername[account.Username]; taken {
		return fmt.Errorf("username %q: %w", account.Username, sentinel.ErrConflict)
	}
	if _, taken := s.byEmail[account.Email]; taken {
		return fmt.Errorf("email %q: %w", account.Email, sentinel.ErrConflict)
	}
	clone := *account
	s.byID[account.ID] = &clone
	s.byUsername[account.Username] = account.ID
	s.byEmail[account.Email] = account.ID
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, sentinel.ErrNotFound)
	}
	clone := *account
	return &clone, nil
}

func (s *InMemoryStore) FindByEmails(_ context.Context, emails []string) ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found []*models.Account
	for _, email := range emails {
		if id, ok := s.byEmail[email]; ok {
			clone := *s.byID[id]
			found = append(found, &clone)
		}
	}
	return found, nil
}

func (s *InMemoryStore) UsernameExists(_ context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, taken := s.byUsername[username]
	return taken, nil
}
