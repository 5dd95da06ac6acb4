package identities

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/eol-uchile/uchileedxlogin/internal/document"
	"github.com/eol-uchile/uchileedxlogin/internal/identity/models"
	"github.com/eol-uchile/uchileedxlogin/pkg/platform/sentinel"
)

// InMemoryStore keeps identity records in memory for tests/dev. Keys are
// canonical document id strings; canonicalization happens in
// document.Parse before records reach the store.
type InMemoryStore struct {
	mu         sync.RWMutex
	byDocument map[string]*models.Identity
	byAccount  map[uuid.UUID]string
}

// New constructs an empty in-memory identity store.
func New() *InMemoryStore {
	return &InMemoryStore{
		byDocument: make(map[string]*models.Identity),
		byAccount:  make(map[uuid.UUID]string),
	}
}

func (s *InMemoryStore) Create(_ context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byDocument[identity.DocumentID.Value]; taken {
		return fmt.Errorf("document %s: %w", identity.DocumentID, sentinel.ErrConflict)
	}
	if _, taken := s.byAccount[identity.AccountID]; taken {
		return fmt.Errorf("account %s: %w", identity.AccountID, sentinel.ErrConflict)
	}
	clone := *identity
	s.byDocument[identity.DocumentID.Value] = &clone
	s.byAccount[identity.AccountID] = identity.DocumentID.Value
	return nil
}

func (s *InMemoryStore) FindByDocument(_ context.Context, doc document.ID) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.byDocument[doc.Value]
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", doc, sentinel.ErrNotFound)
	}
	clone := *identity
	return &clone, nil
}

func (s *InMemoryStore) FindByDocuments(_ context.Context, docs []string) (map[string]*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := make(map[string]*models.Identity, len(docs))
	for _, doc := range docs {
		if identity, ok := s.byDocument[doc]; ok {
			clone := *identity
			found[doc] = &clone
		}
	}
	return found, nil
}

func (s *InMemoryStore) LinkedAccounts(_ context.Context, accountIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	linked := make(map[uuid.UUID]bool, len(accountIDs))
	for _, id := range accountIDs {
		if _, ok := s.byAccount[id]; ok {
			linked[id] = true
		}
	}
	return linked, nil
}

func (s *InMemoryStore) SetExternalAuth(_ context.Context, doc document.ID, hasExternalAuth bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byDocument[doc.Value]
	if !ok {
		return fmt.Errorf("identity %s: %w", doc, sentinel.ErrNotFound)
	}
	identity.HasExternalAuth = hasExternalAuth
	return nil
}
