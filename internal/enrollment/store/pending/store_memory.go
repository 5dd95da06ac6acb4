package pending

import (
	"context"
	"sync"

	"github.com/eol-uchile/uchileedxlogin/internal/enrollment/models"
)

// InMemoryStore keeps pending registrations in memory for tests/dev. Keys
// are (canonical document id, course); writing the same pair again replaces
// the recorded mode and auto-enroll flag.
type InMemoryStore struct {
	mu         sync.RWMutex
	byDocument map[string]map[string]*models.PendingRegistration
}

// New constructs an empty in-memory pending-registration store.
func New() *InMemoryStore {
	return &InMemoryStore{byDocument: make(map[string]map[string]*models.PendingRegistration)}
}

func (s *InMemoryStore) Create(_ context.Context, registration *models.PendingRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := registration.DocumentID.Value
	if s.byDocument[doc] == nil {
		s.byDocument[doc] = make(map[string]*models.PendingRegistration)
	}
	clone := *registration
	s.byDocument[doc][registration.Course] = &clone
	return nil
}

func (s *InMemoryStore) ListByDocument(_ context.Context, doc string) ([]*models.PendingRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.PendingRegistration
	for _, registration := range s.byDocument[doc] {
		clone := *registration
		out = append(out, &clone)
	}
	return out, nil
}

func (s *InMemoryStore) DeleteByDocument(_ context.Context, doc string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := len(s.byDocument[doc])
	delete(s.byDocument, doc)
	return deleted, nil
}

func (s *InMemoryStore) DeleteMatching(_ context.Context, doc string, courses []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for _, course := range courses {
		if _, ok := s.byDocument[doc][course]; ok {
			delete(s.byDocument[doc], course)
			deleted++
		}
	}
	return deleted, nil
}
