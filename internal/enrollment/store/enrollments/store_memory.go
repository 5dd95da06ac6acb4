package enrollments

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eol-uchile/uchileedxlogin/internal/enrollment/models"
)

// InMemoryStore keeps enrollments and allow-listed pre-enrollments in memory
// for tests/dev.
type InMemoryStore struct {
	mu      sync.RWMutex
	active  map[uuid.UUID]map[string]*models.Enrollment
	allowed map[string]map[string]*models.AllowedEnrollment
}

// New constructs an empty in-memory enrollment store.
func New() *InMemoryStore {
	return &InMemoryStore{
		active:  make(map[uuid.UUID]map[string]*models.Enrollment),
		allowed: make(map[string]map[string]*models.AllowedEnrollment),
	}
}

// EnrollActive creates or reactivates an active enrollment.
func (s *InMemoryStore) EnrollActive(_ context.Context, accountID uuid.UUID, course string, mode models.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[accountID] == nil {
		s.active[accountID] = make(map[string]*models.Enrollment)
	}
	if existing, ok := s.active[accountID][course]; ok {
		existing.Mode = mode
		existing.Active = true
		return nil
	}
	s.active[accountID][course] = &models.Enrollment{
		AccountID: accountID,
		Course:    course,
		Mode:      mode,
		Active:    true,
		CreatedAt: time.Now(),
	}
	return nil
}

// EnrollAllowed records an email-keyed pre-enrollment.
func (s *InMemoryStore) EnrollAllowed(_ context.Context, email, course string, mode models.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allowed[email] == nil {
		s.allowed[email] = make(map[string]*models.AllowedEnrollment)
	}
	s.allowed[email][course] = &models.AllowedEnrollment{
		Email:     email,
		Course:    course,
		Mode:      mode,
		CreatedAt: time.Now(),
	}
	return nil
}

// DeactivateMatching deactivates (never deletes) the account's active
// enrollments in the given courses, returning how many it touched.
func (s *InMemoryStore) DeactivateMatching(_ context.Context, accountID uuid.UUID, courses []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	touched := 0
	for _, course := range courses {
		if enrollment, ok := s.active[accountID][course]; ok && enrollment.Active {
			enrollment.Active = false
			touched++
		}
	}
	return touched, nil
}

// DeleteAllowedMatching removes allow-listed pre-enrollments for the email in
// the given courses, returning how many it removed.
func (s *InMemoryStore) DeleteAllowedMatching(_ context.Context, email string, courses []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, course := range courses {
		if _, ok := s.allowed[email][course]; ok {
			delete(s.allowed[email], course)
			removed++
		}
	}
	return removed, nil
}

// ListActive returns the account's enrollment in a course, if any.
func (s *InMemoryStore) ListActive(_ context.Context, accountID uuid.UUID, course string) (*models.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if enrollment, ok := s.active[accountID][course]; ok {
		clone := *enrollment
		return &clone, nil
	}
	return nil, nil
}

// ListAllowed returns every allow-listed pre-enrollment for a course.
func (s *InMemoryStore) ListAllowed(_ context.Context, course string) ([]*models.AllowedEnrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.AllowedEnrollment
	for _, byCourse := range s.allowed {
		if allowed, ok := byCourse[course]; ok {
			clone := *allowed
			out = append(out, &clone)
		}
	}
	return out, nil
}
