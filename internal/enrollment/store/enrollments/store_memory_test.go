package enrollments

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/eol-uchile/uchileedxlogin/internal/enrollment/models"
)

type EnrollmentStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func (s *EnrollmentStoreSuite) SetupTest() {
	s.store = New()
	s.ctx = context.Background()
}

func TestEnrollmentStoreSuite(t *testing.T) {
	suite.Run(t, new(EnrollmentStoreSuite))
}

func (s *EnrollmentStoreSuite) TestEnrollActive() {
	accountID := uuid.New()

	s.Run("creates an active enrollment", func() {
		s.Require().NoError(s.store.EnrollActive(s.ctx, accountID, "course-a", models.ModeAudit))

		enrollment, err := s.store.ListActive(s.ctx, accountID, "course-a")
		s.Require().NoError(err)
		s.Require().NotNil(enrollment)
		s.True(enrollment.Active)
		s.Equal(models.ModeAudit, enrollment.Mode)
	})

	s.Run("reactivates a deactivated enrollment", func() {
		touched, err := s.store.DeactivateMatching(s.ctx, accountID, []string{"course-a"})
		s.Require().NoError(err)
		s.Equal(1, touched)

		s.Require().NoError(s.store.EnrollActive(s.ctx, accountID, "course-a", models.ModeHonor))

		enrollment, err := s.store.ListActive(s.ctx, accountID, "course-a")
		s.Require().NoError(err)
		s.Require().NotNil(enrollment)
		s.True(enrollment.Active)
		s.Equal(models.ModeHonor, enrollment.Mode)
	})
}

func (s *EnrollmentStoreSuite) TestDeactivateMatching() {
	accountID := uuid.New()
	s.Require().NoError(s.store.EnrollActive(s.ctx, accountID, "course-a", models.ModeAudit))
	s.Require().NoError(s.store.EnrollActive(s.ctx, accountID, "course-b", models.ModeAudit))

	touched, err := s.store.DeactivateMatching(s.ctx, accountID, []string{"course-a", "course-c"})
	s.Require().NoError(err)
	s.Equal(1, touched)

	// Deactivated rows are kept, not deleted.
	enrollment, err := s.store.ListActive(s.ctx, accountID, "course-a")
	s.Require().NoError(err)
	s.Require().NotNil(enrollment)
	s.False(enrollment.Active)

	// Already-inactive rows are not counted twice.
	touched, err = s.store.DeactivateMatching(s.ctx, accountID, []string{"course-a"})
	s.Require().NoError(err)
	s.Zero(touched)
}

func (s *EnrollmentStoreSuite) TestAllowed() {
	s.Require().NoError(s.store.EnrollAllowed(s.ctx, "ana@uchile.cl", "course-a", models.ModeAudit))
	s.Require().NoError(s.store.EnrollAllowed(s.ctx, "bob@gmail.com", "course-a", models.ModeHonor))
	s.Require().NoError(s.store.EnrollAllowed(s.ctx, "ana@uchile.cl", "course-b", models.ModeAudit))

	allowed, err := s.store.ListAllowed(s.ctx, "course-a")
	s.Require().NoError(err)
	s.Len(allowed, 2)

	removed, err := s.store.DeleteAllowedMatching(s.ctx, "ana@uchile.cl", []string{"course-a", "course-b"})
	s.Require().NoError(err)
	s.Equal(2, removed)

	allowed, err = s.store.ListAllowed(s.ctx, "course-a")
	s.Require().NoError(err)
	s.Require().Len(allowed, 1)
	s.Equal("bob@gmail.com", allowed[0].Email)
}

func (s *EnrollmentStoreSuite) TestListActiveUnknown() {
	enrollment, err := s.store.ListActive(s.ctx, uuid.New(), "course-a")
	s.Require().NoError(err)
	s.Nil(enrollment)
}
