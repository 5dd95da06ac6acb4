package pending

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/eol-uchile/uchileedxlogin/internal/document"
	"github.com/eol-uchile/uchileedxlogin/internal/enrollment/models"
)

type PendingStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	doc   document.ID
}

func (s *PendingStoreSuite) SetupTest() {
	s.store = New()
	s.ctx = context.Background()
	doc, err := document.Parse("10-8")
	s.Require().NoError(err)
	s.doc = doc
}

func TestPendingStoreSuite(t *testing.T) {
	suite.Run(t, new(PendingStoreSuite))
}

func (s *PendingStoreSuite) newRegistration(course string, mode models.Mode, autoEnroll bool) *models.PendingRegistration {
	return &models.PendingRegistration{
		ID:         uuid.New(),
		DocumentID: s.doc,
		Course:     course,
		Mode:       mode,
		AutoEnroll: autoEnroll,
		CreatedAt:  time.Now(),
	}
}

func (s *PendingStoreSuite) TestCreateAndList() {
	s.Require().NoError(s.store.Create(s.ctx, s.newRegistration("course-a", models.ModeAudit, true)))
	s.Require().NoError(s.store.Create(s.ctx, s.newRegistration("course-b", models.ModeHonor, false)))

	listed, err := s.store.ListByDocument(s.ctx, s.doc.Value)
	s.Require().NoError(err)
	s.Len(listed, 2)

	listed, err = s.store.ListByDocument(s.ctx, "0000000094")
	s.Require().NoError(err)
	s.Empty(listed)
}

func (s *PendingStoreSuite) TestCreateReplacesSamePair() {
	s.Require().NoError(s.store.Create(s.ctx, s.newRegistration("course-a", models.ModeAudit, false)))
	s.Require().NoError(s.store.Create(s.ctx, s.newRegistration("course-a", models.ModeHonor, true)))

	listed, err := s.store.ListByDocument(s.ctx, s.doc.Value)
	s.Require().NoError(err)
	s.Require().Len(listed, 1)
	s.Equal(models.ModeHonor, listed[0].Mode)
	s.True(listed[0].AutoEnroll)
}

func (s *PendingStoreSuite) TestDeleteByDocument() {
	s.Require().NoError(s.store.Create(s.ctx, s.newRegistration("course-a", models.ModeAudit, true)))
	s.Require().NoError(s.store.Create(s.ctx, s.newRegistration("course-b", models.ModeAudit, true)))

	deleted, err := s.store.DeleteByDocument(s.ctx, s.doc.Value)
	s.Require().NoError(err)
	s.Equal(2, deleted)

	deleted, err = s.store.DeleteByDocument(s.ctx, s.doc.Value)
	s.Require().NoError(err)
	s.Zero(deleted)
}

func (s *PendingStoreSuite) TestDeleteMatching() {
	s.Require().NoError(s.store.Create(s.ctx, s.newRegistration("course-a", models.ModeAudit, true)))
	s.Require().NoError(s.store.Create(s.ctx, s.newRegistration("course-b", models.ModeAudit, true)))

	deleted, err := s.store.DeleteMatching(s.ctx, s.doc.Value, []string{"course-a", "course-c"})
	s.Require().NoError(err)
	s.Equal(1, deleted)

	listed, err := s.store.ListByDocument(s.ctx, s.doc.Value)
	s.Require().NoError(err)
	s.Require().Len(listed, 1)
	s.Equal("course-b", listed[0].Course)
}
