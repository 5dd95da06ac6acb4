package identities

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/eol-uchile/uchileedxlogin/internal/document"
	"github.com/eol-uchile/uchileedxlogin/internal/identity/models"
	"github.com/eol-uchile/uchileedxlogin/pkg/platform/sentinel"
)

type IdentityStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func (s *IdentityStoreSuite) SetupTest() {
	s.store = New()
	s.ctx = context.Background()
}

func (s *IdentityStoreSuite) SetupSubTest() {
	s.SetupTest()
}

func TestIdentityStoreSuite(t *testing.T) {
	suite.Run(t, new(IdentityStoreSuite))
}

func (s *IdentityStoreSuite) newIdentity(raw string) *models.Identity {
	doc, err := document.Parse(raw)
	s.Require().NoError(err)
	return &models.Identity{
		DocumentID: doc,
		AccountID:  uuid.New(),
		CreatedAt:  time.Now(),
	}
}

func (s *IdentityStoreSuite) TestCreationAndLookups() {
	s.Run("creates and finds identity by document", func() {
		identity := s.newIdentity("10-8")
		s.Require().NoError(s.store.Create(s.ctx, identity))

		found, err := s.store.FindByDocument(s.ctx, identity.DocumentID)
		s.Require().NoError(err)
		s.Equal(identity.AccountID, found.AccountID)
	})

	s.Run("returns ErrNotFound for unknown document", func() {
		doc, err := document.Parse("1234567-4")
		s.Require().NoError(err)
		_, err = s.store.FindByDocument(s.ctx, doc)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *IdentityStoreSuite) TestUniqueness() {
	s.Run("one identity per document", func() {
		first := s.newIdentity("10-8")
		s.Require().NoError(s.store.Create(s.ctx, first))

		second := s.newIdentity("10-8")
		s.Require().ErrorIs(s.store.Create(s.ctx, second), sentinel.ErrConflict)
	})

	s.Run("one document per account", func() {
		first := s.newIdentity("10-8")
		s.Require().NoError(s.store.Create(s.ctx, first))

		second := s.newIdentity("1234567-4")
		second.AccountID = first.AccountID
		s.Require().ErrorIs(s.store.Create(s.ctx, second), sentinel.ErrConflict)
	})
}

func (s *IdentityStoreSuite) TestFindByDocuments() {
	first := s.newIdentity("10-8")
	second := s.newIdentity("1234567-4")
	s.Require().NoError(s.store.Create(s.ctx, first))
	s.Require().NoError(s.store.Create(s.ctx, second))

	found, err := s.store.FindByDocuments(s.ctx, []string{
		first.DocumentID.Value, second.DocumentID.Value, "0000000094",
	})
	s.Require().NoError(err)
	s.Len(found, 2)
	s.Contains(found, first.DocumentID.Value)
	s.Contains(found, second.DocumentID.Value)
}

func (s *IdentityStoreSuite) TestLinkedAccounts() {
	identity := s.newIdentity("10-8")
	s.Require().NoError(s.store.Create(s.ctx, identity))
	free := uuid.New()

	linked, err := s.store.LinkedAccounts(s.ctx, []uuid.UUID{identity.AccountID, free})
	s.Require().NoError(err)
	s.True(linked[identity.AccountID])
	s.False(linked[free])
}

func (s *IdentityStoreSuite) TestSetExternalAuth() {
	identity := s.newIdentity("10-8")
	s.Require().NoError(s.store.Create(s.ctx, identity))

	s.Require().NoError(s.store.SetExternalAuth(s.ctx, identity.DocumentID, true))

	found, err := s.store.FindByDocument(s.ctx, identity.DocumentID)
	s.Require().NoError(err)
	s.True(found.HasExternalAuth)

	doc, err := document.Parse("9-4")
	s.Require().NoError(err)
	s.Require().ErrorIs(s.store.SetExternalAuth(s.ctx, doc, true), sentinel.ErrNotFound)
}
