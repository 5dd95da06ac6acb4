//go:build integration

package identities_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/eol-uchile/uchileedxlogin/internal/document"
	identitymodels "github.com/eol-uchile/uchileedxlogin/internal/identity/models"
	"github.com/eol-uchile/uchileedxlogin/internal/identity/store/accounts"
	"github.com/eol-uchile/uchileedxlogin/internal/identity/store/identities"
	"github.com/eol-uchile/uchileedxlogin/pkg/platform/sentinel"
	"github.com/eol-uchile/uchileedxlogin/pkg/testutil/containers"
)

type PostgresIdentitySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *identities.PostgresStore
	accounts *accounts.PostgresStore
}

func TestPostgresIdentitySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresIdentitySuite))
}

func (s *PostgresIdentitySuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = identities.NewPostgres(s.postgres.DB)
	s.accounts = accounts.NewPostgres(s.postgres.DB)
}

func (s *PostgresIdentitySuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "identities", "enrollments", "accounts")
	s.Require().NoError(err)
}

// newIdentity creates the backing account row too; identities carry a
// foreign key onto accounts.
func (s *PostgresIdentitySuite) newIdentity(raw string) *identitymodels.Identity {
	doc, err := document.Parse(raw)
	s.Require().NoError(err)

	accountID := uuid.New()
	s.Require().NoError(s.accounts.Create(context.Background(), &identitymodels.Account{
		ID:           accountID,
		Username:     "user_" + accountID.String()[:8],
		Email:        accountID.String()[:8] + "@uchile.cl",
		FullName:     "Ana Perez",
		PasswordHash: "x",
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}))

	return &identitymodels.Identity{
		DocumentID: doc,
		AccountID:  accountID,
		CreatedAt:  time.Now().UTC(),
	}
}

func (s *PostgresIdentitySuite) TestCreateAndFind() {
	ctx := context.Background()
	identity := s.newIdentity("10-8")
	s.Require().NoError(s.store.Create(ctx, identity))

	found, err := s.store.FindByDocument(ctx, identity.DocumentID)
	s.Require().NoError(err)
	s.Equal(identity.AccountID, found.AccountID)
	s.Equal(document.KindNationalID, found.DocumentID.Kind)

	missing, err := document.Parse("9-4")
	s.Require().NoError(err)
	_, err = s.store.FindByDocument(ctx, missing)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresIdentitySuite) TestDocumentUniqueness() {
	ctx := context.Background()
	first := s.newIdentity("10-8")
	s.Require().NoError(s.store.Create(ctx, first))

	second := s.newIdentity("10-8")
	s.Require().ErrorIs(s.store.Create(ctx, second), sentinel.ErrConflict)
}

func (s *PostgresIdentitySuite) TestAccountUniqueness() {
	ctx := context.Background()
	first := s.newIdentity("10-8")
	s.Require().NoError(s.store.Create(ctx, first))

	second := s.newIdentity("1234567-4")
	second.AccountID = first.AccountID
	s.Require().ErrorIs(s.store.Create(ctx, second), sentinel.ErrConflict)
}

func (s *PostgresIdentitySuite) TestFindByDocumentsAndLinked() {
	ctx := context.Background()
	first := s.newIdentity("10-8")
	second := s.newIdentity("1234567-4")
	s.Require().NoError(s.store.Create(ctx, first))
	s.Require().NoError(s.store.Create(ctx, second))

	found, err := s.store.FindByDocuments(ctx, []string{
		first.DocumentID.Value, second.DocumentID.Value, "0000000094",
	})
	s.Require().NoError(err)
	s.Len(found, 2)

	free := uuid.New()
	linked, err := s.store.LinkedAccounts(ctx, []uuid.UUID{first.AccountID, free})
	s.Require().NoError(err)
	s.True(linked[first.AccountID])
	s.False(linked[free])
}

func (s *PostgresIdentitySuite) TestSetExternalAuth() {
	ctx := context.Background()
	identity := s.newIdentity("10-8")
	identity.HasExternalAuth = false
	s.Require().NoError(s.store.Create(ctx, identity))

	s.Require().NoError(s.store.SetExternalAuth(ctx, identity.DocumentID, true))

	found, err := s.store.FindByDocument(ctx, identity.DocumentID)
	s.Require().NoError(err)
	s.True(found.HasExternalAuth)

	missing, err := document.Parse("9-4")
	s.Require().NoError(err)
	s.Require().ErrorIs(s.store.SetExternalAuth(ctx, missing, true), sentinel.ErrNotFound)
}
