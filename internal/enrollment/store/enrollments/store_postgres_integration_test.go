//go:build integration

package enrollments_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/eol-uchile/uchileedxlogin/internal/enrollment/models"
	"github.com/eol-uchile/uchileedxlogin/internal/enrollment/store/enrollments"
	identitymodels "github.com/eol-uchile/uchileedxlogin/internal/identity/models"
	"github.com/eol-uchile/uchileedxlogin/internal/identity/store/accounts"
	"github.com/eol-uchile/uchileedxlogin/pkg/testutil/containers"
)

type PostgresEnrollmentSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *enrollments.PostgresStore
	accounts *accounts.PostgresStore
}

func TestPostgresEnrollmentSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresEnrollmentSuite))
}

func (s *PostgresEnrollmentSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = enrollments.NewPostgres(s.postgres.DB)
	s.accounts = accounts.NewPostgres(s.postgres.DB)
}

func (s *PostgresEnrollmentSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "enrollments", "allowed_enrollments", "accounts")
	s.Require().NoError(err)
}

// newAccountID creates a backing account row; enrollments carry a foreign
// key onto accounts.
func (s *PostgresEnrollmentSuite) newAccountID() uuid.UUID {
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
	return accountID
}

func (s *PostgresEnrollmentSuite) TestEnrollActiveAndReactivate() {
	ctx := context.Background()
	accountID := s.newAccountID()

	s.Require().NoError(s.store.EnrollActive(ctx, accountID, "course-a", models.ModeAudit))

	enrollment, err := s.store.ListActive(ctx, accountID, "course-a")
	s.Require().NoError(err)
	s.Require().NotNil(enrollment)
	s.True(enrollment.Active)
	s.Equal(models.ModeAudit, enrollment.Mode)

	touched, err := s.store.DeactivateMatching(ctx, accountID, []string{"course-a"})
	s.Require().NoError(err)
	s.Equal(1, touched)

	s.Require().NoError(s.store.EnrollActive(ctx, accountID, "course-a", models.ModeHonor))

	enrollment, err = s.store.ListActive(ctx, accountID, "course-a")
	s.Require().NoError(err)
	s.Require().NotNil(enrollment)
	s.True(enrollment.Active)
	s.Equal(models.ModeHonor, enrollment.Mode)
}

func (s *PostgresEnrollmentSuite) TestDeactivateKeepsRows() {
	ctx := context.Background()
	accountID := s.newAccountID()
	s.Require().NoError(s.store.EnrollActive(ctx, accountID, "course-a", models.ModeAudit))
	s.Require().NoError(s.store.EnrollActive(ctx, accountID, "course-b", models.ModeAudit))

	touched, err := s.store.DeactivateMatching(ctx, accountID, []string{"course-a", "course-c"})
	s.Require().NoError(err)
	s.Equal(1, touched)

	enrollment, err := s.store.ListActive(ctx, accountID, "course-a")
	s.Require().NoError(err)
	s.Require().NotNil(enrollment)
	s.False(enrollment.Active)

	touched, err = s.store.DeactivateMatching(ctx, accountID, []string{"course-a"})
	s.Require().NoError(err)
	s.Zero(touched)
}

func (s *PostgresEnrollmentSuite) TestAllowed() {
	ctx := context.Background()
	s.Require().NoError(s.store.EnrollAllowed(ctx, "ana@uchile.cl", "course-a", models.ModeAudit))
	s.Require().NoError(s.store.EnrollAllowed(ctx, "bob@gmail.com", "course-a", models.ModeHonor))
	s.Require().NoError(s.store.EnrollAllowed(ctx, "ana@uchile.cl", "course-b", models.ModeAudit))

	allowed, err := s.store.ListAllowed(ctx, "course-a")
	s.Require().NoError(err)
	s.Len(allowed, 2)

	removed, err := s.store.DeleteAllowedMatching(ctx, "ana@uchile.cl", []string{"course-a", "course-b"})
	s.Require().NoError(err)
	s.Equal(2, removed)

	allowed, err = s.store.ListAllowed(ctx, "course-a")
	s.Require().NoError(err)
	s.Require().Len(allowed, 1)
	s.Equal("bob@gmail.com", allowed[0].Email)
}

func (s *PostgresEnrollmentSuite) TestListActiveUnknown() {
	ctx := context.Background()
	enrollment, err := s.store.ListActive(ctx, s.newAccountID(), "course-a")
	s.Require().NoError(err)
	s.Nil(enrollment)
}
