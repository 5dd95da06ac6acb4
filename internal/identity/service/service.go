// Package service hosts the identity resolver: the orchestration that turns
// an external person record into a local account bound to a document id,
// reusing existing accounts where the email rules allow it.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/eol-uchile/uchileedxlogin/internal/audit"
	"github.com/eol-uchile/uchileedxlogin/internal/document"
	"github.com/eol-uchile/uchileedxlogin/internal/identity/emails"
	"github.com/eol-uchile/uchileedxlogin/internal/identity/metrics"
	"github.com/eol-uchile/uchileedxlogin/internal/identity/models"
	"github.com/eol-uchile/uchileedxlogin/internal/identity/username"
	"github.com/eol-uchile/uchileedxlogin/internal/provider"
	dErrors "github.com/eol-uchile/uchileedxlogin/pkg/domain-errors"
	"github.com/eol-uchile/uchileedxlogin/pkg/platform/sentinel"
	"github.com/eol-uchile/uchileedxlogin/pkg/requestcontext"
)

type AccountStore interface {
	Create(ctx context.Context, account *models.Account) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	FindByEmails(ctx context.Context, emails []string) ([]*models.Account, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
}

type IdentityStore interface {
	Create(ctx context.Context, identity *models.Identity) error
	FindByDocument(ctx context.Context, doc document.ID) (*models.Identity, error)
	LinkedAccounts(ctx context.Context, accountIDs []uuid.UUID) (map[uuid.UUID]bool, error)
	SetExternalAuth(ctx context.Context, doc document.ID, hasExternalAuth bool) error
}

// Drainer applies enrollment intents recorded before the identity existed.
// Implemented by the enrollment reconciler; injected to keep the dependency
// pointing one way.
type Drainer interface {
	DrainPending(ctx context.Context, identity *models.Identity) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// createAttempts bounds retries when racing another batch for the same
// username or email.
const createAttempts = 3

// Service resolves document ids to local accounts.
type Service struct {
	accounts   AccountStore
	identities IdentityStore
	provider   provider.Client
	selector   *emails.Selector
	usernames  *username.Generator
	drainer    Drainer
	logger     *slog.Logger
	publisher  AuditPublisher
	metrics    *metrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithDrainer(d Drainer) Option {
	return func(s *Service) {
		s.drainer = d
	}
}

// SetDrainer binds the drainer after construction. The enrollment service
// consumes this service as its resolver, so the drainer cannot exist yet
// when New runs.
func (s *Service) SetDrainer(d Drainer) {
	s.drainer = d
}

// New constructs a Service.
func New(accounts AccountStore, identities IdentityStore, providerClient provider.Client, selector *emails.Selector, opts ...Option) *Service {
	s := &Service{
		accounts:   accounts,
		identities: identities,
		provider:   providerClient,
		selector:   selector,
		usernames:  username.NewGenerator(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveByDocument is a pure lookup with no side effects.
func (s *Service) ResolveByDocument(ctx context.Context, raw string) (*models.Identity, error) {
	doc, err := document.Parse(raw)
	if err != nil {
		return nil, err
	}
	identity, err := s.identities.FindByDocument(ctx, doc)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no identity for document")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up identity")
	}
	return identity, nil
}

// CreateFromProviderData binds a person record to a local account, reusing an
// existing unlinked account when one of the person's addresses already owns
// one, and creating a fresh account otherwise. The returned identity has
// hasExternalAuth set.
func (s *Service) CreateFromProviderData(ctx context.Context, person *provider.PersonRecord) (*models.Identity, error) {
	return s.createFromProviderData(ctx, person, "force")
}

func (s *Service) createFromProviderData(ctx context.Context, person *provider.PersonRecord, origin string) (*models.Identity, error) {
	doc, err := document.Parse(person.DocumentID)
	if err != nil {
		return nil, err
	}

	if identity, err := s.identities.FindByDocument(ctx, doc); err == nil {
		return identity, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up identity")
	}

	account, err := s.resolveAccount(ctx, person)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account, err = s.createAccount(ctx, person, origin)
		if err != nil {
			return nil, err
		}
	}

	identity := &models.Identity{
		DocumentID:      doc,
		AccountID:       account.ID,
		HasExternalAuth: true,
		CreatedAt:       requestcontext.Now(ctx),
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Another batch linked this document first; theirs wins.
			return s.refetchIdentity(ctx, doc)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create identity")
	}

	s.metrics.IncrementIdentitiesCreated()
	s.logAudit(ctx, audit.Event{
		DocumentID: doc.Value,
		Action:     audit.EventIdentityLinked,
		Detail:     account.Username,
	})
	return identity, nil
}

// resolveAccount looks for an existing active account among the person's
// addresses that no identity owns yet. Returns nil when a fresh account is
// needed.
func (s *Service) resolveAccount(ctx context.Context, person *provider.PersonRecord) (*models.Account, error) {
	if len(person.Emails) == 0 {
		return nil, nil
	}
	accounts, err := s.accounts.FindByEmails(ctx, person.Emails)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up accounts by email")
	}
	if len(accounts) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(accounts))
	for i, account := range accounts {
		ids[i] = account.ID
	}
	linked, err := s.identities.LinkedAccounts(ctx, ids)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check linked accounts")
	}

	candidates := make([]emails.Candidate, len(accounts))
	for i, account := range accounts {
		candidates[i] = emails.Candidate{
			Email:  account.Email,
			Active: account.Active,
			Linked: linked[account.ID],
		}
	}
	if idx, ok := s.selector.PickReusable(candidates); ok {
		return accounts[idx], nil
	}
	return nil, nil
}

// createAccount makes a fresh account with a generated username and a
// selected email. Uniqueness races surface as conflicts; a bounded retry
// regenerates the username and tries again.
func (s *Service) createAccount(ctx context.Context, person *provider.PersonRecord, origin string) (*models.Account, error) {
	existing, err := s.accounts.FindByEmails(ctx, person.Emails)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up accounts by email")
	}
	inUse := make(map[string]bool, len(existing))
	for _, account := range existing {
		inUse[account.Email] = true
	}

	email, ok := s.selector.Select(person.Emails, inUse)
	if !ok {
		return nil, dErrors.New(dErrors.CodeNoUsableEmail, "no usable email address for account creation")
	}

	name := s.usernames.NameFromParts(person.GivenNames, person.Surname1, person.Surname2)
	passwordHash, err := randomPasswordHash()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		generated, err := s.generateUsername(ctx, name)
		if err != nil {
			return nil, err
		}

		account := &models.Account{
			ID:           uuid.New(),
			Username:     generated,
			Email:        email,
			FullName:     displayName(person),
			PasswordHash: passwordHash,
			Active:       true,
			CreatedAt:    requestcontext.Now(ctx),
		}
		if err := s.accounts.Create(ctx, account); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				lastErr = err
				continue
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create account")
		}

		s.metrics.IncrementAccountsCreated(origin)
		s.logAudit(ctx, audit.Event{
			DocumentID: person.DocumentID,
			Action:     audit.EventAccountCreated,
			Detail:     generated,
		})
		return account, nil
	}
	return nil, dErrors.Wrap(lastErr, dErrors.CodeConflict, "account creation kept losing uniqueness races")
}

func (s *Service) generateUsername(ctx context.Context, name username.Name) (string, error) {
	depth := 0
	generated, err := s.usernames.Generate(ctx, name, func(ctx context.Context, candidate string) (bool, error) {
		depth++
		return s.accounts.UsernameExists(ctx, candidate)
	})
	if err != nil {
		return "", err
	}
	s.metrics.ObserveUsernameSearchDepth(depth)
	return generated, nil
}

// MarkAuthenticated idempotently records that the bound account authenticates
// through the external provider.
func (s *Service) MarkAuthenticated(ctx context.Context, identity *models.Identity) error {
	if identity.HasExternalAuth {
		return nil
	}
	if err := s.identities.SetExternalAuth(ctx, identity.DocumentID, true); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark identity authenticated")
	}
	identity.HasExternalAuth = true
	return nil
}

// AuthenticateFromProvider materializes an identity at external login time:
// looks the person up by provider username, resolves or creates the identity,
// marks it authenticated and drains any enrollment intents recorded while the
// document id was unlinked.
func (s *Service) AuthenticateFromProvider(ctx context.Context, providerUsername string) (*models.Identity, error) {
	providerUsername = strings.TrimSpace(providerUsername)
	if providerUsername == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "provider username is required")
	}

	person, err := s.provider.LookupByUsername(ctx, providerUsername)
	if err != nil {
		return nil, err
	}

	identity, err := s.createFromProviderData(ctx, person, "login")
	if err != nil {
		return nil, err
	}
	if err := s.MarkAuthenticated(ctx, identity); err != nil {
		return nil, err
	}

	if s.drainer != nil {
		if err := s.drainer.DrainPending(ctx, identity); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to drain pending registrations")
		}
	}

	s.logAudit(ctx, audit.Event{
		DocumentID: identity.DocumentID.Value,
		Action:     audit.EventLogin,
		Detail:     providerUsername,
	})
	return identity, nil
}

func (s *Service) logAudit(ctx context.Context, event audit.Event) {
	attributes := []any{"event", event.Action, "document_id", event.DocumentID, "log_type", "audit"}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	s.logger.InfoContext(ctx, event.Action, attributes...)
	if s.publisher != nil {
		_ = s.publisher.Emit(ctx, event)
	}
}

func displayName(person *provider.PersonRecord) string {
	parts := []string{person.GivenNames, person.Surname1, person.Surname2}
	joined := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			joined = append(joined, p)
		}
	}
	return strings.Join(joined, " ")
}

// randomPasswordHash seeds force-created accounts with an unguessable local
// password; the person logs in through the provider, never with this value.
func randomPasswordHash() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(raw)), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) refetchIdentity(ctx context.Context, doc document.ID) (*models.Identity, error) {
	identity, err := s.identities.FindByDocument(ctx, doc)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "identity conflict but re-fetch failed")
	}
	return identity, nil
}
