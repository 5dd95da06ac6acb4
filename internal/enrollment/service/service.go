// Package service hosts the enrollment reconciler: the state machine that
// turns staff enrollment batches into enrollments, force-created accounts or
// pending registrations, drains those registrations once the identity
// materializes, and runs the unenroll cascade.
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/eol-uchile/uchileedxlogin/internal/audit"
	"github.com/eol-uchile/uchileedxlogin/internal/document"
	"github.com/eol-uchile/uchileedxlogin/internal/enrollment/metrics"
	"github.com/eol-uchile/uchileedxlogin/internal/enrollment/models"
	identitymodels "github.com/eol-uchile/uchileedxlogin/internal/identity/models"
	"github.com/eol-uchile/uchileedxlogin/internal/provider"
	dErrors "github.com/eol-uchile/uchileedxlogin/pkg/domain-errors"
	pstrings "github.com/eol-uchile/uchileedxlogin/pkg/platform/strings"
	"github.com/eol-uchile/uchileedxlogin/pkg/requestcontext"
)

type PendingStore interface {
	Create(ctx context.Context, registration *models.PendingRegistration) error
	ListByDocument(ctx context.Context, doc string) ([]*models.PendingRegistration, error)
	DeleteByDocument(ctx context.Context, doc string) (int, error)
	DeleteMatching(ctx context.Context, doc string, courses []string) (int, error)
}

type EnrollmentStore interface {
	EnrollActive(ctx context.Context, accountID uuid.UUID, course string, mode models.Mode) error
	EnrollAllowed(ctx context.Context, email, course string, mode models.Mode) error
	DeactivateMatching(ctx context.Context, accountID uuid.UUID, courses []string) (int, error)
	DeleteAllowedMatching(ctx context.Context, email string, courses []string) (int, error)
}

// Resolver is the identity side of reconciliation.
type Resolver interface {
	ResolveByDocument(ctx context.Context, raw string) (*identitymodels.Identity, error)
	CreateFromProviderData(ctx context.Context, person *provider.PersonRecord) (*identitymodels.Identity, error)
}

type AccountReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*identitymodels.Account, error)
}

// TxRunner scopes a batch to one transaction. Implementations must be
// re-entrant: running inside an open transaction joins it instead of opening
// a second one.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PassthroughTx runs the batch directly, for memory stores and tests.
type PassthroughTx struct{}

func (PassthroughTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Mailer notifies a person that an account was force-created for them.
// Delivery is an external collaborator; failures never fail the batch.
type Mailer interface {
	SendEnrollmentNotice(ctx context.Context, email string, courses []string) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service applies enrollment batches.
type Service struct {
	pending     PendingStore
	enrollments EnrollmentStore
	accounts    AccountReader
	resolver    Resolver
	provider    provider.Client
	runner      TxRunner
	mailer      Mailer
	logger      *slog.Logger
	publisher   AuditPublisher
	metrics     *metrics.Metrics
	tracer      trace.Tracer
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

func WithMailer(mailer Mailer) Option {
	return func(s *Service) {
		s.mailer = mailer
	}
}

// New constructs a Service.
func New(pending PendingStore, enrollments EnrollmentStore, accounts AccountReader, resolver Resolver, providerClient provider.Client, runner TxRunner, opts ...Option) *Service {
	s := &Service{
		pending:     pending,
		enrollments: enrollments,
		accounts:    accounts,
		resolver:    resolver,
		provider:    providerClient,
		runner:      runner,
		logger:      slog.Default(),
		tracer:      otel.Tracer("enrollment"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReconcileRequest is one staff enrollment batch.
type ReconcileRequest struct {
	Documents  []string
	Courses    []string
	Mode       models.Mode
	AutoEnroll bool
	Force      bool
}

// ReconcileOrCreate applies the batch under one transaction. Per-entry
// failures land in the report; only store failures abort the batch.
func (s *Service) ReconcileOrCreate(ctx context.Context, req ReconcileRequest) (*models.ReconcileReport, error) {
	ctx, span := s.tracer.Start(ctx, "enrollment.reconcile",
		trace.WithAttributes(
			attribute.Int("documents", len(req.Documents)),
			attribute.Int("courses", len(req.Courses)),
			attribute.Bool("force", req.Force),
		))
	defer span.End()
	started := time.Now()
	defer func() { s.metrics.ObserveBatchLatency(time.Since(started)) }()

	report := &models.ReconcileReport{}
	docs := s.screenDocuments(req.Documents, &report.Invalid, &report.Duplicates)
	courses := pstrings.DedupeAndTrim(req.Courses)

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		for _, doc := range docs {
			if err := s.reconcileDocument(ctx, doc, courses, req, report); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "reconcile batch failed")
	}
	return report, nil
}

// screenDocuments canonicalizes the raw ids, filling the invalid and
// duplicate report buckets. Valid ids are processed once each; repeats are
// detected on the canonical form, so "10-8" and "10.8" collide.
func (s *Service) screenDocuments(raw []string, invalid, duplicates *[]string) []document.ID {
	seen := make(map[string]bool, len(raw))
	var docs []document.ID
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		doc, err := document.Parse(entry)
		if err != nil {
			*invalid = append(*invalid, entry)
			s.metrics.IncrementReconcileOutcome("invalid")
			continue
		}
		if seen[doc.Value] {
			*duplicates = append(*duplicates, entry)
			s.metrics.IncrementReconcileOutcome("duplicate")
			continue
		}
		seen[doc.Value] = true
		docs = append(docs, doc)
	}
	return docs
}

func (s *Service) reconcileDocument(ctx context.Context, doc document.ID, courses []string, req ReconcileRequest, report *models.ReconcileReport) error {
	identity, err := s.resolver.ResolveByDocument(ctx, doc.Value)
	switch {
	case err == nil:
		if err := s.enroll(ctx, identity, doc, courses, req.Mode, req.AutoEnroll); err != nil {
			return err
		}
		report.Linked.Add(doc.Value, req.AutoEnroll)
		s.metrics.IncrementReconcileOutcome("linked")
		return nil
	case !dErrors.HasCode(err, dErrors.CodeNotFound):
		return err
	}

	if req.Force {
		identity, created := s.forceCreate(ctx, doc)
		if created {
			if err := s.enroll(ctx, identity, doc, courses, req.Mode, req.AutoEnroll); err != nil {
				return err
			}
			report.ForceCreated.Add(doc.Value, req.AutoEnroll)
			s.metrics.IncrementReconcileOutcome("force_created")
			s.notifyForceCreated(ctx, identity, courses)
			return nil
		}
	}

	now := requestcontext.Now(ctx)
	for _, course := range courses {
		registration := &models.PendingRegistration{
			ID:         uuid.New(),
			DocumentID: doc,
			Course:     course,
			Mode:       req.Mode,
			AutoEnroll: req.AutoEnroll,
			CreatedAt:  now,
		}
		if err := s.pending.Create(ctx, registration); err != nil {
			return err
		}
		s.logAudit(ctx, audit.Event{DocumentID: doc.Value, Course: course, Action: audit.EventPending})
	}
	report.Pending = append(report.Pending, doc.Value)
	s.metrics.IncrementReconcileOutcome("pending")
	return nil
}

// forceCreate eagerly materializes an identity for the document. Everything
// that can go wrong here — provider down, no usable email, exhausted
// usernames — is non-fatal for the batch: the entry falls through to pending.
func (s *Service) forceCreate(ctx context.Context, doc document.ID) (*identitymodels.Identity, bool) {
	person, err := s.provider.LookupByDocument(ctx, doc.Value)
	if err != nil {
		s.logger.WarnContext(ctx, "force creation skipped, provider lookup failed",
			"document_id", doc.Value, "error", err)
		return nil, false
	}
	identity, err := s.resolver.CreateFromProviderData(ctx, person)
	if err != nil {
		s.logger.WarnContext(ctx, "force creation failed, entry falls to pending",
			"document_id", doc.Value, "error", err)
		return nil, false
	}
	return identity, true
}

func (s *Service) enroll(ctx context.Context, identity *identitymodels.Identity, doc document.ID, courses []string, mode models.Mode, autoEnroll bool) error {
	if autoEnroll {
		for _, course := range courses {
			if err := s.enrollments.EnrollActive(ctx, identity.AccountID, course, mode); err != nil {
				return err
			}
			s.logAudit(ctx, audit.Event{DocumentID: doc.Value, Course: course, Action: audit.EventEnrolled})
		}
		return nil
	}

	account, err := s.accounts.FindByID(ctx, identity.AccountID)
	if err != nil {
		return err
	}
	for _, course := range courses {
		if err := s.enrollments.EnrollAllowed(ctx, account.Email, course, mode); err != nil {
			return err
		}
		s.logAudit(ctx, audit.Event{DocumentID: doc.Value, Course: course, Action: audit.EventAllowed})
	}
	return nil
}

func (s *Service) notifyForceCreated(ctx context.Context, identity *identitymodels.Identity, courses []string) {
	if s.mailer == nil {
		return
	}
	account, err := s.accounts.FindByID(ctx, identity.AccountID)
	if err != nil {
		s.logger.WarnContext(ctx, "enrollment notice skipped, account lookup failed",
			"account_id", identity.AccountID, "error", err)
		return
	}
	if err := s.mailer.SendEnrollmentNotice(ctx, account.Email, courses); err != nil {
		s.logger.WarnContext(ctx, "enrollment notice delivery failed",
			"email", account.Email, "error", err)
	}
}

// DrainPending applies every registration recorded for the identity's
// document and deletes them, atomically: the enrollments and the deletions
// commit together or not at all.
func (s *Service) DrainPending(ctx context.Context, identity *identitymodels.Identity) error {
	ctx, span := s.tracer.Start(ctx, "enrollment.drain",
		trace.WithAttributes(attribute.String("document_id", identity.DocumentID.Value)))
	defer span.End()

	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		registrations, err := s.pending.ListByDocument(ctx, identity.DocumentID.Value)
		if err != nil {
			return err
		}
		if len(registrations) == 0 {
			return nil
		}

		account, err := s.accounts.FindByID(ctx, identity.AccountID)
		if err != nil {
			return err
		}
		for _, registration := range registrations {
			if registration.AutoEnroll {
				err = s.enrollments.EnrollActive(ctx, identity.AccountID, registration.Course, registration.Mode)
			} else {
				err = s.enrollments.EnrollAllowed(ctx, account.Email, registration.Course, registration.Mode)
			}
			if err != nil {
				return err
			}
		}
		drained, err := s.pending.DeleteByDocument(ctx, identity.DocumentID.Value)
		if err != nil {
			return err
		}

		s.metrics.AddPendingDrained(drained)
		s.logAudit(ctx, audit.Event{
			DocumentID: identity.DocumentID.Value,
			Action:     audit.EventDrained,
		})
		return nil
	})
}

// Unenroll cascades deletion across pending registrations and allow-listed
// enrollments and deactivates active enrollments, atomically per batch.
func (s *Service) Unenroll(ctx context.Context, documents, courses []string) (*models.UnenrollReport, error) {
	ctx, span := s.tracer.Start(ctx, "enrollment.unenroll",
		trace.WithAttributes(
			attribute.Int("documents", len(documents)),
			attribute.Int("courses", len(courses)),
		))
	defer span.End()
	started := time.Now()
	defer func() { s.metrics.ObserveBatchLatency(time.Since(started)) }()

	report := &models.UnenrollReport{}
	var duplicates []string
	docs := s.screenDocuments(documents, &report.Invalid, &duplicates)
	courses = pstrings.DedupeAndTrim(courses)

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		for _, doc := range docs {
			if err := s.unenrollDocument(ctx, doc, courses, report); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "unenroll batch failed")
	}
	return report, nil
}

func (s *Service) unenrollDocument(ctx context.Context, doc document.ID, courses []string, report *models.UnenrollReport) error {
	touched := false

	removed, err := s.pending.DeleteMatching(ctx, doc.Value, courses)
	if err != nil {
		return err
	}
	if removed > 0 {
		report.PendingRemoved = append(report.PendingRemoved, doc.Value)
		s.metrics.IncrementUnenrollOutcome("pending")
		s.logAudit(ctx, audit.Event{DocumentID: doc.Value, Action: audit.EventUnenrollPending})
		touched = true
	}

	identity, err := s.resolver.ResolveByDocument(ctx, doc.Value)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
		return err
	}
	if identity != nil {
		account, err := s.accounts.FindByID(ctx, identity.AccountID)
		if err != nil {
			return err
		}
		allowed, err := s.enrollments.DeleteAllowedMatching(ctx, account.Email, courses)
		if err != nil {
			return err
		}
		if allowed > 0 {
			report.AllowedRemoved = append(report.AllowedRemoved, doc.Value)
			s.metrics.IncrementUnenrollOutcome("allowed")
			touched = true
		}

		deactivated, err := s.enrollments.DeactivateMatching(ctx, identity.AccountID, courses)
		if err != nil {
			return err
		}
		if deactivated > 0 {
			report.Deactivated = append(report.Deactivated, doc.Value)
			s.metrics.IncrementUnenrollOutcome("active")
			s.logAudit(ctx, audit.Event{DocumentID: doc.Value, Action: audit.EventUnenrolled})
			touched = true
		}
	}

	if touched {
		report.Affected = append(report.Affected, doc.Value)
	} else {
		report.NotFound = append(report.NotFound, doc.Value)
		s.metrics.IncrementUnenrollOutcome("not_found")
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, event audit.Event) {
	attributes := []any{"event", event.Action, "document_id", event.DocumentID, "log_type", "audit"}
	if event.Course != "" {
		attributes = append(attributes, "course", event.Course)
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	s.logger.InfoContext(ctx, event.Action, attributes...)
	if s.publisher != nil {
		_ = s.publisher.Emit(ctx, event)
	}
}
