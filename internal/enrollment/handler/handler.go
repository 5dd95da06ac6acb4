// Package handler exposes the staff batch endpoints. It validates input and
// delegates to the enrollment service; business rules stay out of here.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/eol-uchile/uchileedxlogin/internal/document"
	"github.com/eol-uchile/uchileedxlogin/internal/enrollment/models"
	"github.com/eol-uchile/uchileedxlogin/internal/enrollment/service"
	"github.com/eol-uchile/uchileedxlogin/internal/platform/metrics"
	"github.com/eol-uchile/uchileedxlogin/internal/platform/middleware"
	"github.com/eol-uchile/uchileedxlogin/internal/provider"
	"github.com/eol-uchile/uchileedxlogin/internal/transport/http/shared"
	dErrors "github.com/eol-uchile/uchileedxlogin/pkg/domain-errors"
	pstrings "github.com/eol-uchile/uchileedxlogin/pkg/platform/strings"
	"github.com/eol-uchile/uchileedxlogin/pkg/requestcontext"
)

// Service is the enrollment side consumed by the endpoints.
type Service interface {
	ReconcileOrCreate(ctx context.Context, req service.ReconcileRequest) (*models.ReconcileReport, error)
	Unenroll(ctx context.Context, documents, courses []string) (*models.UnenrollReport, error)
}

// CourseOracle answers course existence and staff access questions. It is an
// external collaborator (the course catalog), consumed but never implemented
// here.
type CourseOracle interface {
	CourseExists(ctx context.Context, course string) (bool, error)
	UserCanManage(ctx context.Context, actor, course string) (bool, error)
}

// AllowAllOracle accepts every course and actor, for dev and tests.
type AllowAllOracle struct{}

func (AllowAllOracle) CourseExists(context.Context, string) (bool, error) {
	return true, nil
}

func (AllowAllOracle) UserCanManage(context.Context, string, string) (bool, error) {
	return true, nil
}

// lookupConcurrency bounds the provider fan-out on the userdata endpoint.
const lookupConcurrency = 8

// Handler handles the staff batch endpoints.
type Handler struct {
	logger    *slog.Logger
	service   Service
	provider  provider.Client
	oracle    CourseOracle
	metrics   *metrics.Metrics
	validator middleware.TokenValidator
}

// New creates a new enrollment Handler.
func New(
	service Service,
	providerClient provider.Client,
	oracle CourseOracle,
	logger *slog.Logger,
	m *metrics.Metrics,
	validator middleware.TokenValidator) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		provider:  providerClient,
		oracle:    oracle,
		metrics:   m,
		validator: validator,
	}
}

// Register registers the staff routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	staffRouter := chi.NewRouter()
	staffRouter.Use(middleware.Recovery(h.logger))
	staffRouter.Use(middleware.RequestID)
	staffRouter.Use(middleware.Logger(h.logger))
	staffRouter.Use(middleware.Timeout(60 * time.Second))
	staffRouter.Use(middleware.ContentTypeJSON)
	staffRouter.Use(middleware.LatencyMiddleware(h.metrics))
	staffRouter.Use(middleware.RequireStaff(h.validator, h.logger))
	staffRouter.Post("/enroll", h.handleEnroll)
	staffRouter.Post("/unenroll", h.handleUnenroll)
	staffRouter.Post("/userdata", h.handleUserData)

	r.Mount("/staff", staffRouter)
}

type enrollRequest struct {
	Documents []string `json:"documents"`
	// DocumentText accepts textarea-style newline-separated ids.
	DocumentText string   `json:"document_text"`
	Courses      []string `json:"courses"`
	Mode         string   `json:"mode"`
	AutoEnroll   bool     `json:"auto_enroll"`
	Force        bool     `json:"force"`
}

func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	documents := append(req.Documents, pstrings.SplitLines(req.DocumentText)...)
	mode, err := models.ParseMode(req.Mode)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	courses, err := h.screenCourses(ctx, req.Courses)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if len(documents) == 0 {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "documents are required"))
		return
	}

	report, err := h.service.ReconcileOrCreate(ctx, service.ReconcileRequest{
		Documents:  documents,
		Courses:    courses,
		Mode:       mode,
		AutoEnroll: req.AutoEnroll,
		Force:      req.Force,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "enroll batch failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, report)
}

type unenrollRequest struct {
	Documents    []string `json:"documents"`
	DocumentText string   `json:"document_text"`
	Courses      []string `json:"courses"`
}

func (h *Handler) handleUnenroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req unenrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	documents := append(req.Documents, pstrings.SplitLines(req.DocumentText)...)
	courses, err := h.screenCourses(ctx, req.Courses)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if len(documents) == 0 {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "documents are required"))
		return
	}

	report, err := h.service.Unenroll(ctx, documents, courses)
	if err != nil {
		h.logger.ErrorContext(ctx, "unenroll batch failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, report)
}

// screenCourses validates the course list against the catalog oracle and the
// caller's permissions. Duplicate courses are a caller mistake, rejected
// outright rather than silently deduplicated.
func (h *Handler) screenCourses(ctx context.Context, raw []string) ([]string, error) {
	courses := pstrings.DedupeAndTrim(raw)
	if len(courses) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "courses are required")
	}
	if dupes := pstrings.Duplicates(raw); len(dupes) > 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "duplicate courses in request")
	}

	actor := requestcontext.Actor(ctx)
	for _, course := range courses {
		exists, err := h.oracle.CourseExists(ctx, course)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "course lookup failed")
		}
		if !exists {
			return nil, dErrors.New(dErrors.CodeBadRequest, "unknown course: "+course)
		}
		allowed, err := h.oracle.UserCanManage(ctx, actor, course)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "permission lookup failed")
		}
		if !allowed {
			return nil, dErrors.New(dErrors.CodeForbidden, "no management rights on course: "+course)
		}
	}
	return courses, nil
}

type userDataRequest struct {
	Documents    []string `json:"documents"`
	DocumentText string   `json:"document_text"`
}

type userDataRow struct {
	DocumentID      string   `json:"document_id"`
	GivenNames      string   `json:"given_names,omitempty"`
	Surname1        string   `json:"surname_1,omitempty"`
	Surname2        string   `json:"surname_2,omitempty"`
	Emails          []string `json:"emails,omitempty"`
	Username        string   `json:"username,omitempty"`
	HasExternalAuth bool     `json:"has_external_auth"`
	Error           string   `json:"error,omitempty"`
}

type userDataResponse struct {
	Rows    []userDataRow `json:"rows"`
	Invalid []string      `json:"invalid,omitempty"`
}

// handleUserData exports registry data for a list of document ids. Lookups
// are read-only, so they fan out concurrently.
func (h *Handler) handleUserData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req userDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	raw := pstrings.DedupeAndTrim(append(req.Documents, pstrings.SplitLines(req.DocumentText)...))
	if len(raw) == 0 {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "documents are required"))
		return
	}

	var response userDataResponse
	var docs []document.ID
	for _, entry := range raw {
		doc, err := document.Parse(entry)
		if err != nil {
			response.Invalid = append(response.Invalid, entry)
			continue
		}
		docs = append(docs, doc)
	}

	rows := make([]userDataRow, len(docs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(lookupConcurrency)
	for i, doc := range docs {
		group.Go(func() error {
			person, err := h.provider.LookupByDocument(groupCtx, doc.Value)
			if err != nil {
				rows[i] = userDataRow{DocumentID: doc.Value, Error: "not found"}
				return nil
			}
			rows[i] = userDataRow{
				DocumentID:      doc.Value,
				GivenNames:      person.GivenNames,
				Surname1:        person.Surname1,
				Surname2:        person.Surname2,
				Emails:          person.Emails,
				Username:        person.Username,
				HasExternalAuth: person.HasExternalAuth(),
			}
			return nil
		})
	}
	_ = group.Wait()

	response.Rows = rows
	shared.WriteJSON(w, http.StatusOK, response)
}
