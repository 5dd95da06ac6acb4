// Package handler exposes the identity materialization endpoint invoked by
// the SSO callback glue after ticket verification.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	identitymodels "github.com/eol-uchile/uchileedxlogin/internal/identity/models"
	"github.com/eol-uchile/uchileedxlogin/internal/platform/metrics"
	"github.com/eol-uchile/uchileedxlogin/internal/platform/middleware"
	"github.com/eol-uchile/uchileedxlogin/internal/transport/http/shared"
	dErrors "github.com/eol-uchile/uchileedxlogin/pkg/domain-errors"
)

// Service is the identity side consumed by the endpoint.
type Service interface {
	AuthenticateFromProvider(ctx context.Context, providerUsername string) (*identitymodels.Identity, error)
}

// Handler handles identity materialization.
type Handler struct {
	logger    *slog.Logger
	service   Service
	metrics   *metrics.Metrics
	validator middleware.TokenValidator
}

// New creates a new identity Handler.
func New(service Service, logger *slog.Logger, m *metrics.Metrics, validator middleware.TokenValidator) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		metrics:   m,
		validator: validator,
	}
}

// Register registers the identity routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	authRouter := chi.NewRouter()
	authRouter.Use(middleware.Recovery(h.logger))
	authRouter.Use(middleware.RequestID)
	authRouter.Use(middleware.Logger(h.logger))
	authRouter.Use(middleware.Timeout(30 * time.Second))
	authRouter.Use(middleware.ContentTypeJSON)
	authRouter.Use(middleware.LatencyMiddleware(h.metrics))
	authRouter.Use(middleware.RequireStaff(h.validator, h.logger))
	authRouter.Post("/materialize", h.handleMaterialize)

	r.Mount("/auth", authRouter)
}

type materializeRequest struct {
	ProviderUsername string `json:"provider_username"`
}

type materializeResponse struct {
	DocumentID      string `json:"document_id"`
	DocumentKind    string `json:"document_kind"`
	AccountID       string `json:"account_id"`
	HasExternalAuth bool   `json:"has_external_auth"`
}

func (h *Handler) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req materializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	identity, err := h.service.AuthenticateFromProvider(ctx, req.ProviderUsername)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeBadRequest) && !dErrors.HasCode(err, dErrors.CodeProviderUnavailable) {
			h.logger.ErrorContext(ctx, "materialization failed",
				"request_id", middleware.GetRequestID(ctx),
				"error", err.Error(),
			)
		}
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, materializeResponse{
		DocumentID:      identity.DocumentID.Value,
		DocumentKind:    string(identity.DocumentID.Kind),
		AccountID:       identity.AccountID.String(),
		HasExternalAuth: identity.HasExternalAuth,
	})
}
