package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eol-uchile/uchileedxlogin/internal/identity/emails"
	identityservice "github.com/eol-uchile/uchileedxlogin/internal/identity/service"
	"github.com/eol-uchile/uchileedxlogin/internal/identity/store/accounts"
	"github.com/eol-uchile/uchileedxlogin/internal/identity/store/identities"
	"github.com/eol-uchile/uchileedxlogin/internal/jwttoken"
	"github.com/eol-uchile/uchileedxlogin/internal/provider"
	dErrors "github.com/eol-uchile/uchileedxlogin/pkg/domain-errors"
)

var tokenService = jwttoken.NewJWTService("test-signing-key", "test-issuer")

type stubProvider struct {
	byUsername map[string]*provider.PersonRecord
}

func (p *stubProvider) LookupByDocument(context.Context, string) (*provider.PersonRecord, error) {
	return nil, dErrors.New(dErrors.CodeProviderUnavailable, "person not found")
}

func (p *stubProvider) LookupByUsername(_ context.Context, username string) (*provider.PersonRecord, error) {
	if person, ok := p.byUsername[username]; ok {
		return person, nil
	}
	return nil, dErrors.New(dErrors.CodeProviderUnavailable, "person not found")
}

func newRouter(t *testing.T) (chi.Router, *stubProvider) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stub := &stubProvider{byUsername: map[string]*provider.PersonRecord{}}

	svc := identityservice.New(accounts.New(), identities.New(), stub, emails.NewSelector("@uchile.cl"))

	router := chi.NewRouter()
	New(svc, logger, nil, tokenService).Register(router)
	return router, stub
}

func materialize(t *testing.T, router chi.Router, token, username string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{"provider_username": username})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/auth/materialize", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestMaterialize_RequiresAuth(t *testing.T) {
	router, _ := newRouter(t)

	rec := materialize(t, router, "", "ana.perez")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMaterialize_CreatesAccount(t *testing.T) {
	router, stub := newRouter(t)
	stub.byUsername["ana.perez"] = &provider.PersonRecord{
		DocumentID: "10-8",
		GivenNames: "Ana",
		Surname1:   "Perez",
		Emails:     []string{"ana@uchile.cl"},
		Username:   "ana.perez",
	}

	token, err := tokenService.GenerateStaffToken("sso-glue", []string{"enroll:manage"}, time.Hour)
	require.NoError(t, err)

	rec := materialize(t, router, token, "ana.perez")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response struct {
		DocumentID      string `json:"document_id"`
		DocumentKind    string `json:"document_kind"`
		AccountID       string `json:"account_id"`
		HasExternalAuth bool   `json:"has_external_auth"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, "0000000108", response.DocumentID)
	assert.NotEmpty(t, response.AccountID)
	assert.True(t, response.HasExternalAuth)

	// A second login resolves the same identity.
	rec = materialize(t, router, token, "ana.perez")
	require.Equal(t, http.StatusOK, rec.Code)
	var second struct {
		AccountID string `json:"account_id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&second))
	assert.Equal(t, response.AccountID, second.AccountID)
}

func TestMaterialize_UnknownUsername(t *testing.T) {
	router, _ := newRouter(t)

	token, err := tokenService.GenerateStaffToken("sso-glue", []string{"enroll:manage"}, time.Hour)
	require.NoError(t, err)

	rec := materialize(t, router, token, "ghost")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestMaterialize_BlankUsername(t *testing.T) {
	router, _ := newRouter(t)

	token, err := tokenService.GenerateStaffToken("sso-glue", []string{"enroll:manage"}, time.Hour)
	require.NoError(t, err)

	rec := materialize(t, router, token, "   ")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
