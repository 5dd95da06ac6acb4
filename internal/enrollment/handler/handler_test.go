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

	"github.com/eol-uchile/uchileedxlogin/internal/enrollment/models"
	enrollservice "github.com/eol-uchile/uchileedxlogin/internal/enrollment/service"
	"github.com/eol-uchile/uchileedxlogin/internal/enrollment/store/enrollments"
	"github.com/eol-uchile/uchileedxlogin/internal/enrollment/store/pending"
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
	byDocument map[string]*provider.PersonRecord
}

func (p *stubProvider) LookupByDocument(_ context.Context, docID string) (*provider.PersonRecord, error) {
	if person, ok := p.byDocument[docID]; ok {
		return person, nil
	}
	return nil, dErrors.New(dErrors.CodeProviderUnavailable, "person not found")
}

func (p *stubProvider) LookupByUsername(context.Context, string) (*provider.PersonRecord, error) {
	return nil, dErrors.New(dErrors.CodeProviderUnavailable, "person not found")
}

// denyOracle rejects management of one named course.
type denyOracle struct {
	denied string
}

func (o denyOracle) CourseExists(context.Context, string) (bool, error) {
	return true, nil
}

func (o denyOracle) UserCanManage(_ context.Context, _ string, course string) (bool, error) {
	return course != o.denied, nil
}

func newRouter(t *testing.T, oracle CourseOracle) (chi.Router, *stubProvider) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stub := &stubProvider{byDocument: map[string]*provider.PersonRecord{}}

	resolver := identityservice.New(accounts.New(), identities.New(), stub, emails.NewSelector("@uchile.cl"))
	svc := enrollservice.New(pending.New(), enrollments.New(), accounts.New(), resolver, stub, enrollservice.PassthroughTx{})

	router := chi.NewRouter()
	New(svc, stub, oracle, logger, nil, tokenService).Register(router)
	return router, stub
}

func staffToken(t *testing.T, permissions ...string) string {
	t.Helper()
	token, err := tokenService.GenerateStaffToken("staff@uchile.cl", permissions, time.Hour)
	require.NoError(t, err)
	return token
}

func post(t *testing.T, router chi.Router, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestEnroll_RequiresAuth(t *testing.T) {
	router, _ := newRouter(t, AllowAllOracle{})

	rec := post(t, router, "/staff/enroll", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(t, router, "/staff/enroll", staffToken(t), map[string]any{})
	assert.Equal(t, http.StatusForbidden, rec.Code, "token without permission is rejected")
}

func TestEnroll_PendingBatch(t *testing.T) {
	router, _ := newRouter(t, AllowAllOracle{})

	rec := post(t, router, "/staff/enroll", staffToken(t, "enroll:manage"), map[string]any{
		"documents":   []string{"10-8"},
		"courses":     []string{"course-v1:eol+intro+2026"},
		"mode":        "audit",
		"auto_enroll": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report models.ReconcileReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, []string{"0000000108"}, report.Pending)
}

func TestEnroll_TextareaInput(t *testing.T) {
	router, _ := newRouter(t, AllowAllOracle{})

	rec := post(t, router, "/staff/enroll", staffToken(t, "enroll:manage"), map[string]any{
		"document_text": "10-8\n 1234567-4 \n\nnot-a-document",
		"courses":       []string{"course-v1:eol+intro+2026"},
		"mode":          "audit",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report models.ReconcileReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.ElementsMatch(t, []string{"0000000108", "0012345674"}, report.Pending)
	assert.Equal(t, []string{"not-a-document"}, report.Invalid)
}

func TestEnroll_Validation(t *testing.T) {
	router, _ := newRouter(t, AllowAllOracle{})
	token := staffToken(t, "enroll:manage")

	t.Run("unknown mode", func(t *testing.T) {
		rec := post(t, router, "/staff/enroll", token, map[string]any{
			"documents": []string{"10-8"},
			"courses":   []string{"course-v1:eol+intro+2026"},
			"mode":      "premium",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing courses", func(t *testing.T) {
		rec := post(t, router, "/staff/enroll", token, map[string]any{
			"documents": []string{"10-8"},
			"mode":      "audit",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("duplicate courses", func(t *testing.T) {
		rec := post(t, router, "/staff/enroll", token, map[string]any{
			"documents": []string{"10-8"},
			"courses":   []string{"course-v1:eol+intro+2026", "course-v1:eol+intro+2026"},
			"mode":      "audit",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing documents", func(t *testing.T) {
		rec := post(t, router, "/staff/enroll", token, map[string]any{
			"courses": []string{"course-v1:eol+intro+2026"},
			"mode":    "audit",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestEnroll_CourseOracleDenies(t *testing.T) {
	router, _ := newRouter(t, denyOracle{denied: "course-v1:eol+secret+2026"})

	rec := post(t, router, "/staff/enroll", staffToken(t, "enroll:manage"), map[string]any{
		"documents": []string{"10-8"},
		"courses":   []string{"course-v1:eol+secret+2026"},
		"mode":      "audit",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnenroll(t *testing.T) {
	router, _ := newRouter(t, AllowAllOracle{})
	token := staffToken(t, "enroll:manage")

	// Record a pending intent first, then remove it.
	rec := post(t, router, "/staff/enroll", token, map[string]any{
		"documents": []string{"10-8"},
		"courses":   []string{"course-v1:eol+intro+2026"},
		"mode":      "audit",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = post(t, router, "/staff/unenroll", token, map[string]any{
		"documents": []string{"10-8"},
		"courses":   []string{"course-v1:eol+intro+2026"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report models.UnenrollReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, []string{"0000000108"}, report.PendingRemoved)
	assert.Equal(t, []string{"0000000108"}, report.Affected)
}

func TestUserData(t *testing.T) {
	router, stub := newRouter(t, AllowAllOracle{})
	stub.byDocument["0000000108"] = &provider.PersonRecord{
		DocumentID: "0000000108",
		GivenNames: "Ana",
		Surname1:   "Perez",
		Emails:     []string{"ana@uchile.cl"},
		Username:   "ana.perez",
	}

	rec := post(t, router, "/staff/userdata", staffToken(t, "enroll:manage"), map[string]any{
		"documents": []string{"10-8", "1234567-4", "junk"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response struct {
		Rows []struct {
			DocumentID      string `json:"document_id"`
			GivenNames      string `json:"given_names"`
			Username        string `json:"username"`
			HasExternalAuth bool   `json:"has_external_auth"`
			Error           string `json:"error"`
		} `json:"rows"`
		Invalid []string `json:"invalid"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))

	require.Len(t, response.Rows, 2)
	assert.Equal(t, []string{"junk"}, response.Invalid)

	byDoc := map[string]string{}
	for _, row := range response.Rows {
		if row.Error != "" {
			byDoc[row.DocumentID] = "error:" + row.Error
		} else {
			byDoc[row.DocumentID] = row.Username
		}
		if row.DocumentID == "0000000108" {
			assert.True(t, row.HasExternalAuth)
		}
	}
	assert.Equal(t, "ana.perez", byDoc["0000000108"])
	assert.Equal(t, "error:not found", byDoc["0012345674"])
}
