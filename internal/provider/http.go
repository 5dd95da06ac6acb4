package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	dErrors "github.com/eol-uchile/uchileedxlogin/pkg/domain-errors"
)

const (
	// queryByDocument and queryByUsername are the registry's query parameter
	// names for the two lookup modes.
	queryByDocument = "indiv_id"
	queryByUsername = "usuario"

	defaultTimeout = 10 * time.Second
)

// HTTPConfig carries the registry endpoint and credentials.
type HTTPConfig struct {
	BaseURL string
	AppKey  string
	// Origin is sent alongside the app key; the registry uses it to scope
	// the credential.
	Origin  string
	Timeout time.Duration
}

// HTTPClient implements Client against the registry's HTTP API.
type HTTPClient struct {
	cfg    HTTPConfig
	client *http.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHTTPClient builds a registry client. Retries and circuit breaking are
// deliberately left to the transport; the resolver treats every failure here
// as "cannot resolve now".
func NewHTTPClient(cfg HTTPConfig, logger *slog.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		tracer: otel.Tracer("provider"),
	}
}

func (c *HTTPClient) LookupByDocument(ctx context.Context, docID string) (*PersonRecord, error) {
	return c.lookup(ctx, queryByDocument, docID)
}

func (c *HTTPClient) LookupByUsername(ctx context.Context, username string) (*PersonRecord, error) {
	return c.lookup(ctx, queryByUsername, username)
}

// envelope mirrors the registry's response shape: a GraphQL-flavored wrapper
// with its own inner status code.
type envelope struct {
	Data struct {
		GetRowsPersona *struct {
			StatusCode int `json:"status_code"`
			Persona    []struct {
				IndivID  string `json:"indiv_id"`
				Nombres  string `json:"nombres"`
				Paterno  string `json:"paterno"`
				Materno  string `json:"materno"`
				Pasaporte []struct {
					Usuario string `json:"usuario"`
				} `json:"pasaporte"`
				Email []struct {
					Email string `json:"email"`
				} `json:"email"`
			} `json:"persona"`
		} `json:"getRowsPersona"`
	} `json:"data"`
}

func (c *HTTPClient) lookup(ctx context.Context, queryType, value string) (*PersonRecord, error) {
	ctx, span := c.tracer.Start(ctx, "provider.lookup",
		trace.WithAttributes(attribute.String("provider.query_type", queryType)))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "build registry request")
	}
	req.Header.Set("AppKey", c.cfg.AppKey)
	req.Header.Set("Origin", c.cfg.Origin)

	query := url.Values{}
	query.Set(queryType, fmt.Sprintf("%q", value))
	req.URL.RawQuery = query.Encode()

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "registry request failed",
			"query_type", queryType,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "registry request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.ErrorContext(ctx, "registry returned non-200",
			"status", resp.StatusCode,
			"body", string(body),
		)
		return nil, dErrors.New(dErrors.CodeProviderUnavailable,
			fmt.Sprintf("registry returned HTTP %d", resp.StatusCode))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "malformed registry payload")
	}

	rows := env.Data.GetRowsPersona
	switch {
	case rows == nil:
		return nil, dErrors.New(dErrors.CodeProviderUnavailable, "registry payload missing getRowsPersona")
	case rows.StatusCode != http.StatusOK:
		c.logger.ErrorContext(ctx, "registry inner status not ok",
			"inner_status", rows.StatusCode,
		)
		return nil, dErrors.New(dErrors.CodeProviderUnavailable,
			fmt.Sprintf("registry inner status %d", rows.StatusCode))
	case len(rows.Persona) == 0:
		return nil, dErrors.New(dErrors.CodeProviderUnavailable, "registry returned no person")
	}

	persona := rows.Persona[0]
	record := &PersonRecord{
		DocumentID: persona.IndivID,
		GivenNames: persona.Nombres,
		Surname1:   persona.Paterno,
		Surname2:   persona.Materno,
	}
	for _, email := range persona.Email {
		record.Emails = append(record.Emails, email.Email)
	}
	if len(persona.Pasaporte) > 0 {
		record.Username = persona.Pasaporte[0].Usuario
	}
	return record, nil
}

// HasExternalAuth probes whether the document id has a provider-side login.
// Any lookup failure means "not known to have one"; this mirrors the
// registry's own probe semantics and never fails the caller.
func HasExternalAuth(ctx context.Context, client Client, docID string) bool {
	record, err := client.LookupByDocument(ctx, docID)
	if err != nil {
		return false
	}
	return record.HasExternalAuth()
}
