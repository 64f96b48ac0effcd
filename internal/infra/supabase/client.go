// Package supabase provides a client for Supabase (PostgREST + Auth).
// It is the system of record for projects, documents, the document-type
// catalog and the billing tables.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to Supabase PostgREST and Auth admin APIs.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	if apiKey == "" {
		apiKey = serviceRoleKey
	}
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// statusError is a non-2xx answer from Supabase.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("supabase returned status %d: %s", e.Status, e.Body)
}

// classify marks client errors as permanent so they are not retried.
func classify(status int, body []byte) error {
	err := &statusError{Status: status, Body: string(body)}
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return resilience.Permanent(err)
	}
	return err
}

// doRequest executes an authenticated request to Supabase PostgREST.
func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	return c.send(ctx, method, fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path), nil, "")
}

// send executes an authenticated request against any Supabase endpoint.
func (c *Client) send(ctx context.Context, method, rawURL string, body io.Reader, prefer string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", method),
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return nil, err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")
	if prefer == "" {
		prefer = "return=representation"
	}
	req.Header.Set("Prefer", prefer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", method),
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("supabase: failed to read response body",
			zap.String("method", method),
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, nil // no data
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("url", rawURL),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(respBody)),
		)
		return nil, classify(resp.StatusCode, respBody)
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
	)
	return respBody, nil
}

// read runs an idempotent call through the breaker with retries.
func (c *Client) read(ctx context.Context, service string, fn func() error) error {
	return c.wrap(service, resilience.Call(ctx, c.cb, c.cfg, fn))
}

// write runs a mutating call through the breaker without retries.
func (c *Client) write(ctx context.Context, service string, fn func() error) error {
	return c.wrap(service, resilience.Call(ctx, c.cb, resilience.Config{}, fn))
}

func (c *Client) wrap(service string, err error) error {
	if err == nil {
		return nil
	}
	var (
		notFound *domain.ErrNotFound
		stale    *domain.ErrStaleWrite
		open     *domain.ErrCircuitOpen
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &stale), errors.As(err, &open):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &domain.ErrExternalService{Service: "supabase/" + service, Err: err}
}

// eq builds a PostgREST equality filter value.
func eq(v string) string {
	return "eq." + url.QueryEscape(v)
}

// decodeOne unmarshals a PostgREST array and returns its first row, or nil.
func decodeOne[T any](body []byte) (*T, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var rows []T
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// decodeAll unmarshals a PostgREST array, treating an empty body as no rows.
func decodeAll[T any](body []byte) ([]T, error) {
	rows := []T{}
	if len(body) == 0 {
		return rows, nil
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// --- Auth admin (implements port.UserDirectory) ---

type authUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// GetUserEmail looks up a user's email through the Auth admin API.
func (c *Client) GetUserEmail(ctx context.Context, userID string) (string, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetUserEmail")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	var email string
	err := c.read(ctx, "auth", func() error {
		u := fmt.Sprintf("%s/auth/v1/admin/users/%s", c.baseURL, url.PathEscape(userID))
		body, err := c.send(ctx, http.MethodGet, u, nil, "")
		if err != nil {
			return err
		}
		if body == nil {
			return resilience.Permanent(&domain.ErrNotFound{Resource: "user", ID: userID})
		}
		var user authUser
		if err := json.Unmarshal(body, &user); err != nil {
			return fmt.Errorf("failed to decode user: %w", err)
		}
		email = user.Email
		return nil
	})
	return email, err
}

// Ping checks PostgREST reachability for /readyz.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Supabase.Ping")
	defer span.End()

	_, err := c.doRequest(ctx, http.MethodGet, "document_types?select=id&limit=1")
	return err
}
