// Package stripe adapts the Stripe API to port.PaymentGateway and
// port.WebhookVerifier.
package stripe

import (
	"context"
	"errors"
	"net/http"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/infra/resilience"

	"github.com/sony/gobreaker"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("stripe")

// Options configures the gateway.
type Options struct {
	SecretKey string
	// BaseURL overrides the API endpoint (tests, stripe-mock).
	BaseURL string
	// MaxNetworkRetries is handed to the SDK, which retries with idempotency keys.
	MaxNetworkRetries int64
}

// Gateway creates customers and checkout sessions.
type Gateway struct {
	api    *client.API
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// NewGateway creates the Stripe gateway.
func NewGateway(opts Options, httpClient *http.Client, cb *gobreaker.CircuitBreaker, logger *zap.Logger) *Gateway {
	cfg := &stripeapi.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripeapi.Int64(opts.MaxNetworkRetries),
		LeveledLogger:     &stripeapi.LeveledLogger{Level: stripeapi.LevelError},
	}
	if opts.BaseURL != "" {
		cfg.URL = stripeapi.String(opts.BaseURL)
	}
	backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, cfg)

	api := &client.API{}
	api.Init(opts.SecretKey, &stripeapi.Backends{API: backend, Connect: backend, Uploads: backend})

	return &Gateway{api: api, cb: cb, logger: logger}
}

// CreateCustomer creates a Stripe customer tagged with the user id.
func (g *Gateway) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	ctx, span := tracer.Start(ctx, "Stripe.CreateCustomer")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	params := &stripeapi.CustomerParams{}
	if email != "" {
		params.Email = stripeapi.String(email)
	}
	params.AddMetadata("userId", userID)
	params.Context = ctx

	var id string
	err := g.call(ctx, func() error {
		c, err := g.api.Customers.New(params)
		if err != nil {
			return classify(err)
		}
		id = c.ID
		return nil
	})
	return id, err
}

// CreateCheckoutSession creates a one-off payment Checkout Session.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, p *domain.CheckoutSessionParams) (*domain.CheckoutSession, error) {
	ctx, span := tracer.Start(ctx, "Stripe.CreateCheckoutSession")
	defer span.End()

	params := &stripeapi.CheckoutSessionParams{
		Customer: stripeapi.String(p.CustomerID),
		Mode:     stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{
			{Price: stripeapi.String(p.PriceID), Quantity: stripeapi.Int64(1)},
		},
		SuccessURL: stripeapi.String(p.SuccessURL),
		CancelURL:  stripeapi.String(p.CancelURL),
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	var out *domain.CheckoutSession
	err := g.call(ctx, func() error {
		s, err := g.api.CheckoutSessions.New(params)
		if err != nil {
			return classify(err)
		}
		out = &domain.CheckoutSession{SessionID: s.ID, URL: s.URL}
		return nil
	})
	return out, err
}

func (g *Gateway) call(ctx context.Context, fn func() error) error {
	err := resilience.Call(ctx, g.cb, resilience.Config{}, fn)
	if err == nil {
		return nil
	}
	var open *domain.ErrCircuitOpen
	if errors.As(err, &open) || errors.Is(err, context.Canceled) {
		return err
	}
	var pe *resilience.PermanentError
	if errors.As(err, &pe) {
		var se *stripeapi.Error
		if errors.As(pe.Err, &se) && se.HTTPStatusCode == http.StatusBadRequest && se.Param != "" {
			return &domain.ErrValidation{Field: se.Param, Message: se.Msg}
		}
	}
	g.logger.Warn("stripe: request failed", zap.Error(err))
	return &domain.ErrExternalService{Service: "stripe", Err: err}
}

// classify marks 4xx Stripe errors other than 429 as permanent.
func classify(err error) error {
	var se *stripeapi.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 && se.HTTPStatusCode != http.StatusTooManyRequests {
			return resilience.Permanent(err)
		}
	}
	return err
}
