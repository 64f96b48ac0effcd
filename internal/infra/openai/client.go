// Package openai adapts the OpenAI chat completions API to port.ContentGenerator.
package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/infra/resilience"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("openai")

// Options configures the adapter.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// Client calls chat completions through a circuit breaker with retries.
type Client struct {
	api    *goopenai.Client
	opts   Options
	cb     *gobreaker.CircuitBreaker
	cfg    resilience.Config
	logger *zap.Logger
}

// NewClient creates the OpenAI adapter.
func NewClient(opts Options, httpClient *http.Client, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	apiCfg := goopenai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		apiCfg.BaseURL = opts.BaseURL
	}
	if httpClient != nil {
		apiCfg.HTTPClient = httpClient
	}
	return &Client{
		api:    goopenai.NewClientWithConfig(apiCfg),
		opts:   opts,
		cb:     cb,
		cfg:    cfg,
		logger: logger,
	}
}

// Complete sends one chat completion request.
func (c *Client) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	ctx, span := tracer.Start(ctx, "OpenAI.Complete")
	defer span.End()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 || (c.opts.MaxTokens > 0 && maxTokens > c.opts.MaxTokens) {
		maxTokens = c.opts.MaxTokens
	}
	temperature := c.opts.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	// The request field is omitempty, so an exact zero would fall back to
	// the API default of 1.
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: req.Prompt})

	apiReq := goopenai.ChatCompletionRequest{
		Model:       c.opts.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		User:        req.UserID,
	}
	span.SetAttributes(attribute.String("llm.model", c.opts.Model), attribute.Int("llm.max_tokens", maxTokens))

	var resp goopenai.ChatCompletionResponse
	err := resilience.Call(ctx, c.cb, c.cfg, func() error {
		callCtx := ctx
		if c.opts.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
			defer cancel()
		}
		r, err := c.api.CreateChatCompletion(callCtx, apiReq)
		if err != nil {
			return classify(err)
		}
		resp = r
		return nil
	})
	if err != nil {
		var open *domain.ErrCircuitOpen
		if errors.As(err, &open) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		c.logger.Warn("openai: completion failed", zap.String("model", c.opts.Model), zap.Error(err))
		return nil, &domain.ErrExternalService{Service: "openai", Err: err}
	}

	if len(resp.Choices) == 0 {
		return nil, &domain.ErrExternalService{Service: "openai", Err: fmt.Errorf("empty completion")}
	}

	span.SetAttributes(attribute.Int("llm.total_tokens", resp.Usage.TotalTokens))
	return &domain.CompletionResponse{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: domain.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// classify marks 4xx responses other than 429 as permanent.
func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != http.StatusTooManyRequests {
			return resilience.Permanent(err)
		}
		return err
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode >= 400 && reqErr.HTTPStatusCode < 500 && reqErr.HTTPStatusCode != http.StatusTooManyRequests {
			return resilience.Permanent(err)
		}
	}
	return err
}
