package service

import (
	"context"
	"time"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/infra/observability"
	"github.com/marketingguide/mgai-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var contentTracer = otel.Tracer("service/content")

// ContentService is the authenticated passthrough to the LLM used by the
// frontend for ad hoc copy.
type ContentService struct {
	llm     port.ContentGenerator
	timeout time.Duration
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewContentService creates the passthrough. A positive timeout bounds each
// completion including retries.
func NewContentService(llm port.ContentGenerator, timeout time.Duration, metrics *observability.Metrics, logger *zap.Logger) *ContentService {
	return &ContentService{llm: llm, timeout: timeout, metrics: metrics, logger: logger}
}

// GenerateContent runs one completion. Token limits above the configured
// maximum are clamped by the adapter.
func (s *ContentService) GenerateContent(ctx context.Context, id domain.Identity, req *domain.GenerateContentRequest) (*domain.CompletionResponse, error) {
	ctx, span := contentTracer.Start(ctx, "ContentService.GenerateContent")
	defer span.End()

	if err := validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	creq := &domain.CompletionRequest{
		SystemPrompt: req.SystemPrompt,
		Prompt:       req.Prompt,
		MaxTokens:    req.MaxTokens,
		UserID:       id.UserID,
		Temperature:  req.Temperature,
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := s.llm.Complete(ctx, creq)
	if err != nil {
		s.metrics.IncrExternalError("openai")
		s.logger.Warn("content generation failed", zap.String("user_id", id.UserID), zap.Error(err))
		return nil, err
	}
	s.metrics.RecordTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	s.metrics.RecordRequestDuration("generate_content", time.Since(start))

	s.logger.Info("content generated",
		zap.String("user_id", id.UserID),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return resp, nil
}
