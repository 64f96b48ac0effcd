package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/infra/observability"
	"github.com/marketingguide/mgai-api/internal/infra/resilience"
	"github.com/marketingguide/mgai-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var genTracer = otel.Tracer("service/generation")

const defaultSystemPrompt = "You are a senior marketing strategist. Write clear, specific, actionable " +
	"marketing content in markdown for the business described. Use headings, short paragraphs and lists. " +
	"Do not invent statistics."

const failWriteTimeout = 10 * time.Second

// GenerationOptions tunes document generation.
type GenerationOptions struct {
	// PerRequestLimit caps parallel documents of one generate request.
	PerRequestLimit int

	// Timeout bounds one background generate request.
	Timeout time.Duration

	// SyncTimeout bounds the LLM call of RegenerateSection, which runs
	// inside the HTTP request.
	SyncTimeout time.Duration

	SectionMaxTokens int
	SystemPrompt     string
}

// GenerationService creates documents and fills them section by section
// in the background.
type GenerationService struct {
	projects  port.ProjectStore
	documents port.DocumentStore
	catalog   *CatalogService
	llm       port.ContentGenerator
	publisher port.ProgressPublisher
	bulkhead  *resilience.Bulkhead
	opts      GenerationOptions
	metrics   *observability.Metrics
	logger    *zap.Logger

	// root is cancelled by Wait when its deadline passes so that
	// background runs record an error instead of staying in progress.
	root  context.Context
	abort context.CancelFunc
	wg    sync.WaitGroup
}

// NewGenerationService creates a generation service. The bulkhead bounds
// generations running across all requests.
func NewGenerationService(
	projects port.ProjectStore,
	documents port.DocumentStore,
	catalog *CatalogService,
	llm port.ContentGenerator,
	publisher port.ProgressPublisher,
	bulkhead *resilience.Bulkhead,
	opts GenerationOptions,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *GenerationService {
	if opts.PerRequestLimit <= 0 {
		opts.PerRequestLimit = 1
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	root, abort := context.WithCancel(context.Background())
	return &GenerationService{
		root:      root,
		abort:     abort,
		projects:  projects,
		documents: documents,
		catalog:   catalog,
		llm:       llm,
		publisher: publisher,
		bulkhead:  bulkhead,
		opts:      opts,
		metrics:   metrics,
		logger:    logger,
	}
}

type generationJob struct {
	docType *domain.DocumentType
	doc     *domain.Document
}

// StartGeneration queues one document per requested type and returns them
// in pending state. Generation continues after the request returns.
func (s *GenerationService) StartGeneration(ctx context.Context, id domain.Identity, projectID string, req *domain.GenerateDocumentsRequest) ([]domain.Document, error) {
	ctx, span := genTracer.Start(ctx, "GenerationService.StartGeneration")
	defer span.End()
	span.SetAttributes(attribute.String("project.id", projectID), attribute.Int("documents.requested", len(req.Types)))

	if err := validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	project, err := ownedProject(ctx, s.projects, id, projectID)
	if err != nil {
		return nil, err
	}

	// Resolve and check every type before touching any row.
	seen := make(map[string]bool, len(req.Types))
	var types []*domain.DocumentType
	for _, typeID := range req.Types {
		if seen[typeID] {
			continue
		}
		seen[typeID] = true

		dt, err := s.catalog.GetDocumentType(ctx, typeID)
		if err != nil {
			var nf *domain.ErrNotFound
			if errors.As(err, &nf) {
				return nil, &domain.ErrValidation{Field: "types", Message: fmt.Sprintf("unknown document type %q", typeID)}
			}
			return nil, err
		}
		if err := checkPaywall(dt, project); err != nil {
			return nil, err
		}
		types = append(types, dt)
	}

	// Every conflict is found before any row is written.
	existing := make([]*domain.Document, len(types))
	for i, dt := range types {
		doc, err := s.documents.FindDocument(ctx, project.ID, dt.ID)
		if err != nil {
			return nil, err
		}
		if doc != nil && s.busy(doc) {
			return nil, &domain.ErrConflict{Message: fmt.Sprintf("%s is already being generated", dt.Name)}
		}
		existing[i] = doc
	}

	jobs := make([]generationJob, 0, len(types))
	docs := make([]domain.Document, 0, len(types))
	for i, dt := range types {
		doc, err := s.prepareDocument(ctx, project, dt, existing[i])
		if err != nil {
			// Rows already reset to pending still get generated.
			s.launch(ctx, project, jobs)
			return nil, err
		}
		jobs = append(jobs, generationJob{docType: dt, doc: doc})
		docs = append(docs, *doc)
	}

	s.launch(ctx, project, jobs)

	s.logger.Info("generation started",
		zap.String("user_id", project.UserID),
		zap.String("project_id", projectID),
		zap.Int("documents", len(jobs)),
	)
	return docs, nil
}

// busy reports whether a live run owns the document.
func (s *GenerationService) busy(doc *domain.Document) bool {
	return doc.InProgress() && !doc.Abandoned(time.Now(), s.opts.Timeout)
}

func checkPaywall(dt *domain.DocumentType, project *domain.Project) error {
	if dt.IsFree || project.IsUnlocked {
		return nil
	}
	return &domain.ErrPaymentRequired{Reason: fmt.Sprintf("%s requires an unlocked project", dt.Name)}
}

// prepareDocument creates the document row or resets an existing one to
// pending with a bumped version.
func (s *GenerationService) prepareDocument(ctx context.Context, project *domain.Project, dt *domain.DocumentType, existing *domain.Document) (*domain.Document, error) {
	queued := domain.Progress{Percent: 0, Stage: "queued"}
	if existing == nil {
		return s.documents.CreateDocument(ctx, &domain.Document{
			ProjectID: project.ID,
			UserID:    project.UserID,
			Type:      dt.ID,
			Title:     dt.Name,
			Status:    domain.DocumentPending,
			Content:   domain.DocumentContent{Sections: []domain.Section{}},
			Progress:  queued,
			Version:   1,
		})
	}

	doc := *existing
	doc.Status = domain.DocumentPending
	doc.Progress = queued
	doc.Version = existing.Version + 1
	doc.ErrorMessage = ""
	doc.Content = domain.DocumentContent{Sections: []domain.Section{}}

	err := s.documents.UpdateDocument(ctx, doc.ID, map[string]any{
		"status":        doc.Status,
		"progress":      doc.Progress,
		"version":       doc.Version,
		"error_message": nil,
		"content":       doc.Content,
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// launch runs the jobs detached from the request, bounded per request by
// an errgroup limit and globally by the bulkhead.
func (s *GenerationService) launch(ctx context.Context, project *domain.Project, jobs []generationJob) {
	if len(jobs) == 0 {
		return
	}
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
	stop := context.AfterFunc(s.root, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer stop()

		var g errgroup.Group
		g.SetLimit(s.opts.PerRequestLimit)
		for _, job := range jobs {
			g.Go(func() error {
				if err := s.bulkhead.Acquire(bg); err != nil {
					s.fail(bg, job.doc, job.doc.Content, fmt.Errorf("waiting for a generation slot: %w", err))
					return nil
				}
				defer s.bulkhead.Release()

				s.runDocument(bg, project, job.docType, job.doc)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Wait blocks until background generations finish. When ctx is done first
// the remaining runs are cancelled and given failWriteTimeout to record
// their error state.
func (s *GenerationService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	s.abort()
	select {
	case <-done:
	case <-time.After(failWriteTimeout + time.Second):
		s.logger.Error("generations did not record their interruption in time")
	}
	return ctx.Err()
}

func (s *GenerationService) runDocument(ctx context.Context, project *domain.Project, dt *domain.DocumentType, doc *domain.Document) {
	ctx, span := genTracer.Start(ctx, "GenerationService.runDocument")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", doc.ID), attribute.String("document.type", dt.ID))

	s.metrics.JobStarted()
	defer s.metrics.JobFinished()
	start := time.Now()

	sections := dt.EffectiveSections()
	total := len(sections)
	content := domain.DocumentContent{Sections: []domain.Section{}}

	doc.Status = domain.DocumentGenerating
	doc.Progress = domain.Progress{Percent: 0, Stage: "starting", Message: fmt.Sprintf("Preparing %s", dt.Name)}
	if err := s.documents.UpdateDocument(ctx, doc.ID, map[string]any{
		"status":   doc.Status,
		"progress": doc.Progress,
	}); err != nil {
		s.fail(ctx, doc, content, err)
		return
	}
	s.publish(ctx, doc)

	for i, sec := range sections {
		doc.Progress = domain.Progress{
			Percent: i * 100 / total,
			Stage:   "section:" + sec.ID,
			Message: fmt.Sprintf("Writing %s (%d/%d)", sec.Title, i+1, total),
		}
		s.publish(ctx, doc)

		text, err := s.generateSection(ctx, project, dt, sec)
		if err != nil {
			s.fail(ctx, doc, content, fmt.Errorf("section %s: %w", sec.ID, err))
			return
		}
		content.Upsert(domain.Section{ID: sec.ID, Title: sec.Title, Content: text, Order: i})
		doc.Content = content

		doc.Progress.Percent = (i + 1) * 100 / total
		if err := s.documents.UpdateDocument(ctx, doc.ID, map[string]any{
			"content":  content,
			"progress": doc.Progress,
		}); err != nil {
			s.fail(ctx, doc, content, err)
			return
		}
		s.metrics.IncrSection()
	}

	doc.Status = domain.DocumentCompleted
	doc.Progress = domain.Progress{Percent: 100, Stage: "completed", Message: "Done"}
	if err := s.documents.UpdateDocument(ctx, doc.ID, map[string]any{
		"status":   doc.Status,
		"progress": doc.Progress,
	}); err != nil {
		s.fail(ctx, doc, content, err)
		return
	}
	s.publish(ctx, doc)

	s.metrics.IncrDocument(domain.DocumentCompleted)
	s.metrics.RecordRequestDuration("generate_document", time.Since(start))
	s.logger.Info("document generated",
		zap.String("document_id", doc.ID),
		zap.String("document_type", dt.ID),
		zap.Int("sections", total),
		zap.Duration("duration", time.Since(start)),
	)
}

func (s *GenerationService) generateSection(ctx context.Context, project *domain.Project, dt *domain.DocumentType, sec domain.SectionSpec) (string, error) {
	prompt, err := RenderPrompt(dt, sec, project)
	if err != nil {
		return "", err
	}
	resp, err := s.llm.Complete(ctx, &domain.CompletionRequest{
		SystemPrompt: s.opts.SystemPrompt,
		Prompt:       prompt,
		MaxTokens:    s.opts.SectionMaxTokens,
		UserID:       project.UserID,
	})
	if err != nil {
		s.metrics.IncrExternalError("openai")
		return "", err
	}
	s.metrics.RecordTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp.Content, nil
}

// fail marks the document as errored, keeping sections generated so far.
// It writes with a fresh deadline so a timed out run still records why.
func (s *GenerationService) fail(ctx context.Context, doc *domain.Document, content domain.DocumentContent, cause error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()

	if s.root.Err() != nil {
		cause = fmt.Errorf("interrupted by server shutdown: %w", cause)
	}

	doc.Status = domain.DocumentError
	doc.ErrorMessage = cause.Error()
	doc.Content = content
	doc.Progress = domain.Progress{Percent: doc.Progress.Percent, Stage: "error", Message: "Generation failed"}

	if err := s.documents.UpdateDocument(wctx, doc.ID, map[string]any{
		"status":        doc.Status,
		"error_message": doc.ErrorMessage,
		"progress":      doc.Progress,
		"content":       content,
	}); err != nil {
		s.logger.Error("failed to record generation error",
			zap.String("document_id", doc.ID),
			zap.Error(err),
		)
	}
	s.publish(wctx, doc)

	s.metrics.IncrDocument(domain.DocumentError)
	s.logger.Warn("document generation failed",
		zap.String("document_id", doc.ID),
		zap.String("document_type", doc.Type),
		zap.Error(cause),
	)
}

func (s *GenerationService) publish(ctx context.Context, doc *domain.Document) {
	s.publisher.PublishProgress(ctx, &domain.ProgressEvent{
		ProjectID:  doc.ProjectID,
		DocumentID: doc.ID,
		Type:       doc.Type,
		Status:     doc.Status,
		Progress:   doc.Progress,
		Version:    doc.Version,
	})
}

// RegenerateSection rewrites one section synchronously and bumps the
// document version.
func (s *GenerationService) RegenerateSection(ctx context.Context, id domain.Identity, documentID, sectionID string) (*domain.Document, error) {
	ctx, span := genTracer.Start(ctx, "GenerationService.RegenerateSection")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", documentID), attribute.String("section.id", sectionID))

	doc, err := ownedDocument(ctx, s.documents, id, documentID)
	if err != nil {
		return nil, err
	}
	if s.busy(doc) {
		return nil, &domain.ErrConflict{Message: "document is still being generated"}
	}

	project, err := ownedProject(ctx, s.projects, id, doc.ProjectID)
	if err != nil {
		return nil, err
	}
	dt, err := s.catalog.GetDocumentType(ctx, doc.Type)
	if err != nil {
		return nil, err
	}
	if err := checkPaywall(dt, project); err != nil {
		return nil, err
	}

	order := -1
	var spec domain.SectionSpec
	for i, sec := range dt.EffectiveSections() {
		if sec.ID == sectionID {
			order, spec = i, sec
			break
		}
	}
	if order < 0 {
		return nil, &domain.ErrNotFound{Resource: "section", ID: sectionID}
	}

	llmCtx := ctx
	if s.opts.SyncTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, s.opts.SyncTimeout)
		defer cancel()
	}
	if err := s.bulkhead.Acquire(llmCtx); err != nil {
		return nil, err
	}
	text, err := s.generateSection(llmCtx, project, dt, spec)
	s.bulkhead.Release()
	if err != nil {
		return nil, err
	}

	doc.Content.Upsert(domain.Section{ID: spec.ID, Title: spec.Title, Content: text, Order: order})
	doc.Version++
	if err := s.documents.UpdateDocument(ctx, doc.ID, map[string]any{
		"content": doc.Content,
		"version": doc.Version,
	}); err != nil {
		return nil, err
	}
	s.metrics.IncrSection()
	s.publish(ctx, doc)

	s.logger.Info("section regenerated",
		zap.String("document_id", doc.ID),
		zap.String("section_id", sectionID),
		zap.Int("version", doc.Version),
	)
	return doc, nil
}
