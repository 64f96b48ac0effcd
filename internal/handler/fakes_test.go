package handler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marketingguide/mgai-api/internal/config"
	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/handler"
	"github.com/marketingguide/mgai-api/internal/infra/cache"
	"github.com/marketingguide/mgai-api/internal/infra/observability"
	"github.com/marketingguide/mgai-api/internal/infra/ratelimit"
	"github.com/marketingguide/mgai-api/internal/infra/resilience"
	"github.com/marketingguide/mgai-api/internal/service"

	"go.uber.org/zap"
)

const (
	ownerToken = "owner-token"
	otherToken = "other-token"
)

// fakeVerifier accepts two fixed tokens.
type fakeVerifier struct{}

func (fakeVerifier) Verify(token string) (domain.Identity, error) {
	switch token {
	case ownerToken:
		return domain.Identity{UserID: "user-1", Email: "owner@example.com", Role: "authenticated"}, nil
	case otherToken:
		return domain.Identity{UserID: "user-2", Role: "authenticated"}, nil
	}
	return domain.Identity{}, &domain.ErrUnauthorized{Message: "invalid token"}
}

// fakeStore backs projects, documents, the catalog and webhook events.
type fakeStore struct {
	mu        sync.Mutex
	seq       int
	projects  map[string]domain.Project
	documents map[string]domain.Document
	types     []domain.DocumentType
	events    map[string]domain.WebhookEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:  map[string]domain.Project{},
		documents: map[string]domain.Document{},
		events:    map[string]domain.WebhookEvent{},
		types: []domain.DocumentType{
			{ID: "brand_strategy", Name: "Brand Strategy", IsFree: true, PromptTemplate: "Brand strategy for {{.BusinessName}}."},
			{ID: "content_calendar", Name: "Content Calendar", PromptTemplate: "Calendar for {{.BusinessName}}."},
		},
	}
}

func (s *fakeStore) CreateProject(_ context.Context, userID string, in *domain.ProjectInput) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	p := domain.Project{ID: fmt.Sprintf("proj-%d", s.seq), UserID: userID, BusinessName: in.BusinessName, BusinessType: in.BusinessType}
	s.projects[p.ID] = p
	return &p, nil
}

func (s *fakeStore) ListProjects(_ context.Context, userID string) ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Project{}
	for _, p := range s.projects {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) GetProject(_ context.Context, projectID string) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "project", ID: projectID}
	}
	return &p, nil
}

func (s *fakeStore) UpdateProject(_ context.Context, projectID string, fields map[string]any) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.projects[projectID]
	if v, ok := fields["business_name"].(string); ok {
		p.BusinessName = v
	}
	s.projects[projectID] = p
	return &p, nil
}

func (s *fakeStore) DeleteProject(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, projectID)
	return nil
}

func (s *fakeStore) UnlockProject(_ context.Context, projectID string) (bool, error) {
	return false, errors.New("not supported")
}

func (s *fakeStore) ListDocuments(_ context.Context, projectID string) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Document{}
	for _, d := range s.documents {
		if d.ProjectID == projectID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeStore) GetDocument(_ context.Context, documentID string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[documentID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "document", ID: documentID}
	}
	return &d, nil
}

func (s *fakeStore) FindDocument(_ context.Context, projectID, docType string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.documents {
		if d.ProjectID == projectID && d.Type == docType {
			return &d, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) CreateDocument(_ context.Context, doc *domain.Document) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	d := *doc
	d.ID = fmt.Sprintf("doc-%d", s.seq)
	s.documents[d.ID] = d
	return &d, nil
}

func (s *fakeStore) UpdateDocument(_ context.Context, documentID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.documents[documentID]
	if v, ok := fields["status"].(string); ok {
		d.Status = v
	}
	if v, ok := fields["content"].(domain.DocumentContent); ok {
		d.Content = v
	}
	s.documents[documentID] = d
	return nil
}

func (s *fakeStore) ListDocumentTypes(_ context.Context) ([]domain.DocumentType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DocumentType(nil), s.types...), nil
}

func (s *fakeStore) GetWebhookEvent(_ context.Context, eventID string) (*domain.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}

func (s *fakeStore) RecordWebhookEvent(_ context.Context, ev *domain.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.ID] = *ev
	return nil
}

func (s *fakeStore) MarkWebhookEvent(_ context.Context, eventID, status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := s.events[eventID]
	ev.Status = status
	ev.Error = errMsg
	s.events[eventID] = ev
	return nil
}

type fakeLLM struct{}

func (fakeLLM) Complete(_ context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	return &domain.CompletionResponse{
		Content: "Fresh bread, every morning.",
		Model:   "gpt-4o-mini",
		Usage:   domain.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

// fakeWebhookVerifier trusts the signature "valid" and reads the event type
// from the payload verbatim.
type fakeWebhookVerifier struct{}

func (fakeWebhookVerifier) ConstructEvent(payload []byte, signature string) (*domain.PaymentEvent, error) {
	if signature != "valid" {
		return nil, errors.New("signature mismatch")
	}
	return &domain.PaymentEvent{ID: "evt_1", Type: string(payload), Raw: payload}, nil
}

type nopPublisher struct{}

func (nopPublisher) PublishProgress(context.Context, *domain.ProgressEvent) {}

type testEnv struct {
	store   *fakeStore
	metrics *observability.Metrics
	svc     handler.Services
}

func newTestEnv(limiter *ratelimit.Limiter) *testEnv {
	store := newFakeStore()
	metrics := observability.NewMetrics()
	logger := zap.NewNop()
	products := service.NewProducts(config.StripeConfig{Currency: "usd", SingleProjectPrice: "price_single", AgencyPackPrice: "price_agency"})
	catalog := service.NewCatalogService(store, cache.New[[]domain.DocumentType](time.Minute), metrics, logger)

	return &testEnv{
		store:   store,
		metrics: metrics,
		svc: handler.Services{
			Verifier: fakeVerifier{},
			Projects: service.NewProjectService(store, store, logger),
			Catalog:  catalog,
			Generation: service.NewGenerationService(store, store, catalog, fakeLLM{}, nopPublisher{},
				resilience.NewBulkhead(2), service.GenerationOptions{Timeout: time.Minute}, metrics, logger),
			Content: service.NewContentService(fakeLLM{}, 0, metrics, logger),
			Webhook: service.NewWebhookService(fakeWebhookVerifier{}, store, nil, store, nil, products, metrics, logger),
			Credits: service.NewCreditService(nil, store, nil, products, metrics, logger),
			Export:  service.NewExportService(store, store, nil, 0, metrics, logger),
			Limiter: limiter,
		},
	}
}
