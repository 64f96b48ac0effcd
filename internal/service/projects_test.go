package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/infra/observability"
	"github.com/marketingguide/mgai-api/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

func ptr[T any](v T) *T { return &v }

// ============================================================
// Projects
// ============================================================

func TestProjectService_CreateAndGet(t *testing.T) {
	store := newMemStore()
	svc := service.NewProjectService(store, store, zap.NewNop())

	p, err := svc.Create(context.Background(), owner, &domain.ProjectInput{BusinessName: "Crumb & Co", BusinessType: "Bakery"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p.UserID != ownerID || p.IsUnlocked {
		t.Errorf("unexpected project: %+v", p)
	}

	got, err := svc.Get(context.Background(), owner, p.ID)
	if err != nil || got.BusinessName != "Crumb & Co" {
		t.Fatalf("expected project back, got %+v, %v", got, err)
	}

	_, err = svc.Get(context.Background(), domain.Identity{UserID: otherID}, p.ID)
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound for another user, got %v", err)
	}

	admin := domain.Identity{Role: domain.ServiceRole}
	if _, err := svc.Get(context.Background(), admin, p.ID); err != nil {
		t.Errorf("service role should see every project, got %v", err)
	}
}

func TestProjectService_CreateValidation(t *testing.T) {
	svc := service.NewProjectService(newMemStore(), newMemStore(), zap.NewNop())

	_, err := svc.Create(context.Background(), owner, &domain.ProjectInput{})
	var ve *domain.ErrValidation
	if !errors.As(err, &ve) || ve.Field != "business_name" {
		t.Fatalf("expected ErrValidation on business_name, got %v", err)
	}
}

func TestProjectService_Update(t *testing.T) {
	store := newMemStore()
	store.addProject(sampleProject("proj-1", ownerID, false))
	svc := service.NewProjectService(store, store, zap.NewNop())

	p, err := svc.Update(context.Background(), owner, "proj-1", &domain.ProjectUpdate{Goals: ptr("Double foot traffic")})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p.Goals != "Double foot traffic" || p.BusinessName != "Crumb & Co" {
		t.Errorf("unexpected project after update: %+v", p)
	}

	_, err = svc.Update(context.Background(), owner, "proj-1", &domain.ProjectUpdate{BusinessName: ptr(strings.Repeat("x", 201))})
	var ve *domain.ErrValidation
	if !errors.As(err, &ve) {
		t.Fatalf("expected ErrValidation for a long name, got %v", err)
	}
}

func TestProjectService_DeleteNotOwner(t *testing.T) {
	store := newMemStore()
	store.addProject(sampleProject("proj-1", ownerID, false))
	svc := service.NewProjectService(store, store, zap.NewNop())

	err := svc.Delete(context.Background(), domain.Identity{UserID: otherID}, "proj-1")
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if store.project("proj-1").ID == "" {
		t.Error("project must not be deleted")
	}
}

func TestProjectService_Dashboard(t *testing.T) {
	store := newMemStore()
	store.addProject(sampleProject("proj-1", ownerID, false))
	store.addDocument(domain.Document{ID: "doc-1", ProjectID: "proj-1", UserID: ownerID, Type: "brand_strategy"})
	svc := service.NewProjectService(store, store, zap.NewNop())

	dash, err := svc.Dashboard(context.Background(), owner, "proj-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if dash.Project.ID != "proj-1" || len(dash.Documents) != 1 {
		t.Errorf("unexpected dashboard: %+v", dash)
	}
}

// ============================================================
// Catalog
// ============================================================

func TestCatalogService_CachesTypes(t *testing.T) {
	store := newMemStore()
	store.types = []domain.DocumentType{brandStrategyType()}
	metrics := observability.NewMetrics()
	svc := service.NewCatalogService(store, newTypeCache(), metrics, zap.NewNop())

	for i := 0; i < 3; i++ {
		if _, err := svc.ListDocumentTypes(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}
	// Changes in the store are invisible until the cache is invalidated.
	store.mu.Lock()
	store.types = append(store.types, contentCalendarType())
	store.mu.Unlock()

	types, _ := svc.ListDocumentTypes(context.Background())
	if len(types) != 1 {
		t.Errorf("expected cached catalog of 1, got %d", len(types))
	}
	svc.Invalidate()
	types, _ = svc.ListDocumentTypes(context.Background())
	if len(types) != 2 {
		t.Errorf("expected refreshed catalog of 2, got %d", len(types))
	}

	snap := metrics.GetGenerationSnapshot()
	if snap.CatalogCacheHit <= 0.5 {
		t.Errorf("expected mostly cache hits, got %f", snap.CatalogCacheHit)
	}
}

func TestCatalogService_GetDocumentType_NotFound(t *testing.T) {
	store := newMemStore()
	_, err := newCatalog(store).GetDocumentType(context.Background(), "missing")
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRenderPrompt(t *testing.T) {
	dt := brandStrategyType()
	project := sampleProject("proj-1", ownerID, false)

	prompt, err := service.RenderPrompt(&dt, dt.Sections[0], &project)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		"Create a brand strategy for Crumb & Co.",
		"Focus on young professionals.",
		"- Business type: Bakery",
		`Write the "Positioning" section of the Brand Strategy.`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "Budget") {
		t.Error("empty project fields should be left out of the context")
	}
}

func TestRenderPrompt_BadTemplate(t *testing.T) {
	dt := domain.DocumentType{ID: "broken", Name: "Broken", PromptTemplate: "{{.BusinessName"}
	project := sampleProject("proj-1", ownerID, false)

	_, err := service.RenderPrompt(&dt, dt.EffectiveSections()[0], &project)
	var ve *domain.ErrValidation
	if !errors.As(err, &ve) || ve.Field != "prompt_template" {
		t.Fatalf("expected ErrValidation on prompt_template, got %v", err)
	}
}

// ============================================================
// Content
// ============================================================

func TestGenerateContent(t *testing.T) {
	llm := &mockLLM{}
	svc := service.NewContentService(llm, 0, observability.NewMetrics(), zap.NewNop())

	resp, err := svc.GenerateContent(context.Background(), owner, &domain.GenerateContentRequest{
		Prompt:      "Write a tagline for a bakery",
		MaxTokens:   200,
		Temperature: ptr(float32(0.3)),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Usage.TotalTokens != 150 {
		t.Errorf("expected usage to be passed through, got %+v", resp.Usage)
	}
	req := llm.requests[0]
	if req.UserID != ownerID || req.MaxTokens != 200 || req.Temperature == nil || *req.Temperature != 0.3 {
		t.Errorf("unexpected completion request: %+v", req)
	}
}

func TestGenerateContent_RequiresPrompt(t *testing.T) {
	llm := &mockLLM{}
	svc := service.NewContentService(llm, 0, observability.NewMetrics(), zap.NewNop())

	_, err := svc.GenerateContent(context.Background(), owner, &domain.GenerateContentRequest{})
	var ve *domain.ErrValidation
	if !errors.As(err, &ve) || ve.Field != "prompt" {
		t.Fatalf("expected ErrValidation on prompt, got %v", err)
	}
	if llm.calls.Load() != 0 {
		t.Error("LLM must not be called")
	}
}

// ============================================================
// Tokens
// ============================================================

func TestTokenVerifier(t *testing.T) {
	v := service.NewTokenVerifier("test-secret")
	sign := func(secret string, claims service.SupabaseClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	valid := service.SupabaseClaims{
		Email: "owner@example.com",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	id, err := v.Verify(sign("test-secret", valid))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if id.UserID != ownerID || id.Email != "owner@example.com" || id.IsService() {
		t.Errorf("unexpected identity: %+v", id)
	}

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noExpiry := valid
	noExpiry.ExpiresAt = nil
	noSubject := valid
	noSubject.Subject = ""

	for name, token := range map[string]string{
		"wrong secret": sign("other-secret", valid),
		"expired":      sign("test-secret", expired),
		"no expiry":    sign("test-secret", noExpiry),
		"no subject":   sign("test-secret", noSubject),
		"garbage":      "not.a.jwt",
	} {
		var ue *domain.ErrUnauthorized
		if _, err := v.Verify(token); !errors.As(err, &ue) {
			t.Errorf("%s: expected ErrUnauthorized, got %v", name, err)
		}
	}

	svcToken, err := v.SignServiceToken(service.SupabaseClaims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}})
	if err != nil {
		t.Fatal(err)
	}
	id, err = v.Verify(svcToken)
	if err != nil || !id.IsService() {
		t.Errorf("expected service identity, got %+v, %v", id, err)
	}
}

func TestGenerateContent_BoundedByTimeout(t *testing.T) {
	llm := &mockLLM{block: make(chan struct{})}
	svc := service.NewContentService(llm, 20*time.Millisecond, observability.NewMetrics(), zap.NewNop())

	_, err := svc.GenerateContent(context.Background(), owner, &domain.GenerateContentRequest{Prompt: "Write a tagline"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
