package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/infra/cache"
	"github.com/marketingguide/mgai-api/internal/infra/observability"
	"github.com/marketingguide/mgai-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var catalogTracer = otel.Tracer("service/catalog")

const catalogCacheKey = "document_types"

// CatalogService serves the document type catalog from a TTL cache.
type CatalogService struct {
	store   port.CatalogStore
	cache   *cache.InMemory[[]domain.DocumentType]
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewCatalogService creates a catalog service.
func NewCatalogService(store port.CatalogStore, c *cache.InMemory[[]domain.DocumentType], metrics *observability.Metrics, logger *zap.Logger) *CatalogService {
	return &CatalogService{store: store, cache: c, metrics: metrics, logger: logger}
}

// ListDocumentTypes returns the catalog ordered by sort_order.
func (s *CatalogService) ListDocumentTypes(ctx context.Context) ([]domain.DocumentType, error) {
	ctx, span := catalogTracer.Start(ctx, "CatalogService.ListDocumentTypes")
	defer span.End()

	types, hit, err := s.cache.GetOrLoad(catalogCacheKey, func() ([]domain.DocumentType, error) {
		return s.store.ListDocumentTypes(ctx)
	})
	if err != nil {
		return nil, err
	}
	if hit {
		s.metrics.IncrCacheHit("catalog")
	} else {
		s.metrics.IncrCacheMiss("catalog")
	}
	return types, nil
}

// GetDocumentType looks a type up by id.
func (s *CatalogService) GetDocumentType(ctx context.Context, id string) (*domain.DocumentType, error) {
	types, err := s.ListDocumentTypes(ctx)
	if err != nil {
		return nil, err
	}
	for i := range types {
		if types[i].ID == id {
			t := types[i]
			return &t, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "document_type", ID: id}
}

// Invalidate drops the cached catalog.
func (s *CatalogService) Invalidate() {
	s.cache.Delete(catalogCacheKey)
}

// ============================================================
// Prompt rendering
// ============================================================

type promptData struct {
	BusinessName   string
	BusinessType   string
	TargetAudience string
	Goals          string
	Budget         string
	Challenges     string
	Description    string
	DocumentType   string
	Section        string
}

// RenderPrompt fills the type's prompt template and the section prompt
// with project fields. Fields are referenced as {{.BusinessName}} and so on;
// missing values render empty.
func RenderPrompt(docType *domain.DocumentType, section domain.SectionSpec, project *domain.Project) (string, error) {
	data := promptData{
		BusinessName:   project.BusinessName,
		BusinessType:   project.BusinessType,
		TargetAudience: project.TargetAudience,
		Goals:          project.Goals,
		Budget:         project.Budget,
		Challenges:     project.Challenges,
		Description:    project.Description,
		DocumentType:   docType.Name,
		Section:        section.Title,
	}

	var parts []string
	for _, src := range []struct{ name, text string }{
		{docType.ID, docType.PromptTemplate},
		{docType.ID + "/" + section.ID, section.Prompt},
	} {
		if strings.TrimSpace(src.text) == "" {
			continue
		}
		out, err := execTemplate(src.name, src.text, data)
		if err != nil {
			return "", err
		}
		parts = append(parts, out)
	}

	parts = append(parts, projectContext(project))
	if section.Title != "" {
		parts = append(parts, fmt.Sprintf("Write the \"%s\" section of the %s. Respond in markdown.", section.Title, docType.Name))
	}
	return strings.Join(parts, "\n\n"), nil
}

func execTemplate(name, text string, data promptData) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", &domain.ErrValidation{Field: "prompt_template", Message: fmt.Sprintf("%s: %v", name, err)}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", &domain.ErrValidation{Field: "prompt_template", Message: fmt.Sprintf("%s: %v", name, err)}
	}
	return strings.TrimSpace(buf.String()), nil
}

func projectContext(p *domain.Project) string {
	var sb strings.Builder
	sb.WriteString("Business context:\n")
	for _, f := range []struct{ label, value string }{
		{"Business name", p.BusinessName},
		{"Business type", p.BusinessType},
		{"Target audience", p.TargetAudience},
		{"Goals", p.Goals},
		{"Budget", p.Budget},
		{"Challenges", p.Challenges},
		{"Description", p.Description},
	} {
		if f.value == "" {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s\n", f.label, f.value)
	}
	return strings.TrimRight(sb.String(), "\n")
}
