package service

import (
	"context"
	"fmt"
	"time"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/export"
	"github.com/marketingguide/mgai-api/internal/infra/observability"
	"github.com/marketingguide/mgai-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var exportTracer = otel.Tracer("service/export")

const defaultLinkTTL = 15 * time.Minute

// ExportService renders documents to downloadable files.
type ExportService struct {
	projects  port.ProjectStore
	documents port.DocumentStore
	archive   port.ExportArchive // nil disables export links
	linkTTL   time.Duration
	metrics   *observability.Metrics
	logger    *zap.Logger
}

func NewExportService(
	projects port.ProjectStore,
	documents port.DocumentStore,
	archive port.ExportArchive,
	linkTTL time.Duration,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *ExportService {
	if linkTTL <= 0 {
		linkTTL = defaultLinkTTL
	}
	return &ExportService{
		projects:  projects,
		documents: documents,
		archive:   archive,
		linkTTL:   linkTTL,
		metrics:   metrics,
		logger:    logger,
	}
}

// Export renders the document in the requested format.
func (s *ExportService) Export(ctx context.Context, id domain.Identity, documentID, format string) (*export.File, error) {
	ctx, span := exportTracer.Start(ctx, "ExportService.Export")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", documentID), attribute.String("export.format", format))

	file, _, err := s.render(ctx, id, documentID, format)
	return file, err
}

// ExportLink renders the document, archives it and returns a presigned
// download URL.
func (s *ExportService) ExportLink(ctx context.Context, id domain.Identity, documentID, format string) (*domain.ExportLink, error) {
	ctx, span := exportTracer.Start(ctx, "ExportService.ExportLink")
	defer span.End()

	if s.archive == nil {
		return nil, &domain.ErrValidation{Field: "format", Message: "export links are not enabled"}
	}
	file, doc, err := s.render(ctx, id, documentID, format)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("exports/%s/%s/v%d/%s", doc.UserID, doc.ID, doc.Version, file.Filename)

	if err := s.archive.Upload(ctx, key, file.ContentType, file.Data); err != nil {
		s.metrics.IncrExternalError("s3")
		return nil, err
	}
	url, err := s.archive.PresignGet(ctx, key, s.linkTTL)
	if err != nil {
		return nil, err
	}

	s.logger.Info("export archived", zap.String("document_id", doc.ID), zap.String("key", key))
	return &domain.ExportLink{
		URL:       url,
		Filename:  file.Filename,
		ExpiresAt: time.Now().Add(s.linkTTL).UTC(),
	}, nil
}

func (s *ExportService) render(ctx context.Context, id domain.Identity, documentID, format string) (*export.File, *domain.Document, error) {
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, nil, err
	}
	doc, err := ownedDocument(ctx, s.documents, id, documentID)
	if err != nil {
		return nil, nil, err
	}
	if doc.Status != domain.DocumentCompleted && len(doc.Content.Sections) == 0 {
		return nil, nil, &domain.ErrConflict{Message: "document has no content to export yet"}
	}
	project, err := s.projects.GetProject(ctx, doc.ProjectID)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	file, err := export.Render(f, export.Meta{ProjectName: project.BusinessName, Title: doc.Title}, doc)
	if err != nil {
		return nil, nil, err
	}
	s.metrics.RecordRequestDuration("export_"+string(f), time.Since(start))

	s.logger.Info("document exported",
		zap.String("document_id", doc.ID),
		zap.String("format", string(f)),
		zap.Int("bytes", len(file.Data)),
	)
	return file, doc, nil
}
