package service

import (
	"context"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var projectTracer = otel.Tracer("service/projects")

// ProjectService manages projects and their documents with ownership checks.
type ProjectService struct {
	projects  port.ProjectStore
	documents port.DocumentStore
	logger    *zap.Logger
}

// NewProjectService creates a project service.
func NewProjectService(projects port.ProjectStore, documents port.DocumentStore, logger *zap.Logger) *ProjectService {
	return &ProjectService{projects: projects, documents: documents, logger: logger}
}

func (s *ProjectService) Create(ctx context.Context, id domain.Identity, in *domain.ProjectInput) (*domain.Project, error) {
	ctx, span := projectTracer.Start(ctx, "ProjectService.Create")
	defer span.End()

	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	p, err := s.projects.CreateProject(ctx, id.UserID, in)
	if err != nil {
		return nil, err
	}
	s.logger.Info("project created", zap.String("user_id", id.UserID), zap.String("project_id", p.ID))
	return p, nil
}

func (s *ProjectService) List(ctx context.Context, id domain.Identity) ([]domain.Project, error) {
	ctx, span := projectTracer.Start(ctx, "ProjectService.List")
	defer span.End()

	return s.projects.ListProjects(ctx, id.UserID)
}

// Get returns the project when id may see it. Projects owned by someone
// else are reported as not found.
func (s *ProjectService) Get(ctx context.Context, id domain.Identity, projectID string) (*domain.Project, error) {
	ctx, span := projectTracer.Start(ctx, "ProjectService.Get")
	defer span.End()
	span.SetAttributes(attribute.String("project.id", projectID))

	return ownedProject(ctx, s.projects, id, projectID)
}

func (s *ProjectService) Update(ctx context.Context, id domain.Identity, projectID string, upd *domain.ProjectUpdate) (*domain.Project, error) {
	ctx, span := projectTracer.Start(ctx, "ProjectService.Update")
	defer span.End()

	if err := validate.Struct(upd); err != nil {
		return nil, validationError(err)
	}
	p, err := ownedProject(ctx, s.projects, id, projectID)
	if err != nil {
		return nil, err
	}
	fields := upd.Fields()
	if len(fields) == 0 {
		return p, nil
	}
	return s.projects.UpdateProject(ctx, projectID, fields)
}

func (s *ProjectService) Delete(ctx context.Context, id domain.Identity, projectID string) error {
	ctx, span := projectTracer.Start(ctx, "ProjectService.Delete")
	defer span.End()

	if _, err := ownedProject(ctx, s.projects, id, projectID); err != nil {
		return err
	}
	if err := s.projects.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	s.logger.Info("project deleted", zap.String("user_id", id.UserID), zap.String("project_id", projectID))
	return nil
}

// Dashboard loads the project and its documents concurrently.
func (s *ProjectService) Dashboard(ctx context.Context, id domain.Identity, projectID string) (*domain.ProjectDashboard, error) {
	ctx, span := projectTracer.Start(ctx, "ProjectService.Dashboard")
	defer span.End()

	var (
		project *domain.Project
		docs    []domain.Document
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := ownedProject(gctx, s.projects, id, projectID)
		project = p
		return err
	})
	g.Go(func() error {
		d, err := s.documents.ListDocuments(gctx, projectID)
		docs = d
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &domain.ProjectDashboard{Project: project, Documents: docs}, nil
}

// ListDocuments returns the project's documents.
func (s *ProjectService) ListDocuments(ctx context.Context, id domain.Identity, projectID string) ([]domain.Document, error) {
	ctx, span := projectTracer.Start(ctx, "ProjectService.ListDocuments")
	defer span.End()

	if _, err := ownedProject(ctx, s.projects, id, projectID); err != nil {
		return nil, err
	}
	return s.documents.ListDocuments(ctx, projectID)
}

// GetDocument returns a document owned by id.
func (s *ProjectService) GetDocument(ctx context.Context, id domain.Identity, documentID string) (*domain.Document, error) {
	ctx, span := projectTracer.Start(ctx, "ProjectService.GetDocument")
	defer span.End()

	return ownedDocument(ctx, s.documents, id, documentID)
}

// ============================================================
// Ownership helpers
// ============================================================

func ownedProject(ctx context.Context, store port.ProjectStore, id domain.Identity, projectID string) (*domain.Project, error) {
	p, err := store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.UserID != id.UserID && !id.IsService() {
		return nil, &domain.ErrNotFound{Resource: "project", ID: projectID}
	}
	return p, nil
}

func ownedDocument(ctx context.Context, store port.DocumentStore, id domain.Identity, documentID string) (*domain.Document, error) {
	d, err := store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if d.UserID != id.UserID && !id.IsService() {
		return nil, &domain.ErrNotFound{Resource: "document", ID: documentID}
	}
	return d, nil
}
