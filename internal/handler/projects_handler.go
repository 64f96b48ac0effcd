package handler

import (
	"net/http"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Catalog
// ============================================================

func listDocumentTypesHandler(catalog *service.CatalogService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/document-types")
		defer span.End()

		types, err := catalog.ListDocumentTypes(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, types)
	}
}

// ============================================================
// Projects
// ============================================================

func listProjectsHandler(projects *service.ProjectService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/projects")
		defer span.End()

		list, err := projects.List(ctx, IdentityFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func createProjectHandler(projects *service.ProjectService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/projects")
		defer span.End()

		var in domain.ProjectInput
		if err := decodeJSON(r, &in); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		p, err := projects.Create(ctx, IdentityFromContext(ctx), &in)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func getProjectHandler(projects *service.ProjectService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/projects/{projectId}")
		defer span.End()

		projectID := chi.URLParam(r, "projectId")
		span.SetAttributes(attribute.String("project.id", projectID))

		p, err := projects.Get(ctx, IdentityFromContext(ctx), projectID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func updateProjectHandler(projects *service.ProjectService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /api/projects/{projectId}")
		defer span.End()

		projectID := chi.URLParam(r, "projectId")
		span.SetAttributes(attribute.String("project.id", projectID))

		var upd domain.ProjectUpdate
		if err := decodeJSON(r, &upd); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		p, err := projects.Update(ctx, IdentityFromContext(ctx), projectID, &upd)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func deleteProjectHandler(projects *service.ProjectService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /api/projects/{projectId}")
		defer span.End()

		projectID := chi.URLParam(r, "projectId")
		span.SetAttributes(attribute.String("project.id", projectID))

		if err := projects.Delete(ctx, IdentityFromContext(ctx), projectID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func projectDashboardHandler(projects *service.ProjectService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/projects/{projectId}/dashboard")
		defer span.End()

		projectID := chi.URLParam(r, "projectId")
		span.SetAttributes(attribute.String("project.id", projectID))

		dash, err := projects.Dashboard(ctx, IdentityFromContext(ctx), projectID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, dash)
	}
}
