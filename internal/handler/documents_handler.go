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
// Documents
// ============================================================

func listDocumentsHandler(projects *service.ProjectService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/projects/{projectId}/documents")
		defer span.End()

		projectID := chi.URLParam(r, "projectId")
		span.SetAttributes(attribute.String("project.id", projectID))

		docs, err := projects.ListDocuments(ctx, IdentityFromContext(ctx), projectID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, docs)
	}
}

func getDocumentHandler(projects *service.ProjectService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/documents/{documentId}")
		defer span.End()

		documentID := chi.URLParam(r, "documentId")
		span.SetAttributes(attribute.String("document.id", documentID))

		doc, err := projects.GetDocument(ctx, IdentityFromContext(ctx), documentID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

// generateDocumentsHandler answers 202: documents come back pending and
// progress arrives over the realtime channel.
func generateDocumentsHandler(generation *service.GenerationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/projects/{projectId}/documents/generate")
		defer span.End()

		projectID := chi.URLParam(r, "projectId")
		span.SetAttributes(attribute.String("project.id", projectID))

		var req domain.GenerateDocumentsRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		docs, err := generation.StartGeneration(ctx, IdentityFromContext(ctx), projectID, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusAccepted, docs)
	}
}

func regenerateSectionHandler(generation *service.GenerationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/documents/{documentId}/sections/{sectionId}/regenerate")
		defer span.End()

		documentID := chi.URLParam(r, "documentId")
		sectionID := chi.URLParam(r, "sectionId")
		span.SetAttributes(
			attribute.String("document.id", documentID),
			attribute.String("section.id", sectionID),
		)

		doc, err := generation.RegenerateSection(ctx, IdentityFromContext(ctx), documentID, sectionID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

// ============================================================
// Export
// ============================================================

func exportDocumentHandler(exports *service.ExportService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/documents/{documentId}/export")
		defer span.End()

		documentID := chi.URLParam(r, "documentId")
		format := r.URL.Query().Get("format")
		span.SetAttributes(
			attribute.String("document.id", documentID),
			attribute.String("export.format", format),
		)

		file, err := exports.Export(ctx, IdentityFromContext(ctx), documentID, format)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeAttachment(w, file.Filename, file.ContentType, file.Data)
	}
}

func exportLinkHandler(exports *service.ExportService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/documents/{documentId}/export/link")
		defer span.End()

		documentID := chi.URLParam(r, "documentId")

		// The format may come in the body or the query string.
		var body struct {
			Format string `json:"format"`
		}
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &body); err != nil {
				handleServiceError(w, err, logger)
				return
			}
		}
		if body.Format == "" {
			body.Format = r.URL.Query().Get("format")
		}
		span.SetAttributes(
			attribute.String("document.id", documentID),
			attribute.String("export.format", body.Format),
		)

		link, err := exports.ExportLink(ctx, IdentityFromContext(ctx), documentID, body.Format)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, link)
	}
}

// ============================================================
// Content passthrough
// ============================================================

func generateContentHandler(content *service.ContentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/generate-content")
		defer span.End()

		var req domain.GenerateContentRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		resp, err := content.GenerateContent(ctx, IdentityFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
