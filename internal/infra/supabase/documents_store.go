package supabase

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/infra/resilience"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Documents CRUD via PostgREST
// ============================================================

func (c *Client) ListDocuments(ctx context.Context, projectID string) ([]domain.Document, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListDocuments")
	defer span.End()
	span.SetAttributes(attribute.String("project.id", projectID))

	var docs []domain.Document
	err := c.read(ctx, "documents", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("documents?project_id=%s&order=created_at.asc", eq(projectID)))
		if err != nil {
			return err
		}
		rows, err := decodeAll[domain.Document](body)
		if err != nil {
			return fmt.Errorf("decode documents: %w", err)
		}
		docs = rows
		return nil
	})
	return docs, err
}

func (c *Client) GetDocument(ctx context.Context, documentID string) (*domain.Document, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetDocument")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", documentID))

	var doc *domain.Document
	err := c.read(ctx, "documents", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("documents?id=%s&limit=1", eq(documentID)))
		if err != nil {
			return err
		}
		d, err := decodeOne[domain.Document](body)
		if err != nil {
			return fmt.Errorf("decode document: %w", err)
		}
		if d == nil {
			return resilience.Permanent(&domain.ErrNotFound{Resource: "document", ID: documentID})
		}
		doc = d
		return nil
	})
	return doc, err
}

func (c *Client) FindDocument(ctx context.Context, projectID, docType string) (*domain.Document, error) {
	ctx, span := tracer.Start(ctx, "Supabase.FindDocument")
	defer span.End()

	var doc *domain.Document
	err := c.read(ctx, "documents", func() error {
		path := fmt.Sprintf("documents?project_id=%s&type=%s&limit=1", eq(projectID), eq(docType))
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		d, err := decodeOne[domain.Document](body)
		if err != nil {
			return fmt.Errorf("decode document: %w", err)
		}
		doc = d
		return nil
	})
	return doc, err
}

func (c *Client) CreateDocument(ctx context.Context, doc *domain.Document) (*domain.Document, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateDocument")
	defer span.End()

	row := map[string]any{
		"project_id": doc.ProjectID,
		"user_id":    doc.UserID,
		"type":       doc.Type,
		"title":      doc.Title,
		"status":     doc.Status,
		"content":    doc.Content,
		"progress":   doc.Progress,
		"version":    doc.Version,
	}

	var created *domain.Document
	err := c.write(ctx, "documents", func() error {
		body, err := c.doPost(ctx, "documents", row)
		if err != nil {
			return err
		}
		d, err := decodeOne[domain.Document](body)
		if err != nil {
			return fmt.Errorf("decode document: %w", err)
		}
		if d == nil {
			return fmt.Errorf("no result from documents insert")
		}
		created = d
		return nil
	})
	return created, err
}

// UpdateDocument patches a document. Progress writes are idempotent so they
// are retried like reads.
func (c *Client) UpdateDocument(ctx context.Context, documentID string, fields map[string]any) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateDocument")
	defer span.End()

	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	return c.read(ctx, "documents", func() error {
		return c.doPatch(ctx, fmt.Sprintf("documents?id=%s", eq(documentID)), fields)
	})
}
