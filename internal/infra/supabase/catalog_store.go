package supabase

import (
	"context"
	"fmt"
	"net/http"

	"github.com/marketingguide/mgai-api/internal/domain"
)

// ListDocumentTypes reads the document-type catalog ordered by sort_order.
func (c *Client) ListDocumentTypes(ctx context.Context) ([]domain.DocumentType, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListDocumentTypes")
	defer span.End()

	var types []domain.DocumentType
	err := c.read(ctx, "document_types", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, "document_types?order=sort_order.asc")
		if err != nil {
			return err
		}
		rows, err := decodeAll[domain.DocumentType](body)
		if err != nil {
			return fmt.Errorf("decode document_types: %w", err)
		}
		types = rows
		return nil
	})
	return types, err
}
