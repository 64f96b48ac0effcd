package supabase

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/marketingguide/mgai-api/internal/domain"
)

// ============================================================
// Webhook events
// ============================================================

func (c *Client) GetWebhookEvent(ctx context.Context, eventID string) (*domain.WebhookEvent, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetWebhookEvent")
	defer span.End()

	var ev *domain.WebhookEvent
	err := c.read(ctx, "webhook_events", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("webhook_events?id=%s&limit=1", eq(eventID)))
		if err != nil {
			return err
		}
		e, err := decodeOne[domain.WebhookEvent](body)
		if err != nil {
			return fmt.Errorf("decode webhook_event: %w", err)
		}
		ev = e
		return nil
	})
	return ev, err
}

// RecordWebhookEvent upserts the event so Stripe redeliveries overwrite the
// previous attempt instead of failing on the primary key.
func (c *Client) RecordWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) error {
	ctx, span := tracer.Start(ctx, "Supabase.RecordWebhookEvent")
	defer span.End()

	row := map[string]any{
		"id":          ev.ID,
		"type":        ev.Type,
		"status":      ev.Status,
		"payload":     ev.Payload,
		"received_at": ev.ReceivedAt.UTC().Format(time.RFC3339),
		"error":       nil,
	}
	return c.read(ctx, "webhook_events", func() error {
		_, err := c.doUpsert(ctx, "webhook_events?on_conflict=id", row)
		return err
	})
}

func (c *Client) MarkWebhookEvent(ctx context.Context, eventID, status, errMsg string) error {
	ctx, span := tracer.Start(ctx, "Supabase.MarkWebhookEvent")
	defer span.End()

	fields := map[string]any{
		"status":       status,
		"processed_at": time.Now().UTC().Format(time.RFC3339),
	}
	if errMsg != "" {
		fields["error"] = errMsg
	}
	return c.read(ctx, "webhook_events", func() error {
		return c.doPatch(ctx, fmt.Sprintf("webhook_events?id=%s", eq(eventID)), fields)
	})
}
