package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ============================================================
// HTTP helpers for POST, PATCH, DELETE
// ============================================================

func (c *Client) doPost(ctx context.Context, table string, data map[string]any) ([]byte, error) {
	jsonBody, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, http.MethodPost, fmt.Sprintf("%s/rest/v1/%s", c.baseURL, table), bytes.NewReader(jsonBody), "return=representation")
}

// doUpsert inserts or merges on the table's primary key.
func (c *Client) doUpsert(ctx context.Context, table string, data map[string]any) ([]byte, error) {
	jsonBody, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, http.MethodPost, fmt.Sprintf("%s/rest/v1/%s", c.baseURL, table), bytes.NewReader(jsonBody),
		"return=representation,resolution=merge-duplicates")
}

func (c *Client) doPatch(ctx context.Context, path string, data map[string]any) error {
	jsonBody, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = c.send(ctx, http.MethodPatch, fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path), bytes.NewReader(jsonBody), "return=minimal")
	return err
}

// doPatchCount patches and returns how many rows matched the filter.
// Used for compare-and-swap updates.
func (c *Client) doPatchCount(ctx context.Context, path string, data map[string]any) (int, error) {
	jsonBody, err := json.Marshal(data)
	if err != nil {
		return 0, err
	}
	body, err := c.send(ctx, http.MethodPatch, fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path), bytes.NewReader(jsonBody), "return=representation")
	if err != nil {
		return 0, err
	}
	if len(body) == 0 {
		return 0, nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0, fmt.Errorf("decode patch result: %w", err)
	}
	return len(rows), nil
}

func (c *Client) doDelete(ctx context.Context, path string) error {
	_, err := c.send(ctx, http.MethodDelete, fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path), nil, "return=minimal")
	return err
}
