// Package solr implements the thin index-side collaborator: JSON update
// requests against the Solr update handler for document deletion. Document
// addition goes through the external indexing pipeline, not this client.
package solr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// defaultTimeout bounds each update call.
const defaultTimeout = 60 * time.Second

// ErrUpdateFailed indicates the update handler rejected a request.
var ErrUpdateFailed = errors.New("solr update failed")

// Deleter is the index deletion surface consumed by the reconciler.
type Deleter interface {
	DeleteByID(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}

// Client talks to one Solr core's update handler.
type Client struct {
	updateURL string
	http      *http.Client
}

// New creates a client for the given core URL
// ("http://localhost:8983/solr/arclight").
func New(coreURL string) *Client {
	return &Client{
		updateURL: strings.TrimSuffix(coreURL, "/") + "/update?commit=true",
		http:      &http.Client{Timeout: defaultTimeout},
	}
}

// DeleteByID removes one document from the index. Deleting an id that is
// not indexed succeeds: the update handler treats it as a no-op, which is
// what reconciliation wants.
func (c *Client) DeleteByID(ctx context.Context, id string) error {
	body := map[string]any{"delete": map[string]string{"id": id}}

	err := c.post(ctx, body)
	if err != nil {
		return fmt.Errorf("delete document %q: %w", id, err)
	}

	return nil
}

// DeleteAll clears the entire index. Only force mode issues this.
func (c *Client) DeleteAll(ctx context.Context) error {
	body := map[string]any{"delete": map[string]string{"query": "*:*"}}

	err := c.post(ctx, body)
	if err != nil {
		return fmt.Errorf("clear index: %w", err)
	}

	return nil
}

func (c *Client) post(ctx context.Context, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.updateURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build update request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post update: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return fmt.Errorf("%w: status %d: %s", ErrUpdateFailed, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	return nil
}
