// Package searchindex talks to the public search index. The index is an
// external collaborator: every call here is an idempotent upsert or removal
// fired after a lifecycle transition commits.
package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/openpubs/publications-api/internal/models"
)

// Result reports what a call did. Calls are skipped when no index service is
// configured or the entity's status does not warrant indexing.
type Result string

const (
	ResultSent    Result = "sent"
	ResultSkipped Result = "skipped"
)

// Client is the consumed search-index interface.
type Client interface {
	IndexPublication(ctx context.Context, pub *models.Publication) (Result, error)
	RemovePublication(ctx context.Context, pub *models.Publication, force bool) (Result, error)
	IndexDocument(ctx context.Context, doc *models.Document, downloadURL string) (Result, error)
	RemoveDocument(ctx context.Context, doc *models.Document, force bool) (Result, error)
	IndexTopic(ctx context.Context, code string) (Result, error)
	RemoveTopic(ctx context.Context, code string) (Result, error)
}

// Config carries connection settings. An empty BaseURL disables the client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPClient implements Client against the index REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// New builds the HTTP client. With an empty BaseURL every call reports
// ResultSkipped without touching the network.
func New(cfg Config, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type documentPayload struct {
	Document    *models.Document `json:"document"`
	DownloadURL string           `json:"downloadUrl"`
}

// IndexPublication upserts a publication. Only published publications are
// indexed; everything else is skipped.
func (c *HTTPClient) IndexPublication(ctx context.Context, pub *models.Publication) (Result, error) {
	if c.baseURL == "" || pub.Status != models.PublicationStatusPublished {
		return ResultSkipped, nil
	}
	return c.send(ctx, http.MethodPut, fmt.Sprintf("/publications/%s", pub.ID), pub)
}

// RemovePublication removes a publication from the index. Skipped for
// publications that are still published, unless forced.
func (c *HTTPClient) RemovePublication(ctx context.Context, pub *models.Publication, force bool) (Result, error) {
	if c.baseURL == "" {
		return ResultSkipped, nil
	}
	if !force && pub.Status == models.PublicationStatusPublished {
		return ResultSkipped, nil
	}
	return c.send(ctx, http.MethodDelete, fmt.Sprintf("/publications/%s", pub.ID), nil)
}

// IndexDocument upserts a document together with its public download URL.
func (c *HTTPClient) IndexDocument(ctx context.Context, doc *models.Document, downloadURL string) (Result, error) {
	if c.baseURL == "" || doc.Status != models.DocumentStatusPublished {
		return ResultSkipped, nil
	}
	return c.send(ctx, http.MethodPut, fmt.Sprintf("/documents/%s", doc.ID), documentPayload{Document: doc, DownloadURL: downloadURL})
}

// RemoveDocument removes a document from the index.
func (c *HTTPClient) RemoveDocument(ctx context.Context, doc *models.Document, force bool) (Result, error) {
	if c.baseURL == "" {
		return ResultSkipped, nil
	}
	if !force && doc.Status == models.DocumentStatusPublished {
		return ResultSkipped, nil
	}
	return c.send(ctx, http.MethodDelete, fmt.Sprintf("/documents/%s", doc.ID), nil)
}

// IndexTopic upserts a topic.
func (c *HTTPClient) IndexTopic(ctx context.Context, code string) (Result, error) {
	if c.baseURL == "" {
		return ResultSkipped, nil
	}
	return c.send(ctx, http.MethodPut, fmt.Sprintf("/topics/%s", code), nil)
}

// RemoveTopic removes a topic.
func (c *HTTPClient) RemoveTopic(ctx context.Context, code string) (Result, error) {
	if c.baseURL == "" {
		return ResultSkipped, nil
	}
	return c.send(ctx, http.MethodDelete, fmt.Sprintf("/topics/%s", code), nil)
}

func (c *HTTPClient) send(ctx context.Context, method, path string, payload interface{}) (Result, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return ResultSkipped, fmt.Errorf("marshal index payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return ResultSkipped, fmt.Errorf("build index request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Token "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return ResultSkipped, fmt.Errorf("index call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	// 404 on removal means the entity already left the index.
	if resp.StatusCode >= 400 && !(method == http.MethodDelete && resp.StatusCode == http.StatusNotFound) {
		return ResultSkipped, fmt.Errorf("index call %s %s: status %d", method, path, resp.StatusCode)
	}
	return ResultSent, nil
}
