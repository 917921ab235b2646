// Package contentstore is the consumed client for the external object store
// holding document binaries. The store speaks a chunked-upload protocol: an
// object is created with metadata, held under a lock token while its parts
// are uploaded, and unlocked once the store confirms every part arrived.
package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ObjectMetadata is sent when creating an object.
type ObjectMetadata struct {
	FileName  string `json:"fileName"`
	Format    string `json:"format"`
	SizeBytes int64  `json:"sizeBytes"`
	TypeURL   string `json:"typeUrl"`
	OwnerRSIN string `json:"ownerRsin"`
}

// Part is one expected chunk of an object, as reported by the store.
type Part struct {
	Seq       int    `json:"seq"`
	SizeBytes int64  `json:"sizeBytes"`
	Completed bool   `json:"completed"`
	URL       string `json:"url"`
}

// CreatedObject is the store's answer to an object creation.
type CreatedObject struct {
	ObjectID  string `json:"id"`
	LockToken string `json:"lock"`
	Parts     []Part `json:"parts"`
}

// StoredObject is an existing object with metadata and part state.
type StoredObject struct {
	ObjectID string         `json:"id"`
	Metadata ObjectMetadata `json:"metadata"`
	Parts    []Part         `json:"parts"`
	Complete bool           `json:"complete"`
}

// Client is the consumed content-store interface.
type Client interface {
	// StoreID identifies this store in persisted store references.
	StoreID() string
	// ChunkSize is the store's fixed part size in bytes.
	ChunkSize() int64
	CreateObject(ctx context.Context, meta ObjectMetadata) (*CreatedObject, error)
	UploadPart(ctx context.Context, objectID string, seq int, lockToken string, data []byte) error
	PartsComplete(ctx context.Context, objectID string) (bool, error)
	Unlock(ctx context.Context, objectID, lockToken string) error
	Lock(ctx context.Context, objectID string) (string, error)
	// RetrieveObject accepts either an object ID in this store or an
	// absolute URL pointing into a foreign store.
	RetrieveObject(ctx context.Context, ref string) (*StoredObject, error)
	DeleteObject(ctx context.Context, objectID string) error
	Download(ctx context.Context, objectID string) (io.ReadCloser, int64, error)
	// DownloadPart fetches the bytes of one part by its URL; used when
	// mirroring from a foreign store.
	DownloadPart(ctx context.Context, partURL string) ([]byte, error)
}

// Config carries connection settings for one store.
type Config struct {
	StoreID   string
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	ChunkSize int64
}

// HTTPClient implements Client against the store REST API.
type HTTPClient struct {
	storeID   string
	baseURL   string
	apiKey    string
	chunkSize int64
	client    *http.Client
}

// New builds the HTTP client.
func New(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 100 * 1024 * 1024
	}
	storeID := cfg.StoreID
	if storeID == "" {
		storeID = "content-store"
	}
	return &HTTPClient{
		storeID:   storeID,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		chunkSize: chunkSize,
		client:    &http.Client{Timeout: timeout},
	}
}

// StoreID implements Client.
func (c *HTTPClient) StoreID() string { return c.storeID }

// ChunkSize implements Client.
func (c *HTTPClient) ChunkSize() int64 { return c.chunkSize }

// CreateObject registers a new object and returns its lock token and
// expected parts.
func (c *HTTPClient) CreateObject(ctx context.Context, meta ObjectMetadata) (*CreatedObject, error) {
	var created CreatedObject
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/objects", meta, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UploadPart sends one chunk under the object's lock token.
func (c *HTTPClient) UploadPart(ctx context.Context, objectID string, seq int, lockToken string, data []byte) error {
	url := fmt.Sprintf("%s/objects/%s/parts/%d", c.baseURL, objectID, seq)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build part upload: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Lock-Token", lockToken)
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload part %d of %s: %w", seq, objectID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("upload part %d of %s: status %d", seq, objectID, resp.StatusCode)
	}
	return nil
}

// PartsComplete asks whether every part of the object has been uploaded.
func (c *HTTPClient) PartsComplete(ctx context.Context, objectID string) (bool, error) {
	var status struct {
		Complete bool `json:"complete"`
	}
	url := fmt.Sprintf("%s/objects/%s/status", c.baseURL, objectID)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &status); err != nil {
		return false, err
	}
	return status.Complete, nil
}

// Unlock releases the object's lock token.
func (c *HTTPClient) Unlock(ctx context.Context, objectID, lockToken string) error {
	url := fmt.Sprintf("%s/objects/%s/unlock", c.baseURL, objectID)
	payload := map[string]string{"lock": lockToken}
	return c.doJSON(ctx, http.MethodPost, url, payload, nil)
}

// Lock acquires a fresh lock token for an existing object.
func (c *HTTPClient) Lock(ctx context.Context, objectID string) (string, error) {
	var resp struct {
		Lock string `json:"lock"`
	}
	url := fmt.Sprintf("%s/objects/%s/lock", c.baseURL, objectID)
	if err := c.doJSON(ctx, http.MethodPost, url, nil, &resp); err != nil {
		return "", err
	}
	return resp.Lock, nil
}

// RetrieveObject fetches object metadata and part state.
func (c *HTTPClient) RetrieveObject(ctx context.Context, ref string) (*StoredObject, error) {
	url := ref
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		url = fmt.Sprintf("%s/objects/%s", c.baseURL, ref)
	}
	var obj StoredObject
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// DeleteObject removes the object and its parts.
func (c *HTTPClient) DeleteObject(ctx context.Context, objectID string) error {
	url := fmt.Sprintf("%s/objects/%s", c.baseURL, objectID)
	return c.doJSON(ctx, http.MethodDelete, url, nil, nil)
}

// Download streams the object's content. The caller owns the reader.
func (c *HTTPClient) Download(ctx context.Context, objectID string) (io.ReadCloser, int64, error) {
	url := fmt.Sprintf("%s/objects/%s/download", c.baseURL, objectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build download: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("download %s: %w", objectID, err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("download %s: status %d", objectID, resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

// DownloadPart fetches one part's bytes by URL.
func (c *HTTPClient) DownloadPart(ctx context.Context, partURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, partURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build part download: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download part %s: %w", partURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("download part %s: status %d", partURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Token "+c.apiKey)
	}
}

func (c *HTTPClient) doJSON(ctx context.Context, method, url string, payload, dest interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal store payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build store request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("store call %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("store call %s %s: status %d", method, url, resp.StatusCode)
	}
	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return fmt.Errorf("decode store response: %w", err)
		}
	}
	return nil
}
