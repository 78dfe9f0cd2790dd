// Package mirror pushes journal entry snapshots to an external document store.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"journalease/pkg/domain"
)

const (
	// DefaultCollection is used when no collection is configured.
	DefaultCollection = "journalentries"
	// DefaultTimeout bounds a single mirror call.
	DefaultTimeout = 10 * time.Second
)

// ErrNotConfigured is returned when the base URL, API key or collection is missing.
var ErrNotConfigured = errors.New("mirror not configured")

// Mirror stores one document per call. Calls are never upserts: pushing the
// same entry twice creates two documents.
type Mirror interface {
	Configured() bool
	Push(ctx context.Context, doc domain.MirrorDocument) (string, error)
}

// Config configures the RestDB client.
type Config struct {
	BaseURL    string
	APIKey     string
	Collection string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// APIError is a non-2xx answer from the document store.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mirror responded %d: %s", e.Status, e.Message)
}

// RestDBClient posts documents to /rest/<collection> with an x-apikey header.
type RestDBClient struct {
	baseURL    string
	apiKey     string
	collection string
	httpClient *http.Client
}

// NewRestDBClient builds a client. A client with missing settings is still
// returned; it reports Configured() == false and every Push fails with
// ErrNotConfigured.
func NewRestDBClient(cfg Config) *RestDBClient {
	collection := strings.TrimSpace(cfg.Collection)
	if collection == "" {
		collection = DefaultCollection
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &RestDBClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		collection: collection,
		httpClient: httpClient,
	}
}

// Configured reports whether Push can reach a document store.
func (c *RestDBClient) Configured() bool {
	return c != nil && c.baseURL != "" && c.apiKey != "" && c.collection != ""
}

// Push creates a document and returns the store's id for it, when given.
func (c *RestDBClient) Push(ctx context.Context, doc domain.MirrorDocument) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode mirror document: %w", err)
	}
	endpoint := c.baseURL + "/rest/" + url.PathEscape(c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set("cache-control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &APIError{Status: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}
	var created struct {
		ID string `json:"_id"`
	}
	_ = json.Unmarshal(raw, &created)
	return created.ID, nil
}

// errorMessage prefers the store's own "message" field over the status line.
func errorMessage(raw []byte, fallback string) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Error); msg != "" {
			return msg
		}
	}
	return fallback
}
