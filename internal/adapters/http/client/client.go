// Package client talks to the tracking API over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/stresstrack/internal/adapters/http/api"
	"github.com/okian/stresstrack/internal/domain/model"
)

const (
	defaultTimeout   = 10 * time.Second
	maxErrorBodySize = 4 << 10
)

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Unwrap marks client errors other than timeouts and throttling as final.
func (e *StatusError) Unwrap() error {
	if e.Code >= 400 && e.Code < 500 && e.Code != http.StatusRequestTimeout && e.Code != http.StatusTooManyRequests {
		return model.ErrBatchRejected
	}
	return nil
}

// Client calls the tracking API.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type trackResult struct {
	Success   bool           `json:"success"`
	Error     string         `json:"error"`
	Duplicate bool           `json:"duplicate"`
	Data      model.Behavior `json:"data"`
}

type listResult struct {
	Success bool             `json:"success"`
	Error   string           `json:"error"`
	Data    []model.Behavior `json:"data"`
}

// Forward posts batch to the ingestion endpoint.
func (c *Client) Forward(ctx context.Context, batch model.Batch) error {
	_, _, err := c.Track(ctx, batch)
	return err
}

// Track posts batch and returns the merged document.
func (c *Client) Track(ctx context.Context, batch model.Batch) (model.Behavior, bool, error) {
	body, err := json.Marshal(batch.Record)
	if err != nil {
		return model.Behavior{}, false, fmt.Errorf("failed to marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/track", bytes.NewReader(body))
	if err != nil {
		return model.Behavior{}, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if batch.ID != "" {
		req.Header.Set(api.BatchIDHeader, batch.ID)
	}

	var out trackResult
	if err := c.do(req, &out); err != nil {
		return model.Behavior{}, false, err
	}
	return out.Data, out.Duplicate, nil
}

// All fetches every stored document.
func (c *Client) All(ctx context.Context) ([]model.Behavior, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/get-all", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	var out listResult
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Health checks /healthz.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		var failure struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &failure) == nil && failure.Error != "" {
			msg = failure.Error
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
