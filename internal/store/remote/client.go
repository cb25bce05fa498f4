// Package remote talks to the hosted document service over HTTP and exposes
// each of its collections as a store.Collection.
package remote

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

	"terminsync/internal/store"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
	}
}

// Collection returns an adapter for one collection id.
func (c *Client) Collection(id string) *Collection {
	return &Collection{client: c, id: id}
}

type document struct {
	ID         string           `json:"id"`
	Properties store.Properties `json:"properties"`
	CreatedAt  time.Time        `json:"created_time"`
	UpdatedAt  time.Time        `json:"last_edited_time"`
}

type queryRequest struct {
	Filter []filter   `json:"filter,omitempty"`
	Range  *timeRange `json:"range,omitempty"`
	Cursor string     `json:"start_cursor,omitempty"`
}

type filter struct {
	Property string `json:"property"`
	Equals   any    `json:"equals"`
}

type timeRange struct {
	Property string `json:"property"`
	Fallback string `json:"fallback,omitempty"`
	After    string `json:"on_or_after,omitempty"`
	Before   string `json:"before,omitempty"`
}

type queryResponse struct {
	Results    []document `json:"results"`
	HasMore    bool       `json:"has_more"`
	NextCursor string     `json:"next_cursor"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: %v", store.ErrValidation, err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		var ue interface{ Timeout() bool }
		if errors.As(err, &ue) && ue.Timeout() {
			return fmt.Errorf("%w: %v", store.ErrTimeout, err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", store.ErrUnavailable, err)
		}
		return nil
	}

	var eb errorBody
	_ = json.NewDecoder(resp.Body).Decode(&eb)
	return statusError(resp.StatusCode, eb)
}

// statusError maps the service's status codes onto store sentinels so the
// retry layer can classify them.
func statusError(status int, eb errorBody) error {
	var base error
	switch {
	case status == http.StatusTooManyRequests:
		base = store.ErrRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		base = store.ErrTimeout
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway || status == http.StatusConflict:
		base = store.ErrUnavailable
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		base = store.ErrUnauthorized
	case status == http.StatusNotFound:
		base = store.ErrNotFound
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		base = store.ErrValidation
	case status >= 500:
		base = store.ErrUnavailable
	default:
		base = store.ErrValidation
	}
	if msg := strings.TrimSpace(eb.Message); msg != "" {
		return fmt.Errorf("%w: %d %s: %s", base, status, eb.Code, msg)
	}
	return fmt.Errorf("%w: status %d", base, status)
}
