package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Client is a thin HTTP client for the overseer-lite API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// HealthResponse is the /api/health body.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ReadinessResponse is the /ready body.
type ReadinessResponse struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
	Error  string            `json:"error,omitempty"`
}

// VerifyRequest is the login body sent to /api/auth/verify.
type VerifyRequest struct {
	Origin    string `json:"origin"`
	Timestamp int64  `json:"timestamp"`
	Hash      string `json:"hash"`
	Name      string `json:"name,omitempty"`
}

// VerifyResponse is a successful login.
type VerifyResponse struct {
	Valid bool   `json:"valid"`
	Token string `json:"token"`
	Name  string `json:"name"`
}

// SyncResponse is the /sync/library result.
type SyncResponse struct {
	Status        string `json:"status"`
	MediaType     string `json:"media_type"`
	Synced        int    `json:"synced"`
	MarkedAsAdded int    `json:"marked_as_added"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Health calls GET /api/health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ready calls GET /ready. A 503 still decodes the body.
func (c *Client) Ready(ctx context.Context) (*ReadinessResponse, error) {
	var out ReadinessResponse
	err := c.do(ctx, http.MethodGet, "/ready", nil, nil, &out)
	var apiErr *APIError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable) {
		return nil, err
	}
	return &out, nil
}

// Iterations calls GET /api/auth/params.
func (c *Client) Iterations(ctx context.Context) (int, error) {
	var out struct {
		Iterations int `json:"iterations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/params", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Iterations, nil
}

// Verify calls POST /api/auth/verify.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	var out VerifyResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/verify", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncLibrary calls POST /sync/library with a raw JSON array body.
func (c *Client) SyncLibrary(ctx context.Context, token, mediaType string, clearFirst bool, items json.RawMessage) (*SyncResponse, error) {
	q := url.Values{}
	q.Set("token", token)
	q.Set("media_type", mediaType)
	if clearFirst {
		q.Set("clear", "true")
	}
	var out SyncResponse
	if err := c.do(ctx, http.MethodPost, "/sync/library", q, items, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil {
			apiErr.Message = e.Error
		}
		if out != nil && len(data) > 0 {
			_ = json.Unmarshal(data, out)
		}
		return apiErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
