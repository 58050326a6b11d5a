package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/alfredjeanlab/traceql/internal/model"
	"github.com/alfredjeanlab/traceql/internal/presence"
	"github.com/alfredjeanlab/traceql/internal/trace"
)

// Retry settings for every request.
const (
	RetryMax     = 5
	RetryWaitMin = 200 * time.Millisecond
	RetryWaitMax = 5 * time.Second
)

// HTTPClient implements TraceQLClient using the traceql HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// Option customizes an HTTPClient.
type Option func(*retryablehttp.Client)

// WithLogger routes retry diagnostics to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *retryablehttp.Client) { c.Logger = logger }
}

// WithRetry overrides the retry bounds.
func WithRetry(max int, waitMin, waitMax time.Duration) Option {
	return func(c *retryablehttp.Client) {
		c.RetryMax = max
		c.RetryWaitMin = waitMin
		c.RetryWaitMax = waitMax
	}
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:5050"). Connection failures and 5xx responses are
// retried with exponential backoff up to RetryMax times.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = RetryMax
	rc.RetryWaitMin = RetryWaitMin
	rc.RetryWaitMax = RetryWaitMax
	rc.Logger = nil
	rc.ErrorHandler = keepLastResponse
	for _, opt := range opts {
		opt(rc)
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc,
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Ingestion ---

// Ingest submits one event and returns the id the server assigned.
func (c *HTTPClient) Ingest(ctx context.Context, req *IngestRequest) (string, error) {
	var resp struct {
		OK bool   `json:"ok"`
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/ingest", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// --- Queries ---

func (c *HTTPClient) ListEvents(ctx context.Context, filter model.EventFilter) ([]*model.Event, error) {
	q := url.Values{}
	if filter.Service != "" {
		q.Set("service", filter.Service)
	}
	if filter.Level != "" {
		q.Set("level", string(filter.Level))
	}
	if filter.Search != "" {
		q.Set("q", filter.Search)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}

	path := "/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Items []*model.Event `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *HTTPClient) GetTrace(ctx context.Context, traceID string) (*trace.Result, error) {
	var res trace.Result
	if err := c.doJSON(ctx, http.MethodGet, "/trace/"+url.PathEscape(traceID), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Services lists the services seen within activeWithin, most recently
// active first. Zero lists every tracked service.
func (c *HTTPClient) Services(ctx context.Context, activeWithin time.Duration) ([]presence.Entry, error) {
	path := "/services"
	if activeWithin > 0 {
		path += "?active=" + url.QueryEscape(activeWithin.String())
	}
	var resp struct {
		Items []presence.Entry `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (bool, error) {
	var resp struct {
		OK bool `json:"ok"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return false, err
	}
	return resp.OK, nil
}

// --- internal helpers ---

// keepLastResponse returns the final response once retries are exhausted so
// that a 5xx body still surfaces as an *APIError.
func keepLastResponse(resp *http.Response, err error, attempts int) (*http.Response, error) {
	if resp != nil {
		return resp, nil
	}
	return nil, fmt.Errorf("giving up after %d attempt(s): %w", attempts, err)
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Fields     []model.FieldError
}

func (e *APIError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return fmt.Sprintf("HTTP %d: %s (%s)", e.StatusCode, e.Message, strings.Join(parts, "; "))
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error  string             `json:"error"`
			Fields []model.FieldError `json:"fields"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error, Fields: errResp.Fields}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
