package platform

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rflorenc/treeops/internal/metrics"
	"github.com/rflorenc/treeops/internal/models"
)

// DefaultPageSize is the page size requested from collection endpoints.
const DefaultPageSize = 100

// Client is a shared HTTP client for the CloudTruth REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	metrics    *metrics.Recorder
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero or less disables the limit.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records request latency on m.
func WithMetrics(m *metrics.Recorder) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a Client from a resolved Profile.
func NewClient(p *models.Profile, opts ...Option) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if p.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	c := &Client{
		baseURL:    p.BaseURL(),
		apiKey:     p.APIKey,
		httpClient: &http.Client{Transport: transport, Timeout: 300 * time.Second},
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root every relative path is resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Response is the uniform result of one API call.
type Response struct {
	StatusCode int
	Body       []byte
	Elapsed    time.Duration
}

// Gone reports whether a DELETE found nothing left to remove.
func (r *Response) Gone(method string) bool {
	return method == http.MethodDelete && r.StatusCode == http.StatusNotFound
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// paginatedResponse is the standard collection envelope.
type paginatedResponse struct {
	Count   int               `json:"count"`
	Next    *string           `json:"next"`
	Results []json.RawMessage `json:"results"`
}

// URL resolves target against the base URL. Absolute URLs are returned as is;
// paths already carrying the base URL's path prefix are not prefixed twice.
func (c *Client) URL(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	if base, err := url.Parse(c.baseURL); err == nil && base.Path != "" && strings.HasPrefix(target, base.Path+"/") {
		return base.Scheme + "://" + base.Host + target
	}
	return c.baseURL + target
}

// Do performs one authenticated request. Only transport failures are returned
// as errors; callers classify the status code.
func (c *Client) Do(ctx context.Context, method, target string, payload interface{}) (*Response, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	u := c.URL(target)
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Api-Key "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	c.metrics.ObserveRequest(method, resp.StatusCode, elapsed)
	c.logger.Debug("api call", "method", method, "url", u, "status", resp.StatusCode, "elapsed", elapsed)

	return &Response{StatusCode: resp.StatusCode, Body: body, Elapsed: elapsed}, nil
}

// Get performs an authenticated GET request and returns the response body.
// Non-2xx responses produce a FetchError, or an AuthError for 401/403.
func (c *Client) Get(ctx context.Context, target string, params url.Values) ([]byte, error) {
	u := target
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + params.Encode()
	}
	resp, err := c.Do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{URL: c.URL(u), Err: err}
	}
	if !resp.OK() {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return resp.Body, &AuthError{Method: http.MethodGet, URL: c.URL(u), StatusCode: resp.StatusCode, Body: string(resp.Body)}
		}
		return resp.Body, &FetchError{URL: c.URL(u), StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	return resp.Body, nil
}

// GetJSON performs an authenticated GET and unmarshals the response into dest.
func (c *Client) GetJSON(ctx context.Context, target string, params url.Values, dest interface{}) error {
	body, err := c.Get(ctx, target, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return &FetchError{URL: c.URL(target), Err: fmt.Errorf("parsing response: %w", err)}
	}
	return nil
}

// GetAll fetches all pages of a collection endpoint, following next until it
// is null. Any failed or unparsable page fails the whole listing.
func (c *Client) GetAll(ctx context.Context, path string, params url.Values, pageSize int) ([]models.Resource, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	current := path
	if len(q) > 0 {
		current += "?" + q.Encode()
	}

	var all []models.Resource
	seen := make(map[string]bool)
	for current != "" {
		if seen[current] {
			return nil, &FetchError{URL: c.URL(current), Err: errors.New("pagination loop: next points at an already fetched page")}
		}
		seen[current] = true

		body, err := c.Get(ctx, current, nil)
		if err != nil {
			return nil, err
		}

		var page paginatedResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, &FetchError{URL: c.URL(current), Err: fmt.Errorf("parsing response: %w", err)}
		}

		for _, raw := range page.Results {
			var res models.Resource
			if err := json.Unmarshal(raw, &res); err != nil {
				return nil, &FetchError{URL: c.URL(current), Err: fmt.Errorf("parsing resource: %w", err)}
			}
			all = append(all, res)
		}

		if page.Next != nil && *page.Next != "" {
			current = *page.Next
		} else {
			current = ""
		}
	}
	return all, nil
}

// IsNotFound reports whether err is a read that returned 404.
func IsNotFound(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.StatusCode == http.StatusNotFound
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
