// Package refresh provides refresh callbacks for the token store.
package refresh

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// DefaultTokenPath is the gjson path of the token in a refresh response
	DefaultTokenPath = "token"

	defaultTimeout  = 30 * time.Second
	maxResponseSize = 1 << 20
)

// HTTPRefresher exchanges the current token at an HTTP endpoint. The current
// token is sent as a Bearer credential and the new one is read from the JSON
// response.
type HTTPRefresher struct {
	url       string
	method    string
	tokenPath string
	transport http.RoundTripper
	timeout   time.Duration
}

// Option configures an HTTPRefresher
type Option func(*HTTPRefresher)

// WithTokenPath sets the gjson path of the token in the response body. An
// empty path reads the whole body as the token.
func WithTokenPath(path string) Option {
	return func(h *HTTPRefresher) {
		h.tokenPath = path
	}
}

// WithMethod sets the HTTP method, POST by default
func WithMethod(method string) Option {
	return func(h *HTTPRefresher) {
		h.method = method
	}
}

// WithTransport sets the underlying round tripper
func WithTransport(transport http.RoundTripper) Option {
	return func(h *HTTPRefresher) {
		h.transport = transport
	}
}

// WithTimeout bounds a single refresh request
func WithTimeout(timeout time.Duration) Option {
	return func(h *HTTPRefresher) {
		h.timeout = timeout
	}
}

// NewHTTPRefresher creates a refresher calling refreshURL
func NewHTTPRefresher(refreshURL string, options ...Option) (*HTTPRefresher, error) {
	parsedURL, err := url.Parse(refreshURL)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("refresh URL must use http or https")
	}

	h := &HTTPRefresher{
		url:       refreshURL,
		method:    http.MethodPost,
		tokenPath: DefaultTokenPath,
		transport: http.DefaultTransport,
		timeout:   defaultTimeout,
	}
	for _, opt := range options {
		opt(h)
	}
	return h, nil
}

// Refresh matches token.RefreshFunc
func (h *HTTPRefresher) Refresh(ctx context.Context, current string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, h.method, h.url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create refresh request: %w", err)
	}

	client := &http.Client{
		Transport: &bearerTransport{
			token: current,
			base:  h.transport,
		},
		Timeout: h.timeout,
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read refresh response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("refresh endpoint returned %s", resp.Status)
	}

	if h.tokenPath == "" {
		return strings.TrimSpace(string(body)), nil
	}

	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("refresh response is not valid JSON")
	}
	result := gjson.GetBytes(body, h.tokenPath)
	if !result.Exists() || result.String() == "" {
		return "", fmt.Errorf("refresh response has no token at %q", h.tokenPath)
	}
	return result.String(), nil
}

// bearerTransport implements http.RoundTripper for Bearer authentication
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	req.Header.Set("Accept", "application/json")
	return t.base.RoundTrip(req)
}
