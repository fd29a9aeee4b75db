package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deepnoodle-ai/research/retry"
)

const defaultTimeout = 30 * time.Second

// HTTPOption configures the HTTP-backed tools
type HTTPOption func(*httpConfig)

type httpConfig struct {
	baseURL    string
	client     *http.Client
	maxResults int
	maxChars   int
	maxRetries int
	userAgent  string
}

// WithBaseURL overrides the service endpoint
func WithBaseURL(url string) HTTPOption {
	return func(c *httpConfig) { c.baseURL = url }
}

// WithHTTPClient sets the HTTP client used for requests
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *httpConfig) { c.client = client }
}

// WithMaxResults sets the number of documents requested per search
func WithMaxResults(n int) HTTPOption {
	return func(c *httpConfig) { c.maxResults = n }
}

// WithMaxChars caps the length of each document's content
func WithMaxChars(n int) HTTPOption {
	return func(c *httpConfig) { c.maxChars = n }
}

// WithMaxRetries sets how many times a transient failure is retried
func WithMaxRetries(n int) HTTPOption {
	return func(c *httpConfig) { c.maxRetries = n }
}

func newHTTPConfig(baseURL string, maxResults int, opts []HTTPOption) *httpConfig {
	c := &httpConfig{
		baseURL:    baseURL,
		client:     &http.Client{Timeout: defaultTimeout},
		maxResults: maxResults,
		maxRetries: 2,
		userAgent:  "deepnoodle-research/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends the request built by newReq, retrying transient failures, and
// returns the response body
func (c *httpConfig) do(ctx context.Context, newReq func() (*http.Request, error)) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, func() error {
		req, err := newReq()
		if err != nil {
			return retry.NewNonRecoverableError(err)
		}
		req.Header.Set("User-Agent", c.userAgent)
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &retry.StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data), 200)}
		}
		body = data
		return nil
	}, retry.WithMaxRetries(c.maxRetries), retry.WithBaseWait(250*time.Millisecond))
	return body, err
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
