package feedback

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

	"github.com/MrWong99/orato/internal/observe"
	"github.com/MrWong99/orato/internal/resilience"
)

// maxBody caps how much of a response is read.
const maxBody = 1 << 20

// HTTPClient posts requests to a hosted feedback endpoint.
type HTTPClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	breaker  *resilience.Breaker
	metrics  *observe.Metrics
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) HTTPOption {
	return func(c *HTTPClient) { c.apiKey = key }
}

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.client = hc }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *resilience.Breaker) HTTPOption {
	return func(c *HTTPClient) { c.breaker = b }
}

// WithMetrics records request metrics on m instead of the default.
func WithMetrics(m *observe.Metrics) HTTPOption {
	return func(c *HTTPClient) { c.metrics = m }
}

// NewHTTPClient returns a client for endpoint.
func NewHTTPClient(endpoint string, opts ...HTTPOption) (*HTTPClient, error) {
	if endpoint == "" {
		return nil, errors.New("feedback: endpoint must not be empty")
	}
	c := &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		c.breaker = NewBreaker("feedback-http")
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// NewBreaker returns a circuit breaker that only counts outages, not rate
// limiting or quota answers.
func NewBreaker(name string) *resilience.Breaker {
	return NewTunedBreaker(name, 0, 0)
}

// NewTunedBreaker is NewBreaker with explicit limits. Zero values take the
// resilience defaults.
func NewTunedBreaker(name string, maxFailures int, resetTimeout time.Duration) *resilience.Breaker {
	return resilience.New(resilience.Config{
		Name:         name,
		MaxFailures:  maxFailures,
		ResetTimeout: resetTimeout,
		IsFailure:    isOutage,
	})
}

// Request implements Client.
func (c *HTTPClient) Request(ctx context.Context, req Request) (resp Response, err error) {
	ctx, span := observe.StartSpan(ctx, "feedback.http")
	start := time.Now()
	defer func() {
		c.metrics.RecordFeedback(ctx, "http", outcome(resp, err), time.Since(start))
		observe.EndSpan(span, err)
	}()

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("feedback: marshal request: %w", err)
	}

	err = c.breaker.Do(func() error {
		var callErr error
		resp, callErr = c.post(ctx, req.Mode, body)
		return callErr
	})
	if errors.Is(err, resilience.ErrOpen) {
		return Response{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

func (c *HTTPClient) post(ctx context.Context, mode Mode, body []byte) (Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBody))
	if err != nil {
		return Response{}, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return Response{}, &StatusError{StatusCode: httpResp.StatusCode, Message: errorMessage(data)}
	}
	return Parse(mode, data), nil
}

// errorMessage extracts the {error} field of a failure body, falling back to
// the body text.
func errorMessage(data []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

var _ Client = (*HTTPClient)(nil)
