// Package mock provides a test double for feedback.Client.
//
// Results are served from a queue so tests can script a sequence of
// answers. Setting Block makes Request wait until the test releases it,
// which is how controller tests hold a request in flight.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/orato/internal/feedback"
)

// Result is one scripted answer.
type Result struct {
	Response feedback.Response
	Err      error
}

// Client is a mock implementation of feedback.Client.
type Client struct {
	mu sync.Mutex

	// Results are returned in order. When empty, Default is returned.
	Results []Result

	// Default is returned once Results is exhausted.
	Default Result

	// Block, if non-nil, is received from before answering. Close it or send
	// on it to release a pending request.
	Block chan struct{}

	// Requests records every request.
	Requests []feedback.Request

	called chan feedback.Request
}

// Request records req and returns the next scripted result.
func (c *Client) Request(ctx context.Context, req feedback.Request) (feedback.Response, error) {
	c.mu.Lock()
	c.Requests = append(c.Requests, req)
	var res Result
	if len(c.Results) > 0 {
		res = c.Results[0]
		c.Results = c.Results[1:]
	} else {
		res = c.Default
	}
	block, called := c.Block, c.called
	c.mu.Unlock()

	if called != nil {
		called <- req
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return feedback.Response{}, ctx.Err()
		}
	}
	return res.Response, res.Err
}

// Called returns a channel that receives every request as it arrives. It
// must be created before the first request.
func (c *Client) Called() <-chan feedback.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.called == nil {
		c.called = make(chan feedback.Request, 16)
	}
	return c.called
}

// CallCount returns the number of Request calls.
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Requests)
}

// LastRequest returns the most recent request, or the zero value.
func (c *Client) LastRequest() feedback.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Requests) == 0 {
		return feedback.Request{}
	}
	return c.Requests[len(c.Requests)-1]
}

var _ feedback.Client = (*Client)(nil)
