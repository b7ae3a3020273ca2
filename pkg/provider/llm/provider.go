// Package llm defines the Provider interface for Large Language Model backends.
//
// Orato only needs single-shot completions: the feedback layer sends one
// segment with its prompt and waits for a JSON object back. Providers wrap a
// vendor SDK and translate its HTTP failures into *APIError so callers can
// map status codes without knowing which SDK produced them.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/orato/pkg/types"
)

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
type CompletionRequest struct {
	// SystemPrompt is injected before Messages as a "system" role message.
	SystemPrompt string

	// Messages is the ordered conversation. The last message is typically from
	// the "user" role and drives the response.
	Messages []types.Message

	// Temperature controls output randomness. Zero means provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider
	// default.
	MaxTokens int

	// JSONMode asks the backend to emit a single JSON object. Backends that
	// cannot enforce it ignore the flag; the prompt should still ask for JSON.
	JSONMode bool
}

// CompletionResponse is the full reply to a CompletionRequest.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() types.ModelCapabilities
}

// APIError is returned by providers when the backend answered with an HTTP
// error status. StatusCode is zero when the failure happened before a
// response was received.
type APIError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// StatusCode extracts the HTTP status carried by an *APIError anywhere in
// err's chain. It returns 0 when there is none.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
