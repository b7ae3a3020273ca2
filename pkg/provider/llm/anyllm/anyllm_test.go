package anyllm

import (
	"errors"
	"fmt"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/orato/pkg/provider/llm"
	"github.com/MrWong99/orato/pkg/types"
)

func TestBuildParams(t *testing.T) {
	p := &Provider{name: "ollama", model: "llama3.2"}

	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Reply with JSON.",
		Messages:     []types.Message{{Role: "user", Content: "I should of went."}},
		Temperature:  0.2,
		MaxTokens:    300,
	})

	if params.Model != "llama3.2" {
		t.Errorf("Model = %q, want llama3.2", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first message role = %q, want system", params.Messages[0].Role)
	}
	if got := params.Messages[1].ContentString(); got != "I should of went." {
		t.Errorf("user content = %q", got)
	}
	if params.Temperature == nil || *params.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want 0.2", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 300 {
		t.Errorf("MaxTokens = %v, want 300", params.MaxTokens)
	}
}

func TestBuildParams_ZeroValuesOmitted(t *testing.T) {
	p := &Provider{name: "groq", model: "llama-3.1-8b-instant"}
	params := p.buildParams(llm.CompletionRequest{Messages: []types.Message{{Role: "user", Content: "hi"}}})
	if params.Temperature != nil {
		t.Error("Temperature should be nil when zero")
	}
	if params.MaxTokens != nil {
		t.Error("MaxTokens should be nil when zero")
	}
	if len(params.Messages) != 1 {
		t.Errorf("expected 1 message without a system prompt, got %d", len(params.Messages))
	}
}

type fakeStatusErr struct{ code int }

func (e fakeStatusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e fakeStatusErr) StatusCode() int { return e.code }

func TestWrapError(t *testing.T) {
	p := &Provider{name: "anthropic", model: "claude-3-5-haiku-latest"}

	err := p.wrapError(fmt.Errorf("messages: %w", fakeStatusErr{code: 429}))
	if got := llm.StatusCode(err); got != 429 {
		t.Errorf("StatusCode = %d, want 429", got)
	}

	plain := errors.New("connection reset")
	err = p.wrapError(plain)
	if got := llm.StatusCode(err); got != 0 {
		t.Errorf("StatusCode = %d, want 0", got)
	}
	if !errors.Is(err, plain) {
		t.Error("wrapped error should unwrap to the original")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "model"); err == nil {
		t.Error("expected error for empty provider name")
	}
	if _, err := New("ollama", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("not-a-provider", "model"); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model  string
		window int
	}{
		{"claude-3-5-sonnet-latest", 200_000},
		{"gemini-1.5-pro", 2_097_152},
		{"gemini-2.0-flash", 1_048_576},
		{"gpt-3.5-turbo", 16_385},
		{"llama3.2", 128_000},
	}
	for _, tc := range tests {
		t.Run(tc.model, func(t *testing.T) {
			if got := modelCapabilities(tc.model).ContextWindow; got != tc.window {
				t.Errorf("ContextWindow = %d, want %d", got, tc.window)
			}
		})
	}
}
