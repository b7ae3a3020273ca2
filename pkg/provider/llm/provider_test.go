package llm

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusCode(t *testing.T) {
	base := errors.New("too many requests")
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain error", base, 0},
		{"api error", &APIError{Provider: "openai", StatusCode: 429, Err: base}, 429},
		{"wrapped api error", fmt.Errorf("feedback: complete: %w", &APIError{Provider: "anyllm", StatusCode: 402, Err: base}), 402},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := StatusCode(tc.err); got != tc.want {
				t.Errorf("StatusCode = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	base := errors.New("boom")
	err := &APIError{Provider: "openai", StatusCode: 500, Err: base}
	if !errors.Is(err, base) {
		t.Error("errors.Is should find the wrapped error")
	}
	if got, want := err.Error(), "openai: status 500: boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	noStatus := &APIError{Provider: "openai", Err: base}
	if got, want := noStatus.Error(), "openai: boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
