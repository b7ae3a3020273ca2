package feedback

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/orato/pkg/provider/llm"
	llmmock "github.com/MrWong99/orato/pkg/provider/llm/mock"
)

func TestLLMClient_Success(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "```json\n{\"suggestions\":[\"Mention the outcome.\"],\"fluencyScore\":77}\n```",
	}}
	c, err := NewLLMClient(p, WithProviderName("openai"))
	if err != nil {
		t.Fatalf("NewLLMClient: %v", err)
	}

	resp, err := c.Request(context.Background(), Request{
		Transcript:    "we shipped the feature on time",
		RecentHistory: []string{"I worked at Acme"},
		ResponseStyle: StyleSupportive,
		Language:      "de",
		Mode:          ModeInterview,
		Question:      "Describe a success.",
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.Fallback || resp.FluencyScore != 77 {
		t.Errorf("resp = %+v", resp)
	}

	call := p.CompleteCalls[0].Req
	if !call.JSONMode {
		t.Error("JSON mode should be requested")
	}
	for _, want := range []string{"interview coach", "supportive", `"de"`, "grammarScore"} {
		if !strings.Contains(call.SystemPrompt, want) {
			t.Errorf("system prompt missing %q:\n%s", want, call.SystemPrompt)
		}
	}
	user := call.Messages[0].Content
	if call.Messages[0].Role != "user" || !strings.Contains(user, "Describe a success.") || !strings.Contains(user, "I worked at Acme") {
		t.Errorf("user message = %q", user)
	}
}

func TestLLMClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"429", &llm.APIError{Provider: "openai", StatusCode: 429, Err: errors.New("rate")}, ErrRateLimited},
		{"402", &llm.APIError{Provider: "openai", StatusCode: 402, Err: errors.New("billing")}, ErrQuotaExhausted},
		{"503", &llm.APIError{Provider: "openai", StatusCode: 503, Err: errors.New("down")}, ErrUnavailable},
		{"network", &llm.APIError{Provider: "openai", Err: errors.New("dial tcp")}, ErrUnavailable},
		{"plain", errors.New("boom"), ErrUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := NewLLMClient(&llmmock.Provider{CompleteErr: tc.err})
			_, err := c.Request(context.Background(), Request{Mode: ModeAssistant})
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

// stalledProvider never answers. If honorCtx is set it returns once the
// context ends, otherwise it blocks until release is closed.
type stalledProvider struct {
	llmmock.Provider
	honorCtx bool
	release  chan struct{}
}

func (p *stalledProvider) Complete(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if p.honorCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	<-p.release
	return nil, errors.New("released")
}

func TestLLMClient_TimeoutBoundsStalledProvider(t *testing.T) {
	for _, honorCtx := range []bool{true, false} {
		name := "ignores context"
		if honorCtx {
			name = "honors context"
		}
		t.Run(name, func(t *testing.T) {
			p := &stalledProvider{honorCtx: honorCtx, release: make(chan struct{})}
			t.Cleanup(func() { close(p.release) })

			c, err := NewLLMClient(p, WithTimeout(20*time.Millisecond))
			if err != nil {
				t.Fatalf("NewLLMClient: %v", err)
			}

			done := make(chan error, 1)
			go func() {
				_, err := c.Request(context.Background(), Request{Transcript: "we shipped it on time", Mode: ModeInterview})
				done <- err
			}()
			select {
			case err := <-done:
				if !errors.Is(err, ErrUnavailable) {
					t.Errorf("err = %v, want ErrUnavailable", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("Request did not return after the timeout")
			}
		})
	}
}

func TestWithTimeout_NonPositiveKeepsDefault(t *testing.T) {
	c, _ := NewLLMClient(&llmmock.Provider{}, WithTimeout(0))
	if c.timeout != DefaultLLMTimeout {
		t.Errorf("timeout = %v, want %v", c.timeout, DefaultLLMTimeout)
	}
}

func TestLLMClient_UnusableContentFallsBack(t *testing.T) {
	for _, content := range []string{"", "I cannot help with that.", `{"topic":"x"}`} {
		c, _ := NewLLMClient(&llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}})
		resp, err := c.Request(context.Background(), Request{Mode: ModeAssistant})
		if err != nil {
			t.Fatalf("%q: %v", content, err)
		}
		if !resp.Fallback {
			t.Errorf("%q: want fallback", content)
		}
	}

	c, _ := NewLLMClient(&llmmock.Provider{})
	if resp, err := c.Request(context.Background(), Request{}); err != nil || !resp.Fallback {
		t.Errorf("nil completion: resp=%+v err=%v", resp, err)
	}
}

func TestSystemPrompt_Modes(t *testing.T) {
	tests := map[Mode]string{
		ModeAssistant: "speaking_opportunity",
		ModeInterview: "interview coach",
		ModeLearning:  "language tutor",
		ModeQA:        "interviewAnswer",
	}
	for mode, want := range tests {
		if got := systemPrompt(mode, "", ""); !strings.Contains(got, want) {
			t.Errorf("mode %s: prompt missing %q", mode, want)
		}
	}
	if got := systemPrompt(ModeQA, "", ""); !strings.Contains(got, "neutral tone") {
		t.Errorf("empty style should default to neutral: %s", got)
	}
}

func TestStripFences(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                 `{"a":1}`,
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
		"  \n{\"a\":1}\n  ":       `{"a":1}`,
	}
	for in, want := range tests {
		if got := stripFences(in); got != want {
			t.Errorf("stripFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewLLMClient_NilProvider(t *testing.T) {
	if _, err := NewLLMClient(nil); err == nil {
		t.Fatal("expected error")
	}
}
