package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/orato/internal/observe"
	"github.com/MrWong99/orato/internal/resilience"
	"github.com/MrWong99/orato/pkg/provider/llm"
	"github.com/MrWong99/orato/pkg/types"
)

// DefaultLLMTimeout bounds one completion when WithTimeout is not given.
const DefaultLLMTimeout = 15 * time.Second

// LLMClient produces feedback by prompting an llm.Provider directly for a
// JSON object in the same shape the hosted endpoint returns.
type LLMClient struct {
	provider    llm.Provider
	name        string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	breaker     *resilience.Breaker
	metrics     *observe.Metrics
}

// LLMOption configures an LLMClient.
type LLMOption func(*LLMClient)

// WithProviderName labels metrics and logs.
func WithProviderName(name string) LLMOption {
	return func(c *LLMClient) { c.name = name }
}

// WithTemperature sets the sampling temperature. Default 0.4.
func WithTemperature(t float64) LLMOption {
	return func(c *LLMClient) { c.temperature = t }
}

// WithMaxTokens caps the completion length. Default 800.
func WithMaxTokens(n int) LLMOption {
	return func(c *LLMClient) { c.maxTokens = n }
}

// WithTimeout bounds one completion. A provider that has not answered by
// then is abandoned and the request fails with ErrUnavailable. Non-positive
// values keep DefaultLLMTimeout.
func WithTimeout(d time.Duration) LLMOption {
	return func(c *LLMClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLLMBreaker replaces the default circuit breaker.
func WithLLMBreaker(b *resilience.Breaker) LLMOption {
	return func(c *LLMClient) { c.breaker = b }
}

// WithLLMMetrics records metrics on m instead of the default.
func WithLLMMetrics(m *observe.Metrics) LLMOption {
	return func(c *LLMClient) { c.metrics = m }
}

// NewLLMClient wraps p.
func NewLLMClient(p llm.Provider, opts ...LLMOption) (*LLMClient, error) {
	if p == nil {
		return nil, errors.New("feedback: llm provider must not be nil")
	}
	c := &LLMClient{provider: p, name: "llm", temperature: 0.4, maxTokens: 800, timeout: DefaultLLMTimeout}
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		c.breaker = NewBreaker("feedback-" + c.name)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// Request implements Client.
func (c *LLMClient) Request(ctx context.Context, req Request) (resp Response, err error) {
	ctx, span := observe.StartSpan(ctx, "feedback.llm")
	start := time.Now()
	defer func() {
		c.metrics.RecordFeedback(ctx, c.name, outcome(resp, err), time.Since(start))
		observe.EndSpan(span, err)
	}()

	user, err := userPrompt(req)
	if err != nil {
		return Response{}, err
	}
	creq := llm.CompletionRequest{
		SystemPrompt: systemPrompt(req.Mode, req.ResponseStyle, req.Language),
		Messages:     []types.Message{{Role: "user", Content: user}},
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
		JSONMode:     true,
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var completion *llm.CompletionResponse
	err = c.breaker.Do(func() error {
		var callErr error
		completion, callErr = c.complete(callCtx, creq)
		if callErr != nil {
			c.metrics.RecordProviderRequest(ctx, c.name, "llm", "error")
			c.metrics.RecordProviderError(ctx, c.name, "llm")
			return mapProviderError(callErr)
		}
		c.metrics.RecordProviderRequest(ctx, c.name, "llm", "ok")
		return nil
	})
	if errors.Is(err, resilience.ErrOpen) {
		return Response{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err != nil {
		return Response{}, err
	}
	if completion == nil {
		return Defaults(req.Mode), nil
	}
	return Parse(req.Mode, []byte(stripFences(completion.Content))), nil
}

// complete calls the provider but returns as soon as ctx ends, even when the
// provider ignores cancellation.
func (c *LLMClient) complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	type result struct {
		resp *llm.CompletionResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.provider.Complete(ctx, req)
		done <- result{resp, err}
	}()
	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("feedback: llm completion: %w", ctx.Err())
	}
}

// mapProviderError folds provider status codes into the feedback taxonomy.
func mapProviderError(err error) error {
	switch code := llm.StatusCode(err); code {
	case 0:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return &StatusError{StatusCode: code, Message: err.Error()}
	}
}

// stripFences removes a Markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func userPrompt(req Request) (string, error) {
	payload := struct {
		Transcript    string   `json:"transcript"`
		RecentHistory []string `json:"recentHistory"`
		Question      string   `json:"question,omitempty"`
	}{req.Transcript, req.RecentHistory, req.Question}
	if payload.RecentHistory == nil {
		payload.RecentHistory = []string{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("feedback: marshal prompt: %w", err)
	}
	return string(b), nil
}

const schemaAssistant = `{"suggestions": [string], "topic": string, "intent": string, "group_mood": string, "speaking_opportunity": boolean, "assistive_cue": string}`

const schemaInterview = `{"suggestions": [string], "grammarScore": 0-100, "fluencyScore": 0-100, "confidenceScore": 0-100, "keyPointsCovered": [string], "missedPoints": [string], "improvedAnswer": string, "tips": [string]}`

const schemaQA = `{"suggestions": [string], "definition": string, "importance": string, "examples": [string], "interviewAnswer": string, "relatedTopics": [string]}`

func systemPrompt(mode Mode, style Style, language string) string {
	var b strings.Builder
	switch mode {
	case ModeInterview:
		b.WriteString("You are an interview coach. The user message holds the candidate's spoken answer as JSON, with the question and their previous answers. ")
		b.WriteString("Judge the answer's content and delivery and suggest concrete improvements. Reply with one JSON object of this shape: ")
		b.WriteString(schemaInterview)
	case ModeLearning:
		b.WriteString("You are a patient language tutor. The user message holds a learner's spoken text as JSON. ")
		b.WriteString("Point out grammar and vocabulary issues gently and show a better phrasing. Reply with one JSON object of this shape: ")
		b.WriteString(schemaInterview)
	case ModeQA:
		b.WriteString("You are a study assistant. The user message holds a spoken question or topic as JSON. ")
		b.WriteString("Explain it briefly and show how to talk about it in an interview. Reply with one JSON object of this shape: ")
		b.WriteString(schemaQA)
	default:
		b.WriteString("You are a discreet conversation assistant. The user message holds the latest thing said in a live conversation as JSON, with what was said just before. ")
		b.WriteString("Identify the topic and mood and suggest short things the user could say next. Reply with one JSON object of this shape: ")
		b.WriteString(schemaAssistant)
	}
	fmt.Fprintf(&b, "\nWrite in a %s tone.", styleOrDefault(style))
	if language != "" {
		fmt.Fprintf(&b, " Write the text values in the language with code %q.", language)
	}
	b.WriteString(" Always include at least one suggestion. Output JSON only.")
	return b.String()
}

func styleOrDefault(s Style) Style {
	if s == "" {
		return StyleNeutral
	}
	return s
}

var _ Client = (*LLMClient)(nil)
