// Package feedback asks a remote service for coaching feedback on a
// transcript segment and parses the answer into a [Response].
//
// Every backend resolves a request exactly once: with a parsed Response,
// with [Defaults] when the payload is unusable, or with an error that wraps
// one of [ErrRateLimited], [ErrQuotaExhausted] or [ErrUnavailable]. Nothing
// is retried here; the caller decides what to do with a failure.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrRateLimited means the service answered 429.
	ErrRateLimited = errors.New("feedback: rate limited")

	// ErrQuotaExhausted means the service answered 402.
	ErrQuotaExhausted = errors.New("feedback: quota exhausted")

	// ErrUnavailable covers network errors, an open circuit and every other
	// non-2xx status.
	ErrUnavailable = errors.New("feedback: service unavailable")
)

// Mode selects the kind of feedback requested.
type Mode string

const (
	ModeAssistant Mode = "assistant"
	ModeInterview Mode = "interview"
	ModeLearning  Mode = "learning"
	ModeQA        Mode = "qa"
)

// Persisted reports whether completed segments in this mode are recorded.
func (m Mode) Persisted() bool { return m == ModeInterview || m == ModeLearning }

// ParseMode validates s. The empty string selects ModeAssistant.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAssistant, nil
	case ModeAssistant, ModeInterview, ModeLearning, ModeQA:
		return m, nil
	default:
		return "", fmt.Errorf("feedback: unknown mode %q", s)
	}
}

// Style is the tone the feedback should be written in.
type Style string

const (
	StyleNeutral    Style = "neutral"
	StyleFormal     Style = "formal"
	StyleCasual     Style = "casual"
	StyleSupportive Style = "supportive"
)

// ParseStyle validates s. The empty string selects StyleNeutral.
func ParseStyle(s string) (Style, error) {
	switch st := Style(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StyleNeutral, nil
	case StyleNeutral, StyleFormal, StyleCasual, StyleSupportive:
		return st, nil
	default:
		return "", fmt.Errorf("feedback: unknown style %q", s)
	}
}

// Request is the body sent to the feedback service.
type Request struct {
	Transcript    string   `json:"transcript"`
	RecentHistory []string `json:"recentHistory"`
	ResponseStyle Style    `json:"responseStyle"`
	Language      string   `json:"language"`
	Mode          Mode     `json:"mode,omitempty"`
	Question      string   `json:"question,omitempty"`
}

// Score is a 0-100 score. It decodes from JSON numbers (rounded) and numeric
// strings, clamping out-of-range values.
type Score int

// UnmarshalJSON implements json.Unmarshaler.
func (s *Score) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		var str string
		if json.Unmarshal(b, &str) != nil {
			return fmt.Errorf("feedback: score %s is not a number", b)
		}
		if f, err = strconv.ParseFloat(strings.TrimSpace(str), 64); err != nil {
			return fmt.Errorf("feedback: score %q is not a number", str)
		}
	}
	*s = Score(min(max(math.Round(f), 0), 100))
	return nil
}

// Response is the parsed feedback. Which fields are set depends on the mode.
type Response struct {
	Suggestions []string `json:"suggestions"`

	// Assistant mode.
	Topic               string `json:"topic,omitempty"`
	Intent              string `json:"intent,omitempty"`
	GroupMood           string `json:"group_mood,omitempty"`
	SpeakingOpportunity bool   `json:"speaking_opportunity,omitempty"`
	AssistiveCue        string `json:"assistive_cue,omitempty"`

	// Interview and learning modes.
	GrammarScore     Score    `json:"grammarScore,omitempty"`
	FluencyScore     Score    `json:"fluencyScore,omitempty"`
	ConfidenceScore  Score    `json:"confidenceScore,omitempty"`
	KeyPointsCovered []string `json:"keyPointsCovered,omitempty"`
	MissedPoints     []string `json:"missedPoints,omitempty"`
	ImprovedAnswer   string   `json:"improvedAnswer,omitempty"`
	Tips             []string `json:"tips,omitempty"`

	// Q&A mode.
	Definition      string   `json:"definition,omitempty"`
	Importance      string   `json:"importance,omitempty"`
	Examples        []string `json:"examples,omitempty"`
	InterviewAnswer string   `json:"interviewAnswer,omitempty"`
	RelatedTopics   []string `json:"relatedTopics,omitempty"`

	// Fallback is set when the values are Defaults rather than a parsed
	// answer.
	Fallback bool `json:"-"`
}

// Defaults returns the fixed response used when a payload cannot be parsed.
func Defaults(mode Mode) Response {
	switch mode {
	case ModeInterview, ModeLearning:
		return Response{
			Suggestions: []string{
				"Structure your answer: situation, action, result.",
				"Support your main point with a concrete example.",
			},
			GrammarScore:    70,
			FluencyScore:    70,
			ConfidenceScore: 70,
			Tips:            []string{"Pause briefly instead of using filler words."},
			Fallback:        true,
		}
	case ModeQA:
		return Response{
			Suggestions: []string{"Try asking the question again in different words."},
			Definition:  "No explanation is available right now.",
			Fallback:    true,
		}
	default:
		return Response{
			Suggestions: []string{
				"Wait for a natural pause before joining in.",
				"Ask a short follow-up question to stay involved.",
			},
			GroupMood:    "neutral",
			AssistiveCue: "Keep listening.",
			Fallback:     true,
		}
	}
}

// Parse decodes a 2xx payload. A malformed body, or one without any
// suggestion, yields Defaults(mode) instead of an error.
func Parse(mode Mode, body []byte) Response {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return Defaults(mode)
	}
	resp.Suggestions = nonEmpty(resp.Suggestions)
	if len(resp.Suggestions) == 0 {
		return Defaults(mode)
	}
	return resp
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// StatusError is a non-2xx answer from the feedback service. It unwraps to
// the matching sentinel error.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("feedback: status %d", e.StatusCode)
	}
	return fmt.Sprintf("feedback: status %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status code onto the error taxonomy.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case 429:
		return ErrRateLimited
	case 402:
		return ErrQuotaExhausted
	default:
		return ErrUnavailable
	}
}

// Client requests feedback for one segment.
type Client interface {
	Request(ctx context.Context, req Request) (Response, error)
}

// outcome is the metric status label for a finished request.
func outcome(resp Response, err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrQuotaExhausted):
		return "quota_exhausted"
	case err != nil:
		return "unavailable"
	case resp.Fallback:
		return "fallback"
	default:
		return "ok"
	}
}

// isOutage reports whether err should count against a circuit breaker.
// Rate limiting and quota errors are answers, not outages.
func isOutage(err error) bool {
	return err != nil && !errors.Is(err, ErrRateLimited) && !errors.Is(err, ErrQuotaExhausted)
}
