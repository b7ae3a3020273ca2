// Package analysis scores a spoken transcript with cheap text heuristics.
//
// The Analyzer is pure: the same text and elapsed duration always produce
// the same Result. It counts filler words from a lexicon, matches a table of
// common grammar slips, estimates speaking pace and derives four 0-100
// scores. Pronunciation is a fixed placeholder because no audio reaches the
// analyzer.
package analysis

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// PronunciationPlaceholder is reported as the pronunciation score. It is an
// approximation, not a measurement.
const PronunciationPlaceholder = 85

// fillerOveruseRatio is the share of filler words at which a suggestion is
// emitted.
const fillerOveruseRatio = 0.05

// DefaultFillers is the built-in filler lexicon.
var DefaultFillers = []string{
	"um", "uh", "er", "ah", "like", "basically", "actually", "literally",
	"you know", "i mean", "sort of", "kind of",
}

// FillerCount is the number of times one lexicon entry occurred.
type FillerCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// GrammarMistake is one rule match.
type GrammarMistake struct {
	Original    string `json:"original"`
	Correction  string `json:"correction"`
	Explanation string `json:"explanation"`
}

// Result is a snapshot of the heuristic scores for one text.
type Result struct {
	GrammarScore       int              `json:"grammarScore"`
	FluencyScore       int              `json:"fluencyScore"`
	ConfidenceScore    int              `json:"confidenceScore"`
	PronunciationScore int              `json:"pronunciationScore"`
	SpeakingSpeed      int              `json:"speakingSpeed"`
	WordCount          int              `json:"wordCount"`
	FillerWords        []FillerCount    `json:"fillerWords"`
	GrammarMistakes    []GrammarMistake `json:"grammarMistakes"`
	Suggestions        []string         `json:"suggestions"`
}

// FillerTotal returns the summed count across all filler entries.
func (r Result) FillerTotal() int {
	n := 0
	for _, f := range r.FillerWords {
		n += f.Count
	}
	return n
}

type filler struct {
	word string
	re   *regexp.Regexp
}

// Analyzer holds the compiled lexicon and rule table. It is immutable after
// construction and safe for concurrent use.
type Analyzer struct {
	fillers []filler
	rules   []Rule
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithFillers replaces the filler lexicon. Entries are matched
// case-insensitively as whole words; multi-word entries match across any run
// of whitespace.
func WithFillers(words ...string) Option {
	return func(a *Analyzer) {
		a.fillers = compileFillers(words)
	}
}

// WithRules replaces the grammar rule table.
func WithRules(rules ...Rule) Option {
	return func(a *Analyzer) {
		a.rules = rules
	}
}

// New returns an Analyzer with the default lexicon and rules, modified by
// opts.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		fillers: compileFillers(DefaultFillers),
		rules:   DefaultRules(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

var defaultAnalyzer = New()

// Default returns the shared Analyzer built from the default tables.
func Default() *Analyzer { return defaultAnalyzer }

func compileFillers(words []string) []filler {
	out := make([]filler, 0, len(words))
	for _, w := range words {
		parts := strings.Fields(w)
		if len(parts) == 0 {
			continue
		}
		for i, p := range parts {
			parts[i] = regexp.QuoteMeta(p)
		}
		pattern := `(?i)` + strings.Join(parts, `\s+`)
		out = append(out, filler{word: strings.ToLower(strings.Join(strings.Fields(w), " ")), re: regexp.MustCompile(pattern)})
	}
	return out
}

// Analyze scores text spoken over elapsed. A non-positive elapsed yields a
// speaking speed of zero.
func (a *Analyzer) Analyze(text string, elapsed time.Duration) Result {
	words := len(strings.Fields(text))

	fillers := a.countFillers(text)
	mistakes := a.findMistakes(text)

	r := Result{
		WordCount:          words,
		FillerWords:        fillers,
		GrammarMistakes:    mistakes,
		SpeakingSpeed:      speakingSpeed(words, elapsed),
		PronunciationScore: PronunciationPlaceholder,
	}
	fillerTotal := r.FillerTotal()

	r.GrammarScore = grammarScore(len(mistakes))
	r.FluencyScore = fluencyScore(fillerTotal, words)
	r.ConfidenceScore = confidenceScore(text, words)
	r.Suggestions = suggestions(fillers, fillerTotal, mistakes, words, r.SpeakingSpeed)
	return r
}

func (a *Analyzer) countFillers(text string) []FillerCount {
	out := []FillerCount{}
	for _, f := range a.fillers {
		if n := len(wholeWordMatches(f.re, text)); n > 0 {
			out = append(out, FillerCount{Word: f.word, Count: n})
		}
	}
	return out
}

func (a *Analyzer) findMistakes(text string) []GrammarMistake {
	out := []GrammarMistake{}
	for _, rule := range a.rules {
		if rule.Pattern == nil {
			continue
		}
		for _, loc := range wholeWordMatches(rule.Pattern, text) {
			out = append(out, GrammarMistake{
				Original:    text[loc[0]:loc[1]],
				Correction:  rule.Correction,
				Explanation: rule.Explanation,
			})
		}
	}
	return out
}

// wholeWordMatches returns the non-overlapping matches of re in text that
// are not glued to a letter, digit, mark or underscore on either side.
// Unlike \b this treats every Unicode letter as part of a word, so "ah"
// does not match inside "ahí".
func wholeWordMatches(re *regexp.Regexp, text string) [][2]int {
	var out [][2]int
	for pos := 0; pos < len(text); {
		loc := re.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if end > start && isWordEdge(text, start, end) {
			out = append(out, [2]int{start, end})
			pos = end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		pos = start + max(size, 1)
	}
	return out
}

func isWordEdge(text string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(text[:start]); isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		if r, _ := utf8.DecodeRuneInString(text[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

func speakingSpeed(words int, elapsed time.Duration) int {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return int(math.Round(float64(words) / secs * 60))
}

func grammarScore(mistakes int) int {
	return max(100-min(10*mistakes, 50), 50)
}

func fluencyScore(fillers, words int) int {
	if words == 0 {
		return 100
	}
	score := 100 - 200*float64(fillers)/float64(words)
	return int(math.Round(math.Max(score, 50)))
}

var sentenceSplit = regexp.MustCompile(`[.!?]+`)

func confidenceScore(text string, words int) int {
	sentences := 0
	for _, s := range sentenceSplit.Split(text, -1) {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}
	score := 65
	if sentences > 0 {
		avg := float64(words) / float64(sentences)
		if avg >= 8 && avg <= 25 {
			score = 80
		}
	}
	if words > 50 {
		score += 15
	}
	return min(score, 95)
}

func suggestions(fillers []FillerCount, fillerTotal int, mistakes []GrammarMistake, words, speed int) []string {
	out := []string{}

	if words > 0 && float64(fillerTotal)/float64(words) >= fillerOveruseRatio {
		top := topFillers(fillers, 2)
		out = append(out, fmt.Sprintf("Try to reduce filler words such as %s.", strings.Join(quoteAll(top), " and ")))
	}
	if len(mistakes) > 0 {
		m := mistakes[0]
		out = append(out, fmt.Sprintf("Say %q instead of %q.", m.Correction, m.Original))
	}
	if words > 0 && (speed < 100 || speed > 160) {
		if speed < 100 {
			out = append(out, "Try speaking a little faster; aim for 100 to 160 words per minute.")
		} else {
			out = append(out, "Slow down a little; aim for 100 to 160 words per minute.")
		}
	}
	if words < 30 {
		out = append(out, "Elaborate more: add an example or a reason to support your point.")
	}
	return out
}

// topFillers returns the n most frequent filler words. Ties keep lexicon
// order.
func topFillers(fillers []FillerCount, n int) []string {
	sorted := make([]FillerCount, len(fillers))
	copy(sorted, fillers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Count > sorted[j].Count })
	out := make([]string, 0, n)
	for i := 0; i < len(sorted) && i < n; i++ {
		out = append(out, sorted[i].Word)
	}
	return out
}

func quoteAll(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = fmt.Sprintf("%q", w)
	}
	return out
}
