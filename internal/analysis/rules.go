package analysis

import "regexp"

// Rule is one grammar heuristic. Every non-overlapping match of Pattern in
// the text becomes a GrammarMistake.
type Rule struct {
	Pattern     *regexp.Regexp
	Correction  string
	Explanation string
}

// NewRule compiles pattern case-insensitively. Matches count only when they
// form whole words. It panics on an invalid pattern, so use it for static
// tables only.
func NewRule(pattern, correction, explanation string) Rule {
	return Rule{
		Pattern:     regexp.MustCompile(`(?i)(?:` + pattern + `)`),
		Correction:  correction,
		Explanation: explanation,
	}
}

// DefaultRules returns the built-in rule table in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		NewRule(`should\s+of`, "should have", `"Of" is not a verb; use "have" after modal verbs.`),
		NewRule(`could\s+of`, "could have", `"Of" is not a verb; use "have" after modal verbs.`),
		NewRule(`would\s+of`, "would have", `"Of" is not a verb; use "have" after modal verbs.`),
		NewRule(`must\s+of`, "must have", `"Of" is not a verb; use "have" after modal verbs.`),
		NewRule(`very\s+very`, "very", "Repeating an intensifier weakens it; pick a stronger word instead."),
		NewRule(`i\s+is`, "I am", `The first person singular takes "am".`),
		NewRule(`(?:he|she|it)\s+don't`, "doesn't", `Third person singular takes "doesn't".`),
		NewRule(`(?:they|we|you)\s+was`, "were", `Plural subjects take "were".`),
		NewRule(`more\s+better`, "better", `"Better" is already comparative.`),
		NewRule(`less\s+people`, "fewer people", `Use "fewer" with countable nouns.`),
		NewRule(`the\s+the`, "the", "Repeated article."),
		NewRule(`ain't`, "isn't", `"Ain't" is informal; prefer "isn't" or "aren't".`),
		NewRule(`can't\s+hardly`, "can hardly", "Double negative."),
		NewRule(`irregardless`, "regardless", `"Irregardless" is nonstandard.`),
	}
}
