package fuser

import (
	"strings"

	"github.com/promptsentinel/promptsentinel/internal/metrics"
)

// DefaultBannedPhrases are substrings blocked unconditionally before any
// statistical or semantic analysis. They cover the classic injection and
// destruction primitives that no legitimate prompt needs verbatim.
var DefaultBannedPhrases = []string{
	"ignore previous instructions",
	"disregard the above",
	"system override",
	"drop table",
	"sudo rm -rf /",
}

// RuleFilter performs case-insensitive substring matching of a prompt
// against a fixed banned-phrase list. It is the cheapest layer and runs
// first; a match skips embedding, scoring and the judge entirely.
type RuleFilter struct {
	phrases []string
}

// NewRuleFilter builds a filter over the given phrase list. An empty list
// disables the prefilter. Phrases are matched case-insensitively.
func NewRuleFilter(phrases []string) *RuleFilter {
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			lowered = append(lowered, p)
		}
	}
	return &RuleFilter{phrases: lowered}
}

// Match returns the first banned phrase contained in the prompt, or false
// when the prompt passes.
func (f *RuleFilter) Match(promptText string) (string, bool) {
	lowered := strings.ToLower(promptText)
	for _, p := range f.phrases {
		if strings.Contains(lowered, p) {
			metrics.RuleBlocksTotal.WithLabelValues(p).Inc()
			return p, true
		}
	}
	return "", false
}
