// Package keyword provides the deterministic fallback classify.Classifier: a
// whole-word, case-insensitive matcher over a configured list of alert
// phrases. It needs no network, no key, and cannot fail, which is exactly why
// the analysis workflow keeps it behind every LLM-backed primary.
package keyword

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/nightjarhq/nightjar/pkg/provider/classify"
)

// Compile-time assertion that Matcher implements classify.Classifier.
var _ classify.Classifier = (*Matcher)(nil)

// DefaultPhrases is the phrase list used when the operator configures none.
var DefaultPhrases = []string{
	"help",
	"emergency",
	"fire",
	"intruder",
	"call the police",
}

// highSeverityPhrases are tagged high regardless of position in the phrase
// list; every other match is medium.
var highSeverityPhrases = map[string]bool{
	"emergency": true,
	"fire":      true,
}

// Matcher flags utterances containing any configured phrase as a whole word.
// Matching is case-insensitive; "helpful" does not match the phrase "help".
type Matcher struct {
	patterns []pattern
}

type pattern struct {
	phrase   string
	re       *regexp.Regexp
	severity classify.Severity
}

// New compiles a Matcher for the given phrase list. Blank entries are
// skipped; phrases are matched verbatim (multi-word phrases allowed).
func New(phrases []string) (*Matcher, error) {
	m := &Matcher{}
	for _, raw := range phrases {
		phrase := strings.ToLower(strings.TrimSpace(raw))
		if phrase == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(phrase) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("keyword: compile phrase %q: %w", phrase, err)
		}
		severity := classify.SeverityMedium
		if highSeverityPhrases[phrase] {
			severity = classify.SeverityHigh
		}
		m.patterns = append(m.patterns, pattern{phrase: phrase, re: re, severity: severity})
	}
	return m, nil
}

// Classify implements classify.Classifier. It never returns an error.
func (m *Matcher) Classify(_ context.Context, text, _ string) (*classify.Analysis, error) {
	analysis := &classify.Analysis{}
	for _, p := range m.patterns {
		if p.re.MatchString(text) {
			analysis.Alerts = append(analysis.Alerts, classify.PhraseAlert{
				Phrase:   p.phrase,
				Severity: p.severity,
			})
			if p.severity == classify.SeverityHigh {
				analysis.ActionRequired = true
			}
		}
	}
	if len(analysis.Alerts) > 0 {
		analysis.Summary = fmt.Sprintf("matched %d alert phrase(s)", len(analysis.Alerts))
	}
	return analysis, nil
}

// Query implements classify.Classifier. The keyword matcher cannot answer
// free-form questions.
func (m *Matcher) Query(context.Context, string, string) (string, error) {
	return "", classify.ErrQueryNotSupported
}
