// Package classify defines the Classifier interface for alert analysis
// backends.
//
// A Classifier inspects a transcribed utterance and decides whether it
// contains phrases or conditions worth alerting on. Two families exist:
// LLM-backed classifiers (openai, anyllm) that reason over the text with
// short-term conversation context, and the deterministic keyword matcher that
// the analysis workflow always carries as a fallback. The workflow selects
// both variants at construction time; a primary failure or malformed result
// degrades to the fallback for that utterance, never to a dropped chunk.
//
// conversationKey is an opaque per-device (or per-observer) token letting the
// backend keep short-term context across calls. Keys are created lazily on
// first use and kept for process lifetime.
//
// Implementations must be safe for concurrent use.
package classify

import (
	"context"
	"errors"
)

// ErrQueryNotSupported is returned by Query on classifiers that have no
// free-form question capability (notably the keyword fallback).
var ErrQueryNotSupported = errors.New("classify: free-form queries are not supported")

// Severity grades an alert.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// PhraseAlert is one flagged phrase or condition in an utterance.
type PhraseAlert struct {
	// Phrase is the flagged phrase as matched or paraphrased by the backend.
	Phrase string `json:"phrase"`

	// Severity is the alert grade.
	Severity Severity `json:"severity"`
}

// Analysis is the result of classifying one utterance.
type Analysis struct {
	// Alerts holds zero or more flagged phrases. Empty means the utterance is
	// benign.
	Alerts []PhraseAlert `json:"alerts"`

	// Summary is a short backend-produced description of the utterance.
	Summary string `json:"summary"`

	// ActionRequired reports whether the backend believes a human should
	// follow up.
	ActionRequired bool `json:"actionRequired"`
}

// Classifier analyses transcribed utterances for alert conditions.
type Classifier interface {
	// Classify analyses text and returns the alerts found. An error or a
	// malformed backend result makes the caller fall back to the
	// deterministic matcher for this utterance.
	Classify(ctx context.Context, text, conversationKey string) (*Analysis, error)

	// Query answers a free-form question, keeping context under
	// conversationKey. Classifiers without this capability return
	// ErrQueryNotSupported.
	Query(ctx context.Context, query, conversationKey string) (string, error)
}
