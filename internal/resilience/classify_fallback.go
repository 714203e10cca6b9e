package resilience

import (
	"context"

	"github.com/nightjarhq/nightjar/pkg/provider/classify"
)

// Compile-time assertion that ClassifierFallback implements
// classify.Classifier.
var _ classify.Classifier = (*ClassifierFallback)(nil)

// ClassifierFallback is a classify.Classifier backed by a [FallbackGroup]
// of analysis backends. Both Classify and Query walk the same chain, so a
// backend tripped by classification failures is also skipped for queries.
type ClassifierFallback struct {
	group *FallbackGroup[classify.Classifier]
}

// NewClassifierFallback wraps primary as the first backend in the chain.
func NewClassifierFallback(primary classify.Classifier, primaryName string, cfg FallbackConfig) *ClassifierFallback {
	return &ClassifierFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback appends an analysis backend tried after earlier entries.
func (c *ClassifierFallback) AddFallback(name string, cl classify.Classifier) {
	c.group.AddFallback(name, cl)
}

// Classify implements classify.Classifier.
func (c *ClassifierFallback) Classify(ctx context.Context, text, conversationKey string) (*classify.Analysis, error) {
	return ExecuteWithResult(c.group, func(cl classify.Classifier) (*classify.Analysis, error) {
		return cl.Classify(ctx, text, conversationKey)
	})
}

// Query implements classify.Classifier.
func (c *ClassifierFallback) Query(ctx context.Context, query, conversationKey string) (string, error) {
	return ExecuteWithResult(c.group, func(cl classify.Classifier) (string, error) {
		return cl.Query(ctx, query, conversationKey)
	})
}
