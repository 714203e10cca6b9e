// Package mock provides a scriptable classify.Classifier for tests.
package mock

import (
	"context"
	"sync"

	"github.com/nightjarhq/nightjar/pkg/provider/classify"
)

// Compile-time assertion that Classifier implements classify.Classifier.
var _ classify.Classifier = (*Classifier)(nil)

// Call records one Classify invocation.
type Call struct {
	Text            string
	ConversationKey string
}

// Classifier returns scripted results and records every call.
type Classifier struct {
	mu sync.Mutex

	// ClassifyFunc, when set, handles each call. Otherwise Analysis/Err are
	// returned verbatim.
	ClassifyFunc func(ctx context.Context, text, key string) (*classify.Analysis, error)

	Analysis *classify.Analysis
	Err      error

	QueryReply string
	QueryErr   error

	calls []Call
}

// Classify implements classify.Classifier.
func (c *Classifier) Classify(ctx context.Context, text, key string) (*classify.Analysis, error) {
	c.mu.Lock()
	c.calls = append(c.calls, Call{Text: text, ConversationKey: key})
	fn := c.ClassifyFunc
	analysis, err := c.Analysis, c.Err
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, key)
	}
	if analysis == nil && err == nil {
		return &classify.Analysis{}, nil
	}
	return analysis, err
}

// Query implements classify.Classifier.
func (c *Classifier) Query(context.Context, string, string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.QueryReply, c.QueryErr
}

// Calls returns a copy of the recorded Classify calls in order.
func (c *Classifier) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}
