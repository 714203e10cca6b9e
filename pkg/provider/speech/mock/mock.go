// Package mock provides a recording speech.Renderer for tests.
package mock

import (
	"context"
	"sync"

	"github.com/nightjarhq/nightjar/pkg/provider/speech"
)

var _ speech.Renderer = (*Renderer)(nil)

// Renderer records every utterance passed to Say.
type Renderer struct {
	// Err, if set, is returned from every Say call.
	Err error

	mu   sync.Mutex
	said []string
}

// Say implements speech.Renderer.
func (r *Renderer) Say(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.said = append(r.said, text)
	return r.Err
}

// Said returns a copy of all recorded utterances.
func (r *Renderer) Said() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.said))
	copy(out, r.said)
	return out
}
