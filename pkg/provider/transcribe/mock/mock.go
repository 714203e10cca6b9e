// Package mock provides a scriptable transcribe.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/nightjarhq/nightjar/pkg/provider/transcribe"
)

// Compile-time assertion that Provider implements transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Provider returns scripted results and records every call.
type Provider struct {
	mu sync.Mutex

	// TranscribeFunc, when set, handles each call. Otherwise Result/Err are
	// returned verbatim.
	TranscribeFunc func(ctx context.Context, pcm []byte) (transcribe.Result, error)

	Result transcribe.Result
	Err    error

	calls [][]byte
}

// Transcribe implements transcribe.Provider.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte) (transcribe.Result, error) {
	p.mu.Lock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	p.calls = append(p.calls, buf)
	fn := p.TranscribeFunc
	res, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, pcm)
	}
	return res, err
}

// Calls returns a copy of the recorded payloads in call order.
func (p *Provider) Calls() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.calls))
	copy(out, p.calls)
	return out
}
