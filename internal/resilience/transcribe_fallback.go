package resilience

import (
	"context"

	"github.com/nightjarhq/nightjar/pkg/provider/transcribe"
)

// Compile-time assertion that TranscriberFallback implements
// transcribe.Provider.
var _ transcribe.Provider = (*TranscriberFallback)(nil)

// TranscriberFallback is a transcribe.Provider backed by a [FallbackGroup]
// of transcription backends. The ingestion pipeline sees a single provider;
// breaker trips and backend hopping stay inside.
type TranscriberFallback struct {
	group *FallbackGroup[transcribe.Provider]
}

// NewTranscriberFallback wraps primary as the first backend in the chain.
func NewTranscriberFallback(primary transcribe.Provider, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback appends a transcription backend tried after earlier entries.
func (t *TranscriberFallback) AddFallback(name string, p transcribe.Provider) {
	t.group.AddFallback(name, p)
}

// Transcribe implements transcribe.Provider.
func (t *TranscriberFallback) Transcribe(ctx context.Context, pcm []byte) (transcribe.Result, error) {
	return ExecuteWithResult(t.group, func(p transcribe.Provider) (transcribe.Result, error) {
		return p.Transcribe(ctx, pcm)
	})
}
