// Package transcribe defines the Provider interface for speech-to-text
// backends used by the hub's ingestion pipeline.
//
// The contract is deliberately narrow: raw audio bytes in, zero or one text
// result out. An empty Text with a nil error means the audio contained no
// recognisable speech, which is common for silence and background noise and
// never treated as an error by callers.
//
// Implementations must be safe for concurrent use; the pipeline may have
// several chunks in flight at once.
package transcribe

import "context"

// Audio format every producer streams: 16 kHz mono 16-bit signed
// little-endian PCM. Providers may assume this layout.
const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
)

// Result is a single transcription outcome.
type Result struct {
	// Text is the transcribed utterance. Empty means no speech detected.
	Text string

	// Confidence is the backend's confidence in Text, in [0.0, 1.0]. Backends
	// that do not report confidence use 1.0 for non-empty results.
	Confidence float64
}

// Provider converts one chunk of raw PCM audio into text.
type Provider interface {
	// Transcribe submits pcm for recognition and returns the result. A
	// Result with empty Text and nil error means silence or noise.
	Transcribe(ctx context.Context, pcm []byte) (Result, error)
}
