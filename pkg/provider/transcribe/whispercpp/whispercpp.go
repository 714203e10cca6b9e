// Package whispercpp provides a transcribe.Provider backed by the whisper.cpp
// CGO bindings, running inference in-process with no HTTP round-trip. The
// whisper.cpp static library (libwhisper.a) and headers must be available at
// link time via LIBRARY_PATH and C_INCLUDE_PATH.
//
// The model is loaded once at startup and shared across calls; each Transcribe
// uses a fresh whisper context because contexts are not thread-safe.
package whispercpp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/nightjarhq/nightjar/pkg/provider/transcribe"
)

// Compile-time assertion that Provider implements transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language code for transcription. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// Provider runs whisper.cpp inference in-process.
type Provider struct {
	model    whisperlib.Model
	language string

	closeOnce sync.Once
}

// New loads the whisper.cpp model from modelPath. The caller must Close the
// provider when it is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whispercpp: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: load model %q: %w", modelPath, err)
	}
	p := &Provider{model: model, language: "en"}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the loaded model. Safe to call more than once.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		p.model.Close()
	})
	return nil
}

// Transcribe implements transcribe.Provider.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte) (transcribe.Result, error) {
	if len(pcm) == 0 {
		return transcribe.Result{}, nil
	}
	if err := ctx.Err(); err != nil {
		return transcribe.Result{}, err
	}

	samples := pcmToFloat32(pcm)

	wctx, err := p.model.NewContext()
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("whispercpp: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		return transcribe.Result{}, fmt.Errorf("whispercpp: set language %q: %w", p.language, err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return transcribe.Result{}, fmt.Errorf("whispercpp: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return transcribe.Result{}, fmt.Errorf("whispercpp: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	text := strings.Join(parts, " ")
	if text == "" {
		return transcribe.Result{}, nil
	}
	return transcribe.Result{Text: text, Confidence: 1.0}, nil
}

// pcmToFloat32 converts 16-bit signed little-endian PCM to float32 samples
// normalised to [-1.0, 1.0]. Any trailing odd byte is ignored.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}
