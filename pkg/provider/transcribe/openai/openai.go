// Package openai provides a transcribe.Provider backed by the OpenAI audio
// transcription API.
package openai

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/nightjarhq/nightjar/pkg/provider/transcribe"
)

// Compile-time assertion that Provider implements transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*config)

type config struct {
	baseURL string
	model   string
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel selects the transcription model. Defaults to whisper-1.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// Provider submits WAV-wrapped PCM chunks to the OpenAI transcription API.
type Provider struct {
	client oai.Client
	model  string
}

// New constructs a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	cfg := &config{model: string(oai.AudioModelWhisper1)}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Transcribe implements transcribe.Provider.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte) (transcribe.Result, error) {
	if len(pcm) == 0 {
		return transcribe.Result{}, nil
	}

	wav := encodeWAV(pcm, transcribe.SampleRate, transcribe.Channels)

	resp, err := p.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	})
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("openai: transcription request: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return transcribe.Result{}, nil
	}
	return transcribe.Result{Text: text, Confidence: 1.0}, nil
}

// encodeWAV wraps raw 16-bit signed little-endian PCM in a RIFF/WAV container.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := transcribe.BitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	w := bytes.NewBuffer(make([]byte, 0, 44+dataSize))
	w.WriteString("RIFF")
	binary.Write(w, binary.LittleEndian, uint32(36+dataSize))
	w.WriteString("WAVE")
	w.WriteString("fmt ")
	binary.Write(w, binary.LittleEndian, uint32(16))
	binary.Write(w, binary.LittleEndian, uint16(1))
	binary.Write(w, binary.LittleEndian, uint16(channels))
	binary.Write(w, binary.LittleEndian, uint32(sampleRate))
	binary.Write(w, binary.LittleEndian, uint32(byteRate))
	binary.Write(w, binary.LittleEndian, uint16(blockAlign))
	binary.Write(w, binary.LittleEndian, uint16(bps))
	w.WriteString("data")
	binary.Write(w, binary.LittleEndian, uint32(dataSize))
	w.Write(pcm)
	return w.Bytes()
}
