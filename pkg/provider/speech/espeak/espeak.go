// Package espeak renders speech by invoking the espeak-ng binary. Keeping the
// synthesiser behind a process boundary avoids linking against its C library
// and lets a crashed synth call fail a single Say instead of the process.
package espeak

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/nightjarhq/nightjar/pkg/provider/speech"
)

var _ speech.Renderer = (*Renderer)(nil)

// Renderer shells out to espeak-ng for each utterance.
type Renderer struct {
	binary string
	voice  string
	speed  int
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithBinary overrides the espeak-ng executable path.
func WithBinary(path string) Option {
	return func(r *Renderer) {
		r.binary = path
	}
}

// WithVoice selects the espeak-ng voice, e.g. "en-us".
func WithVoice(voice string) Option {
	return func(r *Renderer) {
		r.voice = voice
	}
}

// WithSpeed sets words per minute.
func WithSpeed(wpm int) Option {
	return func(r *Renderer) {
		r.speed = wpm
	}
}

// New returns a Renderer, verifying the binary is on PATH.
func New(opts ...Option) (*Renderer, error) {
	r := &Renderer{
		binary: "espeak-ng",
		voice:  "en-us",
		speed:  160,
	}
	for _, opt := range opts {
		opt(r)
	}
	if _, err := exec.LookPath(r.binary); err != nil {
		return nil, fmt.Errorf("espeak: %w", err)
	}
	return r, nil
}

// Say implements speech.Renderer.
func (r *Renderer) Say(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, r.binary,
		"-v", r.voice,
		"-s", fmt.Sprint(r.speed),
		text,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("espeak: %w: %s", err, out)
	}
	return nil
}
