// Package capture defines the audio Source interface for the device's
// microphone capture subsystem.
//
// A Source delivers small frames of 16 kHz mono 16-bit signed little-endian
// PCM to a callback. The device's buffering engine accumulates those frames
// into wire chunks; the Source itself knows nothing about the network.
package capture

import "context"

// Frame parameters every Source must honour.
const (
	SampleRate = 16000
	Channels   = 1

	// FrameSamples is the number of samples per emitted frame (20 ms).
	FrameSamples = 320
)

// Source produces a continuous stream of raw PCM frames.
type Source interface {
	// Start begins capture and delivers frames to emit until Stop is called
	// or ctx is cancelled. It returns once capture is running; frames arrive
	// on an internal goroutine. Calling Start on a running source is an error.
	Start(ctx context.Context, emit func(pcm []byte)) error

	// Stop halts capture and releases the underlying device. Safe to call
	// when not started.
	Stop() error
}
