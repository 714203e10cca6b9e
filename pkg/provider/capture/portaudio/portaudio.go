// Package portaudio provides a capture.Source reading from the default input
// device via the PortAudio bindings.
package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/nightjarhq/nightjar/pkg/provider/capture"
)

// Compile-time assertion that Source implements capture.Source.
var _ capture.Source = (*Source)(nil)

// Source captures 16 kHz mono PCM frames from the default input device.
type Source struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// New initialises PortAudio and returns an idle Source. Call Terminate when
// the process is done with audio entirely.
func New() (*Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Source{}, nil
}

// Terminate releases the PortAudio runtime. The Source must be stopped first.
func (s *Source) Terminate() error {
	return portaudio.Terminate()
}

// Start implements capture.Source.
func (s *Source) Start(ctx context.Context, emit func(pcm []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("portaudio: capture already running")
	}

	buf := make([]float32, capture.FrameSamples)
	stream, err := portaudio.OpenDefaultStream(capture.Channels, 0, float64(capture.SampleRate), len(buf), buf)
	if err != nil {
		return fmt.Errorf("portaudio: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("portaudio: start stream: %w", err)
	}

	s.stream = stream
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	go s.readLoop(ctx, stream, buf, emit, s.stop, s.done)
	return nil
}

// readLoop pulls frames from the stream until stopped. Runs on its own
// goroutine; all stream access after Start happens here.
func (s *Source) readLoop(ctx context.Context, stream *portaudio.Stream, buf []float32, emit func([]byte), stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := stream.Read(); err != nil {
			// Overflow is routine when the consumer briefly stalls; anything
			// else ends the capture session.
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			slog.Error("portaudio read failed, stopping capture", "err", err)
			return
		}
		emit(floatToPCM(buf))
	}
}

// Stop implements capture.Source.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	close(s.stop)
	<-s.done
	err := s.stream.Stop()
	s.stream.Close()
	s.stream = nil
	s.running = false
	if err != nil {
		return fmt.Errorf("portaudio: stop stream: %w", err)
	}
	return nil
}

// floatToPCM converts float32 samples in [-1, 1] to 16-bit signed
// little-endian PCM bytes.
func floatToPCM(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(f*32767)))
	}
	return out
}
