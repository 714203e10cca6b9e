// Package mock provides a scriptable capture.Source for tests.
package mock

import (
	"context"
	"sync"

	"github.com/nightjarhq/nightjar/pkg/provider/capture"
)

var _ capture.Source = (*Source)(nil)

// Source is a capture source fed by the test instead of a microphone.
type Source struct {
	// StartErr, if set, is returned from Start.
	StartErr error
	// StopErr, if set, is returned from Stop.
	StopErr error

	mu      sync.Mutex
	emit    func([]byte)
	started int
	stopped int
}

// Start implements capture.Source. The emit callback is retained so the test
// can push frames with Emit.
func (s *Source) Start(_ context.Context, emit func(pcm []byte)) error {
	if s.StartErr != nil {
		return s.StartErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit = emit
	s.started++
	return nil
}

// Stop implements capture.Source.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit = nil
	s.stopped++
	return s.StopErr
}

// Emit delivers a PCM frame to the consumer, if capture is running.
func (s *Source) Emit(pcm []byte) {
	s.mu.Lock()
	emit := s.emit
	s.mu.Unlock()
	if emit != nil {
		emit(pcm)
	}
}

// Starts reports how many times Start was called.
func (s *Source) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Stops reports how many times Stop was called.
func (s *Source) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
