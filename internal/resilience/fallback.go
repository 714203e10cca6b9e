package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned by a [FallbackGroup] when every backend either
// failed or was skipped because its breaker is open.
var ErrAllFailed = errors.New("all backends failed")

// FallbackConfig configures the breaker created for each backend in a
// [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type groupEntry[T any] struct {
	name    string
	backend T
	breaker *CircuitBreaker
}

// FallbackGroup chains a primary backend and any number of fallbacks of the
// same type T. Each backend gets its own [CircuitBreaker]; calls walk the
// chain in registration order, skipping open entries.
//
// Safe for concurrent use once all backends are registered.
type FallbackGroup[T any] struct {
	entries []groupEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup builds a group with primary as the first entry. Register
// more backends with [FallbackGroup.AddFallback] before use.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.add(primaryName, primary)
	return fg
}

// AddFallback appends a backend tried after all earlier entries.
func (fg *FallbackGroup[T]) AddFallback(name string, backend T) {
	fg.add(name, backend)
}

func (fg *FallbackGroup[T]) add(name string, backend T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, groupEntry[T]{
		name:    name,
		backend: backend,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Execute runs fn against each backend in order until one succeeds. Entries
// with an open breaker are skipped without calling fn. When nothing succeeds
// the last error is wrapped in [ErrAllFailed].
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(b T) (struct{}, error) {
		return struct{}{}, fn(b)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a
// value. It is a package function because methods cannot introduce the
// result type parameter.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(entry.backend)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("backend skipped, breaker open", "backend", entry.name)
		} else {
			slog.Warn("backend failed, trying next",
				"backend", entry.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
