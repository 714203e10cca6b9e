package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nightjarhq/nightjar/pkg/provider/transcribe"
	transcribemock "github.com/nightjarhq/nightjar/pkg/provider/transcribe/mock"
)

func TestTranscriberFallback_PrimaryResult(t *testing.T) {
	primary := &transcribemock.Provider{
		Result: transcribe.Result{Text: "hello there", Confidence: 0.9},
	}
	secondary := &transcribemock.Provider{
		Result: transcribe.Result{Text: "wrong backend"},
	}

	tf := NewTranscriberFallback(primary, "whisper-server", FallbackConfig{})
	tf.AddFallback("openai", secondary)

	res, err := tf.Transcribe(context.Background(), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello there" {
		t.Fatalf("Text = %q, want %q", res.Text, "hello there")
	}
	if len(secondary.Calls()) != 0 {
		t.Fatal("secondary must not be called when primary succeeds")
	}
}

func TestTranscriberFallback_FailoverAndBreaker(t *testing.T) {
	primary := &transcribemock.Provider{Err: errBackend}
	secondary := &transcribemock.Provider{
		Result: transcribe.Result{Text: "fallback text", Confidence: 0.8},
	}

	tf := NewTranscriberFallback(primary, "whisper-server", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
		},
	})
	tf.AddFallback("openai", secondary)

	for i := 0; i < 3; i++ {
		res, err := tf.Transcribe(context.Background(), []byte("pcm"))
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if res.Text != "fallback text" {
			t.Fatalf("call %d: Text = %q, want fallback text", i, res.Text)
		}
	}

	// The primary's breaker tripped after two failures, so the third round
	// must have skipped it.
	if got := len(primary.Calls()); got != 2 {
		t.Fatalf("primary calls = %d, want 2", got)
	}
	if got := len(secondary.Calls()); got != 3 {
		t.Fatalf("secondary calls = %d, want 3", got)
	}
}

func TestTranscriberFallback_AllFail(t *testing.T) {
	primary := &transcribemock.Provider{Err: errBackend}

	tf := NewTranscriberFallback(primary, "whisper-server", FallbackConfig{})
	_, err := tf.Transcribe(context.Background(), []byte("pcm"))
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
