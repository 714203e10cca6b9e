package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nightjarhq/nightjar/pkg/provider/classify"
	classifymock "github.com/nightjarhq/nightjar/pkg/provider/classify/mock"
)

func TestClassifierFallback_PrimaryAnalysis(t *testing.T) {
	primary := &classifymock.Classifier{
		Analysis: &classify.Analysis{
			Alerts: []classify.PhraseAlert{{Phrase: "fire", Severity: classify.SeverityHigh}},
		},
	}
	secondary := &classifymock.Classifier{}

	cf := NewClassifierFallback(primary, "openai", FallbackConfig{})
	cf.AddFallback("keyword", secondary)

	analysis, err := cf.Classify(context.Background(), "there is a fire", "classify:porch-cam")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(analysis.Alerts) != 1 || analysis.Alerts[0].Phrase != "fire" {
		t.Fatalf("unexpected analysis: %+v", analysis)
	}
	if len(secondary.Calls()) != 0 {
		t.Fatal("secondary must not be called when primary succeeds")
	}
	calls := primary.Calls()
	if len(calls) != 1 || calls[0].ConversationKey != "classify:porch-cam" {
		t.Fatalf("primary calls = %+v, want one with conversation key", calls)
	}
}

func TestClassifierFallback_FailoverAndBreaker(t *testing.T) {
	primary := &classifymock.Classifier{Err: errBackend}
	secondary := &classifymock.Classifier{
		Analysis: &classify.Analysis{Summary: "benign"},
	}

	cf := NewClassifierFallback(primary, "openai", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
		},
	})
	cf.AddFallback("keyword", secondary)

	for i := 0; i < 3; i++ {
		analysis, err := cf.Classify(context.Background(), "all quiet", "classify:hall-cam")
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if analysis.Summary != "benign" {
			t.Fatalf("call %d: Summary = %q, want benign", i, analysis.Summary)
		}
	}

	if got := len(primary.Calls()); got != 2 {
		t.Fatalf("primary calls = %d, want 2", got)
	}
	if got := len(secondary.Calls()); got != 3 {
		t.Fatalf("secondary calls = %d, want 3", got)
	}
}

func TestClassifierFallback_QuerySharesChain(t *testing.T) {
	primary := &classifymock.Classifier{QueryErr: errBackend}
	secondary := &classifymock.Classifier{QueryReply: "nothing unusual today"}

	cf := NewClassifierFallback(primary, "openai", FallbackConfig{})
	cf.AddFallback("anyllm", secondary)

	reply, err := cf.Query(context.Background(), "anything unusual?", "observer:ops")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if reply != "nothing unusual today" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestClassifierFallback_AllFail(t *testing.T) {
	primary := &classifymock.Classifier{Err: errBackend}

	cf := NewClassifierFallback(primary, "openai", FallbackConfig{})
	_, err := cf.Classify(context.Background(), "text", "k")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
