package keyword_test

import (
	"context"
	"testing"

	"github.com/nightjarhq/nightjar/pkg/provider/classify"
	"github.com/nightjarhq/nightjar/pkg/provider/classify/keyword"
)

func mustMatcher(t *testing.T, phrases []string) *keyword.Matcher {
	t.Helper()
	m, err := keyword.New(phrases)
	if err != nil {
		t.Fatalf("New(%v): %v", phrases, err)
	}
	return m
}

func phrasesOf(a *classify.Analysis) []string {
	out := make([]string, 0, len(a.Alerts))
	for _, al := range a.Alerts {
		out = append(out, al.Phrase)
	}
	return out
}

func TestMatcher_WholeWordOnly(t *testing.T) {
	t.Parallel()

	m := mustMatcher(t, []string{"help", "fall"})

	cases := []struct {
		text string
		want []string
	}{
		{"please send help", []string{"help"}},
		{"that was very helpful", nil},
		{"HELP me now", []string{"help"}},
		{"help, I had a fall", []string{"help", "fall"}},
		{"the waterfall is nice", nil},
		{"", nil},
	}

	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			t.Parallel()
			got, err := m.Classify(context.Background(), tc.text, "dev-1")
			if err != nil {
				t.Fatalf("Classify(%q): %v", tc.text, err)
			}
			gotPhrases := phrasesOf(got)
			if len(gotPhrases) != len(tc.want) {
				t.Fatalf("Classify(%q): phrases=%v, want %v", tc.text, gotPhrases, tc.want)
			}
			for i := range tc.want {
				if gotPhrases[i] != tc.want[i] {
					t.Errorf("Classify(%q): phrases=%v, want %v", tc.text, gotPhrases, tc.want)
				}
			}
		})
	}
}

func TestMatcher_Severities(t *testing.T) {
	t.Parallel()

	m := mustMatcher(t, []string{"help", "emergency", "fire", "smoke"})

	got, err := m.Classify(context.Background(), "fire and smoke, this is an emergency, help", "dev-1")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	want := map[string]classify.Severity{
		"help":      classify.SeverityMedium,
		"emergency": classify.SeverityHigh,
		"fire":      classify.SeverityHigh,
		"smoke":     classify.SeverityMedium,
	}
	if len(got.Alerts) != len(want) {
		t.Fatalf("got %d alerts, want %d: %+v", len(got.Alerts), len(want), got.Alerts)
	}
	for _, al := range got.Alerts {
		if want[al.Phrase] != al.Severity {
			t.Errorf("phrase %q: severity=%q, want %q", al.Phrase, al.Severity, want[al.Phrase])
		}
	}
	if !got.ActionRequired {
		t.Error("ActionRequired=false with high-severity matches, want true")
	}
}

func TestMatcher_MultiWordPhrase(t *testing.T) {
	t.Parallel()

	m := mustMatcher(t, []string{"can't breathe"})

	got, err := m.Classify(context.Background(), "I can't breathe properly", "dev-1")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(got.Alerts) != 1 || got.Alerts[0].Phrase != "can't breathe" {
		t.Fatalf("Alerts=%+v, want single match on %q", got.Alerts, "can't breathe")
	}
}

func TestMatcher_BenignText(t *testing.T) {
	t.Parallel()

	m := mustMatcher(t, []string{"help", "emergency"})

	got, err := m.Classify(context.Background(), "what a lovely morning", "dev-1")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(got.Alerts) != 0 {
		t.Errorf("Alerts=%+v, want none", got.Alerts)
	}
	if got.ActionRequired {
		t.Error("ActionRequired=true for benign text")
	}
}

func TestMatcher_QueryNotSupported(t *testing.T) {
	t.Parallel()

	m := mustMatcher(t, []string{"help"})
	if _, err := m.Query(context.Background(), "how is grandma?", "obs-1"); err != classify.ErrQueryNotSupported {
		t.Errorf("Query: err=%v, want ErrQueryNotSupported", err)
	}
}
