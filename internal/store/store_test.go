package store_test

import (
	"testing"

	"github.com/nightjarhq/nightjar/internal/store"
)

func TestAlertStatus_IsValid(t *testing.T) {
	t.Parallel()

	for _, s := range []store.AlertStatus{store.StatusNew, store.StatusAcknowledged, store.StatusResolved} {
		if !s.IsValid() {
			t.Errorf("IsValid(%q)=false, want true", s)
		}
	}
	for _, s := range []store.AlertStatus{"", "bogus", "NEW"} {
		if s.IsValid() {
			t.Errorf("IsValid(%q)=true, want false", s)
		}
	}
}

func TestAlertStatus_Transitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to store.AlertStatus
		want     bool
	}{
		{store.StatusNew, store.StatusAcknowledged, true},
		{store.StatusNew, store.StatusResolved, true},
		{store.StatusAcknowledged, store.StatusResolved, true},

		// Monotonic: nothing ever returns to new, nothing repeats.
		{store.StatusAcknowledged, store.StatusNew, false},
		{store.StatusResolved, store.StatusNew, false},
		{store.StatusResolved, store.StatusAcknowledged, false},
		{store.StatusNew, store.StatusNew, false},

		{store.StatusNew, "bogus", false},
		{"bogus", store.StatusResolved, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("CanTransition(%q → %q)=%v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
