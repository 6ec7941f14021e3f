package payouts

import (
	"testing"
	"time"
)

func TestRetryEligible(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		attempts int
		elapsed  time.Duration
		eligible bool
	}{
		{"first attempt, one second early", 1, 2*time.Minute - time.Second, false},
		{"first attempt, exactly at window", 1, 2 * time.Minute, true},
		{"first attempt, after window", 1, 3 * time.Minute, true},
		{"third attempt needs eight minutes", 3, 7 * time.Minute, false},
		{"third attempt at eight minutes", 3, 8 * time.Minute, true},
		{"fifth attempt needs thirty-two minutes", 5, 31 * time.Minute, false},
		{"fifth attempt at thirty-two minutes", 5, 32 * time.Minute, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eligible, remaining := RetryEligible(tc.attempts, base, base.Add(tc.elapsed))
			if eligible != tc.eligible {
				t.Fatalf("eligible = %v, want %v", eligible, tc.eligible)
			}
			if !eligible && remaining <= 0 {
				t.Error("ineligible retry must report remaining wait")
			}
			if eligible && remaining != 0 {
				t.Errorf("eligible retry reported remaining %s", remaining)
			}
		})
	}

	t.Run("no previous attempt is always eligible", func(t *testing.T) {
		eligible, _ := RetryEligible(0, time.Time{}, base)
		if !eligible {
			t.Error("zero attempts must be eligible")
		}
	})
}
