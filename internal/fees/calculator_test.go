package fees

import "testing"

func TestNewCalculator_Validation(t *testing.T) {
	t.Run("accepts contiguous bands", func(t *testing.T) {
		_, err := NewCalculator(map[string][]Band{
			"p": {
				{Min: 1, Max: 500_000, Fee: 100},
				{Min: 500_001, Max: 1_000_000, Fee: 200},
			},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("rejects gap", func(t *testing.T) {
		_, err := NewCalculator(map[string][]Band{
			"p": {
				{Min: 1, Max: 100, Fee: 10},
				{Min: 102, Max: 1_000_000, Fee: 20},
			},
		})
		if err == nil {
			t.Fatal("expected error for gapped bands")
		}
	})

	t.Run("rejects overlap", func(t *testing.T) {
		_, err := NewCalculator(map[string][]Band{
			"p": {
				{Min: 1, Max: 100, Fee: 10},
				{Min: 100, Max: 1_000_000, Fee: 20},
			},
		})
		if err == nil {
			t.Fatal("expected error for overlapping bands")
		}
	})

	t.Run("rejects schedule not starting at 1", func(t *testing.T) {
		_, err := NewCalculator(map[string][]Band{
			"p": {{Min: 10, Max: 1_000_000, Fee: 10}},
		})
		if err == nil {
			t.Fatal("expected error for schedule starting above 1")
		}
	})

	t.Run("rejects schedule not covering ceiling", func(t *testing.T) {
		_, err := NewCalculator(map[string][]Band{
			"p": {{Min: 1, Max: 999_999, Fee: 10}},
		})
		if err == nil {
			t.Fatal("expected error for schedule ending below ceiling")
		}
	})

	t.Run("rejects empty schedule", func(t *testing.T) {
		_, err := NewCalculator(map[string][]Band{"p": {}})
		if err == nil {
			t.Fatal("expected error for empty schedule")
		}
	})
}

func TestCalculator_Fee(t *testing.T) {
	calc, err := NewDefaultCalculator()
	if err != nil {
		t.Fatalf("default schedules must validate: %v", err)
	}

	t.Run("band boundaries", func(t *testing.T) {
		cases := []struct {
			amount int64
			want   int64
		}{
			{1, 0},
			{10_000, 0},
			{10_001, 700},
			{50_000, 700},
			{50_001, 1_000},
			{1_000_000, 5_000},
		}
		for _, tc := range cases {
			got, ok := calc.Fee("mobilemoney", tc.amount)
			if !ok {
				t.Fatalf("amount %d: expected ok", tc.amount)
			}
			if got != tc.want {
				t.Errorf("amount %d: fee %d, want %d", tc.amount, got, tc.want)
			}
		}
	})

	t.Run("out of range returns zero and not ok", func(t *testing.T) {
		for _, amount := range []int64{0, -5, 1_000_001} {
			fee, ok := calc.Fee("mobilemoney", amount)
			if ok || fee != 0 {
				t.Errorf("amount %d: got fee=%d ok=%v, want 0/false", amount, fee, ok)
			}
		}
	})

	t.Run("unknown provider returns zero and not ok", func(t *testing.T) {
		fee, ok := calc.Fee("wiretransfer", 5_000)
		if ok || fee != 0 {
			t.Errorf("got fee=%d ok=%v, want 0/false", fee, ok)
		}
	})

	t.Run("monotonic non-decreasing within each schedule", func(t *testing.T) {
		for _, provider := range calc.Providers() {
			var prev int64
			for amount := int64(1); amount <= ModeledCeiling; amount += 997 {
				fee, ok := calc.Fee(provider, amount)
				if !ok {
					t.Fatalf("%s amount %d: expected ok", provider, amount)
				}
				if fee < prev {
					t.Fatalf("%s: fee decreased at amount %d (%d < %d)", provider, amount, fee, prev)
				}
				prev = fee
			}
		}
	})
}
