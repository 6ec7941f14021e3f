package fees

import (
	"fmt"
	"sort"
)

// ModeledCeiling is the upper bound of every provider fee schedule.
// Amounts above it are unmodeled: the calculator reports fee 0 and
// ok=false, and settlement math must not trust the zero.
const ModeledCeiling int64 = 1_000_000

// Band charges Fee for any amount in [Min, Max], minor units inclusive.
type Band struct {
	Min int64
	Max int64
	Fee int64
}

// Calculator maps (provider, amount) to a transaction fee using
// provider-specific tiered rate tables.
type Calculator struct {
	schedules map[string][]Band
}

// NewCalculator validates every schedule at construction: bands must be
// sorted, non-overlapping, contiguous and cover [1, ModeledCeiling]. A
// gap or overlap is a configuration error, not something to price around.
func NewCalculator(schedules map[string][]Band) (*Calculator, error) {
	for provider, bands := range schedules {
		if err := validateBands(bands); err != nil {
			return nil, fmt.Errorf("fee schedule for %s: %w", provider, err)
		}
	}
	return &Calculator{schedules: schedules}, nil
}

func validateBands(bands []Band) error {
	if len(bands) == 0 {
		return fmt.Errorf("empty schedule")
	}
	if !sort.SliceIsSorted(bands, func(i, j int) bool { return bands[i].Min < bands[j].Min }) {
		return fmt.Errorf("bands not sorted by min")
	}
	if bands[0].Min != 1 {
		return fmt.Errorf("first band starts at %d, want 1", bands[0].Min)
	}
	for i, b := range bands {
		if b.Min > b.Max {
			return fmt.Errorf("band %d has min %d > max %d", i, b.Min, b.Max)
		}
		if b.Fee < 0 {
			return fmt.Errorf("band %d has negative fee", i)
		}
		if i > 0 {
			prev := bands[i-1]
			if b.Min != prev.Max+1 {
				return fmt.Errorf("band %d starts at %d, want %d (gap or overlap)", i, b.Min, prev.Max+1)
			}
		}
	}
	if last := bands[len(bands)-1]; last.Max != ModeledCeiling {
		return fmt.Errorf("last band ends at %d, want %d", last.Max, ModeledCeiling)
	}
	return nil
}

// Fee returns the fee for amount under the given provider's schedule.
// ok is false when the amount falls outside the modeled range or the
// provider is unknown; the returned fee is then 0 and must be treated
// as "fee unknown", not "free".
func (c *Calculator) Fee(provider string, amount int64) (fee int64, ok bool) {
	bands, found := c.schedules[provider]
	if !found {
		return 0, false
	}
	idx := sort.Search(len(bands), func(i int) bool { return bands[i].Max >= amount })
	if idx == len(bands) || amount < bands[idx].Min || amount > bands[idx].Max {
		return 0, false
	}
	return bands[idx].Fee, true
}

// Providers lists the providers the calculator has schedules for.
func (c *Calculator) Providers() []string {
	out := make([]string, 0, len(c.schedules))
	for p := range c.schedules {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
