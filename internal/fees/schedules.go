package fees

// Default schedules for the built-in providers. Mobile money tiers
// mirror telco tariff tables; card pricing is flatter. Values are
// minor currency units.
var DefaultSchedules = map[string][]Band{
	"mobilemoney": {
		{Min: 1, Max: 10_000, Fee: 0},
		{Min: 10_001, Max: 50_000, Fee: 700},
		{Min: 50_001, Max: 100_000, Fee: 1_000},
		{Min: 100_001, Max: 250_000, Fee: 1_750},
		{Min: 250_001, Max: 500_000, Fee: 3_000},
		{Min: 500_001, Max: 1_000_000, Fee: 5_000},
	},
	"checkout": {
		{Min: 1, Max: 100_000, Fee: 1_500},
		{Min: 100_001, Max: 500_000, Fee: 3_500},
		{Min: 500_001, Max: 1_000_000, Fee: 6_000},
	},
}

// NewDefaultCalculator builds a calculator over DefaultSchedules.
func NewDefaultCalculator() (*Calculator, error) {
	return NewCalculator(DefaultSchedules)
}
