// Package policy decides which facts are worth remembering and how to file them.
package policy

// Config holds the memory limits and thresholds.
type Config struct {
	MinLen                 int     `mapstructure:"min_len"`
	MaxLen                 int     `mapstructure:"max_len"`
	SemanticDedupThreshold float64 `mapstructure:"semantic_dedup_threshold"`
	HalfLifeDays           float64 `mapstructure:"half_life_days"`
	MaxFactsPerUser        int     `mapstructure:"max_facts_per_user"`
	MaxProfileFacts        int     `mapstructure:"max_profile_facts"`
	MaxWorkingFacts        int     `mapstructure:"max_working_facts"`
	WorkingDefaultDays     int     `mapstructure:"working_default_days"`
}

// Default returns the fixed default policy.
func Default() Config {
	return Config{
		MinLen:                 12,
		MaxLen:                 240,
		SemanticDedupThreshold: 0.9,
		HalfLifeDays:           60,
		MaxFactsPerUser:        500,
		MaxProfileFacts:        50,
		MaxWorkingFacts:        50,
		WorkingDefaultDays:     14,
	}
}
