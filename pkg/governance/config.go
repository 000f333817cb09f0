package governance

import "fmt"

// DecayParams tunes temporal decay and aggregation weight for one
// assumption category.
type DecayParams struct {
	// HalfLifeMinutes is the time for confidence to multiply by Rate.
	HalfLifeMinutes float64 `yaml:"half_life_minutes" json:"half_life_minutes"`
	// Rate is the multiplier applied per half-life, in (0,1).
	Rate float64 `yaml:"rate" json:"rate"`
	// Floor is the residual confidence decay never drops below.
	Floor float64 `yaml:"floor" json:"floor"`
	// Weight is the category's weight in aggregate confidence.
	Weight float64 `yaml:"weight" json:"weight"`
}

// StatePolicy tunes the system state tracker.
type StatePolicy struct {
	// WindowSize bounds the recent-outcome window.
	WindowSize int `yaml:"window_size" json:"window_size"`
	// MinSamples is the number of outcomes required since the last
	// transition before the tracker may escalate again.
	MinSamples int `yaml:"min_samples" json:"min_samples"`
	// DegradedThreshold is the failure rate above which NORMAL
	// escalates to DEGRADED; CriticalThreshold and SafeModeThreshold
	// gate the next two levels.
	DegradedThreshold float64 `yaml:"degraded_threshold" json:"degraded_threshold"`
	CriticalThreshold float64 `yaml:"critical_threshold" json:"critical_threshold"`
	SafeModeThreshold float64 `yaml:"safe_mode_threshold" json:"safe_mode_threshold"`
	// RecoveryStreak is the run of consecutive successes that
	// de-escalates one level.
	RecoveryStreak int `yaml:"recovery_streak" json:"recovery_streak"`
}

// Config carries every numeric policy the kernel applies. Values ship
// as explicit configuration rather than constants; tests assert the
// ordering invariants Validate enforces, not the magnitudes.
type Config struct {
	Critical   DecayParams `yaml:"critical" json:"critical"`
	Important  DecayParams `yaml:"important" json:"important"`
	Supporting DecayParams `yaml:"supporting" json:"supporting"`

	// Threshold shape: base + criticality_factor*(criticality-1) +
	// state_factor*severity, clamped to max_threshold.
	BaseThreshold     float64 `yaml:"base_threshold" json:"base_threshold"`
	CriticalityFactor float64 `yaml:"criticality_factor" json:"criticality_factor"`
	StateFactor       float64 `yaml:"state_factor" json:"state_factor"`
	MaxThreshold      float64 `yaml:"max_threshold" json:"max_threshold"`

	// RestrictedMargin is the band below threshold that yields
	// RESTRICTED instead of DENIED.
	RestrictedMargin float64 `yaml:"restricted_margin" json:"restricted_margin"`
	// MinimumBias weights the weakest dependency against the weighted
	// mean when aggregating, in [0,1].
	MinimumBias float64 `yaml:"minimum_bias" json:"minimum_bias"`
	// CriticalFloor: a CRITICAL dependency below this caps the
	// aggregate at that dependency's value.
	CriticalFloor float64 `yaml:"critical_floor" json:"critical_floor"`

	// AutoApproveCeiling is the highest criticality eligible for
	// APPROVED; SafeModeCriticalityCeiling is the lowest criticality
	// SAFE_MODE denies outright.
	AutoApproveCeiling         int `yaml:"auto_approve_ceiling" json:"auto_approve_ceiling"`
	SafeModeCriticalityCeiling int `yaml:"safe_mode_criticality_ceiling" json:"safe_mode_criticality_ceiling"`

	// SuccessBoost scales the self-limiting confidence boost applied
	// to dependencies after SUCCESS; FailurePenalty is the flat
	// deduction after FAILURE and must exceed SuccessBoost.
	SuccessBoost   float64 `yaml:"success_boost" json:"success_boost"`
	FailurePenalty float64 `yaml:"failure_penalty" json:"failure_penalty"`

	State StatePolicy `yaml:"state" json:"state"`
}

// DefaultConfig returns the shipped policy defaults.
func DefaultConfig() Config {
	return Config{
		Critical:   DecayParams{HalfLifeMinutes: 30, Rate: 0.5, Floor: 0.05, Weight: 3},
		Important:  DecayParams{HalfLifeMinutes: 120, Rate: 0.5, Floor: 0.05, Weight: 2},
		Supporting: DecayParams{HalfLifeMinutes: 480, Rate: 0.5, Floor: 0.05, Weight: 1},

		BaseThreshold:     0.5,
		CriticalityFactor: 0.1,
		StateFactor:       0.05,
		MaxThreshold:      0.99,
		RestrictedMargin:  0.15,
		MinimumBias:       0.5,
		CriticalFloor:     0.3,

		AutoApproveCeiling:         2,
		SafeModeCriticalityCeiling: 3,

		SuccessBoost:   0.02,
		FailurePenalty: 0.10,

		State: StatePolicy{
			WindowSize:        10,
			MinSamples:        3,
			DegradedThreshold: 0.5,
			CriticalThreshold: 0.7,
			SafeModeThreshold: 0.85,
			RecoveryStreak:    5,
		},
	}
}

// decay returns the decay parameters for a category.
func (c Config) decay(cat Category) DecayParams {
	switch cat {
	case CategoryCritical:
		return c.Critical
	case CategoryImportant:
		return c.Important
	default:
		return c.Supporting
	}
}

// Validate checks the ordering and range invariants the kernel relies
// on. A config that fails validation is rejected wholesale.
func (c Config) Validate() error {
	categories := []struct {
		name string
		p    DecayParams
	}{
		{"critical", c.Critical},
		{"important", c.Important},
		{"supporting", c.Supporting},
	}
	for _, cat := range categories {
		if cat.p.HalfLifeMinutes <= 0 {
			return fmt.Errorf("%w: %s half_life_minutes must be positive", ErrInvalidConfig, cat.name)
		}
		if cat.p.Rate <= 0 || cat.p.Rate >= 1 {
			return fmt.Errorf("%w: %s rate must be in (0,1)", ErrInvalidConfig, cat.name)
		}
		if cat.p.Floor < 0 || cat.p.Floor >= 1 {
			return fmt.Errorf("%w: %s floor must be in [0,1)", ErrInvalidConfig, cat.name)
		}
		if cat.p.Weight <= 0 {
			return fmt.Errorf("%w: %s weight must be positive", ErrInvalidConfig, cat.name)
		}
	}
	if c.Critical.HalfLifeMinutes > c.Important.HalfLifeMinutes ||
		c.Important.HalfLifeMinutes > c.Supporting.HalfLifeMinutes {
		return fmt.Errorf("%w: half-lives must order critical <= important <= supporting", ErrInvalidConfig)
	}
	if c.Critical.Weight < c.Important.Weight || c.Important.Weight < c.Supporting.Weight {
		return fmt.Errorf("%w: weights must order critical >= important >= supporting", ErrInvalidConfig)
	}

	if c.BaseThreshold <= 0 || c.BaseThreshold >= 1 {
		return fmt.Errorf("%w: base_threshold must be in (0,1)", ErrInvalidConfig)
	}
	if c.CriticalityFactor < 0 || c.StateFactor < 0 {
		return fmt.Errorf("%w: criticality_factor and state_factor must be non-negative", ErrInvalidConfig)
	}
	if c.MaxThreshold <= 0 || c.MaxThreshold >= 1 {
		return fmt.Errorf("%w: max_threshold must be in (0,1)", ErrInvalidConfig)
	}
	if c.RestrictedMargin < 0 || c.RestrictedMargin >= 1 {
		return fmt.Errorf("%w: restricted_margin must be in [0,1)", ErrInvalidConfig)
	}
	if c.MinimumBias < 0 || c.MinimumBias > 1 {
		return fmt.Errorf("%w: minimum_bias must be in [0,1]", ErrInvalidConfig)
	}
	if c.CriticalFloor < 0 || c.CriticalFloor >= 1 {
		return fmt.Errorf("%w: critical_floor must be in [0,1)", ErrInvalidConfig)
	}

	if c.AutoApproveCeiling < 1 || c.AutoApproveCeiling > 5 {
		return fmt.Errorf("%w: auto_approve_ceiling must be in [1,5]", ErrInvalidConfig)
	}
	if c.SafeModeCriticalityCeiling < 1 || c.SafeModeCriticalityCeiling > 5 {
		return fmt.Errorf("%w: safe_mode_criticality_ceiling must be in [1,5]", ErrInvalidConfig)
	}

	if c.SuccessBoost <= 0 {
		return fmt.Errorf("%w: success_boost must be positive", ErrInvalidConfig)
	}
	if c.FailurePenalty <= c.SuccessBoost {
		return fmt.Errorf("%w: failure_penalty must exceed success_boost", ErrInvalidConfig)
	}

	s := c.State
	if s.WindowSize < 1 {
		return fmt.Errorf("%w: state window_size must be at least 1", ErrInvalidConfig)
	}
	if s.MinSamples < 1 || s.MinSamples > s.WindowSize {
		return fmt.Errorf("%w: state min_samples must be in [1,window_size]", ErrInvalidConfig)
	}
	if s.RecoveryStreak < 1 || s.RecoveryStreak > s.WindowSize {
		return fmt.Errorf("%w: state recovery_streak must be in [1,window_size]", ErrInvalidConfig)
	}
	if s.DegradedThreshold <= 0 || s.DegradedThreshold >= s.CriticalThreshold ||
		s.CriticalThreshold >= s.SafeModeThreshold || s.SafeModeThreshold > 1 {
		return fmt.Errorf("%w: state thresholds must order 0 < degraded < critical < safe_mode <= 1", ErrInvalidConfig)
	}
	return nil
}
