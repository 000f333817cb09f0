//go:build property
// +build property

// Package governance_test contains property-based tests for confidence
// clamping, decay monotonicity, and state ladder transitions.
package governance_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/credalabs/credence/pkg/governance"
)

var propBase = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

type pinnedClock struct{ t time.Time }

func (c *pinnedClock) Now() time.Time { return c.t }

func newPropKernel(t *testing.T) *governance.Kernel {
	t.Helper()
	k, err := governance.NewKernel(governance.DefaultConfig(),
		governance.WithClock(&pinnedClock{t: propBase}))
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}
	return k
}

// TestConfidenceAlwaysClamped verifies stored confidence stays in [0,1]
// under arbitrary adjustment sequences.
// Property: for any deltas, 0 <= confidence <= 1
func TestConfidenceAlwaysClamped(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("confidence stays in [0,1] under any adjustments", prop.ForAll(
		func(initial float64, deltas []float64) bool {
			k := newPropKernel(t)
			if _, err := k.AddAssumption("belief", "under test", initial, governance.CategoryImportant); err != nil {
				return false
			}
			for _, d := range deltas {
				if _, err := k.AdjustConfidence("belief", d, "fuzz", propBase); err != nil {
					return false
				}
			}
			a, err := k.GetAssumption("belief")
			if err != nil {
				return false
			}
			return a.Confidence >= 0 && a.Confidence <= 1
		},
		gen.Float64Range(0, 1),
		gen.SliceOf(gen.Float64Range(-2, 2)),
	))

	properties.TestingRun(t)
}

// TestDecayNeverIncreases verifies effective confidence never grows
// with elapsed time when nothing is revalidated.
// Property: elapsed1 <= elapsed2 implies effective(t1) >= effective(t2)
func TestDecayNeverIncreases(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	categories := []governance.Category{
		governance.CategoryCritical,
		governance.CategoryImportant,
		governance.CategorySupporting,
	}

	properties.Property("decay is monotonically non-increasing", prop.ForAll(
		func(initial float64, catIdx, minutesA, minutesB int) bool {
			k := newPropKernel(t)
			cat := categories[catIdx%len(categories)]
			if _, err := k.AddAssumption("belief", "under test", initial, cat); err != nil {
				return false
			}
			early, late := minutesA, minutesB
			if early > late {
				early, late = late, early
			}
			effEarly, err := k.EffectiveConfidence("belief", propBase.Add(time.Duration(early)*time.Minute))
			if err != nil {
				return false
			}
			effLate, err := k.EffectiveConfidence("belief", propBase.Add(time.Duration(late)*time.Minute))
			if err != nil {
				return false
			}
			return effEarly >= effLate && effLate >= 0 && effEarly <= initial+1e-12
		},
		gen.Float64Range(0, 1),
		gen.IntRange(0, 100),
		gen.IntRange(0, 5000),
		gen.IntRange(0, 5000),
	))

	properties.TestingRun(t)
}

// TestStateMovesOneLevelPerOutcome verifies that no single outcome
// moves the system state by more than one severity level.
// Property: |severity(n+1) - severity(n)| <= 1 for any outcome sequence
func TestStateMovesOneLevelPerOutcome(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("state transitions are single-step", prop.ForAll(
		func(flips []bool) bool {
			k := newPropKernel(t)
			if _, err := k.RegisterAction("probe", "fuzz probe", nil, 1,
				governance.WithNoDependencies()); err != nil {
				return false
			}
			if _, err := k.EvaluateAction("probe", propBase); err != nil {
				return false
			}
			prev := k.State().State.Severity()
			at := propBase
			for _, success := range flips {
				at = at.Add(time.Second)
				outcome := governance.OutcomeFailure
				if success {
					outcome = governance.OutcomeSuccess
				}
				snap, err := k.RecordOutcome("probe", outcome, "", at)
				if err != nil {
					return false
				}
				cur := snap.State.Severity()
				if cur-prev > 1 || prev-cur > 1 {
					return false
				}
				if cur < 0 || cur > governance.StateSafeMode.Severity() {
					return false
				}
				prev = cur
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

// TestEvaluationDecisionsDeterministic verifies that evaluating twice
// at the same instant yields the same decision and aggregate.
func TestEvaluationDecisionsDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("evaluation is deterministic at a fixed instant", prop.ForAll(
		func(conf float64, criticality int) bool {
			k := newPropKernel(t)
			crit := 1 + criticality%5
			if _, err := k.AddAssumption("belief", "under test", conf, governance.CategoryCritical); err != nil {
				return false
			}
			if _, err := k.RegisterAction("act", "fuzz action", []string{"belief"}, crit); err != nil {
				return false
			}
			at := propBase.Add(17 * time.Minute)
			first, err := k.EvaluateAction("act", at)
			if err != nil {
				return false
			}
			second, err := k.EvaluateAction("act", at)
			if err != nil {
				return false
			}
			return first.Decision == second.Decision &&
				first.AggregateConfidence == second.AggregateConfidence &&
				first.Threshold == second.Threshold
		},
		gen.Float64Range(0, 1),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
