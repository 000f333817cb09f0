package governance

import (
	"math"
	"testing"
	"time"
)

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDecayHalfLife(t *testing.T) {
	cfg := DefaultConfig()
	a := &Assumption{Confidence: 0.9, Category: CategoryCritical, LastValidatedAt: kernelBase}

	got := decayedConfidence(cfg, a, kernelBase.Add(30*time.Minute))
	if !almost(got, 0.45) {
		t.Fatalf("after one half-life: %v, want 0.45", got)
	}
	got = decayedConfidence(cfg, a, kernelBase.Add(60*time.Minute))
	if !almost(got, 0.225) {
		t.Fatalf("after two half-lives: %v, want 0.225", got)
	}
}

func TestDecayNoElapsedNoDecay(t *testing.T) {
	cfg := DefaultConfig()
	a := &Assumption{Confidence: 0.7, Category: CategoryImportant, LastValidatedAt: kernelBase}

	if got := decayedConfidence(cfg, a, kernelBase); got != 0.7 {
		t.Fatalf("zero elapsed: %v, want 0.7", got)
	}
	// Reads dated before the last validation do not decay either.
	if got := decayedConfidence(cfg, a, kernelBase.Add(-time.Hour)); got != 0.7 {
		t.Fatalf("negative elapsed: %v, want 0.7", got)
	}
}

func TestDecayMonotonic(t *testing.T) {
	cfg := DefaultConfig()
	a := &Assumption{Confidence: 0.85, Category: CategoryImportant, LastValidatedAt: kernelBase}

	prev := decayedConfidence(cfg, a, kernelBase)
	for m := 10; m <= 600; m += 10 {
		cur := decayedConfidence(cfg, a, kernelBase.Add(time.Duration(m)*time.Minute))
		if cur > prev {
			t.Fatalf("decay increased at %dm: %v > %v", m, cur, prev)
		}
		prev = cur
	}
}

func TestDecayCategoryOrdering(t *testing.T) {
	cfg := DefaultConfig()
	at := kernelBase.Add(time.Hour)
	mk := func(cat Category) float64 {
		return decayedConfidence(cfg, &Assumption{Confidence: 0.9, Category: cat, LastValidatedAt: kernelBase}, at)
	}
	crit, imp, sup := mk(CategoryCritical), mk(CategoryImportant), mk(CategorySupporting)
	if !(crit < imp && imp < sup) {
		t.Fatalf("decay ordering violated: critical %v, important %v, supporting %v", crit, imp, sup)
	}
}

func TestDecayFloor(t *testing.T) {
	cfg := DefaultConfig()
	a := &Assumption{Confidence: 0.9, Category: CategoryCritical, LastValidatedAt: kernelBase}

	got := decayedConfidence(cfg, a, kernelBase.Add(48*time.Hour))
	if !almost(got, cfg.Critical.Floor) {
		t.Fatalf("long decay: %v, want floor %v", got, cfg.Critical.Floor)
	}
}

func TestDecayFloorNeverRaises(t *testing.T) {
	cfg := DefaultConfig()
	a := &Assumption{Confidence: 0.02, Category: CategoryCritical, LastValidatedAt: kernelBase}

	got := decayedConfidence(cfg, a, kernelBase.Add(48*time.Hour))
	if got > 0.02 {
		t.Fatalf("floor raised confidence above stored value: %v", got)
	}
}

func TestRevalidateResetsDecayClock(t *testing.T) {
	k, clk := newTestKernel(t)
	if _, err := k.AddAssumption("feed", "telemetry feed", 0.9, CategoryCritical); err != nil {
		t.Fatal(err)
	}

	clk.advance(30 * time.Minute)
	if _, err := k.RevalidateAssumption("feed", 0.8, "probe ok", clk.now); err != nil {
		t.Fatal(err)
	}

	eff, err := k.EffectiveConfidence("feed", clk.now.Add(30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	// One half-life from the revalidation, not two from creation.
	if !almost(eff, 0.4) {
		t.Fatalf("effective after revalidation: %v, want 0.4", eff)
	}
}

func TestAdjustKeepsDecayClock(t *testing.T) {
	k, clk := newTestKernel(t)
	if _, err := k.AddAssumption("feed", "telemetry feed", 0.9, CategoryCritical); err != nil {
		t.Fatal(err)
	}

	clk.advance(30 * time.Minute)
	if _, err := k.AdjustConfidence("feed", 0.05, "minor boost", clk.now); err != nil {
		t.Fatal(err)
	}

	a, err := k.GetAssumption("feed")
	if err != nil {
		t.Fatal(err)
	}
	if !almost(a.Confidence, 0.95) {
		t.Fatalf("stored confidence: %v, want 0.95", a.Confidence)
	}
	if !a.LastValidatedAt.Equal(kernelBase) {
		t.Fatalf("adjustment moved the decay clock: %v", a.LastValidatedAt)
	}

	eff, err := k.EffectiveConfidence("feed", clk.now)
	if err != nil {
		t.Fatal(err)
	}
	// Still a full half-life elapsed since the original validation.
	if !almost(eff, 0.475) {
		t.Fatalf("effective after adjust: %v, want 0.475", eff)
	}
}

func TestAdjustClamps(t *testing.T) {
	k, clk := newTestKernel(t)
	if _, err := k.AddAssumption("feed", "telemetry feed", 0.9, CategoryImportant); err != nil {
		t.Fatal(err)
	}

	a, err := k.AdjustConfidence("feed", 2.0, "overshoot", clk.now)
	if err != nil {
		t.Fatal(err)
	}
	if a.Confidence != 1.0 {
		t.Fatalf("confidence after +2.0: %v, want 1.0", a.Confidence)
	}

	a, err = k.AdjustConfidence("feed", -5.0, "collapse", clk.now)
	if err != nil {
		t.Fatal(err)
	}
	if a.Confidence != 0.0 {
		t.Fatalf("confidence after -5.0: %v, want 0.0", a.Confidence)
	}

	if _, err := k.AdjustConfidence("feed", math.NaN(), "bogus", clk.now); err == nil {
		t.Fatal("NaN delta accepted")
	}
}

func TestHistoryGrowsInOrder(t *testing.T) {
	k, clk := newTestKernel(t)
	if _, err := k.AddAssumption("feed", "telemetry feed", 0.9, CategoryImportant); err != nil {
		t.Fatal(err)
	}
	clk.advance(time.Minute)
	if _, err := k.AdjustConfidence("feed", -0.1, "wobble", clk.now); err != nil {
		t.Fatal(err)
	}
	clk.advance(time.Minute)
	if _, err := k.RevalidateAssumption("feed", 0.95, "fresh probe", clk.now); err != nil {
		t.Fatal(err)
	}

	a, err := k.GetAssumption("feed")
	if err != nil {
		t.Fatal(err)
	}
	if len(a.History) != 3 {
		t.Fatalf("history length = %d, want 3", len(a.History))
	}
	for i := 1; i < len(a.History); i++ {
		if a.History[i].Timestamp.Before(a.History[i-1].Timestamp) {
			t.Fatalf("history out of order at %d", i)
		}
	}
	if a.History[1].Reason != "wobble" || a.History[2].Reason != "fresh probe" {
		t.Fatalf("history reasons = %+v", a.History)
	}
}
