package governance

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/credalabs/credence/pkg/audit"
)

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// validConfidence rejects NaN explicitly: NaN compares false against
// every bound and would otherwise slip through range checks.
func validConfidence(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// decayedConfidence returns the stored confidence decayed by the time
// elapsed since last validation. The category floor never raises a
// value above what is stored; a non-positive elapsed means no decay.
func decayedConfidence(cfg Config, a *Assumption, now time.Time) float64 {
	conf := clamp01(a.Confidence)
	elapsed := now.Sub(a.LastValidatedAt)
	if elapsed <= 0 {
		return conf
	}
	p := cfg.decay(a.Category)
	decayed := conf * math.Pow(p.Rate, elapsed.Minutes()/p.HalfLifeMinutes)
	floor := math.Min(p.Floor, conf)
	return math.Max(decayed, floor)
}

func cloneAssumption(a *Assumption) Assumption {
	out := *a
	out.History = append([]ConfidenceSample(nil), a.History...)
	out.SupportedBy = append([]string(nil), a.SupportedBy...)
	return out
}

// AddAssumption registers a new assumption at the kernel clock's
// current time and seeds its confidence history with the initial
// value.
func (k *Kernel) AddAssumption(id, description string, confidence float64, category Category) (Assumption, error) {
	if id == "" {
		return Assumption{}, fmt.Errorf("assumption id must not be empty")
	}
	if !validConfidence(confidence) {
		return Assumption{}, fmt.Errorf("%w: %v", ErrInvalidConfidence, confidence)
	}
	if !category.Valid() {
		return Assumption{}, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.assumptions[id]; ok {
		return Assumption{}, fmt.Errorf("%w: assumption %q", ErrDuplicateID, id)
	}

	now := k.clock.Now().UTC()
	payload, err := json.Marshal(AssumptionChange{
		AssumptionID: id,
		Op:           opRegister,
		Category:     category,
		Description:  description,
		Confidence:   confidence,
	})
	if err != nil {
		return Assumption{}, fmt.Errorf("encode audit payload: %w", err)
	}

	a := &Assumption{
		ID:              id,
		Description:     description,
		Confidence:      confidence,
		Category:        category,
		LastValidatedAt: now,
		History: []ConfidenceSample{
			{Timestamp: now, Confidence: confidence, Reason: "registered"},
		},
	}
	k.assumptions[id] = a
	k.appendAudit(audit.KindAssumptionUpdate, actorKernel, id, payload, now)
	return cloneAssumption(a), nil
}

// RevalidateAssumption replaces an assumption's confidence with a
// freshly measured value and resets its decay clock to now.
func (k *Kernel) RevalidateAssumption(id string, confidence float64, reason string, now time.Time) (Assumption, error) {
	if !validConfidence(confidence) {
		return Assumption{}, fmt.Errorf("%w: %v", ErrInvalidConfidence, confidence)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	a, ok := k.assumptions[id]
	if !ok {
		return Assumption{}, fmt.Errorf("%w: assumption %q", ErrNotFound, id)
	}

	now = now.UTC()
	payload, err := json.Marshal(AssumptionChange{
		AssumptionID: id,
		Op:           opRevalidate,
		Confidence:   confidence,
		Reason:       reason,
	})
	if err != nil {
		return Assumption{}, fmt.Errorf("encode audit payload: %w", err)
	}

	a.Confidence = confidence
	a.LastValidatedAt = now
	a.History = append(a.History, ConfidenceSample{Timestamp: now, Confidence: confidence, Reason: reason})
	k.appendAudit(audit.KindAssumptionUpdate, actorKernel, id, payload, now)
	return cloneAssumption(a), nil
}

// AdjustConfidence applies a relative delta to an assumption's stored
// confidence, clamped to [0,1]. Unlike revalidation it does not reset
// the decay clock: the adjusted value keeps decaying from the original
// validation time.
func (k *Kernel) AdjustConfidence(id string, delta float64, reason string, now time.Time) (Assumption, error) {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return Assumption{}, fmt.Errorf("%w: delta %v", ErrInvalidConfidence, delta)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	a, ok := k.assumptions[id]
	if !ok {
		return Assumption{}, fmt.Errorf("%w: assumption %q", ErrNotFound, id)
	}
	return k.adjustLocked(a, delta, reason, now.UTC())
}

// adjustLocked is the shared adjustment path for AdjustConfidence and
// the outcome feedback loop. Caller holds k.mu and has validated delta.
func (k *Kernel) adjustLocked(a *Assumption, delta float64, reason string, now time.Time) (Assumption, error) {
	next := clamp01(a.Confidence + delta)
	payload, err := json.Marshal(AssumptionChange{
		AssumptionID: a.ID,
		Op:           opAdjust,
		Confidence:   next,
		Delta:        delta,
		Reason:       reason,
	})
	if err != nil {
		return Assumption{}, fmt.Errorf("encode audit payload: %w", err)
	}

	a.Confidence = next
	a.History = append(a.History, ConfidenceSample{Timestamp: now, Confidence: next, Reason: reason})
	k.appendAudit(audit.KindAssumptionUpdate, actorKernel, a.ID, payload, now)
	return cloneAssumption(a), nil
}

// EffectiveConfidence reports an assumption's decayed confidence at
// the supplied instant, folding in supporting assumptions when links
// are declared. Reads mutate nothing and are not audited.
func (k *Kernel) EffectiveConfidence(id string, now time.Time) (float64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	a, ok := k.assumptions[id]
	if !ok {
		return 0, fmt.Errorf("%w: assumption %q", ErrNotFound, id)
	}
	memo := make(map[string]float64, len(k.assumptions))
	return k.effectiveLocked(a, now.UTC(), memo), nil
}
