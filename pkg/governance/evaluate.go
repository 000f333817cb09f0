package governance

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/credalabs/credence/pkg/audit"
)

// aggTerm is one dependency's contribution to an aggregate.
type aggTerm struct {
	id       string
	value    float64
	weight   float64
	category Category
}

// aggregateConfidence folds dependency confidences into one value: a
// blend of the weakest term and the weighted mean, biased toward the
// weakest so one rotten dependency cannot hide behind strong peers.
// A critical term below the critical floor caps the whole aggregate at
// its value. Returns the aggregate and the weakest term; no terms at
// all aggregate to full confidence.
func aggregateConfidence(cfg Config, terms []aggTerm) (float64, aggTerm) {
	if len(terms) == 0 {
		return 1, aggTerm{}
	}
	weakest := terms[0]
	var sum, weightSum float64
	for _, t := range terms {
		if t.value < weakest.value {
			weakest = t
		}
		sum += t.value * t.weight
		weightSum += t.weight
	}
	mean := sum / weightSum
	agg := cfg.MinimumBias*weakest.value + (1-cfg.MinimumBias)*mean

	for _, t := range terms {
		if t.category == CategoryCritical && t.value < cfg.CriticalFloor && t.value < agg {
			agg = t.value
		}
	}
	return clamp01(agg), weakest
}

// thresholdLocked computes the approval threshold for a criticality at
// the current system state. Caller holds k.mu.
func (k *Kernel) thresholdLocked(criticality int) float64 {
	t := k.cfg.BaseThreshold +
		k.cfg.CriticalityFactor*float64(criticality-1) +
		k.cfg.StateFactor*float64(k.tracker.state.Severity())
	if t > k.cfg.MaxThreshold {
		t = k.cfg.MaxThreshold
	}
	return t
}

// EvaluateAction decides whether an action may run at the supplied
// instant. The decision, its inputs, and the reasons for the binding
// constraint are recorded as the action's evaluation of record and
// audited. A new evaluation voids any approval granted against an
// earlier one.
func (k *Kernel) EvaluateAction(id string, now time.Time) (Evaluation, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	a, ok := k.actions[id]
	if !ok {
		return Evaluation{}, fmt.Errorf("%w: action %q", ErrNotFound, id)
	}
	now = now.UTC()

	// Outcomes drive most transitions, but threshold retuning via
	// SetConfig can leave a pending one; settle it before deciding.
	k.tracker.check(now)
	state := k.tracker.state

	memo := make(map[string]float64, len(a.DependsOn))
	terms := make([]aggTerm, 0, len(a.DependsOn))
	for _, dep := range a.DependsOn {
		d, ok := k.assumptions[dep]
		if !ok {
			return Evaluation{}, fmt.Errorf("%w: %q", ErrUnknownAssumption, dep)
		}
		terms = append(terms, aggTerm{
			id:       dep,
			value:    k.effectiveLocked(d, now, memo),
			weight:   k.cfg.decay(d.Category).Weight,
			category: d.Category,
		})
	}
	agg, weakest := aggregateConfidence(k.cfg, terms)
	thr := k.thresholdLocked(a.Criticality)

	ev := Evaluation{
		ActionID:            id,
		AggregateConfidence: agg,
		Threshold:           thr,
		State:               state.String(),
		EvaluatedAt:         now,
	}
	if len(terms) > 0 {
		ev.WeakestDependency = weakest.id
	}
	for _, t := range terms {
		if t.category == CategoryCritical && t.value < k.cfg.CriticalFloor {
			ev.Reasons = append(ev.Reasons, fmt.Sprintf(
				"critical dependency %s at %.3f is below the %.2f floor and caps the aggregate",
				t.id, t.value, k.cfg.CriticalFloor))
		}
	}

	guardVeto := k.guardVetoLocked(a, agg, state, now)

	switch {
	case state == StateSafeMode && a.Criticality >= k.cfg.SafeModeCriticalityCeiling:
		ev.Decision = DecisionDenied
		ev.Reasons = append(ev.Reasons, fmt.Sprintf(
			"system state SAFE_MODE denies criticality %d (ceiling %d)",
			a.Criticality, k.cfg.SafeModeCriticalityCeiling))

	case guardVeto != "":
		ev.Decision = DecisionDenied
		ev.Reasons = append(ev.Reasons, guardVeto)

	case agg >= thr && a.Criticality <= k.cfg.AutoApproveCeiling && state == StateNormal:
		ev.Decision = DecisionApproved
		ev.Reasons = append(ev.Reasons, fmt.Sprintf(
			"aggregate confidence %.3f meets threshold %.3f at criticality %d",
			agg, thr, a.Criticality))

	case agg >= thr:
		ev.Decision = DecisionRequiresApproval
		ev.RequiresApproval = true
		ev.Reasons = append(ev.Reasons, fmt.Sprintf(
			"aggregate confidence %.3f meets threshold %.3f", agg, thr))
		if a.Criticality > k.cfg.AutoApproveCeiling {
			ev.Reasons = append(ev.Reasons, fmt.Sprintf(
				"criticality %d above autonomous ceiling %d requires sign-off",
				a.Criticality, k.cfg.AutoApproveCeiling))
		} else {
			ev.Reasons = append(ev.Reasons, fmt.Sprintf(
				"system state %s requires sign-off", state))
		}

	case agg >= thr-k.cfg.RestrictedMargin:
		ev.Decision = DecisionRestricted
		ev.RequiresApproval = true
		ev.Reasons = append(ev.Reasons, fmt.Sprintf(
			"aggregate confidence %.3f sits within %.2f of threshold %.3f; execution restricted pending approval",
			agg, k.cfg.RestrictedMargin, thr))

	default:
		ev.Decision = DecisionDenied
		ev.Reasons = append(ev.Reasons, fmt.Sprintf(
			"aggregate confidence %.3f falls more than %.2f below threshold %.3f",
			agg, k.cfg.RestrictedMargin, thr))
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return Evaluation{}, fmt.Errorf("encode audit payload: %w", err)
	}

	stored := ev
	k.lastEval[id] = &stored
	delete(k.approvals, id)
	k.appendAudit(audit.KindEvaluation, actorKernel, id, payload, now)
	return ev, nil
}

// guardVetoLocked evaluates the action's guard, if any. It returns an
// empty string when the guard passes and a denial reason otherwise;
// evaluation errors fail closed.
func (k *Kernel) guardVetoLocked(a *Action, agg float64, state SystemState, now time.Time) string {
	if a.Guard == "" {
		return ""
	}
	if k.guard == nil {
		return "guard configured but no evaluator available; failing closed"
	}
	pass, err := k.guard.Eval(a.Guard, map[string]any{
		"action": map[string]any{
			"id":           a.ID,
			"criticality":  a.Criticality,
			"depends_on":   a.DependsOn,
			"last_outcome": string(a.LastOutcome),
		},
		"state":     state.String(),
		"aggregate": agg,
		"now":       now.Unix(),
	})
	if err != nil {
		return fmt.Sprintf("guard evaluation failed: %v; failing closed", err)
	}
	if !pass {
		return "guard rejected execution"
	}
	return ""
}

// LastEvaluation returns the action's evaluation of record, or
// ErrNotEvaluated when the action has never been evaluated.
func (k *Kernel) LastEvaluation(id string) (Evaluation, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.actions[id]; !ok {
		return Evaluation{}, fmt.Errorf("%w: action %q", ErrNotFound, id)
	}
	ev, ok := k.lastEval[id]
	if !ok {
		return Evaluation{}, fmt.Errorf("%w: action %q", ErrNotEvaluated, id)
	}
	out := *ev
	out.Reasons = append([]string(nil), ev.Reasons...)
	return out, nil
}
