package governance

import "time"

// stateTracker drives the NORMAL, DEGRADED, CRITICAL, SAFE_MODE ladder
// from a bounded window of recent outcomes. Escalation requires a
// minimum number of outcomes since the last transition, so a burst of
// failures walks the ladder one level at a time instead of jumping.
// Recovery requires an unbroken run of successes. SAFE_MODE is not
// terminal; it recovers the same way.
type stateTracker struct {
	policy StatePolicy

	state           SystemState
	window          []Outcome
	sinceTransition int
	changedAt       time.Time
}

func newStateTracker(policy StatePolicy, at time.Time) *stateTracker {
	return &stateTracker{
		policy:    policy,
		state:     StateNormal,
		window:    make([]Outcome, 0, policy.WindowSize),
		changedAt: at,
	}
}

// record folds one outcome into the window and runs the transition
// check. Returns the state after the check.
func (t *stateTracker) record(o Outcome, at time.Time) SystemState {
	t.window = append(t.window, o)
	if len(t.window) > t.policy.WindowSize {
		t.window = t.window[1:]
	}
	t.sinceTransition++
	return t.check(at)
}

// check applies at most one transition. Recovery is considered before
// escalation so a recovering system is never escalated on the same
// sample that completes its success streak.
func (t *stateTracker) check(at time.Time) SystemState {
	if t.tryDeescalate(at) {
		return t.state
	}
	t.tryEscalate(at)
	return t.state
}

func (t *stateTracker) tryDeescalate(at time.Time) bool {
	if t.state == StateNormal {
		return false
	}
	streak := t.policy.RecoveryStreak
	if t.sinceTransition < streak || len(t.window) < streak {
		return false
	}
	for _, o := range t.window[len(t.window)-streak:] {
		if o != OutcomeSuccess {
			return false
		}
	}
	t.state--
	t.sinceTransition = 0
	t.changedAt = at
	return true
}

func (t *stateTracker) tryEscalate(at time.Time) bool {
	if t.state == StateSafeMode {
		return false
	}
	if t.sinceTransition < t.policy.MinSamples || len(t.window) < t.policy.MinSamples {
		return false
	}
	if t.failureRate() <= t.risingThreshold() {
		return false
	}
	t.state++
	t.sinceTransition = 0
	t.changedAt = at
	return true
}

func (t *stateTracker) failureRate() float64 {
	if len(t.window) == 0 {
		return 0
	}
	failures := 0
	for _, o := range t.window {
		if o == OutcomeFailure {
			failures++
		}
	}
	return float64(failures) / float64(len(t.window))
}

// risingThreshold is the failure rate the current state must exceed
// (strictly) to escalate one level.
func (t *stateTracker) risingThreshold() float64 {
	switch t.state {
	case StateNormal:
		return t.policy.DegradedThreshold
	case StateDegraded:
		return t.policy.CriticalThreshold
	default:
		return t.policy.SafeModeThreshold
	}
}

// setPolicy swaps tuning in place, trimming the window if the new
// bound is smaller. State and counters survive the swap.
func (t *stateTracker) setPolicy(p StatePolicy) {
	t.policy = p
	if len(t.window) > p.WindowSize {
		t.window = append([]Outcome(nil), t.window[len(t.window)-p.WindowSize:]...)
	}
}

func (t *stateTracker) snapshot() StateSnapshot {
	return StateSnapshot{
		State:           t.state,
		FailureRate:     t.failureRate(),
		Samples:         len(t.window),
		SinceTransition: t.sinceTransition,
		ChangedAt:       t.changedAt,
	}
}
