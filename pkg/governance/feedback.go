package governance

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/credalabs/credence/pkg/audit"
)

// ExecuteAction gates execution on the action's evaluation of record.
// A denied evaluation blocks outright. When the evaluation required
// approval, an approver identity must be supplied here or already on
// file from an earlier execution of the same evaluation. When the
// action carries a context schema, execContext must satisfy it.
// Returns the evaluation the execution was admitted under.
func (k *Kernel) ExecuteAction(id, approver string, execContext map[string]any) (Evaluation, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.actions[id]; !ok {
		return Evaluation{}, fmt.Errorf("%w: action %q", ErrNotFound, id)
	}
	ev, ok := k.lastEval[id]
	if !ok {
		return Evaluation{}, fmt.Errorf("%w: action %q", ErrNotEvaluated, id)
	}
	if ev.Decision == DecisionDenied {
		return Evaluation{}, fmt.Errorf("%w: action %q", ErrExecutionDenied, id)
	}

	effective := approver
	if effective == "" {
		effective = k.approvals[id]
	}
	if ev.RequiresApproval && effective == "" {
		return Evaluation{}, fmt.Errorf("%w: action %q decision %s", ErrApprovalRequired, id, ev.Decision)
	}

	if schema, ok := k.schemas[id]; ok {
		if execContext == nil {
			return Evaluation{}, fmt.Errorf("%w: action %q requires execution context", ErrContextViolation, id)
		}
		if err := schema.Validate(toJSONValue(execContext)); err != nil {
			return Evaluation{}, fmt.Errorf("%w: %v", ErrContextViolation, err)
		}
	}

	now := k.clock.Now().UTC()
	payload, err := json.Marshal(ExecutionRecord{
		ActionID: id,
		Approver: effective,
		Decision: ev.Decision,
	})
	if err != nil {
		return Evaluation{}, fmt.Errorf("encode audit payload: %w", err)
	}

	if effective != "" {
		k.approvals[id] = effective
	}
	k.appendAudit(audit.KindExecution, auditActor(effective), id, payload, now)

	out := *ev
	out.Reasons = append([]string(nil), ev.Reasons...)
	return out, nil
}

// RecordOutcome reports how an executed action went. The outcome feeds
// back into the action's direct dependencies (successes earn a
// self-limiting boost, failures a flat penalty that outweighs it),
// updates the action's last outcome, and folds into the system state
// tracker. If the evaluation of record required approval, an approver
// must be supplied here or already on file.
func (k *Kernel) RecordOutcome(actionID string, outcome Outcome, approver string, now time.Time) (StateSnapshot, error) {
	if outcome != OutcomeSuccess && outcome != OutcomeFailure {
		return StateSnapshot{}, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	a, ok := k.actions[actionID]
	if !ok {
		return StateSnapshot{}, fmt.Errorf("%w: action %q", ErrNotFound, actionID)
	}
	ev, ok := k.lastEval[actionID]
	if !ok {
		return StateSnapshot{}, fmt.Errorf("%w: action %q", ErrNotEvaluated, actionID)
	}

	effective := approver
	if effective == "" {
		effective = k.approvals[actionID]
	}
	if ev.RequiresApproval && effective == "" {
		return StateSnapshot{}, fmt.Errorf("%w: action %q decision %s", ErrApprovalRequired, actionID, ev.Decision)
	}

	now = now.UTC()
	reason := fmt.Sprintf("outcome %s for action %s", outcome, actionID)
	for _, dep := range a.DependsOn {
		d, ok := k.assumptions[dep]
		if !ok {
			continue
		}
		var delta float64
		if outcome == OutcomeSuccess {
			// Self-limiting: the closer to certainty, the smaller
			// the reward.
			delta = k.cfg.SuccessBoost * (1 - clamp01(d.Confidence))
		} else {
			delta = -k.cfg.FailurePenalty
		}
		if _, err := k.adjustLocked(d, delta, reason, now); err != nil {
			return StateSnapshot{}, err
		}
	}

	a.LastOutcome = outcome
	newState := k.tracker.record(outcome, now)

	payload, err := json.Marshal(OutcomeRecord{
		ActionID: actionID,
		Outcome:  outcome,
		Approver: effective,
		State:    newState.String(),
	})
	if err != nil {
		return StateSnapshot{}, fmt.Errorf("encode audit payload: %w", err)
	}
	k.appendAudit(audit.KindOutcome, auditActor(effective), actionID, payload, now)
	return k.tracker.snapshot(), nil
}

// toJSONValue round-trips a context map through encoding/json so the
// schema validator sees canonical JSON types (float64 numbers, no Go
// ints or custom structs).
func toJSONValue(m map[string]any) any {
	raw, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return m
	}
	return v
}

func auditActor(approver string) string {
	if approver != "" {
		return approver
	}
	return actorKernel
}
