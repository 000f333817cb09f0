package governance

import (
	"encoding/json"
	"fmt"

	"github.com/credalabs/credence/pkg/audit"
)

// ReplayAuditTrail reconstructs a kernel from a captured audit trail.
// The chain is verified while loading; a tampered or truncated trail
// is rejected. Entries are applied in order without re-auditing, so
// the rebuilt kernel carries the original trail and continues its hash
// chain. Replay with the same config that produced the trail; state
// tracker transitions are re-derived under the supplied policy.
func ReplayAuditTrail(entries []audit.Entry, cfg Config, opts ...Option) (*Kernel, error) {
	trail, err := audit.FromEntries(entries)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	opts = append(append([]Option(nil), opts...), WithAuditLog(trail))
	k, err := NewKernel(cfg, opts...)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	for i, e := range entries {
		if err := k.applyEntry(e); err != nil {
			return nil, fmt.Errorf("replay entry %d (%s, subject %s): %w", i, e.Kind, e.Subject, err)
		}
	}
	return k, nil
}

// applyEntry folds one audit entry back into kernel state. Mutations
// mirror the live operations exactly but write no new audit entries.
// Caller holds k.mu.
func (k *Kernel) applyEntry(e audit.Entry) error {
	switch e.Kind {
	case audit.KindAssumptionUpdate:
		var ch AssumptionChange
		if err := json.Unmarshal(e.Payload, &ch); err != nil {
			return fmt.Errorf("decode assumption change: %w", err)
		}
		return k.applyAssumptionChange(ch, e)

	case audit.KindActionRegistered:
		var rec ActionRecord
		if err := json.Unmarshal(e.Payload, &rec); err != nil {
			return fmt.Errorf("decode action record: %w", err)
		}
		if _, ok := k.actions[rec.ActionID]; ok {
			return fmt.Errorf("%w: action %q", ErrDuplicateID, rec.ActionID)
		}
		a := &Action{
			ID:             rec.ActionID,
			Description:    rec.Description,
			DependsOn:      append([]string(nil), rec.DependsOn...),
			Criticality:    rec.Criticality,
			LastOutcome:    OutcomeNone,
			NoDependencies: rec.NoDependencies,
			Guard:          rec.Guard,
			ContextSchema:  append(json.RawMessage(nil), rec.ContextSchema...),
		}
		if len(a.ContextSchema) > 0 {
			s, err := compileContextSchema(a.ContextSchema)
			if err != nil {
				return err
			}
			k.schemas[a.ID] = s
		}
		k.actions[a.ID] = a
		return nil

	case audit.KindEvaluation:
		var ev Evaluation
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return fmt.Errorf("decode evaluation: %w", err)
		}
		if _, ok := k.actions[ev.ActionID]; !ok {
			return fmt.Errorf("%w: action %q", ErrNotFound, ev.ActionID)
		}
		// A fresh evaluation voids stale approvals, exactly as the
		// live path does; later EXECUTION entries restore them.
		delete(k.approvals, ev.ActionID)
		k.lastEval[ev.ActionID] = &ev
		return nil

	case audit.KindExecution:
		var rec ExecutionRecord
		if err := json.Unmarshal(e.Payload, &rec); err != nil {
			return fmt.Errorf("decode execution record: %w", err)
		}
		if _, ok := k.actions[rec.ActionID]; !ok {
			return fmt.Errorf("%w: action %q", ErrNotFound, rec.ActionID)
		}
		if rec.Approver != "" {
			k.approvals[rec.ActionID] = rec.Approver
		}
		return nil

	case audit.KindOutcome:
		var rec OutcomeRecord
		if err := json.Unmarshal(e.Payload, &rec); err != nil {
			return fmt.Errorf("decode outcome record: %w", err)
		}
		a, ok := k.actions[rec.ActionID]
		if !ok {
			return fmt.Errorf("%w: action %q", ErrNotFound, rec.ActionID)
		}
		// Dependency adjustments were logged as their own
		// ASSUMPTION_UPDATE entries ahead of this one, so only the
		// action and the state tracker remain to restore.
		a.LastOutcome = rec.Outcome
		k.tracker.record(rec.Outcome, e.Timestamp)
		return nil

	default:
		return fmt.Errorf("unknown audit entry kind %q", e.Kind)
	}
}

func (k *Kernel) applyAssumptionChange(ch AssumptionChange, e audit.Entry) error {
	switch ch.Op {
	case opRegister:
		if _, ok := k.assumptions[ch.AssumptionID]; ok {
			return fmt.Errorf("%w: assumption %q", ErrDuplicateID, ch.AssumptionID)
		}
		k.assumptions[ch.AssumptionID] = &Assumption{
			ID:              ch.AssumptionID,
			Description:     ch.Description,
			Confidence:      ch.Confidence,
			Category:        ch.Category,
			LastValidatedAt: e.Timestamp,
			History: []ConfidenceSample{
				{Timestamp: e.Timestamp, Confidence: ch.Confidence, Reason: "registered"},
			},
		}
		return nil

	case opRevalidate:
		a, ok := k.assumptions[ch.AssumptionID]
		if !ok {
			return fmt.Errorf("%w: assumption %q", ErrNotFound, ch.AssumptionID)
		}
		a.Confidence = ch.Confidence
		a.LastValidatedAt = e.Timestamp
		a.History = append(a.History, ConfidenceSample{
			Timestamp: e.Timestamp, Confidence: ch.Confidence, Reason: ch.Reason,
		})
		return nil

	case opAdjust:
		a, ok := k.assumptions[ch.AssumptionID]
		if !ok {
			return fmt.Errorf("%w: assumption %q", ErrNotFound, ch.AssumptionID)
		}
		a.Confidence = ch.Confidence
		a.History = append(a.History, ConfidenceSample{
			Timestamp: e.Timestamp, Confidence: ch.Confidence, Reason: ch.Reason,
		})
		return nil

	case opLink:
		a, ok := k.assumptions[ch.AssumptionID]
		if !ok {
			return fmt.Errorf("%w: assumption %q", ErrNotFound, ch.AssumptionID)
		}
		if _, ok := k.assumptions[ch.SupportID]; !ok {
			return fmt.Errorf("%w: assumption %q", ErrNotFound, ch.SupportID)
		}
		a.SupportedBy = append(a.SupportedBy, ch.SupportID)
		return nil

	default:
		return fmt.Errorf("unknown assumption change op %q", ch.Op)
	}
}
