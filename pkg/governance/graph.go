package governance

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/credalabs/credence/pkg/audit"
)

// LinkAssumptions declares that assumption id is supported by the
// assumption supportID. Once linked, id's effective confidence is
// aggregated over its own decayed value and the effective values of
// its supports, so a weak support drags its dependents down. The
// support graph stays acyclic; a link that would close a cycle is
// rejected before any state changes.
func (k *Kernel) LinkAssumptions(id, supportID string) error {
	if id == supportID {
		return fmt.Errorf("%w: %q cannot support itself", ErrCycle, id)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	a, ok := k.assumptions[id]
	if !ok {
		return fmt.Errorf("%w: assumption %q", ErrNotFound, id)
	}
	if _, ok := k.assumptions[supportID]; !ok {
		return fmt.Errorf("%w: assumption %q", ErrNotFound, supportID)
	}
	for _, existing := range a.SupportedBy {
		if existing == supportID {
			return fmt.Errorf("%w: link %s -> %s", ErrDuplicateID, id, supportID)
		}
	}
	if k.reachesLocked(supportID, id, make(map[string]bool, len(k.assumptions))) {
		return fmt.Errorf("%w: %s -> %s", ErrCycle, id, supportID)
	}

	now := k.clock.Now().UTC()
	payload, err := json.Marshal(AssumptionChange{
		AssumptionID: id,
		Op:           opLink,
		Confidence:   a.Confidence,
		SupportID:    supportID,
	})
	if err != nil {
		return fmt.Errorf("encode audit payload: %w", err)
	}

	a.SupportedBy = append(a.SupportedBy, supportID)
	k.appendAudit(audit.KindAssumptionUpdate, actorKernel, id, payload, now)
	return nil
}

// reachesLocked reports whether target is reachable from id along
// SupportedBy edges. Caller holds k.mu.
func (k *Kernel) reachesLocked(id, target string, visited map[string]bool) bool {
	if id == target {
		return true
	}
	if visited[id] {
		return false
	}
	visited[id] = true
	a, ok := k.assumptions[id]
	if !ok {
		return false
	}
	for _, sid := range a.SupportedBy {
		if k.reachesLocked(sid, target, visited) {
			return true
		}
	}
	return false
}

// effectiveLocked computes an assumption's effective confidence at the
// supplied instant: its own decayed value when it stands alone, or the
// minimum-biased aggregate of its own value and its supports'
// effective values when links are declared. memo short-circuits shared
// supports; the graph is acyclic so recursion terminates. Caller holds
// k.mu.
func (k *Kernel) effectiveLocked(a *Assumption, now time.Time, memo map[string]float64) float64 {
	if v, ok := memo[a.ID]; ok {
		return v
	}
	own := decayedConfidence(k.cfg, a, now)
	if len(a.SupportedBy) == 0 {
		memo[a.ID] = own
		return own
	}

	terms := make([]aggTerm, 0, len(a.SupportedBy)+1)
	terms = append(terms, aggTerm{
		id:       a.ID,
		value:    own,
		weight:   k.cfg.decay(a.Category).Weight,
		category: a.Category,
	})
	for _, sid := range a.SupportedBy {
		s, ok := k.assumptions[sid]
		if !ok {
			continue
		}
		terms = append(terms, aggTerm{
			id:       sid,
			value:    k.effectiveLocked(s, now, memo),
			weight:   k.cfg.decay(s.Category).Weight,
			category: s.Category,
		})
	}
	v, _ := aggregateConfidence(k.cfg, terms)
	memo[a.ID] = v
	return v
}
