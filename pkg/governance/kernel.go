package governance

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/credalabs/credence/pkg/audit"
)

// actorKernel marks audit entries produced by the kernel itself rather
// than by an identified approver.
const actorKernel = "kernel"

// GuardEvaluator compiles and evaluates boolean guard expressions
// attached to actions. Implementations must be safe for concurrent
// use; pkg/guard provides a CEL-backed one.
type GuardEvaluator interface {
	// Compile checks an expression at registration time.
	Compile(expr string) error
	// Eval runs an expression against the supplied variables. Any
	// error is treated as a veto by the kernel.
	Eval(expr string, vars map[string]any) (bool, error)
}

// Kernel is the execution-governance kernel. One mutex guards all
// internal state; every operation runs to completion under it and
// either commits fully or leaves no trace.
type Kernel struct {
	mu     sync.Mutex
	cfg    Config
	clock  Clock
	logger *slog.Logger
	guard  GuardEvaluator

	assumptions map[string]*Assumption
	actions     map[string]*Action
	schemas     map[string]*jsonschema.Schema
	lastEval    map[string]*Evaluation
	approvals   map[string]string

	tracker *stateTracker
	trail   *audit.Log
}

// Option customizes kernel construction.
type Option func(*Kernel)

// WithClock injects the time source. Tests pin it; production omits it
// and gets the wall clock.
func WithClock(c Clock) Option {
	return func(k *Kernel) { k.clock = c }
}

// WithLogger sets the structured logger for non-fatal kernel warnings.
func WithLogger(l *slog.Logger) Option {
	return func(k *Kernel) { k.logger = l }
}

// WithAuditLog supplies a prepared audit log, typically one carrying
// sinks or one restored by replay. Without it the kernel starts an
// empty in-memory log.
func WithAuditLog(l *audit.Log) Option {
	return func(k *Kernel) { k.trail = l }
}

// WithGuardEvaluator enables guard expressions on actions.
func WithGuardEvaluator(g GuardEvaluator) Option {
	return func(k *Kernel) { k.guard = g }
}

// NewKernel builds a kernel with the given policy. The config is
// validated up front; a kernel never runs with partial policy.
func NewKernel(cfg Config, opts ...Option) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	k := &Kernel{
		cfg:         cfg,
		clock:       wallClock{},
		logger:      slog.Default(),
		assumptions: make(map[string]*Assumption),
		actions:     make(map[string]*Action),
		schemas:     make(map[string]*jsonschema.Schema),
		lastEval:    make(map[string]*Evaluation),
		approvals:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.trail == nil {
		k.trail = audit.NewLog(audit.WithLogger(k.logger))
	}
	k.tracker = newStateTracker(cfg.State, k.clock.Now().UTC())
	return k, nil
}

// appendAudit records a committed mutation. Failures are logged, not
// returned: by the time an append runs the mutation has committed, and
// payloads are pre-marshaled so appends do not fail in practice.
func (k *Kernel) appendAudit(kind audit.Kind, actor, subject string, payload json.RawMessage, at time.Time) {
	if _, err := k.trail.Append(kind, actor, subject, payload, at); err != nil {
		k.logger.Warn("audit append failed",
			"kind", string(kind), "subject", subject, "error", err)
	}
}

// GetAssumption returns a copy of an assumption, history included.
func (k *Kernel) GetAssumption(id string) (Assumption, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	a, ok := k.assumptions[id]
	if !ok {
		return Assumption{}, fmt.Errorf("%w: assumption %q", ErrNotFound, id)
	}
	return cloneAssumption(a), nil
}

// GetAction returns a copy of an action.
func (k *Kernel) GetAction(id string) (Action, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	a, ok := k.actions[id]
	if !ok {
		return Action{}, fmt.Errorf("%w: action %q", ErrNotFound, id)
	}
	return cloneAction(a), nil
}

// Assumptions lists all assumptions sorted by id.
func (k *Kernel) Assumptions() []Assumption {
	k.mu.Lock()
	defer k.mu.Unlock()

	out := make([]Assumption, 0, len(k.assumptions))
	for _, a := range k.assumptions {
		out = append(out, cloneAssumption(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Actions lists all actions sorted by id.
func (k *Kernel) Actions() []Action {
	k.mu.Lock()
	defer k.mu.Unlock()

	out := make([]Action, 0, len(k.actions))
	for _, a := range k.actions {
		out = append(out, cloneAction(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// State returns the current system state snapshot without mutating the
// tracker.
func (k *Kernel) State() StateSnapshot {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tracker.snapshot()
}

// AuditTrail returns a point-in-time copy of every audit entry in
// append order. Repeated calls with no intervening mutations return
// equal snapshots.
func (k *Kernel) AuditTrail() []audit.Entry {
	return k.trail.Snapshot()
}

// AuditLog exposes the underlying log for export, verification, and
// sink wiring.
func (k *Kernel) AuditLog() *audit.Log {
	return k.trail
}

// Config returns the active policy.
func (k *Kernel) Config() Config {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.cfg
}

// SetConfig swaps the policy wholesale after validation. The state
// tracker keeps its state and window (trimmed if the window bound
// shrank); thresholds apply from the next evaluation.
func (k *Kernel) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	k.cfg = cfg
	k.tracker.setPolicy(cfg.State)
	return nil
}
