// Package governance implements the execution-governance kernel: it
// decides, for a proposed automated action, whether it may run
// autonomously, must be restricted, or requires explicit human
// sign-off.
//
// The kernel aggregates four stateful parts behind one mutex: an
// assumption registry with temporal confidence decay, an action
// registry binding actions to the assumptions they depend on, a system
// state tracker that escalates through NORMAL, DEGRADED, CRITICAL and
// SAFE_MODE on rolling failure rates, and a hash-chained audit trail.
// Evaluating an action folds the decayed dependency confidences, the
// action's criticality and the system state into a single decision.
// Outcomes reported after execution feed confidence back into the
// dependency assumptions and drive the state machine.
//
// All operations are synchronous and deterministic given the supplied
// time; the kernel performs no internal I/O beyond audit sink fan-out
// owned by the embedder. Each Kernel instance is independent, there is
// no package-level state.
package governance
