package governance

import (
	"encoding/json"
	"fmt"
	"time"
)

// Category fixes an assumption's severity weight. CRITICAL assumptions
// decay fastest and weigh heaviest in aggregation.
type Category string

const (
	CategoryCritical   Category = "CRITICAL"
	CategoryImportant  Category = "IMPORTANT"
	CategorySupporting Category = "SUPPORTING"
)

// Valid reports whether c is one of the three known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryCritical, CategoryImportant, CategorySupporting:
		return true
	}
	return false
}

// Outcome is the reported result of an executed action.
type Outcome string

const (
	OutcomeNone    Outcome = "NONE"
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// SystemState is the kernel-wide governance state, strictly ordered by
// severity. Transitions move one level at a time.
type SystemState int

const (
	StateNormal SystemState = iota
	StateDegraded
	StateCritical
	StateSafeMode
)

// String implements fmt.Stringer for SystemState.
func (s SystemState) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateDegraded:
		return "DEGRADED"
	case StateCritical:
		return "CRITICAL"
	case StateSafeMode:
		return "SAFE_MODE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Severity returns the state's index on the escalation ladder,
// starting at 0 for NORMAL. Threshold computation scales with it.
func (s SystemState) Severity() int {
	return int(s)
}

// MarshalJSON encodes the state as its string form.
func (s SystemState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the string form produced by MarshalJSON.
func (s *SystemState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "NORMAL":
		*s = StateNormal
	case "DEGRADED":
		*s = StateDegraded
	case "CRITICAL":
		*s = StateCritical
	case "SAFE_MODE":
		*s = StateSafeMode
	default:
		return fmt.Errorf("unknown system state %q", name)
	}
	return nil
}

// Decision is the verdict of an action evaluation.
type Decision string

const (
	// DecisionApproved permits autonomous execution.
	DecisionApproved Decision = "APPROVED"
	// DecisionRequiresApproval permits execution once a human signs off.
	DecisionRequiresApproval Decision = "REQUIRES_APPROVAL"
	// DecisionRestricted permits execution only through an explicit
	// override, recorded as an approver identity.
	DecisionRestricted Decision = "RESTRICTED"
	// DecisionDenied blocks execution outright.
	DecisionDenied Decision = "DENIED"
)

// ConfidenceSample is one point in an assumption's confidence history.
type ConfidenceSample struct {
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
}

// Assumption is a belief the system holds about the world, with a
// confidence that decays over time unless revalidated.
type Assumption struct {
	ID              string             `json:"id"`
	Description     string             `json:"description"`
	Confidence      float64            `json:"confidence"`
	Category        Category           `json:"category"`
	LastValidatedAt time.Time          `json:"last_validated_at"`
	History         []ConfidenceSample `json:"history"`

	// SupportedBy lists assumptions this one depends on. Effective
	// confidence folds the supports in; edges are declared explicitly
	// via LinkAssumptions and are acyclic.
	SupportedBy []string `json:"supported_by,omitempty"`
}

// Action is a proposed automated operation gated by the kernel.
type Action struct {
	ID             string          `json:"id"`
	Description    string          `json:"description"`
	DependsOn      []string        `json:"depends_on"`
	Criticality    int             `json:"criticality"`
	LastOutcome    Outcome         `json:"last_outcome"`
	NoDependencies bool            `json:"no_dependencies,omitempty"`
	Guard          string          `json:"guard,omitempty"`
	ContextSchema  json.RawMessage `json:"context_schema,omitempty"`
}

// Evaluation is the result of evaluating an action at a point in time.
type Evaluation struct {
	ActionID            string    `json:"action_id"`
	Decision            Decision  `json:"decision"`
	AggregateConfidence float64   `json:"aggregate_confidence"`
	Threshold           float64   `json:"threshold"`
	State               string    `json:"state"`
	RequiresApproval    bool      `json:"requires_approval"`
	Reasons             []string  `json:"reasons"`
	WeakestDependency   string    `json:"weakest_dependency,omitempty"`
	EvaluatedAt         time.Time `json:"evaluated_at"`
}

// StateSnapshot is a read-only view of the system state tracker.
type StateSnapshot struct {
	State           SystemState `json:"state"`
	FailureRate     float64     `json:"failure_rate"`
	Samples         int         `json:"samples"`
	SinceTransition int         `json:"since_transition"`
	ChangedAt       time.Time   `json:"changed_at"`
}

// Audit payload types, one per audit entry kind. They are exported so
// log consumers can decode entry payloads without re-deriving shapes.

// AssumptionChange is the ASSUMPTION_UPDATE payload. Confidence always
// carries the post-change value, so replaying changes in order
// reproduces the registry exactly.
type AssumptionChange struct {
	AssumptionID string   `json:"assumption_id"`
	Op           string   `json:"op"`
	Category     Category `json:"category,omitempty"`
	Description  string   `json:"description,omitempty"`
	Confidence   float64  `json:"confidence"`
	Delta        float64  `json:"delta,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	SupportID    string   `json:"support_id,omitempty"`
}

// AssumptionChange.Op values.
const (
	opRegister   = "register"
	opRevalidate = "revalidate"
	opAdjust     = "adjust"
	opLink       = "link"
)

// ActionRecord is the ACTION_REGISTERED payload.
type ActionRecord struct {
	ActionID       string          `json:"action_id"`
	Description    string          `json:"description"`
	DependsOn      []string        `json:"depends_on,omitempty"`
	Criticality    int             `json:"criticality"`
	NoDependencies bool            `json:"no_dependencies,omitempty"`
	Guard          string          `json:"guard,omitempty"`
	ContextSchema  json.RawMessage `json:"context_schema,omitempty"`
}

// ExecutionRecord is the EXECUTION payload: the recorded intent to
// execute, including who approved it.
type ExecutionRecord struct {
	ActionID string   `json:"action_id"`
	Approver string   `json:"approver,omitempty"`
	Decision Decision `json:"decision"`
}

// OutcomeRecord is the OUTCOME payload. State is the system state
// after the outcome was folded into the tracker.
type OutcomeRecord struct {
	ActionID string  `json:"action_id"`
	Outcome  Outcome `json:"outcome"`
	Approver string  `json:"approver,omitempty"`
	State    string  `json:"state"`
}
