package governance

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/credalabs/credence/pkg/audit"
)

// ActionOption customizes action registration.
type ActionOption func(*Action)

// WithNoDependencies registers an action that deliberately depends on
// no assumptions. Without this flag an empty dependency list is
// rejected, so unvetted actions cannot slip past aggregation.
func WithNoDependencies() ActionOption {
	return func(a *Action) { a.NoDependencies = true }
}

// WithGuard attaches a boolean guard expression evaluated on every
// evaluation of the action. A guard that fails to compile rejects the
// registration.
func WithGuard(expr string) ActionOption {
	return func(a *Action) { a.Guard = expr }
}

// WithContextSchema attaches a JSON Schema that execution context must
// satisfy before the action may execute.
func WithContextSchema(schema json.RawMessage) ActionOption {
	return func(a *Action) { a.ContextSchema = append(json.RawMessage(nil), schema...) }
}

func cloneAction(a *Action) Action {
	out := *a
	out.DependsOn = append([]string(nil), a.DependsOn...)
	out.ContextSchema = append(json.RawMessage(nil), a.ContextSchema...)
	return out
}

func compileContextSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource("context.schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	s, err := c.Compile("context.schema.json")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return s, nil
}

// RegisterAction registers a governed action. Every listed dependency
// must already exist; an empty dependency list requires the explicit
// WithNoDependencies option. Criticality ranges 1 (routine) to 5
// (dangerous).
func (k *Kernel) RegisterAction(id, description string, dependsOn []string, criticality int, opts ...ActionOption) (Action, error) {
	if id == "" {
		return Action{}, fmt.Errorf("action id must not be empty")
	}
	if criticality < 1 || criticality > 5 {
		return Action{}, fmt.Errorf("%w: %d", ErrInvalidCriticality, criticality)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.actions[id]; ok {
		return Action{}, fmt.Errorf("%w: action %q", ErrDuplicateID, id)
	}

	a := &Action{
		ID:          id,
		Description: description,
		DependsOn:   append([]string(nil), dependsOn...),
		Criticality: criticality,
		LastOutcome: OutcomeNone,
	}
	for _, opt := range opts {
		opt(a)
	}

	if len(a.DependsOn) == 0 && !a.NoDependencies {
		return Action{}, fmt.Errorf("%w: action %q", ErrNoDependencies, id)
	}
	if a.NoDependencies && len(a.DependsOn) > 0 {
		return Action{}, fmt.Errorf("action %q declares no dependencies but lists %d", id, len(a.DependsOn))
	}
	seen := make(map[string]bool, len(a.DependsOn))
	for _, dep := range a.DependsOn {
		if seen[dep] {
			return Action{}, fmt.Errorf("%w: dependency %q", ErrDuplicateID, dep)
		}
		seen[dep] = true
		if _, ok := k.assumptions[dep]; !ok {
			return Action{}, fmt.Errorf("%w: %q", ErrUnknownAssumption, dep)
		}
	}

	if a.Guard != "" {
		if k.guard == nil {
			return Action{}, fmt.Errorf("%w: no guard evaluator configured", ErrInvalidGuard)
		}
		if err := k.guard.Compile(a.Guard); err != nil {
			return Action{}, fmt.Errorf("%w: %v", ErrInvalidGuard, err)
		}
	}

	var schema *jsonschema.Schema
	if len(a.ContextSchema) > 0 {
		s, err := compileContextSchema(a.ContextSchema)
		if err != nil {
			return Action{}, err
		}
		schema = s
	}

	now := k.clock.Now().UTC()
	payload, err := json.Marshal(ActionRecord{
		ActionID:       id,
		Description:    description,
		DependsOn:      a.DependsOn,
		Criticality:    criticality,
		NoDependencies: a.NoDependencies,
		Guard:          a.Guard,
		ContextSchema:  a.ContextSchema,
	})
	if err != nil {
		return Action{}, fmt.Errorf("encode audit payload: %w", err)
	}

	k.actions[id] = a
	if schema != nil {
		k.schemas[id] = schema
	}
	k.appendAudit(audit.KindActionRegistered, actorKernel, id, payload, now)
	return cloneAction(a), nil
}
