// Package guard provides the CEL-backed evaluator for action guard
// expressions. Guards are boolean CEL programs evaluated on every
// action evaluation; the kernel treats evaluation errors as vetoes.
package guard

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Evaluator compiles and runs guard expressions against the variables
// the kernel exposes: action (map), state (string), aggregate
// (double), and now (int, unix seconds). Compiled programs are cached
// by expression; Evaluator is safe for concurrent use.
type Evaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewEvaluator builds the guard environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.DynType),
		cel.Variable("state", cel.StringType),
		cel.Variable("aggregate", cel.DoubleType),
		cel.Variable("now", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel environment: %w", err)
	}
	return &Evaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

// Compile checks and caches an expression. The kernel calls this at
// action registration so malformed or non-boolean guards are rejected
// before they can gate anything.
func (e *Evaluator) Compile(expr string) error {
	_, err := e.program(expr)
	return err
}

// Eval runs a guard. A non-boolean result is an error.
func (e *Evaluator) Eval(expr string, vars map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("guard result is %T, not bool", out.Value())
	}
	return val, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.cache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit := e.cache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("guard must produce bool, produces %s", ast.OutputType())
	}
	p, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.cache[expr] = p
	return p, nil
}
