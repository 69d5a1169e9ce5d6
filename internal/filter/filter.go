// Package filter provides CEL-based payload filtering for webhook
// subscriptions. A subscription may carry an optional filter expression;
// an event is only delivered when the expression evaluates to true
// against the event's payload and attributes.
package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

var (
	ErrInvalidExpression = errors.New("invalid filter expression")
	ErrEvaluation        = errors.New("filter evaluation failed")
)

// Engine compiles and evaluates filter expressions. Compiled programs
// are cached by expression text.
type Engine struct {
	env      *cel.Env
	programs map[string]cel.Program
	mu       sync.RWMutex
}

func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile validates an expression and caches its program. Used at
// registration time so malformed filters are rejected before a
// subscription is stored.
func (e *Engine) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

// Match evaluates an expression against an event's attributes and
// payload. A non-boolean result is an evaluation error.
func (e *Engine) Match(expression string, attrs map[string]any, payload json.RawMessage) (bool, error) {
	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}

	var payloadMap map[string]any
	if len(payload) > 0 {
		// Non-object payloads evaluate against an empty map.
		_ = json.Unmarshal(payload, &payloadMap)
	}
	if payloadMap == nil {
		payloadMap = map[string]any{}
	}
	if attrs == nil {
		attrs = map[string]any{}
	}

	out, _, err := prg.Eval(map[string]any{
		"event":   attrs,
		"payload": payloadMap,
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: expression must return a boolean, got %T", ErrEvaluation, out.Value())
	}

	return result, nil
}

func (e *Engine) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, issues.Err())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}

	e.mu.Lock()
	e.programs[expression] = prg
	e.mu.Unlock()

	return prg, nil
}
