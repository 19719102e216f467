// Package formula defines the expression-evaluation capability used by the
// grading engine. Grading rules, outcome conditions, prerequisites, and
// validations are opaque expression strings evaluated against a variable
// environment; the engine only cares about the tagged result.
package formula

import "fmt"

// Kind tags the variant held by a Result.
type Kind int

const (
	KindBool Kind = iota
	KindNumber
	KindError
)

// Result is the tagged outcome of evaluating one formula.
type Result struct {
	Kind   Kind
	Bool   bool
	Number float64
	Err    error
}

// BoolResult builds a boolean result.
func BoolResult(v bool) Result { return Result{Kind: KindBool, Bool: v} }

// NumberResult builds a numeric result.
func NumberResult(v float64) Result { return Result{Kind: KindNumber, Number: v} }

// ErrorResult builds an error result.
func ErrorResult(err error) Result { return Result{Kind: KindError, Err: err} }

// Env is the variable environment visible to formulas. Values must be bool,
// int, int64, or float64.
type Env map[string]any

// SetBool stores a boolean variable.
func (e Env) SetBool(name string, v bool) { e[name] = v }

// SetInt stores an integer variable.
func (e Env) SetInt(name string, v int) { e[name] = v }

// SetNumber stores a numeric variable.
func (e Env) SetNumber(name string, v float64) { e[name] = v }

// Evaluator evaluates a formula expression against an environment.
type Evaluator interface {
	Evaluate(expr string, env Env) Result
}

func (r Result) String() string {
	switch r.Kind {
	case KindBool:
		return fmt.Sprintf("bool(%t)", r.Bool)
	case KindNumber:
		return fmt.Sprintf("number(%g)", r.Number)
	default:
		return fmt.Sprintf("error(%v)", r.Err)
	}
}
