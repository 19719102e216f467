package formula

import (
	"fmt"
	"strings"

	"github.com/Shopify/go-lua"
)

// LuaEvaluator evaluates formula expressions as Lua expressions. Each call
// runs in a fresh interpreter state so formulas cannot leak state into one
// another. Hyphens in variable names are normalized to underscores before
// they are installed as globals, so a template may refer to the variable
// "student-ACT-math" as "student_ACT_math".
type LuaEvaluator struct{}

// NewLuaEvaluator creates a LuaEvaluator.
func NewLuaEvaluator() *LuaEvaluator {
	return &LuaEvaluator{}
}

// Evaluate runs expr against env and returns the tagged result. A result
// that is neither boolean nor numeric is reported as an error.
func (e *LuaEvaluator) Evaluate(expr string, env Env) Result {
	l := lua.NewState()
	lua.OpenLibraries(l)

	for name, value := range env {
		switch v := value.(type) {
		case bool:
			l.PushBoolean(v)
		case int:
			l.PushInteger(v)
		case int64:
			l.PushInteger(int(v))
		case float64:
			l.PushNumber(v)
		default:
			return ErrorResult(fmt.Errorf("unsupported variable type %T for %q", value, name))
		}
		l.SetGlobal(normalizeName(name))
	}

	if err := lua.DoString(l, "return "+expr); err != nil {
		return ErrorResult(fmt.Errorf("evaluate %q: %w", expr, err))
	}

	switch l.TypeOf(-1) {
	case lua.TypeBoolean:
		return BoolResult(l.ToBoolean(-1))
	case lua.TypeNumber:
		n, _ := l.ToNumber(-1)
		return NumberResult(n)
	default:
		return ErrorResult(fmt.Errorf("formula %q did not evaluate to boolean or number", expr))
	}
}

func normalizeName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}
