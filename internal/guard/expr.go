package guard

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/stevehiehn/stepwise/internal/engine"
)

// ExprEvaluator evaluates guards written in the expr language, e.g.
// `scratch.n > 2 && !validate_only`. Undefined names evaluate to nil.
type ExprEvaluator struct {
	programs cache[*vm.Program]
}

// NewExpr returns an expr evaluator with an empty program cache.
func NewExpr() *ExprEvaluator { return &ExprEvaluator{} }

// Evaluate compiles src once and runs it against rc's snapshot.
func (e *ExprEvaluator) Evaluate(src string, rc *engine.RunContext) (bool, error) {
	prog, err := e.programs.get(src, func(s string) (*vm.Program, error) {
		return expr.Compile(s, expr.AllowUndefinedVariables(), expr.AsBool())
	})
	if err != nil {
		return false, fmt.Errorf("expr: %w", err)
	}
	out, err := expr.Run(prog, rc.Snapshot())
	if err != nil {
		return false, fmt.Errorf("expr: %w", err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expr: %q returned %T, want bool", src, out)
	}
	return b, nil
}
