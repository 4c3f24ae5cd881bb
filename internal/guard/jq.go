package guard

import (
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/stevehiehn/stepwise/internal/engine"
)

// JQEvaluator evaluates guards as jq filters, e.g. `.scratch.items | length > 0`.
// The first result decides; null and false skip the step.
type JQEvaluator struct {
	codes cache[*gojq.Code]
}

// NewJQ returns a jq evaluator with an empty code cache.
func NewJQ() *JQEvaluator { return &JQEvaluator{} }

// Evaluate compiles src once and runs it against rc's snapshot.
func (j *JQEvaluator) Evaluate(src string, rc *engine.RunContext) (bool, error) {
	code, err := j.codes.get(src, func(s string) (*gojq.Code, error) {
		q, err := gojq.Parse(s)
		if err != nil {
			return nil, err
		}
		return gojq.Compile(q)
	})
	if err != nil {
		return false, fmt.Errorf("jq: invalid filter %q: %w", src, err)
	}
	input, err := snapshot(src, rc)
	if err != nil {
		return false, fmt.Errorf("jq: normalize context: %w", err)
	}
	v, ok := code.Run(input).Next()
	if !ok {
		return false, nil
	}
	if err, isErr := v.(error); isErr {
		return false, fmt.Errorf("jq: %w", err)
	}
	return truthy(v), nil
}
