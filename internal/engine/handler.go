package engine

import (
	"context"
	"time"
)

// Operation is a registered step handler. It may mutate rc and returns the
// context to continue with; returning nil keeps rc. Handlers must honor
// meta.ValidateOnly by skipping side effects.
type Operation interface {
	Execute(ctx context.Context, rc *RunContext, args Args, meta Meta) (*RunContext, error)
}

// OperationFunc adapts a function to Operation.
type OperationFunc func(ctx context.Context, rc *RunContext, args Args, meta Meta) (*RunContext, error)

// Execute calls f.
func (f OperationFunc) Execute(ctx context.Context, rc *RunContext, args Args, meta Meta) (*RunContext, error) {
	return f(ctx, rc, args, meta)
}

// Resolver looks up operations by name. It is declared here so registries
// can depend on the engine without an import cycle.
type Resolver interface {
	Resolve(name string) (Operation, error)
}

// Meta is the per-call metadata passed to a handler.
type Meta struct {
	Step         Step
	StepIndex    int
	ValidateOnly bool
	StartedAt    time.Time
	Logger       *StepLogger
}

// WhenEvaluator evaluates a string guard against the current context.
type WhenEvaluator func(expr string, rc *RunContext) (bool, error)

// Observer receives every record and report as they are produced.
type Observer interface {
	ObserveStep(rec StepRecord, validateOnly bool)
	ObserveRun(rep *Report)
}
