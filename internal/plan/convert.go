package plan

import (
	"github.com/stevehiehn/stepwise/internal/engine"
)

// ResolvedArgs merges Args and Extra, Extra winning.
func (s StepSpec) ResolvedArgs() map[string]any {
	out := make(map[string]any, len(s.Args)+len(s.Extra))
	for k, v := range s.Args {
		out[k] = v
	}
	for k, v := range s.Extra {
		out[k] = v
	}
	return out
}

// Guard converts the when field. Booleans become constant guards and
// strings need a when evaluator on the pipeline.
func (s StepSpec) Guard() *engine.Guard {
	switch w := s.When.(type) {
	case bool:
		return engine.Always(w)
	case string:
		if w != "" {
			return engine.WhenExpr(w)
		}
	}
	return nil
}

// ToSteps converts the document's steps to engine steps.
func (d *Document) ToSteps() []engine.Step {
	out := make([]engine.Step, len(d.Steps))
	for i, s := range d.Steps {
		out[i] = engine.Step{
			ID:   s.ID,
			Name: s.Name,
			Op:   s.Op,
			Args: engine.Args(s.ResolvedArgs()),
			When: s.Guard(),
		}
	}
	return out
}

// EngineConfig builds the per-operation defaults.
func (d *Document) EngineConfig() *engine.Config {
	return engine.ConfigFrom(d.Config)
}

// Seed returns the initial scratch: input defaults overlaid by provided.
func (d *Document) Seed(provided map[string]any) map[string]any {
	out := map[string]any{}
	for name, in := range d.Inputs {
		if in.Default != nil {
			out[name] = in.Default
		}
	}
	for k, v := range provided {
		out[k] = v
	}
	return out
}

// NewPipeline builds a pipeline over a fresh context seeded from the
// document. The caller attaches evaluators, sinks and observers.
func (d *Document) NewPipeline(payload any, resolver engine.Resolver, provided map[string]any) (*engine.Pipeline, error) {
	rc := engine.NewRunContext(payload, d.EngineConfig())
	for k, v := range d.Seed(provided) {
		rc.Scratch[k] = v
	}
	p := engine.New(rc, resolver)
	if err := p.AddSteps(d.ToSteps()); err != nil {
		return nil, err
	}
	return p, nil
}
