package session

import (
	"github.com/stevehiehn/stepwise/internal/plan"
)

// StepPlan describes one step as it would be dispatched.
type StepPlan struct {
	Index int            `json:"index"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Op    string         `json:"op"`
	// Target is the primary op behind an alias.
	Target string         `json:"target,omitempty"`
	Known  bool           `json:"known"`
	When   string         `json:"when,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
}

// Explanation is a static view of a document: no handler runs.
type Explanation struct {
	Pipeline    string                    `json:"pipeline"`
	Description string                    `json:"description,omitempty"`
	Inputs      map[string]plan.Input     `json:"inputs,omitempty"`
	Config      map[string]map[string]any `json:"config,omitempty"`
	Steps       []StepPlan                `json:"steps"`
	Warnings    []string                  `json:"warnings,omitempty"`
}

// Explain fills ids and names the way a run would and reports how each op
// resolves.
func Explain(doc *plan.Document, opts Options) (*Explanation, error) {
	reg := opts.registry()
	p, err := doc.NewPipeline(nil, reg, opts.Inputs)
	if err != nil {
		return nil, err
	}
	ex := &Explanation{
		Pipeline:    doc.Name,
		Description: doc.Description,
		Inputs:      doc.Inputs,
		Config:      doc.Config,
		Warnings:    Warnings(doc, opts),
	}
	for i, s := range p.Steps() {
		sp := StepPlan{
			Index: i,
			ID:    s.ID,
			Name:  s.Name,
			Op:    s.Op,
			Known: reg.Known(s.Op),
			When:  s.When.String(),
			Args:  s.Args,
		}
		if target, ok := reg.AliasOf(s.Op); ok {
			sp.Target = target
		}
		ex.Steps = append(ex.Steps, sp)
	}
	return ex, nil
}
