// Package session runs pipeline documents end to end: structural checks,
// pipeline construction, evaluator and observer wiring, and the run or
// validate call itself. The CLI and the MCP server both go through it.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stevehiehn/stepwise/internal/action"
	"github.com/stevehiehn/stepwise/internal/engine"
	"github.com/stevehiehn/stepwise/internal/guard"
	"github.com/stevehiehn/stepwise/internal/plan"
)

// Options configure one session call.
type Options struct {
	// Registry resolves ops; nil uses action.Default().
	Registry *action.Registry
	// Evaluator names the string guard evaluator; empty leaves string
	// guards unevaluable, which aborts any run that reaches one.
	Evaluator string
	// Inputs seed the scratch area on top of the document's input defaults.
	Inputs  map[string]any
	Payload any
	// StopOnError overrides the mode default when set.
	StopOnError *bool
	MaxSteps    int
	// Strict rejects documents naming unregistered ops before running.
	// Otherwise such steps fail on their own as UNKNOWN_OPERATION records.
	Strict   bool
	Observer engine.Observer
	// Logger receives step log lines; nil discards them.
	Logger *slog.Logger
}

func (o Options) registry() *action.Registry {
	if o.Registry != nil {
		return o.Registry
	}
	return action.Default()
}

// Result is what a Run or Validate call hands back to callers.
type Result struct {
	Pipeline string              `json:"pipeline"`
	Report   *engine.Report      `json:"report"`
	Steps    []engine.StepRecord `json:"steps"`
	Scratch  map[string]any      `json:"scratch,omitempty"`
	Warnings []string            `json:"warnings,omitempty"`
	Context  *engine.RunContext  `json:"-"`
}

// Check validates the document against the registry. Required inputs are
// only enforced for real runs.
func Check(doc *plan.Document, opts Options, validateOnly bool) error {
	var inputs map[string]any
	if !validateOnly {
		inputs = map[string]any{}
		for k, v := range opts.Inputs {
			inputs[k] = v
		}
	}
	var known func(string) bool
	if opts.Strict {
		known = opts.registry().Known
	}
	return plan.Validate(doc, known, inputs)
}

// Warnings lists non-fatal findings: unregistered ops and scratch
// references no earlier step produces.
func Warnings(doc *plan.Document, opts Options) []string {
	reg := opts.registry()
	var out []string
	for i, s := range doc.Steps {
		if !reg.Known(s.Op) {
			out = append(out, fmt.Sprintf("step %d uses unregistered op %q", i, s.Op))
		}
	}
	return append(out, plan.UnproducedRefs(doc, keys(opts.Inputs))...)
}

// Build checks the document and returns a ready pipeline.
func Build(doc *plan.Document, opts Options, validateOnly bool) (*engine.Pipeline, error) {
	if err := Check(doc, opts, validateOnly); err != nil {
		return nil, err
	}
	p, err := doc.NewPipeline(opts.Payload, opts.registry(), opts.Inputs)
	if err != nil {
		return nil, err
	}
	if opts.Logger != nil {
		p.SetLogger(engine.SlogSinks(opts.Logger))
	} else {
		p.SetLogger(engine.DiscardSinks())
	}
	if opts.Evaluator != "" {
		eval, err := guard.ByName(opts.Evaluator)
		if err != nil {
			return nil, err
		}
		p.SetWhenEvaluator(eval)
	}
	if opts.Observer != nil {
		p.SetObserver(opts.Observer)
	}
	return p, nil
}

// Run executes the document.
func Run(ctx context.Context, doc *plan.Document, opts Options) (*Result, error) {
	return execute(ctx, doc, opts, false)
}

// Validate dry-runs the document with validate_only set for every handler.
func Validate(ctx context.Context, doc *plan.Document, opts Options) (*Result, error) {
	return execute(ctx, doc, opts, true)
}

func execute(ctx context.Context, doc *plan.Document, opts Options, validateOnly bool) (*Result, error) {
	p, err := Build(doc, opts, validateOnly)
	if err != nil {
		return nil, err
	}
	var runOpts []engine.RunOption
	if opts.StopOnError != nil {
		runOpts = append(runOpts, engine.WithStopOnError(*opts.StopOnError))
	}
	if opts.MaxSteps > 0 {
		runOpts = append(runOpts, engine.WithMaxSteps(opts.MaxSteps))
	}

	var (
		rc  *engine.RunContext
		rep *engine.Report
	)
	if validateOnly {
		rc, rep, err = p.Validate(ctx, runOpts...)
	} else {
		rc, rep, err = p.Run(ctx, runOpts...)
	}
	res := &Result{
		Pipeline: doc.Name,
		Report:   rep,
		Steps:    rc.Runtime.Steps,
		Scratch:  rc.Scratch,
		Warnings: Warnings(doc, opts),
		Context:  rc,
	}
	return res, err
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
