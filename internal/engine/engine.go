package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	dagerrors "github.com/stevehiehn/stepwise/internal/errors"
	"github.com/stevehiehn/stepwise/internal/template"
)

// Pipeline owns an ordered step sequence, a resolver and the context the
// steps are run against. A Pipeline and its context serve one run at a time.
type Pipeline struct {
	rc        *RunContext
	resolver  Resolver
	steps     []Step
	evaluator WhenEvaluator
	info      LogFunc
	errf      LogFunc
	observer  Observer
}

// New creates a pipeline around rc, which is normalized (or created when nil).
func New(rc *RunContext, resolver Resolver) *Pipeline {
	if rc == nil {
		rc = NewRunContext(nil, nil)
	}
	info, errf := DefaultSinks()
	return &Pipeline{rc: rc.Normalize(), resolver: resolver, info: info, errf: errf}
}

// Context returns the pipeline's context.
func (p *Pipeline) Context() *RunContext { return p.rc }

// SetWhenEvaluator enables string guards.
func (p *Pipeline) SetWhenEvaluator(fn WhenEvaluator) { p.evaluator = fn }

// SetLogger swaps the log sinks. A nil sink discards its lines; the context
// buffers are written regardless.
func (p *Pipeline) SetLogger(info, errf LogFunc) {
	p.info, p.errf = info, errf
}

// SetObserver installs a step/run observer.
func (p *Pipeline) SetObserver(o Observer) { p.observer = o }

// Steps returns a copy of the step sequence.
func (p *Pipeline) Steps() []Step {
	out := make([]Step, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.clone()
	}
	return out
}

// Add appends a step for op. Options are applied after args, so WithArg
// overrides the map. Missing ids come from the context's counter.
func (p *Pipeline) Add(op string, args Args, opts ...StepOption) (Step, error) {
	var o stepOptions
	for _, opt := range opts {
		opt(&o)
	}
	merged := args.Clone()
	for _, e := range o.extra {
		merged[e.key] = e.value
	}
	s, err := p.fill(Step{ID: o.id, Name: o.name, Op: op, Args: merged, When: o.when}, idSet(p.steps))
	if err != nil {
		return Step{}, err
	}
	p.steps = append(p.steps, s)
	return s.clone(), nil
}

// AddSteps replaces the step sequence with steps, back-filling ids, names
// and args the same way Add does. On error the current sequence is kept.
func (p *Pipeline) AddSteps(steps []Step) error {
	out := make([]Step, 0, len(steps))
	seen := map[string]struct{}{}
	// Generated ids also avoid explicit ids that appear later in the list.
	reserved := map[string]struct{}{}
	for _, s := range steps {
		if s.ID != "" {
			reserved[s.ID] = struct{}{}
		}
	}
	for _, s := range steps {
		taken := seen
		if s.ID == "" {
			taken = reserved
		}
		filled, err := p.fill(s.clone(), taken)
		if err != nil {
			return err
		}
		seen[filled.ID] = struct{}{}
		reserved[filled.ID] = struct{}{}
		out = append(out, filled)
	}
	p.steps = out
	return nil
}

func (p *Pipeline) fill(s Step, taken map[string]struct{}) (Step, error) {
	if s.Op == "" {
		return Step{}, dagerrors.NewValidationError("step has no op", "Every step needs an op naming a registered operation")
	}
	if s.ID == "" {
		for {
			s.ID = p.rc.nextID()
			if _, dup := taken[s.ID]; !dup {
				break
			}
		}
	} else if _, dup := taken[s.ID]; dup {
		return Step{}, dagerrors.NewValidationError(fmt.Sprintf("duplicate step id %q", s.ID), "")
	}
	if s.Name == "" {
		s.Name = s.Op + "_" + s.ID
	}
	if s.Args == nil {
		s.Args = Args{}
	}
	return s, nil
}

func idSet(steps []Step) map[string]struct{} {
	m := make(map[string]struct{}, len(steps))
	for _, s := range steps {
		m[s.ID] = struct{}{}
	}
	return m
}

// RunOption tunes a single Run or Validate call.
type RunOption func(*runOptions)

type runOptions struct {
	maxSteps    int
	stopOnError bool
}

// WithMaxSteps truncates the considered steps to the first n. n <= 0 means all.
func WithMaxSteps(n int) RunOption { return func(o *runOptions) { o.maxSteps = n } }

// WithStopOnError overrides the mode's default error policy.
func WithStopOnError(stop bool) RunOption { return func(o *runOptions) { o.stopOnError = stop } }

// Run executes the steps. It continues past step errors unless
// WithStopOnError(true) is given. The returned error is non-nil only for
// failures that abort the whole run.
func (p *Pipeline) Run(ctx context.Context, opts ...RunOption) (*RunContext, *Report, error) {
	o := runOptions{stopOnError: false}
	for _, opt := range opts {
		opt(&o)
	}
	return p.execute(ctx, false, o)
}

// Validate runs the same loop with ValidateOnly set for every handler. It
// stops at the first step error unless WithStopOnError(false) is given.
func (p *Pipeline) Validate(ctx context.Context, opts ...RunOption) (*RunContext, *Report, error) {
	o := runOptions{stopOnError: true}
	for _, opt := range opts {
		opt(&o)
	}
	return p.execute(ctx, true, o)
}

func modeName(validateOnly bool) string {
	if validateOnly {
		return "validate"
	}
	return "run"
}

func (p *Pipeline) execute(ctx context.Context, validateOnly bool, o runOptions) (*RunContext, *Report, error) {
	rc := p.rc.Normalize()
	rt := rc.Runtime
	started := time.Now()
	rt.ValidateOnly = validateOnly
	rt.RunStartedAt = started
	rt.RunFinishedAt = time.Time{}
	rt.LastError = nil
	rt.Steps = []StepRecord{initRecord(started)}

	report := &Report{RunID: rt.RunID, ValidateOnly: validateOnly, OK: true, StartedAt: started}

	steps := p.steps
	if o.maxSteps > 0 && o.maxSteps < len(steps) {
		steps = steps[:o.maxSteps]
	}

	log := newStepLogger(rc, p.info, p.errf, "run_id", rt.RunID, "mode", modeName(validateOnly))
	log.Info("pipeline started", "steps", len(steps), "stop_on_error", o.stopOnError)

	var fatal error
	for i, step := range steps {
		var rec StepRecord
		rc, rec, fatal = p.runStep(ctx, rc, i, step, validateOnly)
		if fatal != nil {
			var re *dagerrors.RunError
			if errors.As(fatal, &re) {
				report.fail(re)
				rc.Runtime.LastError = re
			}
			log.Error("pipeline aborted", "step", step.ID, "error", fatal.Error())
			break
		}
		rc.Runtime.Steps = append(rc.Runtime.Steps, rec)
		if p.observer != nil {
			p.observer.ObserveStep(rec, validateOnly)
		}
		if rec.Status == StatusError {
			report.fail(rec.Error)
			rc.Runtime.LastError = rec.Error
			if o.stopOnError {
				log.Error("pipeline stopped on error", "step", step.ID)
				break
			}
		}
	}

	p.rc = rc
	p.finish(rc, report, log)
	return rc, report, fatal
}

func (p *Pipeline) finish(rc *RunContext, report *Report, log *StepLogger) {
	rt := rc.Runtime
	rt.RunFinishedAt = time.Now()
	rt.Elapsed = rt.RunFinishedAt.Sub(rt.RunStartedAt)

	kept := rt.Steps[:0]
	for _, rec := range rt.Steps {
		if rec.Status != StatusInit {
			kept = append(kept, rec)
		}
	}
	rt.Steps = kept

	report.NSteps = len(kept)
	report.FinishedAt = rt.RunFinishedAt
	report.Total = rt.Elapsed
	report.TotalSec = rt.Elapsed.Seconds()
	log.Info("pipeline finished", "ok", report.OK, "steps", report.NSteps, "errors", len(report.Errors), "elapsed", rt.Elapsed)
	if p.observer != nil {
		p.observer.ObserveRun(report)
	}
}

// runStep takes one step through gate, dispatch, execute and record. A
// non-nil error aborts the run.
func (p *Pipeline) runStep(ctx context.Context, rc *RunContext, index int, step Step, validateOnly bool) (*RunContext, StepRecord, error) {
	started := time.Now()
	rec := StepRecord{ID: step.ID, Index: index, Name: step.Name, Op: step.Op, StartedAt: started}
	log := newStepLogger(rc, p.info, p.errf, "step", step.ID, "op", step.Op)

	fail := func(re *dagerrors.RunError) (*RunContext, StepRecord, error) {
		if re.StepID == "" {
			re.StepID = step.ID
		}
		if re.Op == "" {
			re.Op = step.Op
		}
		rec.Status = StatusError
		rec.Error = re
		rec.Elapsed = time.Since(started)
		log.Error("step failed", "type", re.Type, "error", re.Message)
		return rc, rec, nil
	}

	// Gate
	if step.When != nil {
		run, err := p.gate(step, rc)
		if err != nil {
			var re *dagerrors.RunError
			if errors.As(err, &re) && re.Type == dagerrors.MissingWhenEvaluator {
				return rc, rec, re
			}
			return fail(&dagerrors.RunError{Type: dagerrors.GuardFailed, Message: err.Error()})
		}
		if !run {
			rec.Status = StatusSkipped
			rec.Args = step.Args.Clone()
			log.Info("step skipped", "when", step.When.String())
			return rc, rec, nil
		}
	}

	// Dispatch
	if p.resolver == nil {
		return fail(dagerrors.NewUnknownOperation(step.Op))
	}
	op, err := p.resolver.Resolve(step.Op)
	if err != nil {
		var re *dagerrors.RunError
		if !errors.As(err, &re) || re.Type != dagerrors.UnknownOperation {
			re = dagerrors.NewUnknownOperation(step.Op)
		}
		cp := *re
		return fail(&cp)
	}

	args, err := p.resolveArgs(rc, step, validateOnly)
	rec.Args = args
	if err != nil {
		return fail(dagerrors.NewValidationError(err.Error(), "Check {{scratch.*}} and {{config.*}} references in the step args"))
	}

	// Execute
	meta := Meta{
		Step:         step.clone(),
		StepIndex:    index,
		ValidateOnly: validateOnly,
		StartedAt:    started,
		Logger:       log,
	}
	log.Info("step started", "index", index)
	out, err := op.Execute(ctx, rc, args.Clone(), meta)
	if out != nil && out != rc {
		// The runtime partition stays with the pipeline.
		out.Runtime = rc.Runtime
		rc = out.Normalize()
		log.rc = rc
	}

	// Record
	if err != nil {
		return fail(dagerrors.FromHandler(step.ID, step.Op, err))
	}
	rec.Status = StatusOK
	rec.Elapsed = time.Since(started)
	log.Info("step ok", "elapsed", rec.Elapsed)
	return rc, rec, nil
}

func (p *Pipeline) gate(step Step, rc *RunContext) (bool, error) {
	g := step.When
	if g.Predicate != nil {
		return g.Predicate(rc), nil
	}
	if g.Expr == "" {
		return true, nil
	}
	if p.evaluator == nil {
		return false, dagerrors.NewMissingWhenEvaluator(step.ID, g.Expr)
	}
	ok, err := p.evaluator(g.Expr, rc)
	if err != nil {
		return false, fmt.Errorf("guard %q: %w", g.Expr, err)
	}
	return ok, nil
}

// resolveArgs overlays the step args on the op's configured defaults and
// interpolates references.
func (p *Pipeline) resolveArgs(rc *RunContext, step Step, validateOnly bool) (Args, error) {
	merged := rc.Config.Defaults(step.Op).Merge(step.Args)
	tctx := &template.Context{
		Scratch:      rc.Scratch,
		Config:       rc.Config.Lookup,
		Placeholders: validateOnly,
	}
	for k, v := range merged {
		r, err := template.ResolveValue(v, tctx)
		if err != nil {
			return merged, fmt.Errorf("arg %q: %w", k, err)
		}
		merged[k] = r
	}
	return merged, nil
}
