package engine

// Step is one declared unit of work. Steps are copied on append and on read,
// so a Step held by a caller never aliases the pipeline's own sequence.
type Step struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Op   string `json:"op" yaml:"op"`
	Args Args   `json:"args,omitempty" yaml:"args,omitempty"`
	When *Guard `json:"when,omitempty" yaml:"when,omitempty"`
}

func (s Step) clone() Step {
	s.Args = s.Args.Clone()
	if s.When != nil {
		g := *s.When
		s.When = &g
	}
	return s
}

// Guard gates a step. Predicate takes precedence over Expr; Expr needs a
// WhenEvaluator on the pipeline.
type Guard struct {
	Predicate func(*RunContext) bool `json:"-" yaml:"-"`
	Expr      string                 `json:"expr,omitempty" yaml:"expr,omitempty"`
}

// When wraps a native predicate.
func When(fn func(*RunContext) bool) *Guard { return &Guard{Predicate: fn} }

// WhenExpr wraps a string expression.
func WhenExpr(expr string) *Guard { return &Guard{Expr: expr} }

// Always returns a constant guard.
func Always(v bool) *Guard {
	return &Guard{Predicate: func(*RunContext) bool { return v }}
}

// String describes the guard for audit output.
func (g *Guard) String() string {
	switch {
	case g == nil:
		return ""
	case g.Predicate != nil:
		return "<predicate>"
	default:
		return g.Expr
	}
}

// StepOption customises a step passed to Add.
type StepOption func(*stepOptions)

type stepOptions struct {
	id    string
	name  string
	when  *Guard
	extra []kv
}

type kv struct {
	key   string
	value any
}

// WithID sets an explicit step id.
func WithID(id string) StepOption { return func(o *stepOptions) { o.id = id } }

// WithName sets the display name.
func WithName(name string) StepOption { return func(o *stepOptions) { o.name = name } }

// WithWhen sets a guard.
func WithWhen(g *Guard) StepOption { return func(o *stepOptions) { o.when = g } }

// WithWhenExpr sets a string guard.
func WithWhenExpr(expr string) StepOption {
	return func(o *stepOptions) { o.when = WhenExpr(expr) }
}

// WithArg sets a single argument. Options apply after the args map, in
// order, so the last write wins.
func WithArg(key string, value any) StepOption {
	return func(o *stepOptions) { o.extra = append(o.extra, kv{key, value}) }
}
