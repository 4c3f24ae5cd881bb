package action

import (
	"sort"
	"strings"

	"github.com/stevehiehn/stepwise/internal/engine"
	dagerrors "github.com/stevehiehn/stepwise/internal/errors"
)

// Registry maps operation names to handlers. It implements engine.Resolver.
type Registry struct {
	ops     map[string]engine.Operation
	aliases map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: map[string]engine.Operation{}, aliases: map[string]string{}}
}

// RegisterOption tunes a single Register call.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	override bool
}

// Override allows Register to replace an existing binding.
func Override() RegisterOption { return func(o *registerOptions) { o.override = true } }

// Register binds name to op. A name that is already bound fails with
// DUPLICATE_OPERATION unless Override is given.
func (r *Registry) Register(name string, op engine.Operation, opts ...RegisterOption) error {
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}
	if name == "" {
		return dagerrors.NewValidationError("operation name is empty", "")
	}
	if op == nil {
		return dagerrors.NewValidationError("operation "+name+" has a nil handler", "")
	}
	if _, exists := r.ops[name]; exists && !o.override {
		return dagerrors.NewDuplicateOperation(name)
	}
	r.ops[name] = op
	delete(r.aliases, name)
	return nil
}

// Resolve returns the handler bound to name.
func (r *Registry) Resolve(name string) (engine.Operation, error) {
	op, ok := r.ops[name]
	if !ok {
		return nil, dagerrors.NewUnknownOperation(name)
	}
	return op, nil
}

// Known returns true if the name is bound.
func (r *Registry) Known(name string) bool {
	_, ok := r.ops[name]
	return ok
}

// Alias binds qualified to the handler of short. It does nothing when short
// is unbound or qualified is already bound, so repeated calls are harmless.
// It reports whether a binding was added.
func (r *Registry) Alias(short, qualified string) bool {
	op, ok := r.ops[short]
	if !ok {
		return false
	}
	if _, taken := r.ops[qualified]; taken {
		return false
	}
	r.ops[qualified] = op
	r.aliases[qualified] = short
	return true
}

// AliasPrefix binds prefix+"."+name for every listed name.
func (r *Registry) AliasPrefix(prefix string, names ...string) int {
	n := 0
	for _, name := range names {
		if r.Alias(name, prefix+"."+name) {
			n++
		}
	}
	return n
}

// AliasOf returns the primary name behind an alias.
func (r *Registry) AliasOf(name string) (string, bool) {
	s, ok := r.aliases[name]
	return s, ok
}

// Names lists every bound name, aliases included, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.ops))
	for n := range r.ops {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Primary lists bound names that are not aliases, sorted.
func (r *Registry) Primary() []string {
	var out []string
	for _, n := range r.Names() {
		if _, alias := r.aliases[n]; !alias {
			out = append(out, n)
		}
	}
	return out
}

// Merge builds a new registry holding every primary binding of regs. Primary
// names must not collide; aliases are carried over where still free.
func Merge(regs ...*Registry) (*Registry, error) {
	out := NewRegistry()
	for _, r := range regs {
		for _, name := range r.Primary() {
			if err := out.Register(name, r.ops[name]); err != nil {
				return nil, err
			}
		}
	}
	for _, r := range regs {
		for qualified, short := range r.aliases {
			out.Alias(short, qualified)
		}
	}
	return out, nil
}

// Family is a named set of operations registered together.
type Family struct {
	Name string
	Ops  map[string]engine.Operation
}

// Names lists the family's operations, sorted.
func (f Family) Names() []string {
	out := make([]string, 0, len(f.Ops))
	for n := range f.Ops {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// NewScoped builds a strict registry from the given families and adds
// "<family>.<op>" aliases for each of them.
func NewScoped(families ...Family) (*Registry, error) {
	r := NewRegistry()
	for _, f := range families {
		for _, name := range f.Names() {
			if err := r.Register(name, f.Ops[name]); err != nil {
				return nil, err
			}
		}
	}
	for _, f := range families {
		r.AliasPrefix(f.Name, f.Names()...)
	}
	return r, nil
}

// Families returns the built-in operation families.
func Families() []Family {
	return []Family{CoreFamily(), IOFamily()}
}

// FamilyByName looks a built-in family up; the match is case-insensitive.
func FamilyByName(name string) (Family, bool) {
	for _, f := range Families() {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Family{}, false
}

// Default returns a registry with every built-in family.
func Default() *Registry {
	r, err := NewScoped(Families()...)
	if err != nil {
		// Built-in families never collide.
		panic(err)
	}
	return r
}
