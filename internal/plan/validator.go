package plan

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	dagerrors "github.com/stevehiehn/stepwise/internal/errors"
)

var scratchRefRe = regexp.MustCompile(`\{\{\s*scratch\.([^}\s.]+)[^}]*\}\}`)

// Validate checks a document for structural correctness. known, when not
// nil, reports whether an op name is registered. provided holds the inputs
// the caller supplies; nil skips the required-input check.
func Validate(d *Document, known func(string) bool, provided map[string]any) error {
	if provided != nil {
		names := make([]string, 0, len(d.Inputs))
		for name := range d.Inputs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			in := d.Inputs[name]
			if _, ok := provided[name]; in.Required && !ok && in.Default == nil {
				return &dagerrors.RunError{
					Type:    dagerrors.ValidationError,
					Message: fmt.Sprintf("missing required input %q", name),
					Hint:    fmt.Sprintf("Provide --set %s=<value>", name),
				}
			}
		}
	}

	seen := map[string]int{}
	for i, s := range d.Steps {
		label := s.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if s.Op == "" {
			return &dagerrors.RunError{
				Type:    dagerrors.ValidationError,
				StepID:  s.ID,
				Message: fmt.Sprintf("step %s has no op", label),
				Hint:    "Every step needs an op naming a registered operation",
			}
		}
		if strings.ContainsAny(s.ID, `/\`) || s.ID == "." || s.ID == ".." {
			return &dagerrors.RunError{
				Type:    dagerrors.ValidationError,
				StepID:  s.ID,
				Message: fmt.Sprintf("step id %q must not contain path separators", s.ID),
				Hint:    "Use letters, digits, '-' or '_' in step ids",
			}
		}
		if s.ID != "" {
			if prev, dup := seen[s.ID]; dup {
				return &dagerrors.RunError{
					Type:    dagerrors.ValidationError,
					StepID:  s.ID,
					Message: fmt.Sprintf("duplicate step id %q (steps %d and %d)", s.ID, prev, i),
				}
			}
			seen[s.ID] = i
		}
		switch s.When.(type) {
		case nil, string, bool:
		default:
			return &dagerrors.RunError{
				Type:    dagerrors.ValidationError,
				StepID:  s.ID,
				Message: fmt.Sprintf("step %s: when must be a string or a boolean, got %T", label, s.When),
			}
		}
		if known != nil && !known(s.Op) {
			re := dagerrors.NewUnknownOperation(s.Op)
			re.StepID = s.ID
			re.Hint = "Run `stepwise ops` to list registered operations"
			return re
		}
	}
	return nil
}

// UnproducedRefs lists {{scratch.key}} references whose key is neither an
// input, a seeded key nor written by an earlier step's out or set key. Such
// references fail at run time unless a handler writes the key itself.
func UnproducedRefs(d *Document, seeded []string) []string {
	have := map[string]bool{}
	for _, k := range seeded {
		have[k] = true
	}
	for k := range d.Inputs {
		have[k] = true
	}
	var out []string
	for i, s := range d.Steps {
		args := s.ResolvedArgs()
		for _, str := range collectStrings(args) {
			for _, m := range scratchRefRe.FindAllStringSubmatch(str, -1) {
				if !have[m[1]] {
					out = append(out, fmt.Sprintf("step %d (%s) references scratch.%s before any step writes it", i, s.Op, m[1]))
				}
			}
		}
		if k, ok := args["out"].(string); ok && k != "" {
			have[k] = true
		}
		if k, ok := args["key"].(string); ok && (s.Op == "set" || s.Op == "core.set") {
			have[k] = true
		}
	}
	return out
}

func collectStrings(v any) []string {
	switch x := v.(type) {
	case string:
		return []string{x}
	case map[string]any:
		var out []string
		for _, e := range x {
			out = append(out, collectStrings(e)...)
		}
		return out
	case []any:
		var out []string
		for _, e := range x {
			out = append(out, collectStrings(e)...)
		}
		return out
	}
	return nil
}
