package template

import (
	"fmt"
	"regexp"
	"strings"
)

var refRe = regexp.MustCompile(`\{\{\s*(scratch|config)\.([^}\s]+)\s*\}\}`)

// Context holds available values for template resolution.
type Context struct {
	Scratch map[string]any
	// Config looks up a per-operation default.
	Config func(op, key string) (any, bool)
	// Placeholders makes unresolved references render as <ns.path>
	// instead of failing, so dry runs can proceed past missing values.
	Placeholders bool
}

// resolveString replaces every {{scratch.K}} and {{config.OP.K}} in s.
func resolveString(s string, ctx *Context) (string, error) {
	var resolveErr error
	result := refRe.ReplaceAllStringFunc(s, func(match string) string {
		m := refRe.FindStringSubmatch(match)
		v, err := lookup(m[1], m[2], ctx)
		if err != nil {
			resolveErr = err
			return match
		}
		return fmt.Sprint(v)
	})
	if resolveErr != nil {
		return "", resolveErr
	}
	return result, nil
}

// ResolveValue resolves references inside v. A string consisting of a single
// reference yields the referenced value with its own type; maps and slices
// are walked recursively.
func ResolveValue(v any, ctx *Context) (any, error) {
	switch x := v.(type) {
	case string:
		if m := refRe.FindStringSubmatch(x); m != nil && strings.TrimSpace(x) == m[0] {
			return lookup(m[1], m[2], ctx)
		}
		return resolveString(x, ctx)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			r, err := ResolveValue(e, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			r, err := ResolveValue(e, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return v, nil
}

// HasRefs reports whether s contains any reference.
func HasRefs(s string) bool { return refRe.MatchString(s) }

func lookup(ns, path string, ctx *Context) (any, error) {
	switch ns {
	case "scratch":
		if v, ok := walk(ctx.Scratch, path); ok {
			return v, nil
		}
	case "config":
		op, key, ok := cutLast(path)
		if ok && ctx.Config != nil {
			if v, found := ctx.Config(op, key); found {
				return v, nil
			}
		}
	}
	if ctx.Placeholders {
		return fmt.Sprintf("<%s.%s>", ns, path), nil
	}
	return nil, fmt.Errorf("unresolved reference %s.%s", ns, path)
}

// walk looks path up as a literal key first, then as a dotted descent
// through nested maps.
func walk(m map[string]any, path string) (any, bool) {
	if v, ok := m[path]; ok {
		return v, true
	}
	var cur any = m
	for _, seg := range strings.Split(path, ".") {
		next, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = next[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// cutLast splits "op.name.key" into ("op.name", "key") so qualified
// operation names keep their dots.
func cutLast(path string) (string, string, bool) {
	i := strings.LastIndex(path, ".")
	if i <= 0 || i == len(path)-1 {
		return "", "", false
	}
	return path[:i], path[i+1:], true
}
