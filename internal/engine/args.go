package engine

import (
	"fmt"
	"math"

	dagerrors "github.com/stevehiehn/stepwise/internal/errors"
)

// Args is the free-form argument bag of a step. Handlers extract typed
// values with the accessors below and apply their own defaults.
type Args map[string]any

// Clone returns a shallow copy. A nil receiver yields an empty map.
func (a Args) Clone() Args {
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Merge returns a copy of a overlaid with over.
func (a Args) Merge(over Args) Args {
	out := a.Clone()
	for k, v := range over {
		out[k] = v
	}
	return out
}

// Has reports whether key is present with a non-nil value.
func (a Args) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

// Require fails when any of keys is missing.
func (a Args) Require(op string, keys ...string) error {
	for _, k := range keys {
		if !a.Has(k) {
			return dagerrors.NewValidationError(fmt.Sprintf("%s: missing required arg %q", op, k), "")
		}
	}
	return nil
}

// String returns the string value of key or def when absent.
func (a Args) String(key, def string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case fmt.Stringer:
		return x.String(), nil
	case int, int64, float64, bool:
		return fmt.Sprint(x), nil
	}
	return "", typeError(key, "string", v)
}

// Int returns the integer value of key or def when absent.
func (a Args) Int(key string, def int) (int, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case int32:
		return int(x), nil
	case int64:
		return int(x), nil
	case uint64:
		return int(x), nil
	case float64:
		if x == math.Trunc(x) {
			return int(x), nil
		}
	}
	return 0, typeError(key, "integer", v)
}

// Float returns the numeric value of key or def when absent.
func (a Args) Float(key string, def float64) (float64, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	}
	return 0, typeError(key, "number", v)
}

// Bool returns the boolean value of key or def when absent.
func (a Args) Bool(key string, def bool) (bool, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, typeError(key, "boolean", v)
}

// StringMap returns a map argument with every value rendered as a string.
func (a Args) StringMap(key string) (map[string]string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return map[string]string{}, nil
	}
	out := map[string]string{}
	switch x := v.(type) {
	case map[string]string:
		for k, s := range x {
			out[k] = s
		}
	case map[string]any:
		for k, s := range x {
			out[k] = fmt.Sprint(s)
		}
	case Args:
		for k, s := range x {
			out[k] = fmt.Sprint(s)
		}
	default:
		return nil, typeError(key, "map", v)
	}
	return out, nil
}

func typeError(key, want string, got any) error {
	return dagerrors.NewValidationError(fmt.Sprintf("arg %q: expected %s, got %T", key, want, got), "")
}
