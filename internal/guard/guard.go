// Package guard provides string evaluators for step guards. Each evaluator
// sees the same view of the run context: payload, config, scratch,
// validate_only and runtime.
package guard

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/stevehiehn/stepwise/internal/engine"
)

// Evaluator names accepted by ByName.
const (
	Expr = "expr"
	JQ   = "jq"
	Lua  = "lua"
)

// ByName returns the evaluator registered under name. The match is
// case-insensitive.
func ByName(name string) (engine.WhenEvaluator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case Expr:
		return NewExpr().Evaluate, nil
	case JQ:
		return NewJQ().Evaluate, nil
	case Lua:
		return NewLua().Evaluate, nil
	}
	return nil, fmt.Errorf("unknown guard evaluator %q (want one of %s)", name, strings.Join(Names(), ", "))
}

// Names lists the available evaluators.
func Names() []string {
	out := []string{Expr, JQ, Lua}
	sort.Strings(out)
	return out
}

// cache memoizes compiled programs by source text.
type cache[T any] struct {
	mu    sync.Mutex
	items map[string]T
}

func (c *cache[T]) get(src string, compile func(string) (T, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.items[src]; ok {
		return v, nil
	}
	v, err := compile(src)
	if err != nil {
		return v, err
	}
	if c.items == nil {
		c.items = map[string]T{}
	}
	c.items[src] = v
	return v, nil
}

// snapshot returns rc's guard view as plain JSON-shaped values. The payload
// is only converted when src mentions it, and becomes nil when it has no
// JSON form (NaN, channels, funcs).
func snapshot(src string, rc *engine.RunContext) (map[string]any, error) {
	snap := rc.Snapshot()
	payload := snap["payload"]
	delete(snap, "payload")
	v, err := normalize(snap)
	if err != nil {
		return nil, err
	}
	out, _ := v.(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	out["payload"] = nil
	if payload != nil && strings.Contains(src, "payload") {
		if p, err := normalize(payload); err == nil {
			out["payload"] = p
		}
	}
	return out, nil
}

// normalize round-trips v through JSON so evaluators that need plain
// JSON-shaped values (maps, slices, float64) get them.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// truthy follows jq and Lua: only nil and false are false.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	}
	return true
}
