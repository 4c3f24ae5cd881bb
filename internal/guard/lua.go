package guard

import (
	"context"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/stevehiehn/stepwise/internal/engine"
)

const defaultLuaTimeout = 2 * time.Second

// LuaEvaluator evaluates guards as Lua expressions or chunks, e.g.
// `scratch.n ~= nil and scratch.n > 2`. Source that does not parse as a
// single expression is run as a chunk and its return value decides. Each call gets a fresh state with only
// the base, string, table and math libraries.
type LuaEvaluator struct {
	Timeout time.Duration
}

// NewLua returns a Lua evaluator with a two second timeout per guard.
func NewLua() *LuaEvaluator { return &LuaEvaluator{Timeout: defaultLuaTimeout} }

// Evaluate runs src with the context snapshot bound as globals.
func (l *LuaEvaluator) Evaluate(src string, rc *engine.RunContext) (bool, error) {
	snap, err := snapshot(src, rc)
	if err != nil {
		return false, fmt.Errorf("lua: normalize context: %w", err)
	}

	L := newLuaState()
	defer L.Close()
	if l.Timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), l.Timeout)
		defer cancel()
		L.SetContext(ctx)
	}
	for k, v := range snap {
		L.SetGlobal(k, toLValue(L, v))
	}

	// Expression form first, then the source as a chunk.
	fn, err := L.LoadString("return (" + src + ")")
	if err != nil {
		if fn, err = L.LoadString(src); err != nil {
			return false, fmt.Errorf("lua: %w", err)
		}
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return false, fmt.Errorf("lua: %w", err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return lua.LVAsBool(ret), nil
}

func newLuaState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.StringLibName, lua.OpenString},
		{lua.TabLibName, lua.OpenTable},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	return L
}

func toLValue(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(x)
	case bool:
		return lua.LBool(x)
	case float64:
		return lua.LNumber(x)
	case int:
		return lua.LNumber(float64(x))
	case map[string]any:
		tbl := L.NewTable()
		for k, e := range x {
			tbl.RawSetString(k, toLValue(L, e))
		}
		return tbl
	case []any:
		tbl := L.NewTable()
		for i, e := range x {
			tbl.RawSetInt(i+1, toLValue(L, e))
		}
		return tbl
	}
	return lua.LNil
}
