package builtins

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// ScriptRun executes a Lua script in a sandboxed state. The script must
// define a main(args) function; its returned table becomes the step
// result. The step's remaining arguments are passed to main as a table.
//
// Args: source (inline Lua) or path (script file, ~ expanded) — exactly
// one of the two.
func ScriptRun(ctx context.Context, args map[string]any) (map[string]any, error) {
	source, hasSource := stringArg(args, "source")
	path, hasPath := stringArg(args, "path")
	if hasSource == hasPath {
		return nil, fmt.Errorf("script.run requires exactly one of %q or %q", "source", "path")
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // nothing loads unless we open it
	})
	defer L.Close()
	L.SetContext(ctx)

	openSafeLibs(L)

	var err error
	if hasSource {
		err = L.DoString(source)
	} else {
		err = L.DoFile(expandHome(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load script: %w", err)
	}

	main := L.GetGlobal("main")
	if main == lua.LNil {
		return nil, fmt.Errorf("script must define a 'main' function")
	}

	// Everything except the script locator is handed to main.
	scriptArgs := make(map[string]any, len(args))
	for k, v := range args {
		if k == "source" || k == "path" {
			continue
		}
		scriptArgs[k] = v
	}

	L.Push(main)
	L.Push(goToLua(L, scriptArgs))
	if err := L.PCall(1, 1, nil); err != nil {
		return nil, fmt.Errorf("script execution failed: %w", err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	if tbl, ok := ret.(*lua.LTable); ok {
		if m, ok := luaToGo(tbl).(map[string]any); ok {
			return m, nil
		}
	}
	if ret == lua.LNil {
		return map[string]any{}, nil
	}
	return map[string]any{"value": luaToGo(ret)}, nil
}

// openSafeLibs loads only the safe standard libraries.
func openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	// Remove escape hatches from base
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil)

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Remove non-deterministic math functions
	if tbl, ok := L.GetGlobal("math").(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			L.SetTable(tbl, lua.LNumber(i+1), goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			L.SetField(tbl, k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		// A table with consecutive integer keys becomes a slice,
		// anything else a map.
		if n := val.MaxN(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, luaToGo(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			out[k.String()] = luaToGo(item)
		})
		return out
	default:
		return val.String()
	}
}
