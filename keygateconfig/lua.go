package keygateconfig

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/keksclan/goKeygate/keygate"
	lua "github.com/yuin/gopher-lua"
)

// luaLoader loads config from a Lua file.
type luaLoader struct {
	path string
}

// FromLuaFile creates a Loader that reads config from a Lua file. The script
// must return a table shaped like the JSON form.
func FromLuaFile(path string) Loader {
	return &luaLoader{path: path}
}

func (l *luaLoader) loadRaw(_ context.Context) (keygate.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return keygate.Config{}, fmt.Errorf("read lua config file: %w", err)
	}
	return evalLua(string(data))
}

func (l *luaLoader) Load(ctx context.Context) (*keygate.Config, error) {
	cfg, err := l.loadRaw(ctx)
	if err != nil {
		return nil, err
	}
	return finalize(cfg)
}

// LoadLuaString parses a Lua config string and returns a keygate.Config.
// Exported for testing convenience.
func LoadLuaString(script string) (*keygate.Config, error) {
	cfg, err := evalLua(script)
	if err != nil {
		return nil, err
	}
	return finalize(cfg)
}

func evalLua(script string) (keygate.Config, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	// Only open safe libs for config parsing
	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(pair.fn))
		L.Push(lua.LString(pair.name))
		L.Call(1, 0)
	}
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("require", lua.LNil)

	if err := L.DoString(script); err != nil {
		return keygate.Config{}, fmt.Errorf("lua config execution: %w", err)
	}

	ret := L.Get(-1)
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return keygate.Config{}, fmt.Errorf("lua config must return a table, got %s", ret.Type().String())
	}
	return luaTableToConfig(tbl), nil
}

func luaTableToConfig(tbl *lua.LTable) keygate.Config {
	var cfg keygate.Config
	if pid := str(tbl, "project_id"); pid != "" {
		cfg = keygate.ForFirebaseProject(pid)
	}
	if v := str(tbl, "issuer"); v != "" {
		cfg.Issuer = v
	}
	if v := str(tbl, "audience"); v != "" {
		cfg.Audience = v
	}
	cfg.ClockSkew = duration(tbl, "clock_skew_sec", time.Second)

	if keys, ok := field[*lua.LTable](tbl, "keys"); ok {
		if v := str(keys, "url"); v != "" {
			cfg.Keys.URL = v
		}
		if v := str(keys, "format"); v != "" {
			cfg.Keys.Format = keygate.KeyFormat(v)
		}
		cfg.Keys.CacheTTL = duration(keys, "cache_ttl_sec", time.Second)
		cfg.Keys.FetchTimeout = duration(keys, "fetch_timeout_ms", time.Millisecond)
		cfg.Keys.RefreshOnUnknownKID = duration(keys, "refresh_on_unknown_kid_sec", time.Second)
		cfg.Keys.FailureBackoff = duration(keys, "failure_backoff_sec", time.Second)

		if auth, ok := field[*lua.LTable](keys, "auth"); ok {
			cfg.Keys.Auth = keygate.KeysAuth{
				Kind:        keygate.KeysAuthKind(str(auth, "kind")),
				Username:    str(auth, "username"),
				Password:    str(auth, "password"),
				BearerToken: str(auth, "bearer_token"),
				HeaderName:  str(auth, "header_name"),
				HeaderValue: str(auth, "header_value"),
			}
		}
		cfg.Keys.ExtraHeaders = stringMap(keys, "extra_headers")
	}

	if bp, ok := field[*lua.LTable](tbl, "bypass"); ok {
		noStatic, _ := field[lua.LBool](bp, "no_static_assets")
		anyDot, _ := field[lua.LBool](bp, "any_dot")
		cfg.Bypass = keygate.BypassConfig{
			ReauthPath:     str(bp, "reauth_path"),
			RedirectParam:  str(bp, "redirect_param"),
			NoStaticAssets: bool(noStatic),
			AnyDot:         bool(anyDot),
			Paths:          stringList(bp, "paths"),
			Prefixes:       stringList(bp, "prefixes"),
		}
	}
	return cfg
}

// field returns tbl[key] when it holds a T. Values of other types read as
// absent.
func field[T lua.LValue](tbl *lua.LTable, key string) (T, bool) {
	v, ok := tbl.RawGetString(key).(T)
	return v, ok
}

func str(tbl *lua.LTable, key string) string {
	v, _ := field[lua.LString](tbl, key)
	return string(v)
}

func duration(tbl *lua.LTable, key string, unit time.Duration) time.Duration {
	n, _ := field[lua.LNumber](tbl, key)
	return time.Duration(float64(n) * float64(unit))
}

// stringList reads the array part of tbl[key]. Non-string elements keep
// their slot as "" so validation can reject them.
func stringList(tbl *lua.LTable, key string) []string {
	t, ok := field[*lua.LTable](tbl, key)
	if !ok || t.Len() == 0 {
		return nil
	}
	out := make([]string, 0, t.Len())
	for i := 1; i <= t.Len(); i++ {
		s, _ := t.RawGetInt(i).(lua.LString)
		out = append(out, string(s))
	}
	return out
}

func stringMap(tbl *lua.LTable, key string) map[string]string {
	t, ok := field[*lua.LTable](tbl, key)
	if !ok {
		return nil
	}
	var out map[string]string
	t.ForEach(func(k, v lua.LValue) {
		ks, kok := k.(lua.LString)
		vs, vok := v.(lua.LString)
		if !kok || !vok {
			return
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[string(ks)] = string(vs)
	})
	return out
}
