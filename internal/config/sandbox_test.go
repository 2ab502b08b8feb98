package config

import (
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestSandboxLuaVM(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr bool
		errMsg  string
	}{
		// Profiles need these
		{name: "string library", code: `x = string.format("%s-%s", "linux", "arm64")`},
		{name: "table library", code: `t = {"a"}; table.insert(t, "b"); x = table.concat(t, ",")`},
		{name: "math library", code: `x = math.max(1, 2)`},
		{name: "pairs", code: `for k, v in pairs({a = 1}) do end`},
		{name: "tostring and type", code: `x = type(tostring(1))`},

		// Blocked
		{name: "os.execute", code: `os.execute("id")`, wantErr: true, errMsg: "attempt to index"},
		{name: "os.getenv", code: `x = os.getenv("GITHUB_TOKEN")`, wantErr: true, errMsg: "attempt to index"},
		{name: "io.open", code: `io.open("/etc/shadow")`, wantErr: true, errMsg: "attempt to index"},
		{name: "io.popen", code: `io.popen("curl evil")`, wantErr: true, errMsg: "attempt to index"},
		{name: "debug", code: `debug.getinfo(1)`, wantErr: true, errMsg: "attempt to index"},
		{name: "package.loaded", code: `x = package.loaded`, wantErr: true, errMsg: "attempt to index"},
		{name: "require", code: `require("socket")`, wantErr: true, errMsg: "attempt to call"},
		{name: "dofile", code: `dofile("/tmp/x.lua")`, wantErr: true, errMsg: "attempt to call"},
		{name: "loadfile", code: `loadfile("/tmp/x.lua")`, wantErr: true, errMsg: "attempt to call"},
		{name: "load", code: `load("return 1")`, wantErr: true, errMsg: "attempt to call"},
		{name: "loadstring", code: `loadstring("return 1")`, wantErr: true, errMsg: "attempt to call"},
		{name: "setmetatable", code: `setmetatable({}, {})`, wantErr: true, errMsg: "attempt to call"},
		{name: "getmetatable", code: `getmetatable("")`, wantErr: true, errMsg: "attempt to call"},
		{name: "rawset", code: `rawset({}, "a", 1)`, wantErr: true, errMsg: "attempt to call"},
		{name: "collectgarbage", code: `collectgarbage()`, wantErr: true, errMsg: "attempt to call"},

		// Limits
		{name: "unbounded recursion", code: `local function f() return 1 + f() end f()`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			L := newSandboxedVM()
			defer L.Close()

			err := L.DoString(tt.code)
			if (err != nil) != tt.wantErr {
				t.Errorf("DoString(%q) error = %v, wantErr %v", tt.code, err, tt.wantErr)
				return
			}

			if tt.wantErr && tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("DoString(%q) error = %v, want substring %q", tt.code, err, tt.errMsg)
			}
		})
	}
}

func TestNewSandboxedVM(t *testing.T) {
	L := newSandboxedVM()
	defer L.Close()

	for _, name := range []string{"os", "io", "require", "rawset"} {
		if v := L.GetGlobal(name); v.Type() != lua.LTNil {
			t.Errorf("global %s = %v, want nil", name, v.Type())
		}
	}

	for _, name := range []string{"string", "table", "math"} {
		if v := L.GetGlobal(name); v.Type() != lua.LTTable {
			t.Errorf("global %s = %v, want table", name, v.Type())
		}
	}
}
