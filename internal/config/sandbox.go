package config

import (
	lua "github.com/yuin/gopher-lua"
)

// sandboxLuaVM configures a Lua VM to run in a restricted sandbox.
// This disables functions that could:
// - Execute system commands (os.execute, os.exit)
// - Access the filesystem (io.open, io.popen)
// - Load external code (require, dofile, loadfile)
// - Bypass the read-only platform table (rawset, setmetatable)
//
// Safe modules like string, table, and math are preserved.
// This keeps install profiles declarative.
func sandboxLuaVM(L *lua.LState) {
	for _, name := range []string{
		"os", "io", "debug", "package",
		"require", "dofile", "loadfile", "load", "loadstring",
		"getmetatable", "setmetatable", "rawget", "rawset", "rawequal",
		"collectgarbage", "module", "newproxy",
	} {
		L.SetGlobal(name, lua.LNil)
	}
}

// newSandboxedVM creates a new Lua VM with sandboxing applied.
// This is the primary way to create a Lua state for profile parsing.
func newSandboxedVM() *lua.LState {
	L := lua.NewState(lua.Options{
		CallStackSize: luaCallStack,
		RegistrySize:  luaRegistry,
	})
	sandboxLuaVM(L)
	return L
}
