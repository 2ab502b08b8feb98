package platform

import (
	lua "github.com/yuin/gopher-lua"
)

// InjectPlatformTable creates a read-only platform table and injects it into
// the Lua state as a global. Install profiles use it to pick per-host values:
//
//	install = {
//	  install_path = platform.when(platform.is_macos, "/opt/vm-server-agent/bin/vm-server-agent"),
//	}
func InjectPlatformTable(L *lua.LState, info *Info) error {
	platformTable := L.NewTable()

	L.SetField(platformTable, "os", lua.LString(info.OS))
	L.SetField(platformTable, "arch", lua.LString(info.Arch))
	L.SetField(platformTable, "arch_raw", lua.LString(info.ArchRaw))
	L.SetField(platformTable, "canonical", lua.LString(info.Canonical))

	L.SetField(platformTable, "is_linux", lua.LBool(info.IsLinux()))
	L.SetField(platformTable, "is_macos", lua.LBool(info.IsMacOS()))
	L.SetField(platformTable, "is_arm", lua.LBool(info.IsARM()))

	if distro := info.GetDistro(); distro != nil {
		distroTable := L.NewTable()
		L.SetField(distroTable, "id", lua.LString(distro.ID))
		L.SetField(distroTable, "family", lua.LString(distro.Family))
		L.SetField(distroTable, "version", lua.LString(distro.Version))
		L.SetField(platformTable, "distro", distroTable)
	} else {
		L.SetField(platformTable, "distro", lua.LNil)
	}

	if info.IsLinux() && info.Family != "" {
		L.SetField(platformTable, "linux_family", lua.LString(info.Family))
	} else {
		L.SetField(platformTable, "linux_family", lua.LNil)
	}

	// when(condition, value) returns value if condition is true, nil otherwise
	L.SetField(platformTable, "when", L.NewFunction(func(L *lua.LState) int {
		if L.CheckBool(1) {
			L.Push(L.Get(2))
		} else {
			L.Push(lua.LNil)
		}
		return 1
	}))

	L.SetGlobal("platform", makeReadOnly(L, platformTable))
	return nil
}

// makeReadOnly wraps table in an empty proxy whose metatable redirects reads
// and rejects writes.
func makeReadOnly(L *lua.LState, table *lua.LTable) *lua.LTable {
	mt := L.NewTable()
	L.SetField(mt, "__index", table)
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("platform table is read-only and cannot be modified")
		return 0
	}))
	L.SetField(mt, "__metatable", lua.LString("protected"))

	proxy := L.NewTable()
	L.SetMetatable(proxy, mt)
	return proxy
}
