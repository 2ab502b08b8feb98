// Package config resolves installer settings and carries the logging
// interface shared by the other packages.
//
// # Sources
//
// Settings are merged with viper, highest precedence first:
//
//  1. positional arguments (SERVER_URL)
//  2. command-line flags that were explicitly set
//  3. environment variables: VMAGENT_<KEY>, e.g. VMAGENT_INSTALL_PATH
//  4. the YAML settings file given with --settings
//  5. the Lua install profile given with --profile
//  6. built-in defaults
//
// GITHUB_TOKEN is honored as a fallback for VMAGENT_GITHUB_TOKEN.
//
// # Install Profiles
//
// A profile is a Lua file evaluated by gopher-lua in a sandbox. It sees a
// read-only platform table and sets overrides in a global install table:
//
//	install = {
//	  version = "v1.4.0",
//	  server = "https://vm.example.com",
//	  install_path = platform.is_macos and "/opt/vm-server/bin/vm-server-agent" or nil,
//	  no_start = platform.is_arm,
//	}
//
// Unknown fields and wrongly typed values are rejected with a *ParseError.
//
// ## Sandboxing
//
// Profile code cannot execute commands, touch the filesystem, load other
// code, or reach metatables (os, io, debug, require, dofile, loadfile, load,
// rawset, setmetatable and friends are removed). Evaluation is bounded by
// ParseTimeout, a 256-frame call stack, and a 1MB source limit. Lines that
// look like hardcoded passcodes or tokens are reported as warnings.
//
// # Logging
//
// Logger is a minimal key-value logging interface. NewLogger returns the zap
// backed implementation used by the CLI; NopLogger discards everything.
package config
