package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/vm-server/agent-installer/internal/platform"
)

// ParseTimeout bounds how long a profile may run.
const ParseTimeout = 5 * time.Second

// Profile holds setting overrides read from a Lua install profile.
type Profile struct {
	Path   string
	Values map[string]any
}

// profileKeys maps the Lua field names accepted in the install table to
// setting keys, and whether the value is a boolean.
var profileKeys = map[string]struct {
	key    string
	isBool bool
}{
	"version":         {KeyVersionTag, false},
	"repo":            {KeyRepo, false},
	"api_url":         {KeyAPIURL, false},
	"download_url":    {KeyDownloadURL, false},
	"install_path":    {KeyInstallPath, false},
	"config_dir":      {KeyConfigDir, false},
	"config_file":     {KeyConfigFile, false},
	"log_file":        {KeyLogFile, false},
	"server":          {KeyServer, false},
	"no_start":        {KeyNoStart, true},
	"skip_verify":     {KeySkipVerify, true},
	"keyring":         {KeyKeyring, false},
	"bundle_identity": {KeyBundleIdentity, false},
	"bundle_issuer":   {KeyBundleIssuer, false},
	"trusted_root":    {KeyTrustedRoot, false},
}

// Parser reads Lua install profiles with platform detection.
type Parser struct {
	detector platform.Detector
	logger   Logger
}

// NewParser creates a new profile parser with the given platform detector.
func NewParser(detector platform.Detector) *Parser {
	return &Parser{detector: detector, logger: NopLogger()}
}

// WithLogger sets the logger used for warnings about profile content.
func (p *Parser) WithLogger(logger Logger) *Parser {
	p.logger = OrNop(logger)
	return p
}

// ParseFile reads and evaluates the profile at path.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Profile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	if info.Size() > maxProfileSize {
		return nil, &ParseError{
			Message: "profile too large",
			Detail:  fmt.Sprintf("%d bytes exceeds %d", info.Size(), maxProfileSize),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	for _, f := range DetectSensitiveData(string(data)) {
		p.logger.Warn("possible secret in install profile", "path", path, "line", f.Line, "kind", f.PatternName,
			"preview", f.Preview, "hint", "pass the OTP as an argument and tokens through GITHUB_TOKEN")
	}

	profile, err := p.ParseString(ctx, string(data))
	if err != nil {
		return nil, err
	}
	profile.Path = path
	return profile, nil
}

// ParseString evaluates profile source held in memory.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*Profile, error) {
	L := newSandboxedVM()
	defer L.Close()

	if p.detector != nil {
		info, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		if err := platform.InjectPlatformTable(L, info); err != nil {
			return nil, fmt.Errorf("inject platform table: %w", err)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, ParseTimeout)
	defer cancel()
	L.SetContext(runCtx)

	if err := L.DoString(luaCode); err != nil {
		if ctxErr := runCtx.Err(); ctxErr != nil {
			return nil, &ParseError{Message: "profile evaluation aborted", Detail: ctxErr.Error(), Err: ctxErr}
		}
		return nil, &ParseError{
			Message: "Lua syntax error",
			Detail:  err.Error(),
		}
	}

	return extractProfile(L)
}

// ParseError represents a profile parsing error with friendly message.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua error)
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// extractProfile reads the global "install" table. A profile without one
// only evaluates for side effects and yields no overrides.
func extractProfile(L *lua.LState) (*Profile, error) {
	profile := &Profile{Values: make(map[string]any)}

	global := L.GetGlobal(luaGlobalInstall)
	if global.Type() == lua.LTNil {
		return profile, nil
	}
	table, ok := global.(*lua.LTable)
	if !ok {
		return nil, &ParseError{
			Message: "invalid 'install' table",
			Detail:  fmt.Sprintf("expected table, got %s", global.Type()),
		}
	}

	var errs []string
	table.ForEach(func(k, v lua.LValue) {
		name, ok := k.(lua.LString)
		if !ok {
			errs = append(errs, fmt.Sprintf("non-string key %s", k.String()))
			return
		}

		spec, known := profileKeys[string(name)]
		if !known {
			errs = append(errs, fmt.Sprintf("unknown field %q", string(name)))
			return
		}

		// nil comes from platform conditionals, e.g. platform.is_arm and "x" or nil
		switch {
		case v.Type() == lua.LTNil:
		case spec.isBool && v.Type() == lua.LTBool:
			profile.Values[spec.key] = bool(v.(lua.LBool))
		case !spec.isBool && v.Type() == lua.LTString:
			profile.Values[spec.key] = string(v.(lua.LString))
		default:
			want := "string"
			if spec.isBool {
				want = "boolean"
			}
			errs = append(errs, fmt.Sprintf("field %q must be a %s, got %s", string(name), want, v.Type()))
		}
	})

	if len(errs) > 0 {
		sort.Strings(errs)
		return nil, &ParseError{
			Message: "invalid install profile",
			Detail:  strings.Join(errs, "; "),
		}
	}

	return profile, nil
}

// FormatError formats a ParseError for user display.
// In verbose mode, show the raw Lua error. Otherwise, show friendly message.
func FormatError(err error, verbose bool) string {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		if verbose {
			return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
		}
		detail := parseErr.Detail
		if idx := strings.Index(detail, "stack traceback"); idx > 0 {
			detail = strings.TrimSpace(detail[:idx])
		}
		return fmt.Sprintf("%s: %s", parseErr.Message, detail)
	}
	return err.Error()
}
