package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"golang.org/x/text/encoding/ianaindex"

	"github.com/leapstack-labs/jbuild/internal/backend"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

const (
	optProcOnly      = "-proc:only"
	optProcFull      = "-proc:full"
	optProcNone      = "-proc:none"
	optRelease       = "--release"
	optTarget        = "-target"
	optSource        = "-source"
	optSystem        = "--system"
	optEnablePreview = "--enable-preview"
	optEncoding      = "-encoding"
)

// Options that take a value and are always computed by the builder.
var filteredOptions = map[string]bool{optTarget: true, optRelease: true, "-d": true}

// Flags the builder sets from configuration.
var filteredSingleOptions = map[string]bool{
	"-g": true, "-deprecation": true, "-nowarn": true, "-verbose": true,
	optProcNone: true, optProcOnly: true, optProcFull: true, "-proceedOnError": true,
}

var conflictingOptions = map[string]bool{
	optSource: true, optSystem: true, "--boot-class-path": true, "-bootclasspath": true,
	"--class-path": true, "-classpath": true, "-cp": true, "-processorpath": true,
	"-sourcepath": true, "--module-path": true, "-p": true, "--module-source-path": true,
}

// commonOptions is the chunk-independent part of the javac command line.
type commonOptions struct {
	options []string
	vm      []string
	// userTarget is the value of a -target found in the user's options.
	userTarget string
	ignored    []string
	conflicts  []string
}

// additionalOptions is the user option string of the chunk: the first
// module override, else the project setting.
func (s *Session) additionalOptions(chunk *core.Chunk) string {
	for _, m := range chunk.Modules {
		if m.AdditionalOptions != "" {
			return m.AdditionalOptions
		}
	}
	return s.project.Compiler.AdditionalOptions
}

// commonOptions returns the cached common options for the chunk's option
// string and reports the user options that were dropped or may conflict.
func (s *Session) commonOptions(chunk *core.Chunk) *commonOptions {
	raw := s.additionalOptions(chunk)

	s.mu.Lock()
	co, ok := s.common[raw]
	if !ok {
		co = parseCommonOptions(s.project.Compiler, raw)
		s.common[raw] = co
	}
	s.mu.Unlock()

	for _, opt := range co.ignored {
		s.notify("ignored:"+opt+":"+chunk.Name, true, "user-specified option %q is ignored for %s", opt, chunk.Name)
	}
	for _, opt := range co.conflicts {
		s.notify("conflict:"+opt+":"+chunk.Name, true, "user-specified option %q for %s may conflict with calculated option", opt, chunk.Name)
	}
	return co
}

func parseCommonOptions(cfg core.CompilerConfig, raw string) *commonOptions {
	co := &commonOptions{}
	if cfg.Debug {
		co.options = append(co.options, "-g")
	}
	if cfg.Deprecation {
		co.options = append(co.options, "-deprecation")
	}
	if cfg.NoWarn {
		co.options = append(co.options, "-nowarn")
	}

	skip, isTarget := false, false
	for _, opt := range TokenizeOptions(raw) {
		if filteredOptions[opt] {
			skip = true
			isTarget = opt == optTarget
			co.ignored = append(co.ignored, opt)
			continue
		}
		if skip {
			skip = false
			if isTarget {
				isTarget = false
				co.userTarget = opt
			}
			continue
		}
		if filteredSingleOptions[opt] {
			co.ignored = append(co.ignored, opt)
			continue
		}
		if conflictingOptions[opt] {
			co.conflicts = append(co.conflicts, opt)
		}
		if strings.HasPrefix(opt, "-J-") {
			co.vm = append(co.vm, strings.TrimPrefix(opt, "-J"))
			continue
		}
		co.options = append(co.options, opt)
	}
	return co
}

// TokenizeOptions splits a command line on whitespace. Single and double
// quotes group words and are removed; a backslash escapes the next rune.
func TokenizeOptions(s string) []string {
	var (
		out     []string
		cur     strings.Builder
		quote   rune
		escaped bool
		inToken bool
	)
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
			inToken = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inToken = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if inToken {
				out = append(out, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if inToken {
		out = append(out, cur.String())
	}
	return out
}

// chunkInfo holds the per-chunk facts options depend on.
type chunkInfo struct {
	chunk *core.Chunk
	// sdk is the runtime with the lowest version among the modules' SDKs.
	sdk    *core.Runtime
	sdkVer int
	// level is the configured language level, 0 when unset.
	level   int
	preview bool
	profile *core.ProcessingProfile
}

func (s *Session) describeChunk(chunk *core.Chunk) chunkInfo {
	ci := chunkInfo{chunk: chunk}
	for _, m := range chunk.Modules {
		name := m.SDK
		if name == "" {
			name = s.project.SDK
		}
		rt, ok := s.project.FindRuntime(name)
		if !ok {
			continue
		}
		if v := backend.ParseVersion(rt.Version); v > 0 && (ci.sdkVer == 0 || v < ci.sdkVer) {
			r := rt
			ci.sdk, ci.sdkVer = &r, v
		}
	}
	rep := chunk.Modules[0]
	ci.level = s.languageLevel(rep)
	ci.preview = rep.Preview
	if len(chunk.Modules) == 1 && rep.ProcessingEnabled() {
		ci.profile = rep.AnnotationProcessing
	}
	return ci
}

func (s *Session) languageLevel(m *core.Module) int {
	if m.LanguageLevel > 0 {
		return m.LanguageLevel
	}
	return s.project.LanguageLevel
}

// targetLanguageLevel is the assumed source level: the configured one,
// else the chunk's JDK version.
func (ci chunkInfo) targetLanguageLevel() int {
	if ci.level > 0 {
		return ci.level
	}
	return ci.sdkVer
}

// compilationOptions builds the full option list for a compiler of the
// given version. A nil profile disables annotation processing.
func (s *Session) compilationOptions(compilerVer int, ci chunkInfo, profile *core.ProcessingProfile, co *commonOptions) ([]string, error) {
	opts := slices.Clone(co.options)
	opts = s.encodingOptions(ci.chunk, opts)
	opts = append(opts, crossCompilationOptions(s.project.Compiler, compilerVer, ci, co.userTarget, opts)...)

	if ci.preview && !slices.Contains(opts, optEnablePreview) {
		opts = append(opts, optEnablePreview)
	}

	if profile == nil || !profile.Enabled {
		return append(opts, optProcNone), nil
	}
	if len(profile.ProcessorPath) > 0 {
		if profile.UseModulePath {
			opts = append(opts, "--processor-module-path")
		} else {
			opts = append(opts, "-processorpath")
		}
		opts = append(opts, strings.Join(profile.ProcessorPath, string(os.PathListSeparator)))
	}
	if len(profile.Processors) > 0 {
		opts = append(opts, "-processor", strings.Join(profile.Processors, ","))
	}
	keys := make([]string, 0, len(profile.Options))
	for k := range profile.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		opts = append(opts, fmt.Sprintf("-A%s=%s", k, profile.Options[k]))
	}

	if profile.ProcOnly {
		opts = append(opts, optProcOnly)
	} else if compilerVer > 22 {
		opts = append(opts, optProcFull)
	}

	if dir := generatedSourcesDir(ci.chunk, profile); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating generated sources directory: %w", err)
		}
		opts = append(opts, "-s", dir)
	}
	return opts, nil
}

// generatedSourcesDir resolves a relative profile directory next to the
// module's output directory. The default is "generated".
func generatedSourcesDir(chunk *core.Chunk, profile *core.ProcessingProfile) string {
	m := chunk.Modules[0]
	out := chunk.OutputDir(m)
	dir := profile.GeneratedDir
	if dir == "" {
		if out == "" {
			return ""
		}
		dir = "generated"
	}
	if filepath.IsAbs(dir) || out == "" {
		return dir
	}
	return filepath.Join(filepath.Dir(out), dir)
}

// crossCompilationOptions chooses between --release and -source/-target
// and points javac at the chunk's JDK with --system when it differs from
// the compiler's own.
func crossCompilationOptions(cfg core.CompilerConfig, compilerVer int, ci chunkInfo, userTarget string, existing []string) []string {
	var opts []string
	target := bytecodeTarget(ci, userTarget)

	if useReleaseOption(cfg, compilerVer, ci.sdkVer, target) {
		return []string{optRelease, complianceOption(target)}
	}

	if ci.level > 0 && !slices.Contains(existing, optSource) {
		opts = append(opts, optSource, complianceOption(ci.level))
	}

	newerCompiler := ci.sdkVer > 0 && compilerVer > ci.sdkVer
	if target > 0 {
		if newerCompiler && compilerVer >= target && target > ci.sdkVer {
			target = ci.sdkVer
		}
	} else if newerCompiler {
		target = ci.sdkVer
	}
	if target > 0 {
		opts = append(opts, optTarget, complianceOption(target))
	}

	if compilerVer >= 9 && ci.sdk != nil && ci.sdkVer >= 9 && ci.sdkVer != compilerVer && ci.sdk.Home != "" {
		opts = append(opts, optSystem, filepath.ToSlash(ci.sdk.Home))
	}
	return opts
}

// bytecodeTarget is the lowest module target, else the language level,
// else a -target from the user's options.
func bytecodeTarget(ci chunkInfo, userTarget string) int {
	target := 0
	for _, m := range ci.chunk.Modules {
		if t := backend.ParseVersion(m.BytecodeTarget); t > 0 && (target == 0 || t < target) {
			target = t
		}
	}
	if target > 0 {
		return target
	}
	if ci.level > 0 {
		return ci.level
	}
	if userTarget != "" {
		return backend.ParseVersion(userTarget)
	}
	return 0
}

func useReleaseOption(cfg core.CompilerConfig, compilerVer, sdkVer, target int) bool {
	if !cfg.UseReleaseOption || compilerVer < 9 || sdkVer <= 0 || target <= 0 {
		return false
	}
	if sdkVer < 9 {
		return false
	}
	return compilerVer != target
}

// complianceOption renders a feature release the way javac expects it.
func complianceOption(v int) string {
	if v <= 8 {
		return fmt.Sprintf("1.%d", v)
	}
	return fmt.Sprint(v)
}

// collectAdditionalRequires returns the modules named by --add-reads.
func collectAdditionalRequires(options []string) []string {
	var out []string
	for i := 0; i < len(options)-1; i++ {
		if !strings.EqualFold(options[i], "--add-reads") {
			continue
		}
		_, names, _ := strings.Cut(options[i+1], "=")
		for _, n := range strings.Split(names, ",") {
			if n = strings.TrimSpace(n); n != "" && !slices.Contains(out, n) {
				out = append(out, n)
			}
		}
		i++
	}
	return out
}

// encodingOptions adds -encoding unless the user set it. When modules
// disagree the project encoding wins if any module uses it, else the
// lexicographically first.
func (s *Session) encodingOptions(chunk *core.Chunk, opts []string) []string {
	if slices.Contains(opts, optEncoding) {
		return opts
	}
	project := CanonicalEncoding(s.project.Encoding)
	seen := make(map[string]bool)
	for _, m := range chunk.Modules {
		enc := m.Encoding
		if enc == "" {
			enc = s.project.Encoding
		}
		if enc = CanonicalEncoding(enc); enc != "" {
			seen[enc] = true
		}
	}
	if len(seen) == 0 {
		return opts
	}
	encodings := make([]string, 0, len(seen))
	for e := range seen {
		encodings = append(encodings, e)
	}
	sort.Strings(encodings)

	chosen := encodings[0]
	if len(encodings) > 1 {
		if seen[project] {
			chosen = project
		}
		s.notify("encoding:"+chunk.Name, true, "modules of %s use different encodings (%s); using %s",
			chunk.Name, strings.Join(encodings, ", "), chosen)
	}
	return append(opts, optEncoding, chosen)
}

// CanonicalEncoding returns the IANA name of a charset, or the trimmed
// input when the registry does not know it.
func CanonicalEncoding(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return name
	}
	canonical, err := ianaindex.IANA.Name(enc)
	if err != nil {
		return name
	}
	return canonical
}
