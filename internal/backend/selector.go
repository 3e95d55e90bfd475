package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"

	"github.com/leapstack-labs/jbuild/internal/javac"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

// ErrUnknownJDKHome means no runtime can host a forked compilation.
var ErrUnknownJDKHome = errors.New("unknown JDK home")

// ShouldFork decides whether a chunk is compiled out of process. Versions
// are feature releases; 0 means unknown.
func ShouldFork(cfg core.CompilerConfig, host, sdk, target int) bool {
	switch cfg.Mode {
	case core.CompilerModeEmbedded:
		return false
	case core.CompilerModeExternal:
		return true
	}
	if cfg.PreferTargetJDK && sdk >= MinimumForkVersion && sdk != host {
		return true
	}
	if target <= 0 {
		return false
	}
	return !IsTargetReleaseSupported(host, target)
}

// SelectorConfig configures a Selector.
type SelectorConfig struct {
	Compiler core.CompilerConfig
	Runtimes []core.Runtime
	// Host is the toolchain of the embedded backend.
	Host    *javac.Toolchain
	Manager *ServerManager
	Logger  *slog.Logger
}

// Selector picks the backend for each chunk.
type Selector struct {
	cfg    SelectorConfig
	logger *slog.Logger

	mu       sync.Mutex
	hostVer  int
	hostHome string
}

// NewSelector returns a selector. A zero Host uses javac from PATH.
func NewSelector(cfg SelectorConfig) *Selector {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Host == nil {
		cfg.Host = &javac.Toolchain{Logger: cfg.Logger}
		if rt, ok := findRuntime(cfg.Runtimes, cfg.Compiler.HostRuntime); ok {
			cfg.Host.Home = rt.Home
		}
	}
	return &Selector{cfg: cfg, logger: cfg.Logger}
}

func findRuntime(runtimes []core.Runtime, name string) (core.Runtime, bool) {
	for _, r := range runtimes {
		if name != "" && r.Name == name {
			return r, true
		}
	}
	return core.Runtime{}, false
}

// HostVersion is the feature release of the embedded compiler, taken from
// the configured host runtime or asked from javac once.
func (s *Selector) HostVersion(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hostVer > 0 {
		return s.hostVer, nil
	}
	if rt, ok := findRuntime(s.cfg.Runtimes, s.cfg.Compiler.HostRuntime); ok {
		if v := ParseVersion(rt.Version); v > 0 {
			s.hostVer = v
			return v, nil
		}
	}
	raw, err := s.cfg.Host.Version(ctx)
	if err != nil {
		return 0, &InfraError{Op: "detect host compiler", Err: err}
	}
	v := ParseVersion(raw)
	if v == 0 {
		return 0, &InfraError{Op: "detect host compiler", Err: fmt.Errorf("unparseable version %q", raw)}
	}
	s.hostVer = v
	return v, nil
}

// Select returns the compiler for a chunk whose SDK is sdk (nil when the
// chunk has none) and whose bytecode target is target (0 when unset).
// ErrUnknownJDKHome means a fork was needed but no runtime qualifies.
func (s *Selector) Select(ctx context.Context, sdk *core.Runtime, target int) (Compiler, error) {
	host, err := s.HostVersion(ctx)
	if err != nil {
		return nil, err
	}
	sdkVer := 0
	if sdk != nil {
		sdkVer = ParseVersion(sdk.Version)
	}

	if !ShouldFork(s.cfg.Compiler, host, sdkVer, target) {
		return &Embedded{Toolchain: s.cfg.Host, Release: host}, nil
	}

	rt, ok := s.forkRuntime(sdk, sdkVer, target, host)
	if !ok {
		return nil, ErrUnknownJDKHome
	}
	s.logger.Debug("compiling out of process", "home", rt.Home, "version", rt.Version, "target", target)
	return &External{
		Manager:      s.cfg.Manager,
		Runtime:      rt,
		Release:      ParseVersion(rt.Version),
		PollInterval: s.cfg.Compiler.PollInterval,
	}, nil
}

// forkRuntime prefers the chunk's own SDK, then the newest configured
// runtime able to produce target, then the host JDK, then the chunk's SDK
// even if it cannot produce target.
func (s *Selector) forkRuntime(sdk *core.Runtime, sdkVer, target, host int) (core.Runtime, bool) {
	if sdk != nil && sdk.Home != "" && sdkVer >= MinimumForkVersion && supports(sdkVer, target) {
		return *sdk, true
	}

	candidates := make([]core.Runtime, 0, len(s.cfg.Runtimes))
	for _, r := range s.cfg.Runtimes {
		v := ParseVersion(r.Version)
		if r.Home != "" && v >= MinimumForkVersion && supports(v, target) {
			candidates = append(candidates, r)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return ParseVersion(candidates[i].Version) > ParseVersion(candidates[j].Version)
	})
	if len(candidates) > 0 {
		return candidates[0], true
	}

	if home := s.hostJavaHome(); home != "" && host >= MinimumForkVersion && supports(host, target) {
		return core.Runtime{Name: "host", Home: home, Version: fmt.Sprint(host)}, true
	}

	if sdk != nil && sdk.Home != "" && sdkVer >= MinimumForkVersion {
		return *sdk, true
	}
	return core.Runtime{}, false
}

func supports(compiler, target int) bool {
	return target <= 0 || IsTargetReleaseSupported(compiler, target)
}

// hostJavaHome is the JDK home of the embedded toolchain.
func (s *Selector) hostJavaHome() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hostHome != "" {
		return s.hostHome
	}
	if s.cfg.Host.Home != "" {
		s.hostHome = s.cfg.Host.Home
		return s.hostHome
	}
	bin, err := s.cfg.Host.Binary()
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(bin); err == nil {
		bin = resolved
	} else if p, err := exec.LookPath(bin); err == nil {
		bin = p
	}
	s.hostHome = filepath.Dir(filepath.Dir(bin))
	return s.hostHome
}
