package config

import (
	"path/filepath"

	"github.com/leapstack-labs/jbuild/internal/backend"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

// Default configuration values.
const (
	DefaultEncoding      = "UTF-8"
	DefaultHeapSizeMB    = 700
	DefaultOutputDir     = "out/production"
	DefaultTestOutputDir = "out/test"
)

// ApplyDefaults fills unset project values and resolves module paths
// against root. ${VAR} references in runtime homes, libraries and the
// server executable are expanded first. Modules inherit the project SDK, language level and
// encoding.
func ApplyDefaults(c *core.ProjectConfig, root string) {
	if c == nil {
		return
	}
	if c.Encoding == "" {
		c.Encoding = DefaultEncoding
	}
	applyCompilerDefaults(&c.Compiler)
	c.Compiler.ServerExecutable = expandEnvVars(c.Compiler.ServerExecutable)

	for i := range c.Runtimes {
		rt := &c.Runtimes[i]
		rt.Home = resolve(expandEnvVars(rt.Home), root)
		for j, p := range rt.BootClasspath {
			rt.BootClasspath[j] = resolve(expandEnvVars(p), root)
		}
	}

	for _, m := range c.Modules {
		if m == nil {
			continue
		}
		if m.SDK == "" {
			m.SDK = c.SDK
		}
		if m.LanguageLevel == 0 {
			m.LanguageLevel = c.LanguageLevel
		}
		if m.Encoding == "" {
			m.Encoding = c.Encoding
		}
		if m.OutputDir == "" {
			m.OutputDir = filepath.Join(DefaultOutputDir, m.Name)
		}
		if m.TestOutputDir == "" && len(m.TestSourceRoots) > 0 {
			m.TestOutputDir = filepath.Join(DefaultTestOutputDir, m.Name)
		}
		m.OutputDir = resolve(m.OutputDir, root)
		m.TestOutputDir = resolve(m.TestOutputDir, root)
		resolveAll(m.SourceRoots, root)
		resolveAll(m.TestSourceRoots, root)
		for j, lib := range m.Libraries {
			m.Libraries[j] = expandEnvVars(lib)
		}
		resolveAll(m.Libraries, root)
		if p := m.AnnotationProcessing; p != nil {
			resolveAll(p.ProcessorPath, root)
		}
	}
}

func applyCompilerDefaults(cc *core.CompilerConfig) {
	if cc.Mode == "" {
		cc.Mode = core.CompilerModeAuto
	}
	if cc.HeapSizeMB <= 0 {
		cc.HeapSizeMB = DefaultHeapSizeMB
	}
	if cc.PollInterval <= 0 {
		cc.PollInterval = backend.DefaultPollInterval
	}
	if cc.ConnectTimeout <= 0 {
		cc.ConnectTimeout = backend.DefaultConnectTimeout
	}
}

// resolve makes a relative path absolute against root. Empty paths stay empty.
func resolve(p, root string) string {
	if p == "" || filepath.IsAbs(p) || root == "" {
		return p
	}
	return filepath.Join(root, p)
}

func resolveAll(paths []string, root string) {
	for i, p := range paths {
		paths[i] = resolve(p, root)
	}
}
