package config

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/jbuild/pkg/core"
)

// Validate reports every problem of a project configuration at once.
func Validate(c *core.ProjectConfig) error {
	if c == nil {
		return errors.New("project configuration is missing")
	}
	var errs []error

	switch c.Compiler.Mode {
	case "", core.CompilerModeAuto, core.CompilerModeEmbedded, core.CompilerModeExternal:
	default:
		errs = append(errs, fmt.Errorf("unknown compiler mode %q (want auto, embedded or external)", c.Compiler.Mode))
	}
	if c.Compiler.HostRuntime != "" {
		if _, ok := c.FindRuntime(c.Compiler.HostRuntime); !ok {
			errs = append(errs, fmt.Errorf("compiler host runtime %q is not configured", c.Compiler.HostRuntime))
		}
	}

	runtimes := make(map[string]bool, len(c.Runtimes))
	for _, rt := range c.Runtimes {
		switch {
		case rt.Name == "":
			errs = append(errs, errors.New("runtime without a name"))
		case runtimes[rt.Name]:
			errs = append(errs, fmt.Errorf("duplicate runtime %q", rt.Name))
		case rt.Home == "":
			errs = append(errs, fmt.Errorf("runtime %q has no home", rt.Name))
		}
		runtimes[rt.Name] = true
	}
	if c.SDK != "" && !runtimes[c.SDK] {
		errs = append(errs, fmt.Errorf("project sdk %q is not configured", c.SDK))
	}

	if len(c.Modules) == 0 {
		errs = append(errs, errors.New("no modules configured"))
	}
	modules := make(map[string]bool, len(c.Modules))
	for i, m := range c.Modules {
		if m == nil || m.Name == "" {
			errs = append(errs, fmt.Errorf("module #%d has no name", i+1))
			continue
		}
		if modules[m.Name] {
			errs = append(errs, fmt.Errorf("duplicate module %q", m.Name))
		}
		modules[m.Name] = true
		if m.SDK != "" && !runtimes[m.SDK] {
			errs = append(errs, fmt.Errorf("module %q uses unknown sdk %q", m.Name, m.SDK))
		}
		if m.LanguageLevel < 0 {
			errs = append(errs, fmt.Errorf("module %q has invalid language level %d", m.Name, m.LanguageLevel))
		}
		if m.Preview && m.LanguageLevel == 0 {
			errs = append(errs, fmt.Errorf("module %q enables preview features without a language level", m.Name))
		}
	}
	for _, m := range c.Modules {
		if m == nil {
			continue
		}
		for _, dep := range m.Dependencies {
			if !modules[dep] {
				errs = append(errs, fmt.Errorf("module %q depends on unknown module %q", m.Name, dep))
			}
		}
	}
	return errors.Join(errs...)
}
