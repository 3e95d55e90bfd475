// Package config loads the jbuild CLI configuration: the project file
// layered with JBUILD_ environment variables and command-line flags.
package config

import (
	"fmt"

	"github.com/leapstack-labs/jbuild/internal/state"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

// Default configuration values.
const (
	DefaultStateFile = state.DefaultPath
	DefaultOutput    = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultParallel  = 4
)

// Config holds the CLI configuration and the project it operates on.
type Config struct {
	ProjectRoot  string `koanf:"-"`
	StatePath    string `koanf:"state_path"`
	Verbose      bool   `koanf:"verbose"`
	OutputFormat string `koanf:"output"`
	Parallel     int    `koanf:"parallel"`

	// Project is nil when no project file was found.
	Project *core.ProjectConfig `koanf:"-"`
}

// RequireProject returns the project or an error telling the user to
// create one.
func (c *Config) RequireProject() (*core.ProjectConfig, error) {
	if c == nil || c.Project == nil {
		root := "."
		if c != nil && c.ProjectRoot != "" {
			root = c.ProjectRoot
		}
		return nil, fmt.Errorf("no jbuild.yaml found in %s\nHint: run 'jbuild init' to create one", root)
	}
	return c.Project, nil
}
