package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	intconfig "github.com/leapstack-labs/jbuild/internal/config"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

// Conventional source layout detected by init.
var (
	mainSourceDir = filepath.Join("src", "main", "java")
	testSourceDir = filepath.Join("src", "test", "java")
)

// InitOptions holds options for the init command.
type InitOptions struct {
	Force         bool
	Name          string
	JDK           string
	LanguageLevel int
}

// initProject is the subset of core.ProjectConfig written by init.
type initProject struct {
	Name          string         `yaml:"name"`
	SDK           string         `yaml:"sdk"`
	LanguageLevel int            `yaml:"language_level"`
	Encoding      string         `yaml:"encoding"`
	Runtimes      []core.Runtime `yaml:"runtimes"`
	Compiler      initCompiler   `yaml:"compiler"`
	Modules       []*core.Module `yaml:"modules"`
}

type initCompiler struct {
	Mode        string `yaml:"mode"`
	HostRuntime string `yaml:"host_runtime"`
	HeapSizeMB  int    `yaml:"heap_size_mb"`
}

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	opts := &InitOptions{}
	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Create a jbuild.yaml for an existing source tree",
		Long: `Create jbuild.yaml in the given directory (default: current directory).

Every directory containing src/main/java becomes a module; src/test/java
is registered as its test source root. Without any, a single module with
an empty src/main/java is created.`,
		Example: `  jbuild init
  jbuild init services --name services --jdk /usr/lib/jvm/java-17`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			path, project, err := runInit(dir, opts)
			if err != nil {
				return err
			}

			r := cc.Renderer
			r.StatusLine(path, "success", "")
			for _, m := range project.Modules {
				r.StatusLine("module "+m.Name, "success", m.SourceRoots[0])
			}
			r.Println("")
			r.Println("Next steps:")
			r.Println("  1. Check the runtime home and module dependencies in " + intconfig.ConfigFileName)
			r.Println("  2. Run 'jbuild doctor' to verify the JDK")
			r.Println("  3. Run 'jbuild build' to compile")
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "Overwrite an existing configuration")
	cmd.Flags().StringVar(&opts.Name, "name", "", "Project name (default: directory name)")
	cmd.Flags().StringVar(&opts.JDK, "jdk", "", "JDK home (default: ${JAVA_HOME})")
	cmd.Flags().IntVar(&opts.LanguageLevel, "language-level", 17, "Java language level")

	return cmd
}

// runInit writes the configuration and returns its path.
func runInit(dir string, opts *InitOptions) (string, *initProject, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if existing := intconfig.FindConfigFile(dir); existing != "" && !opts.Force {
		return "", nil, fmt.Errorf("%s already exists. Use --force to overwrite", existing)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", nil, err
	}
	name := opts.Name
	if name == "" {
		name = filepath.Base(abs)
	}

	modules, err := detectModules(dir, name)
	if err != nil {
		return "", nil, err
	}
	if len(modules) == 0 {
		if err := os.MkdirAll(filepath.Join(dir, mainSourceDir), 0o750); err != nil {
			return "", nil, fmt.Errorf("failed to create source root: %w", err)
		}
		modules = []*core.Module{newInitModule(name, "", false)}
	}

	home := opts.JDK
	if home == "" {
		home = "${JAVA_HOME}"
	}
	project := &initProject{
		Name:          name,
		SDK:           "jdk",
		LanguageLevel: opts.LanguageLevel,
		Encoding:      intconfig.DefaultEncoding,
		Runtimes:      []core.Runtime{{Name: "jdk", Home: home}},
		Compiler: initCompiler{
			Mode:        core.CompilerModeAuto,
			HostRuntime: "jdk",
			HeapSizeMB:  intconfig.DefaultHeapSizeMB,
		},
		Modules: modules,
	}

	data, err := yaml.Marshal(project)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	path := filepath.Join(dir, intconfig.ConfigFileName)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", nil, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, project, nil
}

// detectModules finds the root and first-level directories that follow the
// src/main/java convention.
func detectModules(dir, rootName string) ([]*core.Module, error) {
	var modules []*core.Module
	if isDir(filepath.Join(dir, mainSourceDir)) {
		modules = append(modules, newInitModule(rootName, "", isDir(filepath.Join(dir, testSourceDir))))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if !e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		if !isDir(filepath.Join(dir, e.Name(), mainSourceDir)) {
			continue
		}
		hasTests := isDir(filepath.Join(dir, e.Name(), testSourceDir))
		modules = append(modules, newInitModule(e.Name(), e.Name(), hasTests))
	}
	return modules, nil
}

func newInitModule(name, base string, tests bool) *core.Module {
	m := &core.Module{
		Name:        name,
		SourceRoots: []string{filepath.ToSlash(filepath.Join(base, mainSourceDir))},
		OutputDir:   filepath.ToSlash(filepath.Join(intconfig.DefaultOutputDir, name)),
	}
	if tests {
		m.TestSourceRoots = []string{filepath.ToSlash(filepath.Join(base, testSourceDir))}
		m.TestOutputDir = filepath.ToSlash(filepath.Join(intconfig.DefaultTestOutputDir, name))
	}
	return m
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
