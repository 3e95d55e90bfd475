package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/jbuild/internal/backend"
	"github.com/leapstack-labs/jbuild/pkg/core"
)

const sampleProject = `name: acme
language_level: 17
sdk: jdk17
runtimes:
  - name: jdk17
    home: /opt/jdk-17
    version: "17.0.9"
compiler:
  mode: external
  poll_interval: 250ms
  connect_timeout: 5s
modules:
  - name: core
    source_roots: [core/src]
  - name: app
    source_roots: [app/src]
    test_source_roots: [app/test]
    dependencies: [core]
    language_level: 21
    sdk: jdk17
    annotation_processing:
      enabled: true
      processor_path: [libs/proc.jar]
      options:
        debug: "true"
`

func writeProject(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeProject(t, dir, ConfigFileName, sampleProject)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.Name)
	assert.Equal(t, DefaultEncoding, cfg.Encoding)
	assert.Equal(t, core.CompilerModeExternal, cfg.Compiler.Mode)
	assert.Equal(t, 250*time.Millisecond, cfg.Compiler.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Compiler.ConnectTimeout)
	assert.Equal(t, DefaultHeapSizeMB, cfg.Compiler.HeapSizeMB)
	require.Len(t, cfg.Modules, 2)

	core0 := cfg.FindModule("core")
	require.NotNil(t, core0)
	assert.Equal(t, []string{filepath.Join(dir, "core/src")}, core0.SourceRoots)
	assert.Equal(t, filepath.Join(dir, DefaultOutputDir, "core"), core0.OutputDir)
	assert.Empty(t, core0.TestOutputDir)
	assert.Equal(t, 17, core0.LanguageLevel, "inherits project level")
	assert.Equal(t, "jdk17", core0.SDK)
	assert.Equal(t, DefaultEncoding, core0.Encoding)

	app := cfg.FindModule("app")
	require.NotNil(t, app)
	assert.Equal(t, 21, app.LanguageLevel)
	assert.Equal(t, filepath.Join(dir, DefaultTestOutputDir, "app"), app.TestOutputDir)
	assert.Equal(t, []string{"core"}, app.Dependencies)
	require.NotNil(t, app.AnnotationProcessing)
	assert.True(t, app.ProcessingEnabled())
	assert.Equal(t, []string{filepath.Join(dir, "libs/proc.jar")}, app.AnnotationProcessing.ProcessorPath)
	assert.Equal(t, map[string]string{"debug": "true"}, app.AnnotationProcessing.Options)
}

func TestApplyDefaults(t *testing.T) {
	cfg := &core.ProjectConfig{Modules: []*core.Module{{Name: "m", OutputDir: "/abs/out"}}}
	ApplyDefaults(cfg, "/root")

	assert.Equal(t, core.CompilerModeAuto, cfg.Compiler.Mode)
	assert.Equal(t, backend.DefaultPollInterval, cfg.Compiler.PollInterval)
	assert.Equal(t, backend.DefaultConnectTimeout, cfg.Compiler.ConnectTimeout)
	assert.Equal(t, "/abs/out", cfg.Modules[0].OutputDir)

	ApplyDefaults(nil, "/root")
}

func TestValidate(t *testing.T) {
	base := func() *core.ProjectConfig {
		return &core.ProjectConfig{
			Runtimes: []core.Runtime{{Name: "jdk17", Home: "/opt/jdk"}},
			Modules:  []*core.Module{{Name: "a"}, {Name: "b", Dependencies: []string{"a"}}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *core.ProjectConfig)
		wantErr []string
	}{
		{name: "valid", mutate: func(*core.ProjectConfig) {}},
		{
			name:    "unknown mode",
			mutate:  func(c *core.ProjectConfig) { c.Compiler.Mode = "forked" },
			wantErr: []string{`unknown compiler mode "forked"`},
		},
		{
			name: "duplicate module and unknown dependency",
			mutate: func(c *core.ProjectConfig) {
				c.Modules = append(c.Modules, &core.Module{Name: "a", Dependencies: []string{"zzz"}})
			},
			wantErr: []string{`duplicate module "a"`, `module "a" depends on unknown module "zzz"`},
		},
		{
			name:    "unknown sdk",
			mutate:  func(c *core.ProjectConfig) { c.Modules[0].SDK = "jdk8" },
			wantErr: []string{`module "a" uses unknown sdk "jdk8"`},
		},
		{
			name:    "unknown host runtime",
			mutate:  func(c *core.ProjectConfig) { c.Compiler.HostRuntime = "jdk21" },
			wantErr: []string{`compiler host runtime "jdk21" is not configured`},
		},
		{
			name:    "runtime without home",
			mutate:  func(c *core.ProjectConfig) { c.Runtimes = append(c.Runtimes, core.Runtime{Name: "jdk21"}) },
			wantErr: []string{`runtime "jdk21" has no home`},
		},
		{
			name:    "preview without level",
			mutate:  func(c *core.ProjectConfig) { c.Modules[1].Preview = true },
			wantErr: []string{`module "b" enables preview features without a language level`},
		},
		{
			name:    "no modules",
			mutate:  func(c *core.ProjectConfig) { c.Modules = nil },
			wantErr: []string{"no modules configured"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestLoadFromDir(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		cfg, err := LoadFromDir(t.TempDir())
		assert.NoError(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("alternate name", func(t *testing.T) {
		dir := t.TempDir()
		writeProject(t, dir, ConfigFileNameAlt, "modules:\n  - name: solo\n")
		cfg, err := LoadFromDir(dir)
		require.NoError(t, err)
		require.Len(t, cfg.Modules, 1)
		assert.Equal(t, "solo", cfg.Modules[0].Name)
	})

	t.Run("invalid project", func(t *testing.T) {
		dir := t.TempDir()
		writeProject(t, dir, ConfigFileName, "compiler:\n  mode: fork\nmodules:\n  - name: x\n")
		_, err := LoadFromDir(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid project configuration")
	})
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	writeProject(t, root, ConfigFileName, "modules: []\n")
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	assert.Equal(t, root, FindProjectRoot(nested))
	assert.Equal(t, root, FindProjectRoot(root))
	assert.Empty(t, FindProjectRoot(t.TempDir()))
}

func TestApplyDefaults_ExpandsEnv(t *testing.T) {
	t.Setenv("JBUILD_TEST_JDK", "/opt/jdk-21")
	t.Setenv("JBUILD_TEST_LIBS", "/srv/libs")

	cfg := &core.ProjectConfig{
		Runtimes: []core.Runtime{{Name: "jdk21", Home: "${JBUILD_TEST_JDK}"}},
		Modules:  []*core.Module{{Name: "m", Libraries: []string{"${JBUILD_TEST_LIBS}/guava.jar", "${JBUILD_TEST_UNSET}/x.jar"}}},
	}
	ApplyDefaults(cfg, "/root")

	assert.Equal(t, "/opt/jdk-21", cfg.Runtimes[0].Home)
	assert.Equal(t, "/srv/libs/guava.jar", cfg.Modules[0].Libraries[0])
	assert.Equal(t, "/root/${JBUILD_TEST_UNSET}/x.jar", cfg.Modules[0].Libraries[1])
}
