package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/jbuild/pkg/core"
)

const testProject = `name: demo
compiler:
  mode: embedded
  heap_size_mb: 512
modules:
  - name: app
    source_roots: [src]
`

func newFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("project-dir", "", "")
	flags.String("state", "", "")
	flags.BoolP("verbose", "v", false, "")
	flags.StringP("output", "o", "", "")
	flags.IntP("parallel", "j", 0, "")
	flags.String("compiler-mode", "", "")
	flags.Int("heap-size", 0, "")
	flags.Bool("proceed-on-error", false, "")
	return flags
}

func setupProject(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if content != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "jbuild.yaml"), []byte(content), 0o644))
	}
	return dir
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := setupProject(t, testProject)

	tests := []struct {
		name     string
		env      map[string]string
		args     []string
		wantMode string
		wantHeap int
		wantPar  int
		wantOut  string
	}{
		{
			name:     "file over defaults",
			wantMode: core.CompilerModeEmbedded,
			wantHeap: 512,
			wantPar:  DefaultParallel,
			wantOut:  DefaultOutput,
		},
		{
			name:     "env over file",
			env:      map[string]string{"JBUILD_COMPILER__MODE": "external", "JBUILD_PARALLEL": "2"},
			wantMode: core.CompilerModeExternal,
			wantHeap: 512,
			wantPar:  2,
			wantOut:  DefaultOutput,
		},
		{
			name:     "flags over env",
			env:      map[string]string{"JBUILD_COMPILER__MODE": "external", "JBUILD_OUTPUT": "markdown"},
			args:     []string{"--compiler-mode", "auto", "--heap-size", "2048", "-j", "8", "-o", "json"},
			wantMode: core.CompilerModeAuto,
			wantHeap: 2048,
			wantPar:  8,
			wantOut:  "json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ResetConfig()
			for key, val := range tt.env {
				t.Setenv(key, val)
			}
			flags := newFlags()
			require.NoError(t, flags.Parse(append([]string{"--project-dir", dir}, tt.args...)))

			cfg, err := LoadConfig("", flags)
			require.NoError(t, err)
			require.NotNil(t, cfg.Project)

			assert.Equal(t, dir, cfg.ProjectRoot)
			assert.Equal(t, tt.wantMode, cfg.Project.Compiler.Mode)
			assert.Equal(t, tt.wantHeap, cfg.Project.Compiler.HeapSizeMB)
			assert.Equal(t, tt.wantPar, cfg.Parallel)
			assert.Equal(t, tt.wantOut, cfg.OutputFormat)
			assert.Equal(t, filepath.Join(dir, DefaultStateFile), cfg.StatePath)
			assert.Equal(t, filepath.Join(dir, "jbuild.yaml"), GetConfigFileUsed())
			assert.Same(t, cfg, GetCurrentConfig())
		})
	}
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	ResetConfig()
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testProject), 0o644))

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	require.NotNil(t, cfg.Project)
	assert.Equal(t, dir, cfg.ProjectRoot)
	assert.Equal(t, []string{filepath.Join(dir, "src")}, cfg.Project.Modules[0].SourceRoots)
}

func TestLoadConfig_StateFlagRelativeToCWD(t *testing.T) {
	ResetConfig()
	dir := setupProject(t, testProject)
	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--project-dir", dir, "--state", "tmp/state.db"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)

	cwd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cwd, "tmp/state.db"), cfg.StatePath)
}

func TestLoadConfig_NoProject(t *testing.T) {
	ResetConfig()
	dir := setupProject(t, "")
	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--project-dir", dir}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.Nil(t, cfg.Project)
	assert.Empty(t, GetConfigFileUsed())

	_, err = cfg.RequireProject()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jbuild init")
}

func TestLoadConfig_InvalidProject(t *testing.T) {
	ResetConfig()
	dir := setupProject(t, "compiler:\n  mode: sideways\nmodules:\n  - name: a\n")
	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--project-dir", dir}))

	_, err := LoadConfig("", flags)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown compiler mode "sideways"`)
}

func TestEnvAndFlagKeys(t *testing.T) {
	assert.Equal(t, "compiler.heap_size_mb", envKey("JBUILD_COMPILER__HEAP_SIZE_MB"))
	assert.Equal(t, "state_path", envKey("JBUILD_STATE_PATH"))
	assert.Equal(t, "state_path", flagKey("state"))
	assert.Equal(t, "compiler.proceed_on_error", flagKey("proceed-on-error"))
	assert.Equal(t, "output", flagKey("output"))
}

func TestFindProjectRootUpward(t *testing.T) {
	root := setupProject(t, testProject)
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	assert.Equal(t, root, findProjectRootUpward(nested))
	assert.Empty(t, findProjectRootUpward(t.TempDir()))
}

func TestGetLogger(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))
}
