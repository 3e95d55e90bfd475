package output

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/jbuild/pkg/core"
)

func newTestRenderer(mode Mode, tty bool) (*Renderer, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return NewRendererWithTTY(out, errOut, tty, mode), out, errOut
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeAuto, false},
		{"auto", ModeAuto, false},
		{"TEXT", ModeText, false},
		{" markdown ", ModeMarkdown, false},
		{"json", ModeJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEffectiveMode(t *testing.T) {
	tests := []struct {
		mode Mode
		tty  bool
		want Mode
	}{
		{ModeAuto, true, ModeText},
		{ModeAuto, false, ModeMarkdown},
		{ModeJSON, true, ModeJSON},
		{ModeText, false, ModeText},
		{"", false, ModeMarkdown},
	}
	for _, tt := range tests {
		r, _, _ := newTestRenderer(tt.mode, tt.tty)
		assert.Equal(t, tt.want, r.EffectiveMode(), "mode %q tty %v", tt.mode, tt.tty)
	}
}

func TestReporter(t *testing.T) {
	errDiag := core.Diagnostic{Severity: core.SeverityError, Message: "cannot find symbol", Source: "A.java", Line: 3, Column: 7}
	warn := core.NewDiagnostic(core.SeverityWarning, "deprecated API")

	t.Run("markdown", func(t *testing.T) {
		r, _, errOut := newTestRenderer(ModeMarkdown, false)
		rep := NewReporter(r, false)
		rep.Report(errDiag)
		rep.Report(warn)
		rep.Progress("compiling")

		assert.Equal(t, "- **error** `A.java:3:7`: cannot find symbol\n- **warning**: deprecated API\n", errOut.String())
		assert.Equal(t, 1, rep.Count(core.SeverityError))
		assert.Equal(t, 1, rep.Count(core.SeverityWarning))
	})

	t.Run("text verbose", func(t *testing.T) {
		r, _, errOut := newTestRenderer(ModeText, false)
		rep := NewReporter(r, true)
		rep.Report(errDiag)
		rep.Progress("compiling")

		assert.Equal(t, "A.java:3:7: error: cannot find symbol\ncompiling\n", errOut.String())
	})

	t.Run("json collects silently", func(t *testing.T) {
		r, out, errOut := newTestRenderer(ModeJSON, false)
		rep := NewReporter(r, true)
		rep.Report(errDiag)
		rep.Progress("compiling")
		rep.FilesGenerated([]core.GeneratedFile{{OutputRoot: "/out", RelativePath: "A.class"}})

		assert.Empty(t, out.String())
		assert.Empty(t, errOut.String())
		assert.Len(t, rep.Diagnostics(), 1)
		assert.Equal(t, 1, rep.Generated())
	})

	t.Run("concurrent", func(t *testing.T) {
		r, _, _ := newTestRenderer(ModeJSON, false)
		rep := NewReporter(r, false)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rep.Report(warn)
				rep.FilesGenerated(make([]core.GeneratedFile, 2))
			}()
		}
		wg.Wait()
		assert.Equal(t, 20, rep.Count(core.SeverityWarning))
		assert.Equal(t, 40, rep.Generated())
	})
}

func TestBuildSummary(t *testing.T) {
	build := BuildOutput{
		Session: "s1",
		Status:  StatusFailed,
		Chunks: []ChunkSummary{
			{Chunk: "core", Status: StatusCompiled, Passes: 1},
			{Chunk: "app", Status: StatusFailed, Passes: 1, Error: "compilation failed"},
		},
		Errors: 1,
	}

	t.Run("json", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeJSON, false)
		require.NoError(t, r.BuildSummary(build))

		var got BuildOutput
		require.NoError(t, json.Unmarshal(out.Bytes(), &got))
		assert.Equal(t, "s1", got.Session)
		assert.Len(t, got.Chunks, 2)
		assert.NotNil(t, got.Diagnostics)
	})

	t.Run("markdown", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeMarkdown, false)
		require.NoError(t, r.BuildSummary(build))

		s := out.String()
		assert.Contains(t, s, "## Build Summary")
		assert.Contains(t, s, "| core | compiled | 1 |")
		assert.Contains(t, s, "- **Status**: failed")
	})

	t.Run("text", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeText, false)
		require.NoError(t, r.BuildSummary(build))
		assert.Contains(t, out.String(), "compilation failed")
		assert.Contains(t, out.String(), "errors: 1; warnings: 0")
	})
}

func TestStatusLineAndHeader(t *testing.T) {
	r, out, _ := newTestRenderer(ModeMarkdown, false)
	r.Header(1, "Chunks")
	r.StatusLine("core", "success", "3 files")
	r.StatusLine("app", "error", "")

	assert.Equal(t, "# Chunks\n\n- ✓ core: 3 files\n- ✗ app\n", out.String())
}
