package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/leapstack-labs/jbuild/pkg/core"
)

// Chunk statuses.
const (
	StatusCompiled = "compiled"
	StatusUpToDate = "up-to-date"
	StatusFailed   = "failed"
	StatusSkipped  = "skipped"
)

// ChunkSummary is the outcome of one chunk.
type ChunkSummary struct {
	Chunk  string `json:"chunk"`
	Status string `json:"status"`
	Passes int    `json:"passes"`
	Error  string `json:"error,omitempty"`
}

// BuildOutput is the JSON document of a build.
type BuildOutput struct {
	Session     string              `json:"session"`
	Status      string              `json:"status"`
	DurationMS  int64               `json:"duration_ms"`
	Chunks      []ChunkSummary      `json:"chunks"`
	Errors      int                 `json:"errors"`
	Warnings    int                 `json:"warnings"`
	Generated   int                 `json:"generated"`
	Usage       map[string][]string `json:"compilers,omitempty"`
	Diagnostics []core.Diagnostic   `json:"diagnostics"`
	Error       string              `json:"error,omitempty"`
}

// BuildSummary renders a finished build in the current mode.
func (r *Renderer) BuildSummary(b BuildOutput) error {
	switch r.EffectiveMode() {
	case ModeJSON:
		if b.Diagnostics == nil {
			b.Diagnostics = []core.Diagnostic{}
		}
		return r.JSON(b)
	case ModeMarkdown:
		r.Println(FormatHeader(2, "Build Summary"))
		r.Println("")
		r.Println(ChunkTable(b.Chunks, true))
		r.Println("")
		r.Println(FormatKeyValue("Status", b.Status))
		r.Println(FormatKeyValue("Errors", fmt.Sprint(b.Errors)))
		r.Println(FormatKeyValue("Warnings", fmt.Sprint(b.Warnings)))
		r.Println(FormatKeyValue("Files written", fmt.Sprint(b.Generated)))
		r.Println(FormatKeyValue("Duration", (time.Duration(b.DurationMS) * time.Millisecond).String()))
		return nil
	default:
		r.Println(ChunkTable(b.Chunks, false))
		style := r.styles.Success
		if b.Status != StatusCompiled && b.Status != StatusUpToDate {
			style = r.styles.Error
		}
		r.Printf("%s %s\n", style.Render(b.Status),
			r.styles.Muted.Render(fmt.Sprintf("errors: %d; warnings: %d; files: %d; %s",
				b.Errors, b.Warnings, b.Generated, time.Duration(b.DurationMS)*time.Millisecond)))
		return nil
	}
}

// ChunkTable renders chunk outcomes as a table, in markdown when asked.
func ChunkTable(chunks []ChunkSummary, markdown bool) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Chunk", "Status", "Passes", "Error"})
	for _, c := range chunks {
		t.AppendRow(table.Row{c.Chunk, c.Status, c.Passes, c.Error})
	}
	if markdown {
		return t.RenderMarkdown()
	}
	return t.Render()
}
