package commands

import (
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/jbuild/internal/cli/output"
	"github.com/leapstack-labs/jbuild/internal/state"
)

// SessionOutput is one build of the history command.
type SessionOutput struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMS int64      `json:"duration_ms,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent build sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			if _, err := os.Stat(cc.Cfg.StatePath); err != nil {
				cc.Renderer.Println("No builds recorded.")
				return nil
			}
			store, err := openStore(cc.Cfg, cc.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			sessions, err := store.Sessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return renderHistory(cc.Renderer, toSessionOutputs(sessions))
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of sessions to show")
	return cmd
}

func toSessionOutputs(sessions []state.Session) []SessionOutput {
	out := make([]SessionOutput, 0, len(sessions))
	for _, s := range sessions {
		o := SessionOutput{ID: s.ID, Status: s.Status, StartedAt: s.StartedAt, FinishedAt: s.FinishedAt, Error: s.Error}
		if s.FinishedAt != nil {
			o.DurationMS = s.FinishedAt.Sub(s.StartedAt).Milliseconds()
		}
		out = append(out, o)
	}
	return out
}

func renderHistory(r *output.Renderer, sessions []SessionOutput) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(sessions)
	}
	if len(sessions) == 0 {
		r.Println("No builds recorded.")
		return nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Session", "Started", "Status", "Duration", "Error"})
	for _, s := range sessions {
		dur := "-"
		if s.FinishedAt != nil {
			dur = (time.Duration(s.DurationMS) * time.Millisecond).String()
		}
		t.AppendRow(table.Row{s.ID, s.StartedAt.Local().Format(time.DateTime), s.Status, dur, s.Error})
	}
	if r.EffectiveMode() == output.ModeMarkdown {
		r.Println(t.RenderMarkdown())
	} else {
		r.Println(t.Render())
	}
	r.Printf("%d session(s)\n", len(sessions))
	return nil
}
