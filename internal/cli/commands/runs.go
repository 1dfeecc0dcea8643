package commands

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcloak/internal/cli/output"
	"github.com/leapstack-labs/leapcloak/pkg/core"
)

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show protection run history",
		Long: `List recent protection runs recorded in the state database, or show one
run with its modules and the call sites that could not be rewritten.`,
		Example: `  # Recent runs
  leapcloak runs

  # Details of one run
  leapcloak runs 5f0c7a3e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if cmdCtx.Store == nil {
				return errors.New("run history is disabled: no state path configured")
			}
			if len(args) == 1 {
				return showRun(cmdCtx.Renderer, cmdCtx.Store, args[0])
			}
			return listRuns(cmdCtx.Renderer, cmdCtx.Store, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list (0 for all)")

	return cmd
}

func listRuns(r *output.Renderer, store core.Store, limit int) error {
	runs, err := store.ListRuns(limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if r.EffectiveMode() == output.ModeJSON {
		out := make([]runRecordJSON, len(runs))
		for i, run := range runs {
			out[i] = toRunRecordJSON(run)
		}
		return r.JSON(out)
	}

	if len(runs) == 0 {
		r.Muted("No runs recorded yet.")
		return nil
	}
	rows := make([][]string, len(runs))
	for i, run := range runs {
		rows[i] = []string{run.ID, string(run.Status), run.StartedAt.Local().Format(time.DateTime), runDuration(run), run.Project}
	}
	r.Table([]string{"Run", "Status", "Started", "Duration", "Project"}, rows)
	return nil
}

func showRun(r *output.Renderer, store core.Store, id string) error {
	run, err := store.GetRun(id)
	if err != nil {
		return err
	}
	modules, err := store.GetModuleRunsForRun(id)
	if err != nil {
		return fmt.Errorf("failed to load module runs: %w", err)
	}
	diags := make(map[string][]core.SiteDiagnostic, len(modules))
	for _, m := range modules {
		if m.Diagnostics == 0 {
			continue
		}
		if diags[m.ID], err = store.GetDiagnostics(m.ID); err != nil {
			return fmt.Errorf("failed to load diagnostics: %w", err)
		}
	}

	if r.EffectiveMode() == output.ModeJSON {
		out := runDetailJSON{runRecordJSON: toRunRecordJSON(run), Modules: make([]moduleRunJSON, len(modules))}
		for i, m := range modules {
			out.Modules[i] = moduleRunJSON{
				Module:      m.Module,
				Input:       m.InputPath,
				Output:      m.OutputPath,
				Framework:   m.Framework,
				Status:      string(m.Status),
				Rewritten:   m.Rewritten,
				InputHash:   m.InputHash,
				OutputHash:  m.OutputHash,
				Error:       m.Error,
				DurationMS:  m.ExecutionMS,
				Diagnostics: toDiagnosticsJSON(diags[m.ID]),
			}
		}
		return r.JSON(out)
	}

	styles := r.Styles()
	r.Header(1, "Run "+run.ID)
	r.KeyValue("Project", run.Project)
	r.KeyValue("Status", string(run.Status))
	r.KeyValue("Started", run.StartedAt.Local().Format(time.DateTime))
	r.KeyValue("Duration", runDuration(run))
	if run.Error != "" {
		r.KeyValue("Error", styles.Error.Render(run.Error))
	}
	r.Println("")

	if len(modules) == 0 {
		r.Muted("No modules recorded.")
		return nil
	}
	rows := make([][]string, len(modules))
	for i, m := range modules {
		rows[i] = []string{m.Module, string(m.Status), m.Framework, strconv.Itoa(m.Rewritten),
			strconv.Itoa(m.Diagnostics), (time.Duration(m.ExecutionMS) * time.Millisecond).String()}
	}
	r.Table([]string{"Module", "Status", "Framework", "Rewritten", "Diagnostics", "Duration"}, rows)

	for _, m := range modules {
		if m.Error != "" {
			r.Error(m.Module + ": " + m.Error)
		}
		for _, d := range diags[m.ID] {
			r.Println(styles.Warning.Render(m.Module + ": " + d.Protection + ": " + d.String()))
		}
	}
	return nil
}

func runDuration(run *core.Run) string {
	if run.CompletedAt == nil {
		return "-"
	}
	return run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
}

type runRecordJSON struct {
	ID          string     `json:"id"`
	Project     string     `json:"project"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type runDetailJSON struct {
	runRecordJSON
	Modules []moduleRunJSON `json:"modules"`
}

type moduleRunJSON struct {
	Module      string           `json:"module"`
	Input       string           `json:"input"`
	Output      string           `json:"output,omitempty"`
	Framework   string           `json:"framework"`
	Status      string           `json:"status"`
	Rewritten   int              `json:"rewritten"`
	InputHash   string           `json:"input_hash,omitempty"`
	OutputHash  string           `json:"output_hash,omitempty"`
	Error       string           `json:"error,omitempty"`
	DurationMS  int64            `json:"duration_ms"`
	Diagnostics []diagnosticJSON `json:"diagnostics,omitempty"`
}

func toRunRecordJSON(run *core.Run) runRecordJSON {
	return runRecordJSON{
		ID:          run.ID,
		Project:     run.Project,
		Status:      string(run.Status),
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Error:       run.Error,
	}
}
