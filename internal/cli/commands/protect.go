package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcloak/internal/cli/output"
	"github.com/leapstack-labs/leapcloak/pkg/core"
)

// ProtectOptions holds options for the protect command.
type ProtectOptions struct {
	Watch    bool
	Debounce time.Duration
}

// NewProtectCommand creates the protect command.
func NewProtectCommand() *cobra.Command {
	opts := &ProtectOptions{}

	cmd := &cobra.Command{
		Use:   "protect",
		Short: "Protect the project's modules",
		Long: `Apply the configured protection rules to every module of the project
and write the protected images to the output directory.

Modules that fail are reported and left out of the output; the others are
still written. Call sites that could not be rewritten as requested are
listed as diagnostics.

With --watch, the run is repeated whenever the configuration file or an
input module changes.`,
		Example: `  # Protect all modules listed in leapcloak.yaml
  leapcloak protect

  # Write to another directory with a fixed seed
  LEAPCLOAK_SEED=release-1 leapcloak protect --output-dir dist

  # Re-run on every change
  leapcloak protect --watch

  # Machine-readable result for CI
  leapcloak protect -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Watch {
				return runWatch(cmd, opts)
			}
			return runProtect(cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Re-run when the configuration or an input module changes")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 200*time.Millisecond, "Quiet period before a watch re-run")

	return cmd
}

func runProtect(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	_, err = protectOnce(cmd.Context(), cmdCtx)
	return err
}

// protectOnce runs the engine once and renders the result. It returns an
// error when the run could not start or any module failed.
func protectOnce(ctx context.Context, cmdCtx *CommandContext) (*core.RunResult, error) {
	r := cmdCtx.Renderer
	start := time.Now()

	result, err := cmdCtx.Engine.Run(ctx, core.RunParams{
		Project: cmdCtx.Cfg.Project(),
		Logger:  cmdCtx.Logger,
	})
	if result == nil || (err != nil && result.Status != core.RunStatusCancelled) {
		return result, fmt.Errorf("protection run failed: %w", err)
	}

	if r.EffectiveMode() == output.ModeJSON {
		if jsonErr := r.JSON(toRunJSON(result, time.Since(start))); jsonErr != nil {
			return result, jsonErr
		}
	} else {
		renderRunText(r, result, time.Since(start))
	}

	if err != nil {
		return result, err
	}
	if failed := len(result.Failed()); failed > 0 {
		return result, fmt.Errorf("%d of %d modules failed", failed, len(result.Modules))
	}
	return result, nil
}

func renderRunText(r *output.Renderer, result *core.RunResult, elapsed time.Duration) {
	styles := r.Styles()

	r.Header(1, "Protection run")
	r.Println("")
	for _, m := range result.Modules {
		var detail string
		switch m.Status {
		case core.ModuleSucceeded:
			detail = fmt.Sprintf("-> %s (%s, %d rewritten)", m.OutputPath, m.Framework, m.Rewritten())
		default:
			if m.Err != nil {
				detail = m.Err.Error()
			}
		}
		r.StatusLine(m.Module, string(m.Status), detail)
		for _, d := range m.Diagnostics {
			r.Println("    " + styles.Warning.Render(d.Protection+": "+d.String()))
		}
	}

	r.Println("")
	r.KeyValue("Run", styles.ID.Render(result.RunID))
	r.KeyValue("Status", string(result.Status))
	r.KeyValue("Modules", fmt.Sprintf("%d succeeded, %d failed, %d cancelled",
		len(result.Succeeded()), len(result.Failed()), len(result.Cancelled())))
	if n := len(result.Diagnostics()); n > 0 {
		r.KeyValue("Diagnostics", fmt.Sprintf("%d", n))
	}
	r.KeyValue("Duration", elapsed.Round(time.Millisecond).String())
}

type runJSON struct {
	RunID      string       `json:"run_id"`
	Status     string       `json:"status"`
	DurationMS int64        `json:"duration_ms"`
	Modules    []moduleJSON `json:"modules"`
}

type moduleJSON struct {
	Module      string           `json:"module"`
	Input       string           `json:"input"`
	Output      string           `json:"output,omitempty"`
	Framework   string           `json:"framework"`
	Status      string           `json:"status"`
	Rewritten   int              `json:"rewritten"`
	Stats       map[string]int   `json:"stats,omitempty"`
	Diagnostics []diagnosticJSON `json:"diagnostics,omitempty"`
	Error       string           `json:"error,omitempty"`
	DurationMS  int64            `json:"duration_ms"`
}

type diagnosticJSON struct {
	Protection string `json:"protection"`
	Method     string `json:"method"`
	Index      int    `json:"index"`
	Target     string `json:"target"`
	Requested  string `json:"requested,omitempty"`
	Used       string `json:"used,omitempty"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
}

func toRunJSON(result *core.RunResult, elapsed time.Duration) runJSON {
	out := runJSON{
		RunID:      result.RunID,
		Status:     string(result.Status),
		DurationMS: elapsed.Milliseconds(),
		Modules:    make([]moduleJSON, 0, len(result.Modules)),
	}
	for _, m := range result.Modules {
		mj := moduleJSON{
			Module:      m.Module,
			Input:       m.InputPath,
			Output:      m.OutputPath,
			Framework:   m.Framework.String(),
			Status:      string(m.Status),
			Rewritten:   m.Rewritten(),
			Stats:       m.Stats,
			Diagnostics: toDiagnosticsJSON(m.Diagnostics),
			DurationMS:  m.Duration.Milliseconds(),
		}
		if m.Err != nil {
			mj.Error = m.Err.Error()
		}
		out.Modules = append(out.Modules, mj)
	}
	return out
}

func toDiagnosticsJSON(diags []core.SiteDiagnostic) []diagnosticJSON {
	if len(diags) == 0 {
		return nil
	}
	out := make([]diagnosticJSON, len(diags))
	for i, d := range diags {
		out[i] = diagnosticJSON{
			Protection: d.Protection,
			Method:     d.Method,
			Index:      d.Index,
			Target:     d.Target,
			Requested:  d.Requested,
			Used:       d.Used,
			Outcome:    string(d.Outcome),
			Reason:     d.Reason,
		}
	}
	return out
}
