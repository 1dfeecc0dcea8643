package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcloak/internal/cli/output"
	"github.com/leapstack-labs/leapcloak/internal/vm"
	"github.com/leapstack-labs/leapcloak/pkg/image"
)

// ExecOptions holds options for the exec command.
type ExecOptions struct {
	StepLimit  int
	ExpectExit int
	Expect     bool
}

// NewExecCommand creates the exec command.
func NewExecCommand() *cobra.Command {
	opts := &ExecOptions{}

	cmd := &cobra.Command{
		Use:   "exec <module>",
		Short: "Run a module in the verification interpreter",
		Long: `Execute a module image's entry point in the built-in interpreter and
print what it writes to the console.

Use it to check that a protected module still behaves like its input: the
console output and exit code of both should match.`,
		Example: `  # Run the input and the protected module
  leapcloak exec bin/App.lcim
  leapcloak exec out/bin/App.lcim

  # Fail unless the module exits with 42
  leapcloak exec out/bin/App.lcim --expect-exit 42`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Expect = cmd.Flags().Changed("expect-exit")
			return runExec(cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVar(&opts.StepLimit, "step-limit", 0, "Maximum number of executed instructions (0 for the default)")
	cmd.Flags().IntVar(&opts.ExpectExit, "expect-exit", 0, "Fail unless the entry point returns this exit code")

	return cmd
}

func runExec(cmd *cobra.Command, path string, opts *ExecOptions) error {
	cmdCtx, err := NewCommandContextWithoutEngine(cmd)
	if err != nil {
		return err
	}
	r := cmdCtx.Renderer

	mod, err := image.ReadFile(path)
	if err != nil {
		return err
	}

	vmOpts := []vm.Option{vm.WithLogger(cmdCtx.Logger)}
	if opts.StepLimit > 0 {
		vmOpts = append(vmOpts, vm.WithStepLimit(opts.StepLimit))
	}
	jsonMode := r.EffectiveMode() == output.ModeJSON
	if !jsonMode {
		vmOpts = append(vmOpts, vm.WithStdout(r.Writer()))
	}

	res, runErr := vm.Run(cmd.Context(), mod, vmOpts...)

	if jsonMode {
		out := execJSON{Module: mod.Name, Output: res.Output, ExitCode: res.ExitCode}
		if out.Output == nil {
			out.Output = []string{}
		}
		if runErr != nil {
			out.Error = runErr.Error()
		}
		if err := r.JSON(out); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("%s: %w", mod.Name, runErr)
	}
	if !jsonMode {
		r.Muted(fmt.Sprintf("exit code %d", res.ExitCode))
	}
	if opts.Expect && res.ExitCode != int32(opts.ExpectExit) {
		return fmt.Errorf("%s exited with %d, expected %d", mod.Name, res.ExitCode, opts.ExpectExit)
	}
	return nil
}

type execJSON struct {
	Module   string   `json:"module"`
	Output   []string `json:"output"`
	ExitCode int32    `json:"exit_code"`
	Error    string   `json:"error,omitempty"`
}
