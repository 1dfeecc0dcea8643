package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcloak/internal/cli/output"
	"github.com/leapstack-labs/leapcloak/internal/engine"
	"github.com/leapstack-labs/leapcloak/pkg/core"
)

// NewPlanCommand creates the plan command.
func NewPlanCommand() *cobra.Command {
	var showTargets bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what protect would do",
		Long: `Load the project's modules and resolve its rules into per-module
protection stages without rewriting or writing anything.

Configuration errors such as unknown protections, invalid parameters or
selectors that match nothing are reported exactly as protect would report
them.`,
		Example: `  # Show the stages planned for each module
  leapcloak plan

  # Include every targeted member
  leapcloak plan --targets`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlan(cmd, showTargets)
		},
	}

	cmd.Flags().BoolVar(&showTargets, "targets", false, "List the targeted members of each stage")

	return cmd
}

func runPlan(cmd *cobra.Command, showTargets bool) error {
	cmdCtx, err := NewCommandContextWithoutEngine(cmd)
	if err != nil {
		return err
	}
	eng, err := engine.New(engine.Config{Workers: cmdCtx.Cfg.Workers, Logger: cmdCtx.Logger})
	if err != nil {
		return err
	}

	plan, err := eng.Plan(cmd.Context(), cmdCtx.Cfg.Project())
	if err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(toPlanJSON(plan))
	}
	renderPlanText(r, plan, showTargets)
	return nil
}

func renderPlanText(r *output.Renderer, plan *core.Plan, showTargets bool) {
	styles := r.Styles()

	r.Header(1, "Protection plan")
	r.Muted("Order: " + strings.Join(plan.Order, " -> "))
	r.Println("")

	for _, mp := range plan.Modules {
		r.Header(2, mp.Module.Path)
		r.KeyValue("Framework", mp.Framework.String())
		r.KeyValue("Capabilities", capabilityList(mp.Capabilities))
		if len(mp.Stages) == 0 {
			r.Muted("  no protections apply")
		}
		for i, st := range mp.Stages {
			r.Printf("  %d. %s %s\n", i+1, styles.Bold.Render(st.ID()),
				styles.Muted.Render(fmt.Sprintf("(%d targets)", len(st.Targets))))
			if showTargets {
				for _, t := range st.Targets {
					r.Println("       " + t.Member.FullName())
				}
			}
		}
		r.Println("")
	}

	for _, w := range plan.Warnings {
		r.Warning(w)
	}
}

func capabilityList(caps core.CapabilitySet) string {
	if caps.Len() == 0 {
		return "none"
	}
	names := make([]string, 0, caps.Len())
	for _, c := range caps.List() {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}

type planJSON struct {
	Order    []string         `json:"order"`
	Modules  []modulePlanJSON `json:"modules"`
	Warnings []string         `json:"warnings,omitempty"`
}

type modulePlanJSON struct {
	Module       string      `json:"module"`
	Framework    string      `json:"framework"`
	Capabilities []string    `json:"capabilities"`
	Stages       []stageJSON `json:"stages"`
}

type stageJSON struct {
	Protection string   `json:"protection"`
	Targets    []string `json:"targets"`
}

func toPlanJSON(plan *core.Plan) planJSON {
	out := planJSON{Order: plan.Order, Warnings: plan.Warnings, Modules: make([]modulePlanJSON, 0, len(plan.Modules))}
	for _, mp := range plan.Modules {
		mj := modulePlanJSON{
			Module:       mp.Module.Path,
			Framework:    mp.Framework.String(),
			Capabilities: []string{},
			Stages:       make([]stageJSON, 0, len(mp.Stages)),
		}
		for _, c := range mp.Capabilities.List() {
			mj.Capabilities = append(mj.Capabilities, string(c))
		}
		for _, st := range mp.Stages {
			sj := stageJSON{Protection: st.ID(), Targets: make([]string, 0, len(st.Targets))}
			for _, t := range st.Targets {
				sj.Targets = append(sj.Targets, t.Member.FullName())
			}
			mj.Stages = append(mj.Stages, sj)
		}
		out.Modules = append(out.Modules, mj)
	}
	return out
}
