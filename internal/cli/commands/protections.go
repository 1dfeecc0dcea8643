package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcloak/internal/cli/output"
	"github.com/leapstack-labs/leapcloak/internal/protections"
	"github.com/leapstack-labs/leapcloak/pkg/core"
)

// NewProtectionsCommand creates the protections command.
func NewProtectionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "protections [id]",
		Short: "List available protections",
		Long: `List the built-in protections in the order they run, or show the
parameters of one protection.

Protection ids are matched case-insensitively.`,
		Example: `  # List all protections
  leapcloak protections

  # Show the parameters of the reference proxy
  leapcloak protections "ref proxy"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, err := NewCommandContextWithoutEngine(cmd)
			if err != nil {
				return err
			}
			descs, err := orderedDescriptors()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				for _, d := range descs {
					if strings.EqualFold(d.ID, args[0]) {
						return showProtection(cmdCtx.Renderer, d)
					}
				}
				return fmt.Errorf("protection %q not found", args[0])
			}
			return listProtections(cmdCtx.Renderer, descs)
		},
	}
}

// orderedDescriptors returns the built-in protections in execution order.
func orderedDescriptors() ([]core.ProtectionDescriptor, error) {
	reg, err := protections.NewDefaultRegistry()
	if err != nil {
		return nil, err
	}
	order, err := reg.Order()
	if err != nil {
		return nil, err
	}
	descs := make([]core.ProtectionDescriptor, 0, len(order))
	for _, id := range order {
		p, _ := reg.Get(id)
		descs = append(descs, p.Descriptor())
	}
	return descs, nil
}

func listProtections(r *output.Renderer, descs []core.ProtectionDescriptor) error {
	if r.EffectiveMode() == output.ModeJSON {
		out := make([]protectionJSON, len(descs))
		for i, d := range descs {
			out[i] = toProtectionJSON(d)
		}
		return r.JSON(out)
	}

	rows := make([][]string, len(descs))
	for i, d := range descs {
		rows[i] = []string{strconv.Itoa(i + 1), d.ID, d.Name, strconv.Itoa(len(d.Schema)), d.Description}
	}
	r.Table([]string{"#", "ID", "Name", "Params", "Description"}, rows)
	return nil
}

func showProtection(r *output.Renderer, d core.ProtectionDescriptor) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(toProtectionJSON(d))
	}

	r.Header(1, d.Name)
	r.KeyValue("ID", d.ID)
	if len(d.After) > 0 {
		r.KeyValue("After", strings.Join(d.After, ", "))
	}
	if len(d.Before) > 0 {
		r.KeyValue("Before", strings.Join(d.Before, ", "))
	}
	if d.Description != "" {
		r.Println("")
		r.Println(d.Description)
	}
	r.Println("")

	if len(d.Schema) == 0 {
		r.Muted("No parameters.")
		return nil
	}
	rows := make([][]string, len(d.Schema))
	for i, p := range d.Schema {
		rows[i] = []string{p.Name, string(p.Kind), paramValues(p), p.Default, p.Description}
	}
	r.Table([]string{"Parameter", "Kind", "Values", "Default", "Description"}, rows)
	return nil
}

// paramValues describes the accepted values of a parameter.
func paramValues(p core.ParamSpec) string {
	switch p.Kind {
	case core.ParamEnum:
		return strings.Join(p.Domain, " | ")
	case core.ParamBool:
		return "true | false"
	case core.ParamInt:
		if p.Min != 0 || p.Max != 0 {
			return fmt.Sprintf("%d..%d", p.Min, p.Max)
		}
	}
	return ""
}

type protectionJSON struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	After       []string    `json:"after,omitempty"`
	Before      []string    `json:"before,omitempty"`
	Params      []paramJSON `json:"params"`
}

type paramJSON struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Domain      []string `json:"domain,omitempty"`
	Min         int      `json:"min,omitempty"`
	Max         int      `json:"max,omitempty"`
	Default     string   `json:"default,omitempty"`
	Description string   `json:"description,omitempty"`
}

func toProtectionJSON(d core.ProtectionDescriptor) protectionJSON {
	out := protectionJSON{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		After:       d.After,
		Before:      d.Before,
		Params:      make([]paramJSON, len(d.Schema)),
	}
	for i, p := range d.Schema {
		out.Params[i] = paramJSON{
			Name:        p.Name,
			Kind:        string(p.Kind),
			Domain:      p.Domain,
			Min:         p.Min,
			Max:         p.Max,
			Default:     p.Default,
			Description: p.Description,
		}
	}
	return out
}
