package commands

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/leapcloak/internal/cli/output"
	"github.com/leapstack-labs/leapcloak/internal/framework"
	"github.com/leapstack-labs/leapcloak/pkg/core"
	"github.com/leapstack-labs/leapcloak/pkg/image"
)

// NewFrameworksCommand creates the frameworks command.
func NewFrameworksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "frameworks [module...]",
		Short: "Show installed runtimes or the frameworks modules target",
		Long: `Without arguments, list the runtimes installed on this host.
Runtime discovery reads the Windows registry and the usual .NET and Mono
installation directories; an empty list means none were found.

With module arguments, show the framework each module declares and the
runtime capabilities protections may rely on for it.`,
		Example: `  # List installed runtimes
  leapcloak frameworks

  # Describe modules
  leapcloak frameworks bin/App.lcim bin/Lib.lcim`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, err := NewCommandContextWithoutEngine(cmd)
			if err != nil {
				return err
			}
			resolver := framework.NewResolver()
			if len(args) > 0 {
				return describeModules(cmdCtx.Renderer, resolver, args)
			}
			return listRuntimes(cmdCtx.Renderer, resolver.HostRuntimes())
		},
	}
}

var titleCaser = cases.Title(language.English)

// kindTitle renders a framework kind for humans: "dotnet-framework" becomes
// "Dotnet Framework".
func kindTitle(k core.FrameworkKind) string {
	return titleCaser.String(strings.ReplaceAll(k.String(), "-", " "))
}

func listRuntimes(r *output.Renderer, runtimes []core.InstalledRuntime) error {
	if r.EffectiveMode() == output.ModeJSON {
		out := make([]runtimeJSON, len(runtimes))
		for i, rt := range runtimes {
			out[i] = runtimeJSON{
				Kind:        rt.Kind.String(),
				Name:        rt.Name,
				Version:     rt.Version,
				Profile:     rt.Profile,
				ServicePack: rt.ServicePack,
				Source:      rt.Source,
			}
		}
		return r.JSON(out)
	}

	if len(runtimes) == 0 {
		r.Muted("No runtimes found on this host.")
		return nil
	}
	rows := make([][]string, len(runtimes))
	for i, rt := range runtimes {
		sp := ""
		if rt.ServicePack >= 0 {
			sp = strconv.Itoa(rt.ServicePack)
		}
		rows[i] = []string{kindTitle(rt.Kind), rt.Name, rt.Version, rt.Profile, sp, rt.Source}
	}
	r.Table([]string{"Kind", "Name", "Version", "Profile", "SP", "Source"}, rows)
	return nil
}

func describeModules(r *output.Renderer, resolver *framework.Resolver, paths []string) error {
	var out []moduleFrameworkJSON
	for _, path := range paths {
		mod, err := image.ReadFile(path)
		if err != nil {
			return err
		}
		desc := resolver.Describe(mod)
		caps := resolver.CapabilitiesFor(desc)

		mj := moduleFrameworkJSON{
			Path:         path,
			Module:       mod.Name,
			Kind:         desc.Kind.String(),
			Capabilities: []string{},
		}
		if desc.Version != nil {
			mj.Version = desc.Version.String()
		}
		for _, c := range caps.List() {
			mj.Capabilities = append(mj.Capabilities, string(c))
		}
		out = append(out, mj)

		if r.EffectiveMode() == output.ModeJSON {
			continue
		}
		r.Header(2, path)
		r.KeyValue("Module", mod.Name)
		r.KeyValue("Framework", kindTitle(desc.Kind))
		if mj.Version != "" {
			r.KeyValue("Version", mj.Version)
		}
		r.KeyValue("Capabilities", capabilityList(caps))
		r.Println("")
	}
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}
	return nil
}

type runtimeJSON struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Profile     string `json:"profile,omitempty"`
	ServicePack int    `json:"service_pack"`
	Source      string `json:"source"`
}

type moduleFrameworkJSON struct {
	Path         string   `json:"path"`
	Module       string   `json:"module"`
	Kind         string   `json:"kind"`
	Version      string   `json:"version,omitempty"`
	Capabilities []string `json:"capabilities"`
}
