//go:build windows

package framework

import (
	"iter"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/windows/registry"

	"github.com/leapstack-labs/leapcloak/pkg/core"
)

const ndpKeyPath = `SOFTWARE\Microsoft\NET Framework Setup\NDP`

// releaseVersions maps the minimum NDP\v4\Full Release value to the 4.5+
// version it identifies, newest first.
var releaseVersions = []struct {
	release uint64
	version string
}{
	{533320, "4.8.1"},
	{528040, "4.8"},
	{461808, "4.7.2"},
	{461308, "4.7.1"},
	{460798, "4.7"},
	{394802, "4.6.2"},
	{394254, "4.6.1"},
	{393295, "4.6"},
	{379893, "4.5.2"},
	{378675, "4.5.1"},
	{378389, "4.5"},
}

// DiscoverHost enumerates .NET Framework installations from the registry
// and .NET shared runtimes under Program Files.
func DiscoverHost() iter.Seq[core.InstalledRuntime] {
	return concat(
		discoverRegistry(),
		ScanDotnetRoots(
			os.Getenv("DOTNET_ROOT"),
			filepath.Join(os.Getenv("ProgramFiles"), "dotnet"),
		),
	)
}

func discoverRegistry() iter.Seq[core.InstalledRuntime] {
	return func(yield func(core.InstalledRuntime) bool) {
		ndp, err := registry.OpenKey(registry.LOCAL_MACHINE, ndpKeyPath, registry.ENUMERATE_SUB_KEYS)
		if err != nil {
			return
		}
		defer ndp.Close()

		names, err := ndp.ReadSubKeyNames(-1)
		if err != nil {
			return
		}
		for _, name := range names {
			if !strings.HasPrefix(name, "v") {
				continue
			}
			for _, rt := range versionKey(ndp, name) {
				if !yield(rt) {
					return
				}
			}
		}
		if rt, ok := release(); ok {
			yield(rt)
		}
	}
}

// versionKey reads one NDP\v* key. A key with its own Version value is one
// installation; otherwise each profile sub key (Client, Full) is.
func versionKey(ndp registry.Key, name string) []core.InstalledRuntime {
	k, err := registry.OpenKey(ndp, name, registry.QUERY_VALUE|registry.ENUMERATE_SUB_KEYS)
	if err != nil {
		return nil
	}
	defer k.Close()

	var out []core.InstalledRuntime
	if rt, ok := installation(k, name, ""); ok {
		out = append(out, rt)
	}
	if v, _, err := k.GetStringValue("Version"); err == nil && v != "" {
		return out
	}
	profiles, err := k.ReadSubKeyNames(-1)
	if err != nil {
		return out
	}
	for _, profile := range profiles {
		pk, err := registry.OpenKey(k, profile, registry.QUERY_VALUE)
		if err != nil {
			continue
		}
		if rt, ok := installation(pk, name, profile); ok {
			out = append(out, rt)
		}
		pk.Close()
	}
	return out
}

func installation(k registry.Key, keyName, profile string) (core.InstalledRuntime, bool) {
	install, _, err := k.GetIntegerValue("Install")
	if err != nil || install != 1 {
		return core.InstalledRuntime{}, false
	}
	version, _, _ := k.GetStringValue("Version")
	if version == "" {
		version = strings.TrimPrefix(keyName, "v")
	}
	sp := -1
	if v, _, err := k.GetIntegerValue("SP"); err == nil {
		sp = int(v)
	}
	return core.InstalledRuntime{
		Kind:        core.FrameworkDotNetFramework,
		Name:        keyName,
		Version:     version,
		Profile:     profile,
		ServicePack: sp,
		Source:      `HKLM\` + ndpKeyPath + `\` + keyName,
	}, true
}

func release() (core.InstalledRuntime, bool) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, ndpKeyPath+`\v4\Full`, registry.QUERY_VALUE)
	if err != nil {
		return core.InstalledRuntime{}, false
	}
	defer k.Close()

	rel, _, err := k.GetIntegerValue("Release")
	if err != nil {
		return core.InstalledRuntime{}, false
	}
	for _, rv := range releaseVersions {
		if rel >= rv.release {
			return core.InstalledRuntime{
				Kind:        core.FrameworkDotNetFramework,
				Name:        "v4.5+",
				Version:     rv.version,
				Profile:     "Full",
				ServicePack: -1,
				Source:      `HKLM\` + ndpKeyPath + `\v4\Full\Release`,
			}, true
		}
	}
	return core.InstalledRuntime{}, false
}
