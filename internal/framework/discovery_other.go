//go:build !windows

package framework

import (
	"iter"
	"os"

	"github.com/leapstack-labs/leapcloak/pkg/core"
)

// DiscoverHost enumerates .NET shared runtimes and Mono profiles in their
// conventional install locations.
func DiscoverHost() iter.Seq[core.InstalledRuntime] {
	return concat(
		ScanDotnetRoots(
			os.Getenv("DOTNET_ROOT"),
			"/usr/share/dotnet",
			"/usr/lib/dotnet",
			"/usr/local/share/dotnet",
		),
		ScanMonoRoots(
			"/usr/lib/mono",
			"/Library/Frameworks/Mono.framework/Versions/Current/lib/mono",
		),
	)
}
