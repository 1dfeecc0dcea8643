package framework

import (
	"iter"
	"os"
	"path/filepath"
	"regexp"

	"github.com/leapstack-labs/leapcloak/pkg/core"
)

var versionDir = regexp.MustCompile(`^\d+\.\d+(\.\d+)?([-+][0-9A-Za-z.-]+)?$`)

// ScanDotnetRoots yields the shared frameworks under each root's
// shared/<framework>/<version> directories. Missing or unreadable directories
// are skipped; duplicate roots are scanned once.
func ScanDotnetRoots(roots ...string) iter.Seq[core.InstalledRuntime] {
	return func(yield func(core.InstalledRuntime) bool) {
		seen := make(map[string]bool, len(roots))
		for _, root := range roots {
			if root == "" {
				continue
			}
			root = filepath.Clean(root)
			if seen[root] {
				continue
			}
			seen[root] = true

			shared := filepath.Join(root, "shared")
			frameworks, err := os.ReadDir(shared)
			if err != nil {
				continue
			}
			for _, fw := range frameworks {
				if !fw.IsDir() {
					continue
				}
				versions, err := os.ReadDir(filepath.Join(shared, fw.Name()))
				if err != nil {
					continue
				}
				for _, v := range versions {
					if !v.IsDir() || !versionDir.MatchString(v.Name()) {
						continue
					}
					rt := core.InstalledRuntime{
						Kind:        core.FrameworkDotNet,
						Name:        fw.Name(),
						Version:     v.Name(),
						ServicePack: -1,
						Source:      filepath.Join(shared, fw.Name(), v.Name()),
					}
					if !yield(rt) {
						return
					}
				}
			}
		}
	}
}

// ScanMonoRoots yields the framework profiles of Mono installations. Mono
// implements the .NET Framework, so profiles report that kind.
func ScanMonoRoots(roots ...string) iter.Seq[core.InstalledRuntime] {
	return func(yield func(core.InstalledRuntime) bool) {
		for _, root := range roots {
			entries, err := os.ReadDir(root)
			if err != nil {
				continue
			}
			for _, e := range entries {
				if !e.IsDir() || !versionDir.MatchString(e.Name()) {
					continue
				}
				rt := core.InstalledRuntime{
					Kind:        core.FrameworkDotNetFramework,
					Name:        "Mono",
					Version:     e.Name(),
					ServicePack: -1,
					Source:      filepath.Join(root, e.Name()),
				}
				if !yield(rt) {
					return
				}
			}
		}
	}
}

// concat chains sequences.
func concat[T any](seqs ...iter.Seq[T]) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, seq := range seqs {
			for v := range seq {
				if !yield(v) {
					return
				}
			}
		}
	}
}
