package core_test

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const modulePath = "github.com/leapstack-labs/leapcloak"

// packageImports maps every non-test file of dir to its import paths.
func packageImports(t *testing.T, dir string) map[string][]string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	fset := token.NewFileSet()
	out := make(map[string][]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		require.NoError(t, err, name)
		for _, imp := range f.Imports {
			out[name] = append(out[name], strings.Trim(imp.Path.Value, `"`))
		}
	}
	return out
}

func isStdlib(path string) bool {
	return !strings.Contains(strings.SplitN(path, "/", 2)[0], ".")
}

// The contract packages stay below everything that implements them: core
// may lean on the IR and semver, the IR on nothing but the standard library.
func TestContractPackageImports(t *testing.T) {
	tests := []struct {
		dir     string
		allowed map[string]bool
	}{
		{
			dir: ".",
			allowed: map[string]bool{
				modulePath + "/pkg/il":          true,
				"github.com/Masterminds/semver": true,
			},
		},
		{
			dir:     "../il",
			allowed: map[string]bool{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			for file, imports := range packageImports(t, tt.dir) {
				for _, path := range imports {
					if isStdlib(path) {
						continue
					}
					if strings.Contains(path, "/internal/") {
						t.Errorf("%s imports internal package %s", file, path)
						continue
					}
					if !tt.allowed[path] {
						t.Errorf("%s imports %s, outside the allowed set", file, path)
					}
				}
			}
		})
	}
}
