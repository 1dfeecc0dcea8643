package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/leapcloak/pkg/core"
	"github.com/leapstack-labs/leapcloak/pkg/il"
	"github.com/leapstack-labs/leapcloak/pkg/image"
)

// unit is one input module of a run with its resolved paths.
type unit struct {
	// rel is the module path relative to the base directory, slash separated.
	// It becomes il.Module.Path so selectors and outputs agree on it.
	rel     string
	inPath  string
	outPath string

	inputHash  string
	outputHash string
}

// resolveUnits resolves module paths against the project directories.
// Missing output directories, empty or duplicate paths and outputs that
// would overwrite their input are configuration errors.
func resolveUnits(project core.Project) ([]*unit, error) {
	base := project.BaseDirectory
	if base == "" {
		base = "."
	}
	var errs []error
	out := project.OutputDirectory
	if out == "" {
		errs = append(errs, fmt.Errorf("output directory is not set"))
	} else if !filepath.IsAbs(out) {
		out = filepath.Join(base, out)
	}

	seen := make(map[string]int, len(project.Modules))
	units := make([]*unit, 0, len(project.Modules))
	for i, spec := range project.Modules {
		name := fmt.Sprintf("modules[%d]", i)
		if strings.TrimSpace(spec.Path) == "" {
			errs = append(errs, fmt.Errorf("%s: empty path", name))
			continue
		}
		u := &unit{inPath: spec.Path}
		if !filepath.IsAbs(u.inPath) {
			u.inPath = filepath.Join(base, u.inPath)
		}
		u.inPath = filepath.Clean(u.inPath)

		rel, err := filepath.Rel(base, u.inPath)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			// Outside the base directory: keep only the file name.
			rel = filepath.Base(u.inPath)
		}
		u.rel = filepath.ToSlash(rel)

		if prev, dup := seen[u.inPath]; dup {
			errs = append(errs, fmt.Errorf("%s: %q already listed as modules[%d]", name, spec.Path, prev))
			continue
		}
		seen[u.inPath] = i

		if out != "" {
			u.outPath = filepath.Join(out, rel)
			if u.outPath == u.inPath {
				errs = append(errs, fmt.Errorf("%s: output would overwrite input %s", name, u.inPath))
				continue
			}
		}
		units = append(units, u)
	}
	if err := core.NewConfigurationError(errs...); err != nil {
		return nil, err
	}
	return units, nil
}

// load reads and decodes the unit's input image.
func (u *unit) load() (*il.Module, error) {
	data, err := os.ReadFile(u.inPath)
	if err != nil {
		return nil, &core.ModuleFailure{Module: u.rel, Err: fmt.Errorf("load: %w", err)}
	}
	mod, err := image.Decode(data)
	if err != nil {
		return nil, &core.ModuleFailure{Module: u.rel, Err: fmt.Errorf("load: %w", err)}
	}
	mod.Path = u.rel
	u.inputHash = digest(data)
	return mod, nil
}

func digest(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
