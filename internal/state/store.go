// Package state records protection run history in SQLite: runs, the module
// runs inside them and the site diagnostics each module produced.
package state

import (
	"github.com/leapstack-labs/leapcloak/pkg/core"
)

// Type aliases for the run history types defined in pkg/core.
type (
	// Store is an alias for core.Store.
	Store = core.Store

	// RunStatus is an alias for core.RunStatus.
	RunStatus = core.RunStatus

	// Run is an alias for core.Run.
	Run = core.Run

	// ModuleRun is an alias for core.ModuleRun.
	ModuleRun = core.ModuleRun
)

var _ Store = (*SQLiteStore)(nil)
