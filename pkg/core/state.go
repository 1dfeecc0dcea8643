package core

import "time"

// Store defines the interface for run history operations.
type Store interface {
	Open(path string) error
	Close() error
	InitSchema() error

	// Run operations
	CreateRun(project string) (*Run, error)
	GetRun(id string) (*Run, error)
	CompleteRun(id string, status RunStatus, errMsg string) error
	GetLatestRun(project string) (*Run, error)
	ListRuns(limit int) ([]*Run, error)

	// Module run operations
	RecordModuleRun(moduleRun *ModuleRun) error
	GetModuleRunsForRun(runID string) ([]*ModuleRun, error)

	// Site diagnostics
	SaveDiagnostics(moduleRunID string, diags []SiteDiagnostic) error
	GetDiagnostics(moduleRunID string) ([]SiteDiagnostic, error)
}

// RunStatus represents the status of a protection run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run represents one protection job.
type Run struct {
	ID          string
	Project     string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// ModuleRun records the processing of one module within a run.
type ModuleRun struct {
	ID          string
	RunID       string
	Module      string
	InputPath   string
	OutputPath  string
	Framework   string
	Status      ModuleStatus
	Rewritten   int
	Diagnostics int
	InputHash   string
	OutputHash  string
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
	ExecutionMS int64
}
