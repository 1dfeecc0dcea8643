package engine

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/leapcloak/pkg/core"
)

// recorder writes run history to the optional store. Store errors are
// logged and never fail a run.
type recorder struct {
	store  core.Store
	logger *slog.Logger
	runID  string
}

func (e *Engine) startRecording(project core.Project, logger *slog.Logger) *recorder {
	rec := &recorder{store: e.store, logger: logger, runID: uuid.NewString()}
	if rec.store == nil {
		return rec
	}
	run, err := rec.store.CreateRun(projectName(project))
	if err != nil {
		logger.Warn("failed to record run", "error", err)
		rec.store = nil
		return rec
	}
	rec.runID = run.ID
	logger.Debug("created run", "run_id", run.ID)
	return rec
}

// projectName identifies a project in the run history by its base directory.
func projectName(project core.Project) string {
	base := project.BaseDirectory
	if base == "" {
		base = "."
	}
	if abs, err := filepath.Abs(base); err == nil {
		return abs
	}
	return base
}

func (r *recorder) module(out *core.ModuleOutcome, u *unit) {
	if r.store == nil {
		return
	}
	completed := time.Now().UTC()
	mr := &core.ModuleRun{
		RunID:       r.runID,
		Module:      out.Module,
		InputPath:   out.InputPath,
		OutputPath:  out.OutputPath,
		Framework:   out.Framework.String(),
		Status:      out.Status,
		Rewritten:   out.Rewritten(),
		Diagnostics: len(out.Diagnostics),
		InputHash:   u.inputHash,
		OutputHash:  u.outputHash,
		StartedAt:   completed.Add(-out.Duration),
		CompletedAt: &completed,
		ExecutionMS: out.Duration.Milliseconds(),
	}
	if out.Err != nil {
		mr.Error = out.Err.Error()
	}
	if err := r.store.RecordModuleRun(mr); err != nil {
		r.logger.Warn("failed to record module run", "module", out.Module, "error", err)
		return
	}
	if len(out.Diagnostics) == 0 {
		return
	}
	if err := r.store.SaveDiagnostics(mr.ID, out.Diagnostics); err != nil {
		r.logger.Warn("failed to record diagnostics", "module", out.Module, "error", err)
	}
}

func (r *recorder) complete(status core.RunStatus, err error) {
	if r.store == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if err := r.store.CompleteRun(r.runID, status, msg); err != nil {
		r.logger.Warn("failed to complete run", "run_id", r.runID, "error", err)
	}
}
