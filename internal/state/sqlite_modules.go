package state

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/leapcloak/pkg/core"
)

// RecordModuleRun inserts a module run, assigning an ID and start time when
// they are unset.
func (s *SQLiteStore) RecordModuleRun(mr *core.ModuleRun) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if mr.ID == "" {
		mr.ID = generateID()
	}
	if mr.StartedAt.IsZero() {
		mr.StartedAt = time.Now().UTC()
	}

	s.logger.Debug("recording module run",
		slog.String("id", mr.ID), slog.String("run_id", mr.RunID), slog.String("module", mr.Module))

	var completedAt sql.NullTime
	if mr.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *mr.CompletedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx(), `
		INSERT INTO module_runs (
			id, run_id, module, input_path, output_path, framework, status, rewritten,
			diagnostics, input_hash, output_hash, started_at, completed_at, error, execution_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mr.ID, mr.RunID, mr.Module, mr.InputPath, nullString(mr.OutputPath), nullString(mr.Framework),
		string(mr.Status), mr.Rewritten, mr.Diagnostics, nullString(mr.InputHash), nullString(mr.OutputHash),
		mr.StartedAt, completedAt, nullString(mr.Error), mr.ExecutionMS,
	)
	if err != nil {
		return fmt.Errorf("failed to record module run: %w", err)
	}
	return nil
}

// GetModuleRunsForRun returns the module runs of a run in insertion order.
func (s *SQLiteStore) GetModuleRunsForRun(runID string) ([]*core.ModuleRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx(), `
		SELECT id, run_id, module, input_path, output_path, framework, status, rewritten,
			diagnostics, input_hash, output_hash, started_at, completed_at, error, execution_ms
		FROM module_runs WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get module runs: %w", err)
	}
	defer rows.Close()

	var out []*core.ModuleRun
	for rows.Next() {
		mr := &core.ModuleRun{}
		var (
			status                                 string
			outputPath, framework, inHash, outHash sql.NullString
			errMsg                                 sql.NullString
			completedAt                            sql.NullTime
		)
		if err := rows.Scan(&mr.ID, &mr.RunID, &mr.Module, &mr.InputPath, &outputPath, &framework,
			&status, &mr.Rewritten, &mr.Diagnostics, &inHash, &outHash, &mr.StartedAt, &completedAt,
			&errMsg, &mr.ExecutionMS); err != nil {
			return nil, fmt.Errorf("failed to scan module run: %w", err)
		}
		mr.Status = core.ModuleStatus(status)
		mr.OutputPath = outputPath.String
		mr.Framework = framework.String
		mr.InputHash = inHash.String
		mr.OutputHash = outHash.String
		mr.Error = errMsg.String
		if completedAt.Valid {
			t := completedAt.Time
			mr.CompletedAt = &t
		}
		out = append(out, mr)
	}
	return out, rows.Err()
}
