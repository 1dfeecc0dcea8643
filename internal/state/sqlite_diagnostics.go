package state

import (
	"database/sql"
	"fmt"

	"github.com/leapstack-labs/leapcloak/pkg/core"
)

// SaveDiagnostics stores the site diagnostics of a module run, replacing any
// saved before.
func (s *SQLiteStore) SaveDiagnostics(moduleRunID string, diags []core.SiteDiagnostic) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	tx, err := s.db.BeginTx(ctx(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx(), `DELETE FROM site_diagnostics WHERE module_run_id = ?`, moduleRunID); err != nil {
		return fmt.Errorf("failed to clear diagnostics: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx(), `
		INSERT INTO site_diagnostics (
			module_run_id, seq, protection, method, site_index, target, requested, used, outcome, reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, d := range diags {
		if _, err := stmt.ExecContext(ctx(), moduleRunID, i, d.Protection, d.Method, d.Index, d.Target,
			nullString(d.Requested), nullString(d.Used), string(d.Outcome), nullString(d.Reason)); err != nil {
			return fmt.Errorf("failed to save diagnostic %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit diagnostics: %w", err)
	}
	return nil
}

// GetDiagnostics returns the site diagnostics of a module run in the order
// they were recorded.
func (s *SQLiteStore) GetDiagnostics(moduleRunID string) ([]core.SiteDiagnostic, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx(), `
		SELECT protection, method, site_index, target, requested, used, outcome, reason
		FROM site_diagnostics WHERE module_run_id = ? ORDER BY seq`, moduleRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to get diagnostics: %w", err)
	}
	defer rows.Close()

	var out []core.SiteDiagnostic
	for rows.Next() {
		var (
			d                       core.SiteDiagnostic
			outcome                 string
			requested, used, reason sql.NullString
		)
		if err := rows.Scan(&d.Protection, &d.Method, &d.Index, &d.Target, &requested, &used, &outcome, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan diagnostic: %w", err)
		}
		d.Outcome = core.SiteOutcome(outcome)
		d.Requested = requested.String
		d.Used = used.String
		d.Reason = reason.String
		out = append(out, d)
	}
	return out, rows.Err()
}
