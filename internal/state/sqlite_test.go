package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapcloak/internal/testutil"
	"github.com/leapstack-labs/leapcloak/pkg/core"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(testutil.NewTestLogger(t))
	require.NoError(t, store.Open(":memory:"))
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_InitSchema(t *testing.T) {
	store := setupTestStore(t)

	for _, table := range []string{"runs", "module_runs", "site_diagnostics"} {
		rows, err := store.db.Query("SELECT 1 FROM " + table + " LIMIT 1")
		require.NoError(t, err, "table %s", table)
		_ = rows.Close()
	}

	version, err := store.GetMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	// Migrating again is a no-op.
	require.NoError(t, store.InitSchema())
}

func TestSQLiteStore_FileDatabase(t *testing.T) {
	path := t.TempDir() + "/state.db"

	store := NewSQLiteStore(nil)
	require.NoError(t, store.Open(path))
	require.NoError(t, store.InitSchema())
	run, err := store.CreateRun("project")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened := NewSQLiteStore(nil)
	require.NoError(t, reopened.Open(path))
	defer reopened.Close()
	require.NoError(t, reopened.InitSchema())

	got, err := reopened.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "project", got.Project)
}

func TestSQLiteStore_NotOpened(t *testing.T) {
	store := NewSQLiteStore(nil)

	_, err := store.CreateRun("p")
	assert.ErrorContains(t, err, "database not opened")
	assert.ErrorContains(t, store.CompleteRun("id", core.RunStatusCompleted, ""), "database not opened")
	assert.ErrorContains(t, store.RecordModuleRun(&core.ModuleRun{}), "database not opened")
	assert.ErrorContains(t, store.InitSchema(), "database not opened")
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	tests := []struct {
		name   string
		status core.RunStatus
		errMsg string
	}{
		{name: "completed", status: core.RunStatusCompleted},
		{name: "partial", status: core.RunStatusPartial, errMsg: "module Sample: write out: denied"},
		{name: "failed", status: core.RunStatusFailed, errMsg: "configuration error: unknown protection id"},
		{name: "cancelled", status: core.RunStatusCancelled, errMsg: "context canceled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupTestStore(t)

			run, err := store.CreateRun("/work/app")
			require.NoError(t, err)
			assert.NotEmpty(t, run.ID)
			assert.Equal(t, core.RunStatusRunning, run.Status)
			assert.Nil(t, run.CompletedAt)

			require.NoError(t, store.CompleteRun(run.ID, tt.status, tt.errMsg))

			got, err := store.GetRun(run.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.errMsg, got.Error)
			assert.Equal(t, "/work/app", got.Project)
			require.NotNil(t, got.CompletedAt)
			assert.False(t, got.CompletedAt.Before(got.StartedAt))
		})
	}
}

func TestSQLiteStore_RunNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetRun("missing")
	assert.ErrorContains(t, err, "run not found")
	assert.ErrorContains(t, store.CompleteRun("missing", core.RunStatusCompleted, ""), "run not found")

	latest, err := store.GetLatestRun("nobody")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestSQLiteStore_LatestAndList(t *testing.T) {
	store := setupTestStore(t)

	var ids []string
	for _, project := range []string{"a", "b", "a"} {
		run, err := store.CreateRun(project)
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}

	latest, err := store.GetLatestRun("a")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, ids[2], latest.ID)

	runs, err := store.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)

	all, err := store.ListRuns(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLiteStore_ModuleRunsAndDiagnostics(t *testing.T) {
	store := setupTestStore(t)
	run, err := store.CreateRun("p")
	require.NoError(t, err)

	ok := &core.ModuleRun{
		RunID:       run.ID,
		Module:      "Sample",
		InputPath:   "bin/Sample.lcim",
		OutputPath:  "out/bin/Sample.lcim",
		Framework:   "dotnet-framework@4.7.1",
		Status:      core.ModuleSucceeded,
		Rewritten:   9,
		Diagnostics: 2,
		InputHash:   "aa",
		OutputHash:  "bb",
		ExecutionMS: 12,
	}
	require.NoError(t, store.RecordModuleRun(ok))
	assert.NotEmpty(t, ok.ID)

	failed := &core.ModuleRun{
		RunID:     run.ID,
		Module:    "Broken",
		InputPath: "bin/Broken.lcim",
		Status:    core.ModuleFailed,
		Error:     "module Broken: load: not a module image",
	}
	require.NoError(t, store.RecordModuleRun(failed))

	diags := []core.SiteDiagnostic{
		{Protection: "ref proxy", Method: "App.Program::Main", Index: 4, Target: "App.Program::Trace",
			Requested: "x86", Outcome: core.SiteSkipped, Reason: "vararg signature"},
		{Protection: "ref proxy", Method: "App.Program::Main", Index: 9, Target: "System.Console::WriteLine",
			Requested: "x86", Used: "Normal", Outcome: core.SiteFellBack, Reason: "machine amd64 cannot host x86 code"},
	}
	require.NoError(t, store.SaveDiagnostics(ok.ID, diags))

	runs, err := store.GetModuleRunsForRun(run.ID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "Sample", runs[0].Module)
	assert.Equal(t, 9, runs[0].Rewritten)
	assert.Equal(t, "dotnet-framework@4.7.1", runs[0].Framework)
	assert.Equal(t, core.ModuleSucceeded, runs[0].Status)
	assert.Equal(t, "Broken", runs[1].Module)
	assert.Empty(t, runs[1].OutputPath)
	assert.Equal(t, failed.Error, runs[1].Error)

	got, err := store.GetDiagnostics(ok.ID)
	require.NoError(t, err)
	assert.Equal(t, diags, got)

	// Saving again replaces the previous set.
	require.NoError(t, store.SaveDiagnostics(ok.ID, diags[:1]))
	got, err = store.GetDiagnostics(ok.ID)
	require.NoError(t, err)
	assert.Equal(t, diags[:1], got)
}

func TestSQLiteStore_ModuleRunRequiresRun(t *testing.T) {
	store := setupTestStore(t)

	err := store.RecordModuleRun(&core.ModuleRun{RunID: "missing", Module: "m", InputPath: "p", Status: core.ModuleFailed})
	assert.ErrorContains(t, err, "failed to record module run")
}
