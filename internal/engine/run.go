package engine

// run.go - Execution orchestration for protection runs

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapcloak/internal/planner"
	"github.com/leapstack-labs/leapcloak/pkg/core"
	"github.com/leapstack-labs/leapcloak/pkg/il"
	"github.com/leapstack-labs/leapcloak/pkg/image"
)

// job is one loaded module waiting for execution.
type job struct {
	unit    *unit
	outcome *core.ModuleOutcome
	plan    *core.ModulePlan
}

// Run executes a protection run in three phases:
// Phase 1: Load every module and plan all rules (fail fast on configuration errors)
// Phase 2: Execute module plans concurrently
// Phase 3: Write each successful module as soon as its stages finish
//
// Module failures are reported in the result. The returned error is a
// *core.ConfigurationError when planning fails, or the context error when
// the run was cancelled.
func (e *Engine) Run(ctx context.Context, params core.RunParams) (*core.RunResult, error) {
	logger := params.Logger
	if logger == nil {
		logger = e.logger
	}
	project := params.Project
	e.registry.Freeze()

	rec := e.startRecording(project, logger)
	result := &core.RunResult{RunID: rec.runID, Status: core.RunStatusRunning}

	logger.Info("starting run", "run_id", result.RunID, "modules", len(project.Modules), "rules", len(project.Rules))

	units, err := resolveUnits(project)
	if err != nil {
		return e.abort(result, rec, logger, err)
	}

	// Phase 1: load and plan
	result.Modules = make([]core.ModuleOutcome, len(units))
	jobs := make([]*job, 0, len(units))
	var modules []*il.Module
	for i, u := range units {
		out := &result.Modules[i]
		out.Module = u.rel
		out.InputPath = u.inPath
		if err := ctx.Err(); err != nil {
			return e.abort(result, rec, logger, err)
		}
		mod, err := u.load()
		if err != nil {
			logger.Error("failed to load module", "path", u.inPath, "error", err)
			out.Status = core.ModuleFailed
			out.Err = err
			continue
		}
		out.Module = mod.Name
		modules = append(modules, mod)
		jobs = append(jobs, &job{unit: u, outcome: out})
	}

	plan := &core.Plan{}
	if len(modules) > 0 {
		if plan, err = planner.New(e.registry, e.resolver, logger).Plan(ctx, project, modules); err != nil {
			return e.abort(result, rec, logger, err)
		}
	}
	for _, w := range plan.Warnings {
		logger.Warn("plan warning", "warning", w)
	}
	byModule := make(map[*il.Module]*core.ModulePlan, len(plan.Modules))
	for _, mp := range plan.Modules {
		byModule[mp.Module] = mp
	}
	for i, j := range jobs {
		j.plan = byModule[modules[i]]
	}

	// Phase 2 and 3: execute and write
	logger.Debug("executing module plans", "count", len(jobs), "workers", e.workers)

	var g errgroup.Group
	g.SetLimit(e.workers)
	for _, j := range jobs {
		g.Go(func() error {
			e.process(ctx, project, j, logger)
			return nil
		})
	}
	_ = g.Wait()

	for i := range result.Modules {
		rec.module(&result.Modules[i], units[i])
	}

	result.Status = runStatus(ctx, result)
	runErr := result.Err()
	logger.Info("run finished", "run_id", result.RunID, "status", result.Status,
		"succeeded", len(result.Succeeded()), "failed", len(result.Failed()), "cancelled", len(result.Cancelled()))
	rec.complete(result.Status, runErr)

	if result.Status == core.RunStatusCancelled {
		return result, ctx.Err()
	}
	return result, nil
}

// abort finishes a run that stopped before execution.
func (e *Engine) abort(result *core.RunResult, rec *recorder, logger *slog.Logger, err error) (*core.RunResult, error) {
	result.Status = core.RunStatusFailed
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		result.Status = core.RunStatusCancelled
	}
	logger.Error("run aborted", "run_id", result.RunID, "error", err)
	rec.complete(result.Status, err)
	return result, err
}

// process runs every stage of one module and writes it. The outcome is only
// touched by this goroutine.
func (e *Engine) process(ctx context.Context, project core.Project, j *job, logger *slog.Logger) {
	out := j.outcome
	mp := j.plan
	mod := mp.Module
	start := time.Now()
	defer func() { out.Duration = time.Since(start) }()

	out.Framework = mp.Framework
	logger = logger.With("module", mod.Name)

	cancelled := func(err error) {
		logger.Info("module discarded", "reason", err)
		out.Status = core.ModuleCancelled
		out.Err = err
	}

	report := &core.ModuleReport{}
	seed := ModuleSeed(project.Seed, mod.Name)
	for _, st := range mp.Stages {
		if err := ctx.Err(); err != nil {
			cancelled(err)
			return
		}
		logger.Debug("applying protection", "protection", st.ID(), "targets", len(st.Targets))
		err := runStage(ctx, mp, st, seed, report, logger)
		out.Diagnostics = report.Diagnostics
		out.Stats = report.Stats
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				cancelled(ctxErr)
				return
			}
			logger.Error("protection failed", "protection", st.ID(), "error", err)
			out.Status = core.ModuleFailed
			out.Err = &core.ModuleFailure{Module: mod.Name, Stage: st.ID(), Err: err}
			return
		}
	}
	if err := ctx.Err(); err != nil {
		cancelled(err)
		return
	}

	data, err := writeModule(j.unit.outPath, mod)
	if err != nil {
		logger.Error("failed to write module", "path", j.unit.outPath, "error", err)
		out.Status = core.ModuleFailed
		out.Err = &core.OutputFailure{Module: mod.Name, Path: j.unit.outPath, Err: err}
		return
	}
	out.OutputPath = j.unit.outPath
	out.Status = core.ModuleSucceeded
	j.unit.outputHash = digest(data)

	for _, d := range out.Diagnostics {
		logger.Warn("site diagnostic", "protection", d.Protection, "site", d.String())
	}
	logger.Info("module protected", "output", out.OutputPath, "diagnostics", len(out.Diagnostics))
}

// runStage applies one protection. A panic is converted into an error.
func runStage(ctx context.Context, mp *core.ModulePlan, st *core.Stage, seed uint64, report *core.ModuleReport, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	sc := &core.StageContext{
		Module:       mp.Module,
		Framework:    mp.Framework,
		Capabilities: mp.Capabilities,
		Targets:      st.Targets,
		Seed:         seed,
		Logger:       logger.With("protection", st.ID()),
		Report:       report,
	}
	return st.Protection.Apply(ctx, sc)
}

// writeModule encodes mod and writes it to path. A panic is converted into
// an error.
func writeModule(path string, mod *il.Module) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if data, err = image.Encode(mod); err != nil {
		return nil, err
	}
	return data, image.WriteData(path, data)
}

// ModuleSeed derives the random seed of one module from the project seed.
// The same project seed and module name always give the same seed.
func ModuleSeed(projectSeed, module string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(projectSeed))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(module))
	return h.Sum64()
}

func runStatus(ctx context.Context, result *core.RunResult) core.RunStatus {
	if ctx.Err() != nil && len(result.Cancelled()) > 0 {
		return core.RunStatusCancelled
	}
	failed := len(result.Failed())
	switch {
	case failed == 0:
		return core.RunStatusCompleted
	case failed == len(result.Modules):
		return core.RunStatusFailed
	default:
		return core.RunStatusPartial
	}
}
