package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/cron"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/errors"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/workflow"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/infrastructure/audit"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/infrastructure/trace"
)

// Execute runs the workflow once with the given parameter values. The
// returned error is reserved for refusals (invalid parameters); execution
// failures are reported through Result.Status and Result.Errors.
func (e *Engine) Execute(ctx context.Context, wf *workflow.Workflow, params map[string]any) (Result, error) {
	return e.run(ctx, wf, newRun(wf.Name, ReleaseNormal, ""), params, nil)
}

// Release runs the workflow for one scheduled release time. The time must
// match one of the workflow's cron schedules; the release bundle
// (logical_date, release_type) is injected into the parameter values.
func (e *Engine) Release(ctx context.Context, wf *workflow.Workflow, at time.Time, params map[string]any) (Result, error) {
	if wf.On == nil || len(wf.On.Schedule) == 0 {
		return Result{}, errors.Newf(errors.KindSchedule, errors.CodeScheduleInvalid,
			"workflow %q has no schedules to release", wf.Name)
	}

	tz := wf.On.TimezoneOf(e.cfg.Timezone)
	matched := false
	for _, cs := range wf.On.Schedule {
		sched, err := cron.Parse(cs.Cronjob, tz)
		if err != nil {
			return Result{}, errors.NewSchedule(errors.CodeScheduleInvalid,
				fmt.Sprintf("workflow %q schedule %q is invalid", wf.Name, cs.Cronjob), err)
		}
		if sched.Matches(at) {
			matched = true
			break
		}
	}
	if !matched {
		return Result{}, errors.Newf(errors.KindSchedule, errors.CodeScheduleInvalid,
			"release time %s matches no schedule of workflow %q", at.Format(time.RFC3339), wf.Name)
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Result{}, errors.NewSchedule(errors.CodeScheduleInvalid,
			fmt.Sprintf("workflow %q timezone %q is unknown", wf.Name, tz), err)
	}

	merged := make(map[string]any, len(params)+2)
	for k, v := range params {
		merged[k] = v
	}
	merged["logical_date"] = at.In(loc)
	merged["release_type"] = string(ReleaseScheduled)

	run := newRun(wf.Name, ReleaseScheduled, "")
	run.Release = at
	trace.ReleasesFired.WithLabelValues(wf.Name).Inc()
	return e.run(ctx, wf, run, merged, nil)
}

// Rerun re-executes a workflow from a prior result context. Only jobs that
// ended SUCCESS are preloaded from their prior slots, and a prior success is
// still recomputed when any transitive upstream did not succeed; force
// re-executes everything.
func (e *Engine) Rerun(ctx context.Context, wf *workflow.Workflow, prior map[string]any, force bool) (Result, error) {
	var preload map[string]any
	if !force {
		jobs := TreeJobs(prior)

		recompute := make(map[string]bool, len(wf.Jobs))
		for _, job := range wf.OrderedJobs() {
			slot, ok := jobs[job.ID].(map[string]any)
			if !ok || StatusOf(slot) != workflow.StatusSuccess {
				recompute[job.ID] = true
			}
		}
		// Close over the needs edges: downstream of a recomputed job is
		// recomputed too. The graph is acyclic, so this reaches a fixpoint.
		for changed := true; changed; {
			changed = false
			for _, job := range wf.OrderedJobs() {
				if recompute[job.ID] {
					continue
				}
				for _, need := range job.Needs {
					if recompute[need] {
						recompute[job.ID] = true
						changed = true
						break
					}
				}
			}
		}

		preload = map[string]any{}
		for _, job := range wf.OrderedJobs() {
			if recompute[job.ID] {
				continue
			}
			if slot, ok := jobs[job.ID].(map[string]any); ok {
				preload[job.ID] = Snapshot(slot)
			}
		}
	}
	return e.run(ctx, wf, newRun(wf.Name, ReleaseRerun, ""), TreeParams(prior), preload)
}

// Trigger starts a child release for a trigger stage. The child inherits the
// caller's cancellation scope, so a parent timeout stops the whole chain.
func (e *Engine) Trigger(ctx context.Context, name string, params map[string]any, parent Run) (Result, error) {
	if e.source == nil {
		return Result{}, errors.Newf(errors.KindWorkflow, errors.CodeNotFound,
			"no workflow source configured; cannot trigger %q", name)
	}
	wf, err := e.source.Load(name)
	if err != nil {
		return Result{}, errors.NewWorkflow(errors.CodeNotFound,
			fmt.Sprintf("workflow %q not found", name), err)
	}
	return e.run(ctx, wf, newRun(name, ReleaseTrigger, parent.RunID), params, nil)
}

// run is the shared release path: receive params, build the tree, schedule
// the DAG under the workflow timeout, then audit the terminal state.
func (e *Engine) run(ctx context.Context, wf *workflow.Workflow, run Run, params map[string]any, preload map[string]any) (Result, error) {
	started := time.Now().UTC()

	received, err := wf.Params.Receive(params)
	if err != nil {
		rec := errors.RecordOf(wf.Name, err, errors.KindParam)
		return Result{
			Status:      workflow.StatusFailed,
			Context:     NewTree(nil),
			RunID:       run.RunID,
			ParentRunID: run.ParentRunID,
			Errors:      []errors.Record{rec},
			StartedAt:   started,
			EndedAt:     time.Now().UTC(),
		}, err
	}

	tree := NewTree(received)
	if len(preload) > 0 {
		jobs := TreeJobs(tree)
		for id, slot := range preload {
			jobs[id] = slot
		}
	}

	rctx := ctx
	var cancel context.CancelFunc
	if e.cfg.Timeout > 0 {
		rctx, cancel = context.WithTimeoutCause(ctx, e.cfg.Timeout, errors.ErrTimeout)
		defer cancel()
	}

	e.logger.Info().Str("run_id", run.RunID).Str("workflow", wf.Name).
		Str("type", string(run.Type)).Msg("release started")
	e.trace(run, "", "", trace.LevelInfo,
		fmt.Sprintf("workflow %q release started (%s)", wf.Name, run.Type), 0, nil)

	status, records := newScheduler(e).Schedule(rctx, wf, tree, run)
	tree["status"] = string(status)

	result := Result{
		Status:      status,
		Context:     tree,
		RunID:       run.RunID,
		ParentRunID: run.ParentRunID,
		Errors:      records,
		StartedAt:   started,
		EndedAt:     time.Now().UTC(),
	}

	elapsed := result.EndedAt.Sub(started)
	level := trace.LevelInfo
	if status == workflow.StatusFailed {
		level = trace.LevelError
	}
	e.trace(run, "", "", level,
		fmt.Sprintf("workflow %q finished: %s", wf.Name, status), elapsed, nil)
	e.logger.Info().Str("run_id", run.RunID).Str("workflow", wf.Name).
		Str("status", string(status)).Dur("elapsed", elapsed).Msg("release finished")

	if e.cfg.EnableAudit {
		release := run.Release
		if release.IsZero() {
			release = started
		}
		rec := audit.Record{
			Name:        wf.Name,
			Type:        string(run.Type),
			Release:     release,
			Context:     tree,
			RunID:       run.RunID,
			ParentRunID: run.ParentRunID,
			UpdatedAt:   time.Now().UTC(),
		}
		// The release context may already be cancelled; auditing still runs.
		if err := e.audit.Save(context.WithoutCancel(ctx), rec); err != nil {
			e.logger.Error().Err(err).Str("run_id", run.RunID).Msg("audit write failed")
		}
	}
	return result, nil
}
