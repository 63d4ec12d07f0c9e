package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/errors"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/workflow"
)

// JobRequest carries everything a runner capability needs for one job: the
// owning workflow, the job spec, a snapshot of the context tree, and the run
// identity.
type JobRequest struct {
	Workflow *workflow.Workflow
	Job      *workflow.Job
	Tree     map[string]any
	Run      Run
}

// JobExecutor is one runner capability, keyed by the job's runs_on kind.
// Implementations for self_hosted, docker and cloud_batch plug in through
// Options.Runners; the local runner is built in.
type JobExecutor interface {
	RunJob(ctx context.Context, req JobRequest) (workflow.Status, map[string]any, []errors.Record)
}

// JobRunner executes one job locally: condition, strategy expansion, stage
// sequences per combination, aggregation.
type JobRunner struct {
	eng    *Engine
	exec   *StageExecutor
	logger zerolog.Logger
}

func newJobRunner(eng *Engine) *JobRunner {
	return &JobRunner{
		eng:    eng,
		exec:   newStageExecutor(eng),
		logger: eng.logger.With().Str("component", "job").Logger(),
	}
}

// RunJob executes the job and returns its aggregate status, its context slot,
// and the failure records it produced.
func (r *JobRunner) RunJob(ctx context.Context, req JobRequest) (workflow.Status, map[string]any, []errors.Record) {
	job := req.Job

	if kind := job.RunsOn.Kind(); kind != workflow.RunnerLocal {
		exec, ok := r.eng.runners[kind]
		if !ok {
			err := errors.Newf(errors.KindJob, errors.CodeNotImplemented,
				"job %q: no runner registered for runs_on %q", job.ID, kind)
			rec := errors.RecordOf(job.ID, err, errors.KindJob)
			return workflow.StatusFailed,
				map[string]any{"status": string(workflow.StatusFailed), "errors": rec},
				[]errors.Record{rec}
		}
		return exec.RunJob(ctx, req)
	}

	scope := map[string]any{
		"params": TreeParams(req.Tree),
		"jobs":   TreeJobs(req.Tree),
	}

	if job.Condition != "" {
		skip, err := r.eng.evalCondition(job.Condition, scope)
		if err != nil {
			wrapped := errors.NewJob(errors.CodeInvalidSyntax,
				fmt.Sprintf("job %q condition failed", job.ID), err)
			rec := errors.RecordOf(job.ID, wrapped, errors.KindJob)
			return workflow.StatusFailed,
				map[string]any{"status": string(workflow.StatusFailed), "errors": rec},
				[]errors.Record{rec}
		}
		if skip {
			r.logger.Debug().Str("run_id", req.Run.RunID).Str("job", job.ID).
				Msg("job skipped by condition")
			return workflow.StatusSkip,
				map[string]any{"status": string(workflow.StatusSkip)}, nil
		}
	}

	if job.Strategy == nil || !job.Strategy.IsSet() {
		return r.runSingle(ctx, req, scope)
	}
	return r.runMatrix(ctx, req, scope)
}

func (r *JobRunner) runSingle(ctx context.Context, req JobRequest, scope map[string]any) (workflow.Status, map[string]any, []errors.Record) {
	slots, status, err := r.exec.runSequence(ctx, req.Job.Stages, req.Run, req.Job.ID, Snapshot(scope))

	jctx := map[string]any{
		"stages": slots,
		"status": string(status),
	}
	records := stageRecords(req.Job.ID, "", req.Job.Stages, slots)
	if status == workflow.StatusFailed {
		records = append(records, jobRecord(req.Job.ID, err))
	}
	return status, jctx, records
}

func (r *JobRunner) runMatrix(ctx context.Context, req JobRequest, scope map[string]any) (workflow.Status, map[string]any, []errors.Record) {
	combos := Expand(req.Job.Strategy)
	if len(combos) == 0 {
		return workflow.StatusSuccess, map[string]any{
			"strategies": map[string]any{},
			"status":     string(workflow.StatusSuccess),
		}, nil
	}

	// fail_fast cancels the strategy scope, not the whole workflow.
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type comboResult struct {
		slots  map[string]any
		status workflow.Status
		err    error
	}
	results := make([]comboResult, len(combos))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(req.Job.Strategy.Workers())
	for i, combo := range combos {
		i, combo := i, combo
		g.Go(func() error {
			cscope := Snapshot(scope)
			cscope["matrix"] = combo.Values
			slots, status, err := r.exec.runSequence(sctx, req.Job.Stages, req.Run, req.Job.ID, cscope)

			mu.Lock()
			results[i] = comboResult{slots: slots, status: status, err: err}
			mu.Unlock()

			if req.Job.Strategy.FailFast && !status.IsOK() {
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()

	strategies := map[string]any{}
	statuses := make([]workflow.Status, len(combos))
	var records []errors.Record
	for i, combo := range combos {
		strategies[combo.Key] = map[string]any{
			"matrix": combo.Values,
			"stages": results[i].slots,
			"status": string(results[i].status),
		}
		statuses[i] = results[i].status
		records = append(records, stageRecords(req.Job.ID, combo.Key, req.Job.Stages, results[i].slots)...)
	}

	agg := workflow.Aggregate(statuses)
	jctx := map[string]any{
		"strategies": strategies,
		"status":     string(agg),
	}
	if agg == workflow.StatusFailed {
		records = append(records, jobRecord(req.Job.ID, firstError(results, func(c comboResult) error { return c.err })))
	}
	return agg, jctx, records
}

// stageRecords lifts the error records out of a sequence's stage slots in
// declaration order, qualifying each name with the job (and strategy key,
// when set).
func stageRecords(jobID, strategyKey string, stages []*workflow.Stage, slots map[string]any) []errors.Record {
	var out []errors.Record
	for _, st := range stages {
		slot, ok := slots[st.Ident()].(map[string]any)
		if !ok {
			continue
		}
		rec, ok := slot["errors"].(errors.Record)
		if !ok {
			continue
		}
		name := jobID + "." + rec.Name
		if strategyKey != "" {
			name = fmt.Sprintf("%s[%s].%s", jobID, strategyKey, rec.Name)
		}
		rec.Name = name
		out = append(out, rec)
	}
	return out
}

func jobRecord(jobID string, cause error) errors.Record {
	err := errors.NewJob(errors.CodeJobFailed,
		fmt.Sprintf("job %q failed", jobID), cause)
	return errors.RecordOf(jobID, err, errors.KindJob)
}

func firstError[T any](items []T, pick func(T) error) error {
	for _, item := range items {
		if err := pick(item); err != nil {
			return err
		}
	}
	return nil
}
