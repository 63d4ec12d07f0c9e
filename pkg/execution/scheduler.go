package execution

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/errors"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/workflow"
)

// requeueBackoff is the pause before trigger rules are re-evaluated when no
// job finished and nothing could be submitted.
const requeueBackoff = 75 * time.Millisecond

// Scheduler drives the job DAG of one release: it re-evaluates trigger rules
// as jobs finish, keeps at most max_job_parallel jobs in flight, and is the
// only writer of the tree's jobs mapping.
type Scheduler struct {
	eng    *Engine
	jobs   *JobRunner
	logger zerolog.Logger
}

func newScheduler(eng *Engine) *Scheduler {
	return &Scheduler{
		eng:    eng,
		jobs:   newJobRunner(eng),
		logger: eng.logger.With().Str("component", "scheduler").Logger(),
	}
}

type jobDone struct {
	id      string
	status  workflow.Status
	jctx    map[string]any
	records []errors.Record
}

// Schedule runs the workflow's jobs to completion against the tree. Jobs with
// a terminal slot already in the tree (a rerun preload) are taken as done. It
// returns the aggregate workflow status and the failure records in job
// declaration order.
func (s *Scheduler) Schedule(ctx context.Context, wf *workflow.Workflow, tree map[string]any, run Run) (workflow.Status, []errors.Record) {
	ordered := wf.OrderedJobs()
	jobs := TreeJobs(tree)

	statuses := make(map[string]workflow.Status, len(ordered))
	for _, job := range ordered {
		statuses[job.ID] = workflow.StatusWait
		if slot, ok := jobs[job.ID].(map[string]any); ok {
			if st := StatusOf(slot); st.IsTerminal() {
				statuses[job.ID] = st
			}
		}
	}

	maxParallel := s.eng.cfg.MaxJobParallel
	if maxParallel < 1 {
		maxParallel = 2
	}

	done := make(chan jobDone)
	running := 0
	recordsByJob := make(map[string][]errors.Record, len(ordered))

	apply := func(d jobDone) {
		statuses[d.id] = d.status
		jobs[d.id] = d.jctx
		recordsByJob[d.id] = d.records
		running--
	}

	for {
		if running == 0 && allTerminal(ordered, statuses) {
			break
		}
		if ctx.Err() != nil {
			// Drain in-flight jobs; they observe the same context.
			for running > 0 {
				apply(<-done)
			}
			for _, job := range ordered {
				if statuses[job.ID] == workflow.StatusWait {
					statuses[job.ID] = workflow.StatusCancel
					jobs[job.ID] = map[string]any{"status": string(workflow.StatusCancel)}
				}
			}
			break
		}

		progressed := 0
		for _, job := range ordered {
			if statuses[job.ID] != workflow.StatusWait {
				continue
			}
			upstream := make([]workflow.Status, len(job.Needs))
			for i, need := range job.Needs {
				upstream[i] = statuses[need]
			}
			decision, err := job.Rule().Evaluate(upstream)
			if err != nil {
				wrapped := errors.NewJob(errors.CodeInvalidState,
					fmt.Sprintf("job %q trigger rule failed", job.ID), err)
				statuses[job.ID] = workflow.StatusFailed
				jobs[job.ID] = map[string]any{
					"status": string(workflow.StatusFailed),
					"errors": errors.RecordOf(job.ID, wrapped, errors.KindJob),
				}
				recordsByJob[job.ID] = []errors.Record{errors.RecordOf(job.ID, wrapped, errors.KindJob)}
				progressed++
				continue
			}

			switch decision {
			case workflow.DecisionSkip:
				statuses[job.ID] = workflow.StatusSkip
				jobs[job.ID] = map[string]any{"status": string(workflow.StatusSkip)}
				progressed++
			case workflow.DecisionProceed:
				if running >= maxParallel {
					continue
				}
				statuses[job.ID] = statusRunning
				running++
				progressed++
				s.logger.Debug().Str("run_id", run.RunID).Str("job", job.ID).Msg("job submitted")
				// Snapshot here, in the loop goroutine: apply keeps writing
				// the jobs map while workers run.
				req := JobRequest{Workflow: wf, Job: job, Tree: Snapshot(tree), Run: run}
				go func() {
					status, jctx, records := s.jobs.RunJob(ctx, req)
					done <- jobDone{id: req.Job.ID, status: status, jctx: jctx, records: records}
				}()
			}
		}

		if progressed > 0 && running < maxParallel {
			continue
		}
		if running == 0 && progressed == 0 {
			// Nothing in flight and nothing became ready: the remaining
			// rules can never fire (validation excludes cycles, so this is
			// a rule referencing a permanently WAIT upstream).
			for _, job := range ordered {
				if statuses[job.ID] == workflow.StatusWait {
					err := errors.Newf(errors.KindJob, errors.CodeInvalidState,
						"job %q can never become ready", job.ID)
					statuses[job.ID] = workflow.StatusFailed
					jobs[job.ID] = map[string]any{
						"status": string(workflow.StatusFailed),
						"errors": errors.RecordOf(job.ID, err, errors.KindJob),
					}
					recordsByJob[job.ID] = []errors.Record{errors.RecordOf(job.ID, err, errors.KindJob)}
				}
			}
			continue
		}

		select {
		case d := <-done:
			apply(d)
		case <-ctx.Done():
		case <-time.After(requeueBackoff):
		}
	}

	var records []errors.Record
	finals := make([]workflow.Status, 0, len(ordered))
	for _, job := range ordered {
		finals = append(finals, statuses[job.ID])
		records = append(records, recordsByJob[job.ID]...)
	}
	final := workflow.Aggregate(finals)

	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		if stderrors.Is(cause, errors.ErrTimeout) {
			final = workflow.StatusFailed
			err := errors.NewWorkflow(errors.CodeTimeout,
				fmt.Sprintf("workflow %q timed out", wf.Name), cause)
			records = append(records, errors.RecordOf(wf.Name, err, errors.KindWorkflow))
		} else {
			final = workflow.StatusCancel
			err := errors.NewWorkflow(errors.CodeCancel,
				fmt.Sprintf("workflow %q was cancelled", wf.Name), cause)
			records = append(records, errors.RecordOf(wf.Name, err, errors.KindWorkflow))
		}
	}
	return final, records
}

// statusRunning is scheduler-internal; it never appears in the context tree.
const statusRunning = workflow.Status("RUNNING")

func allTerminal(ordered []*workflow.Job, statuses map[string]workflow.Status) bool {
	for _, job := range ordered {
		if !statuses[job.ID].IsTerminal() {
			return false
		}
	}
	return true
}
