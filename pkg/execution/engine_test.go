package execution

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/config"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/errors"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/workflow"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Timeout = 30 * time.Second
	cfg.StageRetryDelay = time.Millisecond
	cfg.GracePeriod = time.Second
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, opts Options) *Engine {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	return NewEngine(cfg, zerolog.Nop(), opts)
}

func loadWorkflow(t *testing.T, doc, name string) *workflow.Workflow {
	t.Helper()
	wfs, err := workflow.Parse([]byte(doc))
	require.NoError(t, err)
	wf, ok := wfs[name]
	require.True(t, ok, "workflow %q not in document", name)
	return wf
}

// dig walks nested string-keyed mappings.
func dig(t *testing.T, m map[string]any, path ...string) map[string]any {
	t.Helper()
	for _, key := range path {
		next, ok := m[key].(map[string]any)
		require.True(t, ok, "key %q missing or not a mapping in %v", key, m)
		m = next
	}
	return m
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return strings.Count(string(data), "\n")
}

func TestExecuteChainsOutputsAcrossJobs(t *testing.T) {
	wf := loadWorkflow(t, `
pipeline:
  type: Workflow
  jobs:
    extract:
      stages:
        - id: pull
          run: "21 * 2"
    transform:
      needs: [extract]
      stages:
        - id: double
          run: "rows * 2"
          vars:
            rows: ${{ jobs.extract.stages.pull.outputs.result }}
`, "pipeline")

	eng := newTestEngine(t, nil, Options{})
	res, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusSuccess, res.Status)
	assert.Empty(t, res.Errors)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "SUCCESS", res.Context["status"])

	pull := dig(t, res.Context, "jobs", "extract", "stages", "pull", "outputs")
	assert.EqualValues(t, 42, pull["result"])
	double := dig(t, res.Context, "jobs", "transform", "stages", "double", "outputs")
	assert.EqualValues(t, 84, double["result"])
}

func TestExecuteEmptyWorkflow(t *testing.T) {
	wf := loadWorkflow(t, `
noop:
  type: Workflow
  jobs: {}
`, "noop")

	eng := newTestEngine(t, nil, Options{})
	res, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSuccess, res.Status)
	assert.Empty(t, TreeJobs(res.Context))
}

func TestExecuteJobWithoutStages(t *testing.T) {
	wf := loadWorkflow(t, `
hollow:
  type: Workflow
  jobs:
    empty: {}
`, "hollow")

	eng := newTestEngine(t, nil, Options{})
	res, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSuccess, res.Status)
	slot := dig(t, res.Context, "jobs", "empty")
	assert.Equal(t, "SUCCESS", slot["status"])
}

func TestExecuteRejectsBadParams(t *testing.T) {
	wf := loadWorkflow(t, `
strict:
  type: Workflow
  params:
    run-date:
      type: date
      required: true
  jobs:
    main:
      stages:
        - id: note
          echo: ok
`, "strict")

	eng := newTestEngine(t, nil, Options{})
	res, err := eng.Execute(context.Background(), wf, nil)
	require.Error(t, err)
	assert.Equal(t, workflow.StatusFailed, res.Status)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, errors.KindParam, res.Errors[0].Kind)
	assert.Empty(t, TreeJobs(res.Context), "no job ran")
}

func TestExecuteConditionLiteralFalseStillRuns(t *testing.T) {
	wf := loadWorkflow(t, `
guarded:
  type: Workflow
  jobs:
    main:
      stages:
        - id: always
          if: "false"
          run: "1 + 1"
`, "guarded")

	eng := newTestEngine(t, nil, Options{})
	res, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSuccess, res.Status)

	slot := dig(t, res.Context, "jobs", "main", "stages", "always")
	assert.Equal(t, "SUCCESS", slot["status"], "a false condition executes the stage")
	assert.EqualValues(t, 2, dig(t, res.Context, "jobs", "main", "stages", "always", "outputs")["result"])
}

func TestExecuteSkipPropagation(t *testing.T) {
	wf := loadWorkflow(t, `
layered:
  type: Workflow
  jobs:
    prep:
      if: "true"
      stages:
        - id: setup
          echo: never runs
    main:
      needs: [prep]
      stages:
        - id: work
          echo: gated on all_success
    report:
      needs: [main]
      trigger_rule: all_done
      stages:
        - id: summary
          echo: always reports
`, "layered")

	eng := newTestEngine(t, nil, Options{})
	res, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSuccess, res.Status, "skips are success-like")

	assert.Equal(t, "SKIP", dig(t, res.Context, "jobs", "prep")["status"])
	assert.Equal(t, "SKIP", dig(t, res.Context, "jobs", "main")["status"],
		"all_success over a skipped upstream skips the job")
	assert.Equal(t, "SUCCESS", dig(t, res.Context, "jobs", "report")["status"],
		"all_done proceeds over any terminal upstream")
}

func TestExecuteMatrixJob(t *testing.T) {
	wf := loadWorkflow(t, `
sweep:
  type: Workflow
  jobs:
    load:
      strategy:
        matrix:
          table: [a, b]
          part: [1, 2, 3]
        exclude:
          - {table: a, part: 1}
        include:
          - {table: c, part: 4}
      stages:
        - id: work
          run: '"${{ matrix.table }}-" + string(part)'
          vars:
            part: ${{ matrix.part }}
`, "sweep")

	eng := newTestEngine(t, nil, Options{})
	res, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusSuccess, res.Status)

	strategies := dig(t, res.Context, "jobs", "load", "strategies")
	require.Len(t, strategies, 6)

	key := StrategyKey(map[string]any{"table": "c", "part": 4})
	combo := dig(t, strategies, key)
	assert.Equal(t, "SUCCESS", combo["status"])
	assert.EqualValues(t, map[string]any{"table": "c", "part": 4}, combo["matrix"])
	assert.Equal(t, "c-4", dig(t, combo, "stages", "work", "outputs")["result"])
}

func TestExecuteMatrixEmptyAfterExclusion(t *testing.T) {
	wf := loadWorkflow(t, `
hollow:
  type: Workflow
  jobs:
    load:
      strategy:
        matrix:
          x: [1]
        exclude:
          - {x: 1}
      stages:
        - id: work
          raise: must not run
`, "hollow")

	eng := newTestEngine(t, nil, Options{})
	res, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSuccess, res.Status)
	assert.Empty(t, dig(t, res.Context, "jobs", "load", "strategies"))
}

func TestExecuteForeachIsolatesItemFailure(t *testing.T) {
	wf := loadWorkflow(t, `
batch:
  type: Workflow
  jobs:
    process:
      stages:
        - id: each
          foreach: [1, 2, 3, 4]
          concurrent: 2
          stages:
            - id: guard
              if: ${{ item }} != 3
              raise: item ${{ item }} is poisoned
`, "batch")

	eng := newTestEngine(t, nil, Options{})
	res, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusFailed, res.Status)

	items := dig(t, res.Context, "jobs", "process", "stages", "each", "outputs", "items")
	require.Len(t, items, 4)
	for _, key := range []string{"1", "2", "4"} {
		assert.Equal(t, "SUCCESS", dig(t, items, key)["status"], "item %s", key)
	}
	assert.Equal(t, "FAILED", dig(t, items, "3")["status"])

	var found bool
	for _, rec := range res.Errors {
		if strings.Contains(rec.Message, "item 3 is poisoned") {
			found = true
		}
	}
	assert.True(t, found, "the poisoned item's message surfaces in the records: %v", res.Errors)
}

func TestExecuteUntilReachesCondition(t *testing.T) {
	wf := loadWorkflow(t, `
counter:
  type: Workflow
  jobs:
    count:
      stages:
        - id: loop
          item: 0
          until: ${{ item }} >= 3
          stages:
            - id: bump
              run: "item: item + 1"
              vars:
                item: ${{ item }}
`, "counter")

	eng := newTestEngine(t, nil, Options{})
	res, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusSuccess, res.Status)

	outputs := dig(t, res.Context, "jobs", "count", "stages", "loop", "outputs")
	assert.EqualValues(t, 3, outputs["item"])
	assert.EqualValues(t, 3, outputs["loop"])
}

func TestExecuteUntilExceedsMaxLoop(t *testing.T) {
	wf := loadWorkflow(t, `
poller:
  type: Workflow
  jobs:
    wait-ready:
      stages:
        - id: loop
          item: 0
          until: ${{ item }} >= 10
          max_loop: 5
          stages:
            - id: bump
              run: "item: item + 1"
              vars:
                item: ${{ item }}
`, "poller")

	eng := newTestEngine(t, nil, Options{})
	res, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusFailed, res.Status)

	outputs := dig(t, res.Context, "jobs", "wait-ready", "stages", "loop", "outputs")
	assert.EqualValues(t, 5, outputs["item"], "every bounded iteration ran")
	assert.EqualValues(t, 5, outputs["loop"])

	var found bool
	for _, rec := range res.Errors {
		if rec.Code == errors.CodeMaxLoop {
			found = true
		}
	}
	assert.True(t, found, "a MAX_LOOP record is surfaced: %v", res.Errors)
}

func TestExecuteCaseDispatch(t *testing.T) {
	wf := loadWorkflow(t, `
router:
  type: Workflow
  params:
    mode: str
  jobs:
    route:
      stages:
        - id: pick
          case: ${{ params.mode }}
          match:
            - case: fast
              stages:
                - id: fast-path
                  echo: fast
            - case: "_"
              stages:
                - id: default-path
                  echo: default
`, "router")

	eng := newTestEngine(t, nil, Options{})

	res, err := eng.Execute(context.Background(), wf, map[string]any{"mode": "fast"})
	require.NoError(t, err)
	require.Equal(t, workflow.StatusSuccess, res.Status)
	outputs := dig(t, res.Context, "jobs", "route", "stages", "pick", "outputs")
	assert.Equal(t, "fast", outputs["case"])
	assert.Contains(t, outputs["stages"], "fast-path")

	res, err = eng.Execute(context.Background(), wf, map[string]any{"mode": "slow"})
	require.NoError(t, err)
	require.Equal(t, workflow.StatusSuccess, res.Status)
	outputs = dig(t, res.Context, "jobs", "route", "stages", "pick", "outputs")
	assert.Equal(t, "slow", outputs["case"])
	assert.Contains(t, outputs["stages"], "default-path")
}

func TestExecuteParallelSingleWorkerRunsInBranchOrder(t *testing.T) {
	mark := filepath.Join(t.TempDir(), "order.txt")
	wf := loadWorkflow(t, fmt.Sprintf(`
fanout:
  type: Workflow
  jobs:
    build:
      stages:
        - id: split
          max_workers: 1
          parallel:
            alpha:
              - id: a
                bash: echo alpha >> %s
            beta:
              - id: b
                bash: echo beta >> %s
`, mark, mark), "fanout")

	eng := newTestEngine(t, nil, Options{})
	res, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusSuccess, res.Status)

	data, err := os.ReadFile(mark)
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta\n", string(data))

	branches := dig(t, res.Context, "jobs", "build", "stages", "split", "outputs", "branches")
	assert.Equal(t, "SUCCESS", dig(t, branches, "alpha")["status"])
	assert.Equal(t, "SUCCESS", dig(t, branches, "beta")["status"])
}

func TestExecuteRetriesFailedStage(t *testing.T) {
	mark := filepath.Join(t.TempDir(), "attempts.txt")
	wf := loadWorkflow(t, fmt.Sprintf(`
flaky:
  type: Workflow
  jobs:
    main:
      stages:
        - id: try
          retry: 2
          bash: echo attempt >> %s; exit 1
`, mark), "flaky")

	eng := newTestEngine(t, nil, Options{})
	res, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, res.Status)
	assert.Equal(t, 3, countLines(t, mark), "one initial attempt plus two retries")

	slot := dig(t, res.Context, "jobs", "main", "stages", "try")
	assert.Equal(t, "FAILED", slot["status"])
	assert.EqualValues(t, 1, dig(t, slot, "outputs")["return_code"])
}

func TestExecuteHaltsSequenceAfterFailure(t *testing.T) {
	wf := loadWorkflow(t, `
broken:
  type: Workflow
  jobs:
    main:
      stages:
        - id: boom
          raise: upstream broke
        - id: after
          echo: unreachable
`, "broken")

	eng := newTestEngine(t, nil, Options{})
	res, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, res.Status)

	stages := dig(t, res.Context, "jobs", "main", "stages")
	assert.Contains(t, stages, "boom")
	assert.NotContains(t, stages, "after", "the sequence halts at the first failure")
}

func TestExecuteTimeoutBecomesFailed(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 150 * time.Millisecond

	wf := loadWorkflow(t, `
slow:
  type: Workflow
  jobs:
    main:
      stages:
        - id: nap
          sleep: 5
          echo: never reached
`, "slow")

	eng := newTestEngine(t, cfg, Options{})
	start := time.Now()
	res, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "the nap is interrupted, not awaited")

	assert.Equal(t, workflow.StatusFailed, res.Status, "a timeout is a failure, not a cancel")
	assert.Equal(t, "CANCEL", dig(t, res.Context, "jobs", "main")["status"])

	var timeouts int
	for _, rec := range res.Errors {
		if rec.Kind == errors.KindWorkflow && rec.Code == errors.CodeTimeout {
			timeouts++
		}
	}
	assert.Equal(t, 1, timeouts, "exactly one workflow timeout record: %v", res.Errors)
}

func TestExecuteExternalCancel(t *testing.T) {
	wf := loadWorkflow(t, `
patient:
  type: Workflow
  jobs:
    main:
      stages:
        - id: nap
          sleep: 5
`, "patient")

	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel(errors.ErrCancel)
	}()

	eng := newTestEngine(t, nil, Options{})
	res, err := eng.Execute(ctx, wf, nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCancel, res.Status)

	var found bool
	for _, rec := range res.Errors {
		if rec.Kind == errors.KindWorkflow && rec.Code == errors.CodeCancel {
			found = true
		}
	}
	assert.True(t, found, "a workflow cancel record is surfaced: %v", res.Errors)
}

func TestTriggerChildFailureNamesChildRun(t *testing.T) {
	loader := workflow.NewLoader(nil, zerolog.Nop())
	require.NoError(t, loader.Put(loadWorkflow(t, `
child:
  type: Workflow
  jobs:
    boom:
      stages:
        - id: fail
          raise: child exploded
`, "child")))

	wf := loadWorkflow(t, `
parent:
  type: Workflow
  jobs:
    main:
      stages:
        - id: call-child
          trigger: child
`, "parent")

	eng := newTestEngine(t, nil, Options{Source: loader})
	res, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusFailed, res.Status)

	outputs := dig(t, res.Context, "jobs", "main", "stages", "call-child", "outputs")
	childRunID, _ := outputs["run_id"].(string)
	assert.NotEmpty(t, childRunID)
	assert.NotEqual(t, res.RunID, childRunID)
	assert.Equal(t, "FAILED", outputs["status"])
	assert.Equal(t, "child", outputs["workflow"])

	var found bool
	for _, rec := range res.Errors {
		if strings.Contains(rec.Message, childRunID) {
			found = true
		}
	}
	assert.True(t, found, "the failure message names the child run: %v", res.Errors)
}

func TestTriggerChildSuccessExposesContext(t *testing.T) {
	loader := workflow.NewLoader(nil, zerolog.Nop())
	require.NoError(t, loader.Put(loadWorkflow(t, `
child:
  type: Workflow
  params:
    size: int
  jobs:
    work:
      stages:
        - id: calc
          run: "size * 3"
          vars:
            size: ${{ params.size }}
`, "child")))

	wf := loadWorkflow(t, `
parent:
  type: Workflow
  jobs:
    main:
      stages:
        - id: call-child
          trigger: child
          params:
            size: 7
`, "parent")

	eng := newTestEngine(t, nil, Options{Source: loader})
	res, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusSuccess, res.Status)

	outputs := dig(t, res.Context, "jobs", "main", "stages", "call-child", "outputs")
	assert.Equal(t, "SUCCESS", outputs["status"])
	child, ok := outputs["context"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 21, dig(t, child, "jobs", "work", "stages", "calc", "outputs")["result"])
}

func TestTriggerWithoutSource(t *testing.T) {
	wf := loadWorkflow(t, `
orphan:
  type: Workflow
  jobs:
    main:
      stages:
        - id: call
          trigger: ghost
`, "orphan")

	eng := newTestEngine(t, nil, Options{})
	res, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, res.Status)
}

func TestRerunSkipsCompletedJobs(t *testing.T) {
	mark := filepath.Join(t.TempDir(), "ran.txt")
	wf := loadWorkflow(t, fmt.Sprintf(`
resumable:
  type: Workflow
  jobs:
    write:
      stages:
        - id: touch
          bash: echo ran >> %s
    after:
      needs: [write]
      stages:
        - id: done
          echo: ok
`, mark), "resumable")

	eng := newTestEngine(t, nil, Options{})
	first, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusSuccess, first.Status)
	require.Equal(t, 1, countLines(t, mark))

	second, err := eng.Rerun(context.Background(), wf, first.Context, false)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSuccess, second.Status)
	assert.Equal(t, 1, countLines(t, mark), "the completed job is preloaded, not re-executed")
	assert.EqualValues(t, 0,
		dig(t, second.Context, "jobs", "write", "stages", "touch", "outputs")["return_code"],
		"the preloaded slot keeps its prior outputs")

	forced, err := eng.Rerun(context.Background(), wf, first.Context, true)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSuccess, forced.Status)
	assert.Equal(t, 2, countLines(t, mark), "force re-executes completed jobs")
}

func TestExecuteManyIndependentJobs(t *testing.T) {
	// A wide DAG keeps workers finishing while the scheduler snapshots the
	// tree for the next submissions; the race detector guards the jobs map.
	var doc strings.Builder
	doc.WriteString("wide:\n  type: Workflow\n  jobs:\n")
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&doc, "    job-%02d:\n      stages:\n        - id: note\n          echo: job %d\n", i, i)
	}
	wf := loadWorkflow(t, doc.String(), "wide")

	cfg := testConfig()
	cfg.MaxJobParallel = 8
	eng := newTestEngine(t, cfg, Options{})

	res, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusSuccess, res.Status)

	jobs := TreeJobs(res.Context)
	require.Len(t, jobs, 40)
	for id, raw := range jobs {
		slot, ok := raw.(map[string]any)
		require.True(t, ok, "job %s", id)
		assert.Equal(t, "SUCCESS", slot["status"], "job %s", id)
	}
}

func TestRerunRecomputesDownstreamOfFailure(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	reportMark := filepath.Join(dir, "report.txt")
	sideMark := filepath.Join(dir, "side.txt")

	wf := loadWorkflow(t, fmt.Sprintf(`
staged:
  type: Workflow
  jobs:
    gate:
      stages:
        - id: check
          bash: test -f %s
    load:
      needs: [gate]
      stages:
        - id: work
          echo: gated on all_success
    report:
      needs: [gate]
      trigger_rule: all_done
      stages:
        - id: note
          bash: echo reported >> %s
    side:
      stages:
        - id: touch
          bash: echo ran >> %s
`, marker, reportMark, sideMark), "staged")

	eng := newTestEngine(t, nil, Options{})
	first, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusFailed, first.Status)
	require.Equal(t, "FAILED", dig(t, first.Context, "jobs", "gate")["status"])
	require.Equal(t, "SKIP", dig(t, first.Context, "jobs", "load")["status"])
	require.Equal(t, "SUCCESS", dig(t, first.Context, "jobs", "report")["status"])
	require.Equal(t, 1, countLines(t, reportMark))
	require.Equal(t, 1, countLines(t, sideMark))

	// Fix the upstream failure and rerun from the prior context.
	require.NoError(t, os.WriteFile(marker, nil, 0o644))
	second, err := eng.Rerun(context.Background(), wf, first.Context, false)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSuccess, second.Status)

	assert.Equal(t, "SUCCESS", dig(t, second.Context, "jobs", "gate")["status"])
	assert.Equal(t, "SUCCESS", dig(t, second.Context, "jobs", "load")["status"],
		"a job that skipped behind the failure is recomputed")
	assert.Equal(t, "SUCCESS", dig(t, second.Context, "jobs", "report")["status"])
	assert.Equal(t, 2, countLines(t, reportMark),
		"a prior success downstream of the failure is recomputed too")
	assert.Equal(t, 1, countLines(t, sideMark),
		"an unrelated prior success is replayed from its slot")
}

func TestReleaseInjectsBundle(t *testing.T) {
	wf := loadWorkflow(t, `
nightly:
  type: Workflow
  on:
    - cronjob: "*/5 * * * *"
  jobs:
    main:
      stages:
        - id: note
          echo: running for ${{ params.logical_date }}
`, "nightly")

	eng := newTestEngine(t, nil, Options{})
	at := time.Date(2026, 1, 2, 3, 25, 0, 0, time.UTC)

	res, err := eng.Release(context.Background(), wf, at, nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSuccess, res.Status)

	params := TreeParams(res.Context)
	assert.Equal(t, at, params["logical_date"])
	assert.Equal(t, "release", params["release_type"])
}

func TestReleaseRejectsUnscheduledTime(t *testing.T) {
	wf := loadWorkflow(t, `
nightly:
  type: Workflow
  on:
    - cronjob: "*/5 * * * *"
  jobs:
    main:
      stages:
        - id: note
          echo: ok
`, "nightly")

	eng := newTestEngine(t, nil, Options{})
	_, err := eng.Release(context.Background(), wf, time.Date(2026, 1, 2, 3, 26, 0, 0, time.UTC), nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeScheduleInvalid, errors.CodeOf(err))

	plain := loadWorkflow(t, `
plain:
  type: Workflow
  jobs:
    main:
      stages:
        - id: note
          echo: ok
`, "plain")
	_, err = eng.Release(context.Background(), plain, time.Now(), nil)
	require.Error(t, err, "a workflow without schedules cannot be released")
}

func TestExecuteUnregisteredRunner(t *testing.T) {
	wf := loadWorkflow(t, `
remote:
  type: Workflow
  jobs:
    main:
      runs_on: docker
      stages:
        - id: work
          echo: ok
`, "remote")

	eng := newTestEngine(t, nil, Options{})
	res, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, res.Status)

	require.NotEmpty(t, res.Errors)
	assert.Equal(t, errors.CodeNotImplemented, res.Errors[0].Code)
}
