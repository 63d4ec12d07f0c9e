package execution

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/errors"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/workflow"
)

// runSequence executes stages in order against the scope, accumulating the
// per-stage slots under scope["stages"]. The sequence halts at the first
// FAILED or CANCEL stage; SKIP and SUCCESS continue.
func (x *StageExecutor) runSequence(ctx context.Context, stages []*workflow.Stage, run Run, jobID string, scope map[string]any) (map[string]any, workflow.Status, error) {
	slots := map[string]any{}
	scope["stages"] = slots

	var firstErr error
	statuses := make([]workflow.Status, 0, len(stages))
	for _, st := range stages {
		out := x.Execute(ctx, st, run, jobID, scope)
		slot := StageSlot(out.Status, out.Outputs)
		if out.Err != nil {
			slot["errors"] = errors.RecordOf(st.Ident(), out.Err, errors.KindStage)
			if firstErr == nil {
				firstErr = out.Err
			}
		}
		slots[st.Ident()] = slot
		statuses = append(statuses, out.Status)
		if out.Status == workflow.StatusFailed || out.Status == workflow.StatusCancel {
			break
		}
	}
	return slots, workflow.Aggregate(statuses), firstErr
}

// parallel runs every branch concurrently under the max_workers bound and
// aggregates the branch statuses. All branches run to completion; a failed
// branch does not cancel its siblings.
func (x *StageExecutor) parallel(ctx context.Context, st *workflow.Stage, spec *workflow.ParallelStage, run Run, jobID string, scope map[string]any) Outcome {
	branches := spec.Branches
	if len(branches) == 0 {
		for name := range spec.Parallel {
			branches = append(branches, name)
		}
		sort.Strings(branches)
	}

	workers := spec.MaxWorkers
	if workers < 1 {
		workers = 2
	}

	type branchResult struct {
		slots  map[string]any
		status workflow.Status
		err    error
	}
	results := make([]branchResult, len(branches))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, name := range branches {
		i, name := i, name
		g.Go(func() error {
			bscope := Snapshot(scope)
			bscope["branch"] = name
			slots, status, err := x.runSequence(ctx, spec.Parallel[name], run, jobID, bscope)
			results[i] = branchResult{slots: slots, status: status, err: err}
			return nil
		})
	}
	_ = g.Wait()

	branchCtx := map[string]any{}
	statuses := make([]workflow.Status, len(branches))
	var firstErr error
	for i, name := range branches {
		branchCtx[name] = map[string]any{
			"stages": results[i].slots,
			"status": string(results[i].status),
		}
		statuses[i] = results[i].status
		if results[i].err != nil && firstErr == nil {
			firstErr = results[i].err
		}
	}

	outputs := map[string]any{"branches": branchCtx}
	agg := workflow.Aggregate(statuses)
	if agg.IsOK() {
		return Success(outputs)
	}
	if firstErr == nil {
		firstErr = errors.Newf(errors.KindStage, errors.CodeStageFailed,
			"stage %q: a parallel branch finished %s", st.Ident(), agg)
	}
	return FailWith(agg, outputs, firstErr)
}

// forEach renders the foreach value to a sequence and runs the stage list once
// per item, up to the concurrent bound at a time.
func (x *StageExecutor) forEach(ctx context.Context, st *workflow.Stage, spec *workflow.ForEachStage, run Run, jobID string, scope map[string]any) Outcome {
	items, err := x.foreachItems(spec.Foreach, scope)
	if err != nil {
		return Fail(errors.NewStage(errors.CodeInvalidType,
			fmt.Sprintf("stage %q foreach did not produce a sequence", st.Ident()), err))
	}

	keys := make([]string, len(items))
	seen := make(map[string]bool, len(items))
	for i, item := range items {
		key := strconv.Itoa(i)
		if !spec.UseIndexAsKey {
			key = stringForm(item)
		}
		if seen[key] {
			return Fail(errors.Newf(errors.KindStage, errors.CodeInvalidState,
				"stage %q: duplicate foreach key %q; set use_index_as_key", st.Ident(), key))
		}
		seen[key] = true
		keys[i] = key
	}

	concurrent := spec.Concurrent
	if concurrent < 1 {
		concurrent = 1
	}

	type itemResult struct {
		slots  map[string]any
		status workflow.Status
		err    error
	}
	results := make([]itemResult, len(items))

	var g errgroup.Group
	g.SetLimit(concurrent)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			iscope := Snapshot(scope)
			iscope["item"] = item
			iscope["loop"] = i
			slots, status, err := x.runSequence(ctx, spec.Stages, run, jobID, iscope)
			results[i] = itemResult{slots: slots, status: status, err: err}
			return nil
		})
	}
	_ = g.Wait()

	itemCtx := map[string]any{}
	statuses := make([]workflow.Status, len(items))
	var firstErr error
	for i := range items {
		itemCtx[keys[i]] = map[string]any{
			"item":   items[i],
			"stages": results[i].slots,
			"status": string(results[i].status),
		}
		statuses[i] = results[i].status
		if results[i].err != nil && firstErr == nil {
			firstErr = results[i].err
		}
	}

	outputs := map[string]any{"items": itemCtx}
	agg := workflow.Aggregate(statuses)
	if agg.IsOK() {
		return Success(outputs)
	}
	if firstErr == nil {
		firstErr = errors.Newf(errors.KindStage, errors.CodeStageFailed,
			"stage %q: a foreach item finished %s", st.Ident(), agg)
	}
	return FailWith(agg, outputs, firstErr)
}

// foreachItems renders the foreach value into a concrete item slice. A string
// that renders to a YAML sequence literal is accepted too.
func (x *StageExecutor) foreachItems(value any, scope map[string]any) ([]any, error) {
	rendered, err := x.eng.template.Render(value, scope)
	if err != nil {
		return nil, err
	}
	switch v := rendered.(type) {
	case []any:
		return v, nil
	case string:
		var items []any
		if err := yaml.Unmarshal([]byte(v), &items); err != nil {
			return nil, fmt.Errorf("foreach value %q is not a sequence", v)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("foreach value is %T, want sequence", rendered)
	}
}

// until repeats the stage list, threading the item value between iterations,
// until the until expression holds or the loop bound is exceeded.
func (x *StageExecutor) until(ctx context.Context, st *workflow.Stage, spec *workflow.UntilStage, run Run, jobID string, scope map[string]any) Outcome {
	item, err := x.eng.template.Render(spec.Item, scope)
	if err != nil {
		return Fail(errors.NewStage(errors.CodeInvalidSyntax,
			fmt.Sprintf("stage %q item failed to render", st.Ident()), err))
	}

	// An unset max_loop bounds the loop at 10 iterations; the schema only
	// constrains an explicit value to 1-100.
	maxLoop := spec.MaxLoop
	if maxLoop < 1 {
		maxLoop = 10
	}

	var lastSlots map[string]any
	for loop := 0; ; loop++ {
		if loop >= maxLoop {
			return FailWith(workflow.StatusFailed,
				map[string]any{"item": item, "loop": loop, "stages": lastSlots},
				errors.NewStage(errors.CodeMaxLoop,
					fmt.Sprintf("stage %q exceeded max_loop %d", st.Ident(), maxLoop), errors.ErrMaxLoop))
		}

		iscope := Snapshot(scope)
		iscope["item"] = item
		iscope["loop"] = loop
		slots, status, err := x.runSequence(ctx, spec.Stages, run, jobID, iscope)
		lastSlots = slots
		if !status.IsOK() {
			return FailWith(status, map[string]any{"item": item, "loop": loop, "stages": slots}, err)
		}

		// A stage that exports "item" advances the loop value.
		for _, inner := range spec.Stages {
			slot, ok := slots[inner.Ident()].(map[string]any)
			if !ok {
				continue
			}
			if outs, ok := slot["outputs"].(map[string]any); ok {
				if next, ok := outs["item"]; ok {
					item = next
				}
			}
		}

		iscope["item"] = item
		done, err := x.eng.evalCondition(spec.Until, iscope)
		if err != nil {
			return Fail(errors.NewStage(errors.CodeInvalidSyntax,
				fmt.Sprintf("stage %q until expression failed", st.Ident()), err))
		}
		if done {
			return Success(map[string]any{"item": item, "loop": loop + 1, "stages": slots})
		}
	}
}

// caseStage renders the case expression and dispatches to the first arm whose
// case value equals its string form, falling back to the "_" arm.
func (x *StageExecutor) caseStage(ctx context.Context, st *workflow.Stage, spec *workflow.CaseStage, run Run, jobID string, scope map[string]any) Outcome {
	value, err := x.eng.renderString(spec.Case, scope)
	if err != nil {
		return Fail(errors.NewStage(errors.CodeInvalidSyntax,
			fmt.Sprintf("stage %q case expression failed", st.Ident()), err))
	}

	var arm, fallback *workflow.CaseMatch
	for i := range spec.Match {
		m := &spec.Match[i]
		if m.Case == "_" {
			if fallback == nil {
				fallback = m
			}
			continue
		}
		if m.Case == value {
			arm = m
			break
		}
	}
	if arm == nil {
		arm = fallback
	}
	if arm == nil {
		if spec.SkipNotMatch {
			return Skip()
		}
		return Fail(errors.Newf(errors.KindStage, errors.CodeNoMatch,
			"stage %q: no case arm matches %q", st.Ident(), value))
	}

	cscope := Snapshot(scope)
	slots, status, err := x.runSequence(ctx, arm.Stages, run, jobID, cscope)
	outputs := map[string]any{"case": value, "stages": slots}
	if status.IsOK() {
		return Success(outputs)
	}
	return FailWith(status, outputs, err)
}
