package execution

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/errors"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/workflow"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/infrastructure/trace"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/template"
)

// StageExecutor runs one stage through the shared protocol: condition, sleep,
// variant dispatch, retry.
type StageExecutor struct {
	eng    *Engine
	logger zerolog.Logger
}

func newStageExecutor(eng *Engine) *StageExecutor {
	return &StageExecutor{
		eng:    eng,
		logger: eng.logger.With().Str("component", "stage").Logger(),
	}
}

// Execute runs the stage and returns its explicit outcome. It never panics
// out of a stage; every failure becomes a FAILED outcome with the error
// attached.
func (x *StageExecutor) Execute(ctx context.Context, st *workflow.Stage, run Run, jobID string, scope map[string]any) Outcome {
	start := time.Now()
	out := x.execute(ctx, st, run, jobID, scope)
	elapsed := time.Since(start)

	trace.StagesExecuted.WithLabelValues(string(out.Status)).Inc()
	trace.StageDuration.Observe(elapsed.Seconds())

	level := trace.LevelInfo
	if out.Err != nil {
		level = trace.LevelError
	}
	x.eng.trace(run, jobID, st.Ident(), level,
		fmt.Sprintf("stage %q finished: %s", st.Ident(), out.Status), elapsed, out.Err)
	return out
}

func (x *StageExecutor) execute(ctx context.Context, st *workflow.Stage, run Run, jobID string, scope map[string]any) Outcome {
	if err := ctx.Err(); err != nil {
		return cancelOutcome(ctx)
	}

	if st.Condition != "" {
		skip, err := x.eng.evalCondition(st.Condition, scope)
		if err != nil {
			return Fail(errors.NewStage(errors.CodeInvalidSyntax,
				fmt.Sprintf("stage %q condition failed", st.Ident()), err))
		}
		if skip {
			x.logger.Debug().Str("run_id", run.RunID).Str("stage", st.Ident()).
				Msg("stage skipped by condition")
			return Skip()
		}
	}

	if st.Sleep > 0 {
		if !sleepCtx(ctx, time.Duration(st.Sleep*float64(time.Second))) {
			return cancelOutcome(ctx)
		}
	}

	attempts := 1
	if st.Retryable() && st.Retry > 0 {
		attempts += st.Retry
	}

	var out Outcome
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			x.logger.Warn().Str("run_id", run.RunID).Str("stage", st.Ident()).
				Int("attempt", attempt+1).Msg("retrying stage")
			if !sleepCtx(ctx, x.eng.cfg.StageRetryDelay) {
				return cancelOutcome(ctx)
			}
		}
		// A retry starts clean: outputs of the failed attempt are discarded.
		out = x.dispatch(ctx, st, run, jobID, scope)
		if out.Status != workflow.StatusFailed || ctx.Err() != nil {
			break
		}
	}
	return out
}

func (x *StageExecutor) dispatch(ctx context.Context, st *workflow.Stage, run Run, jobID string, scope map[string]any) Outcome {
	switch spec := st.Spec.(type) {
	case *workflow.EmptyStage:
		return x.empty(st, spec, run, jobID, scope)
	case *workflow.BashStage:
		return x.bash(ctx, st, spec, scope)
	case *workflow.ScriptStage:
		return x.script(st, spec.Run, spec.Vars, nil, false, scope)
	case *workflow.VirtualScriptStage:
		return x.script(st, spec.Run, spec.Vars, spec.Deps, true, scope)
	case *workflow.CallStage:
		return x.call(ctx, st, spec, scope)
	case *workflow.TriggerStage:
		return x.trigger(ctx, st, spec, run, scope)
	case *workflow.RaiseStage:
		msg, err := x.eng.renderString(spec.Raise, scope)
		if err != nil {
			return Fail(errors.NewStage(errors.CodeInvalidSyntax,
				fmt.Sprintf("stage %q raise message failed to render", st.Ident()), err))
		}
		return Fail(errors.NewStage(errors.CodeStageFailed, msg, nil))
	case *workflow.DockerStage:
		return Fail(errors.NewStage(errors.CodeNotImplemented,
			fmt.Sprintf("stage %q: docker stages are not implemented", st.Ident()), nil))
	case *workflow.ParallelStage:
		return x.parallel(ctx, st, spec, run, jobID, scope)
	case *workflow.ForEachStage:
		return x.forEach(ctx, st, spec, run, jobID, scope)
	case *workflow.UntilStage:
		return x.until(ctx, st, spec, run, jobID, scope)
	case *workflow.CaseStage:
		return x.caseStage(ctx, st, spec, run, jobID, scope)
	default:
		return Fail(errors.NewStage(errors.CodeNotImplemented,
			fmt.Sprintf("stage %q has unknown kind %s", st.Ident(), st.Kind()), nil))
	}
}

func (x *StageExecutor) empty(st *workflow.Stage, spec *workflow.EmptyStage, run Run, jobID string, scope map[string]any) Outcome {
	msg := "empty stage"
	if spec.Echo != "" {
		rendered, err := x.eng.renderString(spec.Echo, scope)
		if err != nil {
			return Fail(errors.NewStage(errors.CodeInvalidSyntax,
				fmt.Sprintf("stage %q echo failed to render", st.Ident()), err))
		}
		msg = rendered
	}
	x.eng.trace(run, jobID, st.Ident(), trace.LevelInfo, msg, 0, nil)
	return Success(nil)
}

func (x *StageExecutor) bash(ctx context.Context, st *workflow.Stage, spec *workflow.BashStage, scope map[string]any) Outcome {
	script, err := x.eng.renderString(spec.Bash, scope)
	if err != nil {
		return Fail(errors.NewStage(errors.CodeInvalidSyntax,
			fmt.Sprintf("stage %q script failed to render", st.Ident()), err))
	}
	env := make(map[string]string, len(spec.Env))
	for k, v := range spec.Env {
		rendered, err := x.eng.renderString(v, scope)
		if err != nil {
			return Fail(errors.NewStage(errors.CodeInvalidSyntax,
				fmt.Sprintf("stage %q env %q failed to render", st.Ident(), k), err))
		}
		env[k] = rendered
	}

	res, err := x.eng.shell.Run(ctx, script, env)
	if err != nil {
		if ctx.Err() != nil {
			return cancelOutcome(ctx)
		}
		return Fail(errors.NewStage(errors.CodeStageFailed,
			fmt.Sprintf("stage %q subprocess failed", st.Ident()), err))
	}

	outputs := map[string]any{
		"return_code": res.ReturnCode,
		"stdout":      res.Stdout,
		"stderr":      res.Stderr,
	}
	if res.ReturnCode != 0 {
		return FailWith(workflow.StatusFailed, outputs, errors.Newf(
			errors.KindStage, errors.CodeStageFailed,
			"stage %q exited with code %d", st.Ident(), res.ReturnCode))
	}
	return Success(outputs)
}

func (x *StageExecutor) script(st *workflow.Stage, source string, vars map[string]any, deps []string, virtual bool, scope map[string]any) Outcome {
	rendered, err := x.eng.renderString(source, scope)
	if err != nil {
		return Fail(errors.NewStage(errors.CodeInvalidSyntax,
			fmt.Sprintf("stage %q script failed to render", st.Ident()), err))
	}
	bound, err := x.eng.renderMap(vars, scope)
	if err != nil {
		return Fail(errors.NewStage(errors.CodeInvalidSyntax,
			fmt.Sprintf("stage %q vars failed to render", st.Ident()), err))
	}

	var outputs map[string]any
	if virtual {
		outputs, err = x.eng.scripts.RunVirtual(rendered, bound, deps)
	} else {
		outputs, err = x.eng.scripts.Run(rendered, bound)
	}
	if err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) {
			return Fail(e)
		}
		return Fail(errors.NewStage(errors.CodeStageFailed,
			fmt.Sprintf("stage %q script failed", st.Ident()), err))
	}
	return Success(outputs)
}

func (x *StageExecutor) call(ctx context.Context, st *workflow.Stage, spec *workflow.CallStage, scope map[string]any) Outcome {
	uses, err := x.eng.renderString(spec.Uses, scope)
	if err != nil {
		return Fail(errors.NewStage(errors.CodeInvalidSyntax,
			fmt.Sprintf("stage %q uses failed to render", st.Ident()), err))
	}
	args, err := x.eng.renderMap(spec.Args, scope)
	if err != nil {
		return Fail(errors.NewStage(errors.CodeInvalidSyntax,
			fmt.Sprintf("stage %q args failed to render", st.Ident()), err))
	}

	outputs, err := x.eng.callers.Call(ctx, uses, args)
	if err != nil {
		if ctx.Err() != nil {
			return cancelOutcome(ctx)
		}
		var e *errors.Error
		if stderrors.As(err, &e) {
			return Fail(e)
		}
		return Fail(errors.NewStage(errors.CodeStageFailed,
			fmt.Sprintf("stage %q callable %q failed", st.Ident(), uses), err))
	}
	return Success(outputs)
}

func (x *StageExecutor) trigger(ctx context.Context, st *workflow.Stage, spec *workflow.TriggerStage, run Run, scope map[string]any) Outcome {
	name, err := x.eng.renderString(spec.Trigger, scope)
	if err != nil {
		return Fail(errors.NewStage(errors.CodeInvalidSyntax,
			fmt.Sprintf("stage %q trigger name failed to render", st.Ident()), err))
	}
	params, err := x.eng.renderMap(spec.Params, scope)
	if err != nil {
		return Fail(errors.NewStage(errors.CodeInvalidSyntax,
			fmt.Sprintf("stage %q trigger params failed to render", st.Ident()), err))
	}

	child, err := x.eng.Trigger(ctx, name, params, run)
	if err != nil {
		if ctx.Err() != nil {
			return cancelOutcome(ctx)
		}
		return Fail(errors.NewStage(errors.CodeStageFailed,
			fmt.Sprintf("stage %q could not start workflow %q", st.Ident(), name), err))
	}

	outputs := map[string]any{
		"run_id":   child.RunID,
		"status":   string(child.Status),
		"workflow": name,
		"context":  child.Context,
	}
	switch child.Status {
	case workflow.StatusSuccess, workflow.StatusSkip:
		return Success(outputs)
	case workflow.StatusCancel:
		return FailWith(workflow.StatusCancel, outputs, errors.NewStage(errors.CodeCancel,
			fmt.Sprintf("triggered workflow %q (run %s) was cancelled", name, child.RunID), nil))
	default:
		return FailWith(workflow.StatusFailed, outputs, errors.NewStage(errors.CodeStageFailed,
			fmt.Sprintf("triggered workflow %q (run %s) finished %s", name, child.RunID, child.Status), nil))
	}
}

// cancelOutcome classifies an interrupted stage. Cancellation is always a
// CANCEL at stage level; the driver decides whether the run as a whole is a
// timeout failure or an external cancel.
func cancelOutcome(ctx context.Context) Outcome {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = ctx.Err()
	}
	if stderrors.Is(cause, errors.ErrTimeout) {
		return Cancel(errors.NewStage(errors.CodeCancel, "stage stopped by workflow timeout", cause))
	}
	return Cancel(errors.NewStage(errors.CodeCancel, "stage cancelled", cause))
}

// sleepCtx pauses for d, returning false if the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// stringForm is the comparison form for case values and foreach keys.
func stringForm(value any) string {
	return template.Stringify(value)
}
