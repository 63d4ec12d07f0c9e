// Package execution is the workflow execution core: stage executors, the
// job runner, the DAG job scheduler, the workflow driver and the release
// scheduler. A loaded workflow spec is shared read-only; every release gets
// its own context tree and cancellation scope.
package execution

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/config"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/errors"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/workflow"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/infrastructure/audit"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/infrastructure/runner"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/infrastructure/trace"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/registry"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/script"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/template"
)

// Source resolves workflow names for trigger stages and the release
// scheduler. The loader in pkg/domain/workflow implements it.
type Source interface {
	Load(name string) (*workflow.Workflow, error)
}

// Options carries the pluggable collaborators of an Engine. Zero fields get
// working defaults (nop tracer, nop audit, empty registries).
type Options struct {
	Source  Source
	Callers *registry.Registry
	Filters *template.FilterRegistry
	Tracer  trace.Tracer
	Audit   audit.Store
	Runners map[workflow.RunnerKind]JobExecutor
}

// Engine bundles the configuration and collaborators threaded through every
// release. It is safe for concurrent use.
type Engine struct {
	cfg      *config.Config
	logger   zerolog.Logger
	template *template.Engine
	callers  *registry.Registry
	scripts  *script.Evaluator
	shell    *runner.Shell
	tracer   trace.Tracer
	audit    audit.Store
	source   Source
	runners  map[workflow.RunnerKind]JobExecutor
}

// NewEngine creates an engine over the given configuration.
func NewEngine(cfg *config.Config, logger zerolog.Logger, opts Options) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	eng := &Engine{
		cfg:      cfg,
		logger:   logger.With().Str("component", "engine").Logger(),
		template: template.New(opts.Filters),
		callers:  opts.Callers,
		scripts:  &script.Evaluator{DepsAllow: cfg.ScriptDepsAllow},
		shell:    &runner.Shell{Grace: cfg.GracePeriod},
		tracer:   opts.Tracer,
		audit:    opts.Audit,
		source:   opts.Source,
		runners:  opts.Runners,
	}
	if eng.callers == nil {
		eng.callers = registry.New()
	}
	if eng.tracer == nil {
		eng.tracer = trace.Nop{}
	}
	if eng.audit == nil {
		eng.audit = audit.Nop{}
	}
	if eng.runners == nil {
		eng.runners = map[workflow.RunnerKind]JobExecutor{}
	}
	return eng
}

// Config exposes the engine configuration to collaborators.
func (e *Engine) Config() *config.Config { return e.cfg }

// ReleaseType classifies how a run was started.
type ReleaseType string

const (
	ReleaseNormal    ReleaseType = "normal"
	ReleaseScheduled ReleaseType = "release"
	ReleaseRerun     ReleaseType = "rerun"
	ReleaseTrigger   ReleaseType = "trigger"
)

// Run is the identity of one release, shared read-only by its descendants.
type Run struct {
	Workflow    string
	RunID       string
	ParentRunID string
	CutID       string
	Type        ReleaseType
	Release     time.Time
}

func newRun(name string, typ ReleaseType, parent string) Run {
	return Run{
		Workflow:    name,
		RunID:       NewRunID(name),
		ParentRunID: parent,
		CutID:       uuid.NewString(),
		Type:        typ,
	}
}

// trace emits one tracer event for a run scope.
func (e *Engine) trace(run Run, job, stage string, level trace.Level, msg string, dur time.Duration, err error) {
	ev := trace.Event{
		RunID:       run.RunID,
		ParentRunID: run.ParentRunID,
		Level:       level,
		Message:     msg,
		Timestamp:   time.Now().UTC(),
		CutID:       run.CutID,
		Workflow:    run.Workflow,
		Job:         job,
		Stage:       stage,
	}
	if dur > 0 {
		ev.DurationMS = dur.Milliseconds()
	}
	if err != nil {
		ev.Exception = err.Error()
	}
	e.tracer.Emit(ev)
}

// evalCondition renders and evaluates a condition expression against the
// scope. The stage or job is skipped when the result is the literal true.
func (e *Engine) evalCondition(cond string, scope map[string]any) (bool, error) {
	rendered, err := e.template.RenderString(cond, scope)
	if err != nil {
		return false, err
	}
	switch v := rendered.(type) {
	case bool:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if b, err := strconv.ParseBool(s); err == nil {
			return b, nil
		}
		ok, err := script.EvalBool(s, scope)
		if err != nil {
			return false, errors.New(errors.KindStage, errors.CodeInvalidSyntax,
				"condition did not evaluate to a boolean", err)
		}
		return ok, nil
	default:
		return false, errors.Newf(errors.KindStage, errors.CodeInvalidType,
			"condition evaluated to %T, want bool", rendered)
	}
}

// renderString renders a template string and flattens the result back to a
// string.
func (e *Engine) renderString(s string, scope map[string]any) (string, error) {
	rendered, err := e.template.RenderString(s, scope)
	if err != nil {
		return "", err
	}
	return template.Stringify(rendered), nil
}

// renderMap renders every value of a mapping.
func (e *Engine) renderMap(m map[string]any, scope map[string]any) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	rendered, err := e.template.Render(Snapshot(m), scope)
	if err != nil {
		return nil, err
	}
	out, ok := rendered.(map[string]any)
	if !ok {
		return nil, errors.Newf(errors.KindUtil, errors.CodeInvalidType,
			"rendered mapping became %T", rendered)
	}
	return out, nil
}
