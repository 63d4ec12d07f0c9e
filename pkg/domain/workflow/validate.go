package workflow

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the workflow graph for structural problems: unknown trigger
// rules, dangling needs references, DAG cycles, bad strategy or nested-stage
// bounds, and malformed event blocks. It mirrors what the loader guarantees
// before a spec ever reaches the execution core.
func (w *Workflow) Validate() error {
	if w.Type != "" && w.Type != TypeName {
		return errors.Newf(errors.KindWorkflow, errors.CodeValidationFailed,
			"workflow %q: type must be %q, got %q", w.Name, TypeName, w.Type)
	}
	for name, spec := range w.Params {
		if err := spec.Validate(name); err != nil {
			return err
		}
	}
	if w.On != nil {
		if err := w.validateEvent(); err != nil {
			return err
		}
	}
	for _, job := range w.OrderedJobs() {
		if err := w.validateJob(job); err != nil {
			return err
		}
	}
	return w.validateAcyclic()
}

func (w *Workflow) validateEvent() error {
	if len(w.On.Schedule) > 10 {
		return errors.Newf(errors.KindSchedule, errors.CodeValidationFailed,
			"workflow %q: at most 10 schedules per event block, got %d", w.Name, len(w.On.Schedule))
	}
	tz := ""
	for _, s := range w.On.Schedule {
		if _, err := cron.ParseStandard(s.Cronjob); err != nil {
			return errors.New(errors.KindSchedule, errors.CodeScheduleInvalid,
				fmt.Sprintf("workflow %q: invalid cron %q", w.Name, s.Cronjob), err)
		}
		zone := s.Timezone
		if zone == "" {
			continue
		}
		if _, err := time.LoadLocation(zone); err != nil {
			return errors.New(errors.KindSchedule, errors.CodeScheduleInvalid,
				fmt.Sprintf("workflow %q: unknown timezone %q", w.Name, zone), err)
		}
		if tz == "" {
			tz = zone
		} else if tz != zone {
			return errors.Newf(errors.KindSchedule, errors.CodeValidationFailed,
				"workflow %q: all schedules in one event must share a timezone (%q vs %q)", w.Name, tz, zone)
		}
	}
	return nil
}

func (w *Workflow) validateJob(job *Job) error {
	if !job.Rule().Valid() {
		return errors.Newf(errors.KindWorkflow, errors.CodeValidationFailed,
			"job %q: unknown trigger_rule %q", job.ID, job.TriggerRule)
	}
	for _, need := range job.Needs {
		if _, ok := w.Jobs[need]; !ok {
			return errors.Newf(errors.KindWorkflow, errors.CodeValidationFailed,
				"job %q: needs unknown job %q", job.ID, need)
		}
	}
	if job.Strategy != nil {
		if err := validate.Struct(job.Strategy); err != nil {
			return errors.New(errors.KindWorkflow, errors.CodeValidationFailed,
				fmt.Sprintf("job %q: invalid strategy", job.ID), err)
		}
	}
	switch job.RunsOn.Kind() {
	case RunnerLocal, RunnerSelfHosted, RunnerDocker, RunnerCloudBatch:
	default:
		return errors.Newf(errors.KindWorkflow, errors.CodeValidationFailed,
			"job %q: unknown runs_on %q", job.ID, job.RunsOn.Type)
	}
	seen := make(map[string]bool, len(job.Stages))
	for _, st := range job.Stages {
		if seen[st.Ident()] {
			return errors.Newf(errors.KindWorkflow, errors.CodeValidationFailed,
				"job %q: duplicate stage id %q", job.ID, st.Ident())
		}
		seen[st.Ident()] = true
		if err := validateStage(job.ID, st); err != nil {
			return err
		}
	}
	return nil
}

func validateStage(jobID string, st *Stage) error {
	switch spec := st.Spec.(type) {
	case *ParallelStage, *ForEachStage, *UntilStage:
		if err := validate.Struct(st.Spec); err != nil {
			return errors.New(errors.KindWorkflow, errors.CodeValidationFailed,
				fmt.Sprintf("job %q stage %q: invalid bounds", jobID, st.Ident()), err)
		}
	case *CaseStage:
		if len(spec.Match) == 0 {
			return errors.Newf(errors.KindWorkflow, errors.CodeValidationFailed,
				"job %q stage %q: case requires at least one match arm", jobID, st.Ident())
		}
	}
	for _, inner := range st.InnerStages() {
		if err := validateStage(jobID, inner); err != nil {
			return err
		}
	}
	return nil
}

// validateAcyclic runs Kahn's algorithm over the needs edges; any unprocessed
// remainder means a cycle.
func (w *Workflow) validateAcyclic() error {
	inDegree := make(map[string]int, len(w.Jobs))
	dependents := make(map[string][]string, len(w.Jobs))
	for id, job := range w.Jobs {
		if _, ok := inDegree[id]; !ok {
			inDegree[id] = 0
		}
		for _, need := range job.Needs {
			inDegree[id]++
			dependents[need] = append(dependents[need], id)
		}
	}

	queue := make([]string, 0, len(inDegree))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		processed++
		for _, dep := range dependents[current] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if processed != len(w.Jobs) {
		return errors.Newf(errors.KindWorkflow, errors.CodeCycle,
			"workflow %q: job dependencies contain a cycle", w.Name)
	}
	return nil
}
