package workflow

import (
	"gopkg.in/yaml.v3"
)

// RunnerKind selects the JobRunner capability a job executes on.
type RunnerKind string

const (
	RunnerLocal      RunnerKind = "local"
	RunnerSelfHosted RunnerKind = "self_hosted"
	RunnerDocker     RunnerKind = "docker"
	RunnerCloudBatch RunnerKind = "cloud_batch"
)

// RunsOn selects and configures the runner for a job. The zero value means
// the local runner.
type RunsOn struct {
	Type RunnerKind     `yaml:"type"`
	With map[string]any `yaml:"with,omitempty"`
}

// UnmarshalYAML accepts either the shorthand string form (`runs_on: local`)
// or the full mapping form.
func (r *RunsOn) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		r.Type = RunnerKind(node.Value)
		return nil
	}
	type raw RunsOn
	var v raw
	if err := node.Decode(&v); err != nil {
		return err
	}
	*r = RunsOn(v)
	return nil
}

// Kind returns the effective runner kind, defaulting to local.
func (r RunsOn) Kind() RunnerKind {
	if r.Type == "" {
		return RunnerLocal
	}
	return r.Type
}

// Job is one node of the workflow DAG: a matrix strategy over a sequence of
// stages, gated on upstream jobs by a trigger rule.
type Job struct {
	ID   string `yaml:"id,omitempty"`
	Desc string `yaml:"desc,omitempty"`

	RunsOn RunsOn `yaml:"runs_on,omitempty"`

	// Condition skips the job when it evaluates to the literal true
	// ("if this is true, skip me").
	Condition string `yaml:"if,omitempty"`

	Needs       []string  `yaml:"needs,omitempty"`
	TriggerRule Rule      `yaml:"trigger_rule,omitempty"`
	Strategy    *Strategy `yaml:"strategy,omitempty"`
	Stages      []*Stage  `yaml:"stages,omitempty"`
}

// UnmarshalYAML maps the `condition` alias onto `if`.
func (j *Job) UnmarshalYAML(node *yaml.Node) error {
	type raw Job
	var v raw
	if err := node.Decode(&v); err != nil {
		return err
	}
	*j = Job(v)
	if j.Condition == "" {
		var alias struct {
			Condition string `yaml:"condition"`
		}
		if err := node.Decode(&alias); err == nil {
			j.Condition = alias.Condition
		}
	}
	return nil
}

// Rule returns the effective trigger rule, defaulting to all_success.
func (j *Job) Rule() Rule {
	if j.TriggerRule == "" {
		return RuleAllSuccess
	}
	return j.TriggerRule
}

// Stage returns the stage with the given identifier, if any.
func (j *Job) Stage(ident string) (*Stage, bool) {
	for _, st := range j.Stages {
		if st.Ident() == ident {
			return st, true
		}
	}
	return nil, false
}
