// Package workflow defines the declarative workflow model: params, jobs,
// stage variants, matrix strategies and cron events. A loaded Workflow is
// immutable and shared read-only by every concurrent release.
package workflow

import (
	"sort"

	"gopkg.in/yaml.v3"
)

// TypeName is the document discriminator for workflow objects.
const TypeName = "Workflow"

// Workflow is the validated in-memory workflow graph consumed by the
// execution core.
type Workflow struct {
	Name string `yaml:"-"`
	Type string `yaml:"type"`
	Desc string `yaml:"desc,omitempty"`

	Params Params          `yaml:"params,omitempty"`
	On     *Event          `yaml:"on,omitempty"`
	Jobs   map[string]*Job `yaml:"jobs,omitempty"`

	// JobOrder preserves declaration order for deterministic iteration.
	JobOrder []string `yaml:"-"`
}

// UnmarshalYAML decodes a workflow body, recording job declaration order and
// stamping each job with its mapping key.
func (w *Workflow) UnmarshalYAML(node *yaml.Node) error {
	type raw Workflow
	var v raw
	if err := node.Decode(&v); err != nil {
		return err
	}
	*w = Workflow(v)
	w.JobOrder = mappingKeys(node, "jobs")
	for id, job := range w.Jobs {
		if job.ID == "" {
			job.ID = id
		}
	}
	return nil
}

// Job returns the job with the given id.
func (w *Workflow) Job(id string) (*Job, bool) {
	j, ok := w.Jobs[id]
	return j, ok
}

// OrderedJobs iterates jobs in declaration order.
func (w *Workflow) OrderedJobs() []*Job {
	out := make([]*Job, 0, len(w.Jobs))
	for _, id := range w.JobOrder {
		if j, ok := w.Jobs[id]; ok {
			out = append(out, j)
		}
	}
	// jobs missing from the recorded order (programmatically built specs)
	if len(out) < len(w.Jobs) {
		seen := make(map[string]bool, len(out))
		for _, j := range out {
			seen[j.ID] = true
		}
		var missing []string
		for id := range w.Jobs {
			if !seen[id] {
				missing = append(missing, id)
			}
		}
		sort.Strings(missing)
		for _, id := range missing {
			out = append(out, w.Jobs[id])
		}
	}
	return out
}
