package execution

import (
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/workflow"
)

// Context-tree helpers. The tree is a plain nested mapping so the template
// engine can walk it:
//
//	{
//	  params: {...},
//	  jobs:   {jobID: {stages: {stageID: {outputs, status}}, status}
//	           or    {strategies: {key: {...}}, status}},
//	  status: "...",
//	  errors: [...],
//	}

// NewTree builds the initial context for a release.
func NewTree(params map[string]any) map[string]any {
	if params == nil {
		params = map[string]any{}
	}
	return map[string]any{
		"params": params,
		"jobs":   map[string]any{},
	}
}

// TreeParams returns the params mapping of a tree.
func TreeParams(tree map[string]any) map[string]any {
	if p, ok := tree["params"].(map[string]any); ok {
		return p
	}
	return map[string]any{}
}

// TreeJobs returns the jobs mapping of a tree.
func TreeJobs(tree map[string]any) map[string]any {
	if j, ok := tree["jobs"].(map[string]any); ok {
		return j
	}
	return map[string]any{}
}

// StageSlot is the per-stage output slot written exactly once.
func StageSlot(status workflow.Status, outputs map[string]any) map[string]any {
	if outputs == nil {
		outputs = map[string]any{}
	}
	return map[string]any{
		"outputs": outputs,
		"status":  string(status),
	}
}

// StatusOf reads the status field of a context slot.
func StatusOf(slot map[string]any) workflow.Status {
	if s, ok := slot["status"].(string); ok {
		return workflow.Status(s)
	}
	if s, ok := slot["status"].(workflow.Status); ok {
		return s
	}
	return workflow.StatusWait
}

// Snapshot deep-copies a JSON-like value so concurrent strategies and jobs
// never share mutable state.
func Snapshot[T any](value T) T {
	return deepCopy(any(value)).(T)
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
