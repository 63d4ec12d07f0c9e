package execution

import (
	"time"

	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/errors"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/workflow"
)

// Result is what the workflow driver returns for one release: the aggregate
// status, the final context tree, and a flat depth-first list of failure
// records.
type Result struct {
	Status      workflow.Status `json:"status"`
	Context     map[string]any  `json:"context"`
	RunID       string          `json:"run_id"`
	ParentRunID string          `json:"parent_run_id,omitempty"`
	Errors      []errors.Record `json:"errors"`
	StartedAt   time.Time       `json:"started_at"`
	EndedAt     time.Time       `json:"ended_at"`
}

// Outcome is the explicit return of one stage execution; no control flow by
// exception.
type Outcome struct {
	Status  workflow.Status
	Outputs map[string]any
	Err     error
}

// Success builds a SUCCESS outcome carrying outputs.
func Success(outputs map[string]any) Outcome {
	if outputs == nil {
		outputs = map[string]any{}
	}
	return Outcome{Status: workflow.StatusSuccess, Outputs: outputs}
}

// Skip builds a SKIP outcome.
func Skip() Outcome {
	return Outcome{Status: workflow.StatusSkip, Outputs: map[string]any{}}
}

// Cancel builds a CANCEL outcome.
func Cancel(err error) Outcome {
	return Outcome{Status: workflow.StatusCancel, Outputs: map[string]any{}, Err: err}
}

// Fail builds a FAILED outcome carrying the failure.
func Fail(err error) Outcome {
	return Outcome{Status: workflow.StatusFailed, Outputs: map[string]any{}, Err: err}
}

// FailWith builds a FAILED outcome that still carries partial outputs, as
// nested stages do for their branch contexts.
func FailWith(status workflow.Status, outputs map[string]any, err error) Outcome {
	if outputs == nil {
		outputs = map[string]any{}
	}
	return Outcome{Status: status, Outputs: outputs, Err: err}
}
