package workflow

// Status is the closed status enumeration for workflows, jobs and stages.
// WAIT is only ever used as a dependency-resolver intermediate; everything
// else is terminal.
type Status string

const (
	StatusWait    Status = "WAIT"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusSkip    Status = "SKIP"
	StatusCancel  Status = "CANCEL"
)

// IsTerminal reports whether the status is in the terminal set.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusSkip, StatusCancel:
		return true
	}
	return false
}

// IsOK reports whether the status counts as a non-failure for aggregation
// purposes (SUCCESS or SKIP).
func (s Status) IsOK() bool {
	return s == StatusSuccess || s == StatusSkip
}

// severity orders statuses for worst-of aggregation: FAILED > CANCEL > SKIP > SUCCESS.
func (s Status) severity() int {
	switch s {
	case StatusFailed:
		return 4
	case StatusCancel:
		return 3
	case StatusSkip:
		return 2
	case StatusSuccess:
		return 1
	default:
		return 0
	}
}

// Worst returns the more severe of the two statuses.
func (s Status) Worst(other Status) Status {
	if other.severity() > s.severity() {
		return other
	}
	return s
}

// Aggregate folds a set of child statuses under the implicit all_success rule:
// SUCCESS iff every child is SUCCESS or SKIP, CANCEL iff every non-OK child is
// CANCEL, otherwise FAILED. An empty set aggregates to SUCCESS.
func Aggregate(statuses []Status) Status {
	allOK := true
	sawCancel := false
	sawFailed := false
	for _, st := range statuses {
		switch st {
		case StatusSuccess, StatusSkip:
		case StatusCancel:
			allOK = false
			sawCancel = true
		default:
			allOK = false
			sawFailed = true
		}
	}
	switch {
	case allOK:
		return StatusSuccess
	case sawCancel && !sawFailed:
		return StatusCancel
	default:
		return StatusFailed
	}
}
