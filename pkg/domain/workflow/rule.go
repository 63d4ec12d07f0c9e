package workflow

import "fmt"

// Rule gates a downstream job on the terminal statuses of its upstreams.
type Rule string

const (
	RuleAllSuccess  Rule = "all_success"
	RuleAllFailed   Rule = "all_failed"
	RuleAllDone     Rule = "all_done"
	RuleOneSuccess  Rule = "one_success"
	RuleOneFailed   Rule = "one_failed"
	RuleNoneFailed  Rule = "none_failed"
	RuleNoneSkipped Rule = "none_skipped"
)

// Valid reports whether the rule is one of the known trigger rules.
func (r Rule) Valid() bool {
	switch r {
	case RuleAllSuccess, RuleAllFailed, RuleAllDone, RuleOneSuccess,
		RuleOneFailed, RuleNoneFailed, RuleNoneSkipped:
		return true
	}
	return false
}

// Decision is the outcome of evaluating a trigger rule against upstream statuses.
type Decision int

const (
	DecisionWait Decision = iota
	DecisionProceed
	DecisionSkip
)

func (d Decision) String() string {
	switch d {
	case DecisionProceed:
		return "proceed"
	case DecisionSkip:
		return "skip"
	default:
		return "wait"
	}
}

// Evaluate decides whether a downstream job should proceed, skip, or keep
// waiting, given its upstreams' current statuses. Zero upstreams proceed
// vacuously under every rule.
func (r Rule) Evaluate(upstream []Status) (Decision, error) {
	if len(upstream) == 0 {
		return DecisionProceed, nil
	}

	var success, failed, skipped, cancelled, terminal int
	for _, st := range upstream {
		if st.IsTerminal() {
			terminal++
		}
		switch st {
		case StatusSuccess:
			success++
		case StatusFailed:
			failed++
		case StatusSkip:
			skipped++
		case StatusCancel:
			cancelled++
		}
	}
	allTerminal := terminal == len(upstream)

	switch r {
	case RuleAllSuccess:
		if success == len(upstream) {
			return DecisionProceed, nil
		}
		if failed+cancelled+skipped > 0 {
			return DecisionSkip, nil
		}
		return DecisionWait, nil
	case RuleAllFailed:
		if failed == len(upstream) {
			return DecisionProceed, nil
		}
		if terminal > failed {
			return DecisionSkip, nil
		}
		return DecisionWait, nil
	case RuleAllDone:
		if allTerminal {
			return DecisionProceed, nil
		}
		return DecisionWait, nil
	case RuleOneSuccess:
		if !allTerminal {
			return DecisionWait, nil
		}
		if success >= 1 {
			return DecisionProceed, nil
		}
		return DecisionSkip, nil
	case RuleOneFailed:
		if !allTerminal {
			return DecisionWait, nil
		}
		if failed >= 1 {
			return DecisionProceed, nil
		}
		return DecisionSkip, nil
	case RuleNoneFailed:
		if failed > 0 {
			return DecisionSkip, nil
		}
		if allTerminal {
			return DecisionProceed, nil
		}
		return DecisionWait, nil
	case RuleNoneSkipped:
		if skipped > 0 {
			return DecisionSkip, nil
		}
		if allTerminal {
			return DecisionProceed, nil
		}
		return DecisionWait, nil
	default:
		return DecisionWait, fmt.Errorf("unknown trigger rule %q", string(r))
	}
}
