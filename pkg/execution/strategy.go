package execution

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/workflow"
)

// Combo is one point of a job's matrix expansion.
type Combo struct {
	Key    string
	Values map[string]any
}

// Expand produces the ordered matrix combinations of a strategy: the full
// cross-product of the matrix axes (declaration order defines tuple order),
// minus exclude entries (key-subset equality), plus include entries
// (de-duplicated by exact match). Expand is pure: equal inputs give equal,
// stably-ordered output.
func Expand(s *workflow.Strategy) []Combo {
	if s == nil || !s.IsSet() {
		return nil
	}

	keys := s.MatrixKeys
	if len(keys) == 0 {
		// programmatically built specs have no recorded order
		for k := range s.Matrix {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}

	base := []map[string]any{{}}
	for _, key := range keys {
		values := s.Matrix[key]
		next := make([]map[string]any, 0, len(base)*len(values))
		for _, combo := range base {
			for _, v := range values {
				grown := make(map[string]any, len(combo)+1)
				for ck, cv := range combo {
					grown[ck] = cv
				}
				grown[key] = v
				next = append(next, grown)
			}
		}
		base = next
	}
	if len(s.Matrix) == 0 {
		base = nil
	}

	out := make([]Combo, 0, len(base)+len(s.Include))
	seen := make(map[string]bool)
	for _, combo := range base {
		if excluded(combo, s.Exclude) {
			continue
		}
		key := StrategyKey(combo)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Combo{Key: key, Values: combo})
	}
	for _, inc := range s.Include {
		combo := Snapshot(inc)
		key := StrategyKey(combo)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Combo{Key: key, Values: combo})
	}
	return out
}

// excluded reports whether any exclude entry matches the combo on every one
// of the entry's own keys.
func excluded(combo map[string]any, excludes []map[string]any) bool {
	for _, ex := range excludes {
		if len(ex) == 0 {
			continue
		}
		match := true
		for k, v := range ex {
			got, ok := combo[k]
			if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", v) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// StrategyKey assigns a combo its stable key: a short hash of the sorted
// (key, value) pairs.
func StrategyKey(combo map[string]any) string {
	if len(combo) == 0 {
		return "0000000000"
	}
	keys := make([]string, 0, len(combo))
	for k := range combo {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s=%v", k, combo[k])
	}
	sum := sha256.Sum256([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(sum[:5])
}
