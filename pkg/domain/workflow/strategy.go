package workflow

import (
	"gopkg.in/yaml.v3"
)

// Strategy declares a job's matrix expansion: cross-product of the matrix
// axes, minus exclude entries, plus include entries.
type Strategy struct {
	Matrix     map[string][]any `yaml:"matrix,omitempty"`
	MatrixKeys []string         `yaml:"-"` // declaration order of matrix axes
	Include    []map[string]any `yaml:"include,omitempty"`
	Exclude    []map[string]any `yaml:"exclude,omitempty"`

	MaxParallel int  `yaml:"max_parallel,omitempty" validate:"omitempty,min=1,max=9"`
	FailFast    bool `yaml:"fail_fast,omitempty"`
}

// UnmarshalYAML preserves the declaration order of the matrix axes, which
// defines combo tuple order for stable hashing.
func (s *Strategy) UnmarshalYAML(node *yaml.Node) error {
	type raw Strategy
	var v raw
	if err := node.Decode(&v); err != nil {
		return err
	}
	*s = Strategy(v)
	s.MatrixKeys = mappingKeys(node, "matrix")
	return nil
}

// IsSet reports whether the strategy expands to more than the empty combo.
func (s *Strategy) IsSet() bool {
	return s != nil && (len(s.Matrix) > 0 || len(s.Include) > 0)
}

// Workers returns the effective concurrency bound, defaulting to 1.
func (s *Strategy) Workers() int {
	if s == nil || s.MaxParallel <= 0 {
		return 1
	}
	return s.MaxParallel
}
