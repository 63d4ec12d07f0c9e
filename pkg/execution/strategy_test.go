package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/workflow"
)

func decodeStrategy(t *testing.T, doc string) *workflow.Strategy {
	t.Helper()
	var s workflow.Strategy
	require.NoError(t, yaml.Unmarshal([]byte(doc), &s))
	return &s
}

func TestExpandCrossProduct(t *testing.T) {
	s := decodeStrategy(t, `
matrix:
  table: [a, b]
  part: [1, 2, 3]
exclude:
  - {table: a, part: 1}
include:
  - {table: c, part: 4}
`)

	combos := Expand(s)
	require.Len(t, combos, 6)

	got := make([]map[string]any, len(combos))
	for i, c := range combos {
		got[i] = c.Values
	}
	assert.Equal(t, []map[string]any{
		{"table": "a", "part": 2},
		{"table": "a", "part": 3},
		{"table": "b", "part": 1},
		{"table": "b", "part": 2},
		{"table": "b", "part": 3},
		{"table": "c", "part": 4},
	}, got, "declaration order drives tuple order; includes go last")
}

func TestExpandDeterministic(t *testing.T) {
	s := decodeStrategy(t, `
matrix:
  x: [1, 2]
  y: [a, b]
`)
	first := Expand(s)
	second := Expand(s)
	assert.Equal(t, first, second)
}

func TestExpandIncludeDeduplicates(t *testing.T) {
	s := decodeStrategy(t, `
matrix:
  x: [1]
include:
  - {x: 1}
  - {x: 2}
`)
	combos := Expand(s)
	require.Len(t, combos, 2)
	assert.Equal(t, map[string]any{"x": 1}, combos[0].Values)
	assert.Equal(t, map[string]any{"x": 2}, combos[1].Values)
}

func TestExpandExcludeBySubset(t *testing.T) {
	s := decodeStrategy(t, `
matrix:
  table: [a, b]
  part: [1, 2]
exclude:
  - {table: a}
`)
	combos := Expand(s)
	require.Len(t, combos, 2)
	for _, c := range combos {
		assert.Equal(t, "b", c.Values["table"])
	}
}

func TestExpandEverythingExcluded(t *testing.T) {
	s := decodeStrategy(t, `
matrix:
  x: [1]
exclude:
  - {x: 1}
`)
	assert.Empty(t, Expand(s))
}

func TestExpandUnsetStrategy(t *testing.T) {
	assert.Nil(t, Expand(nil))
	assert.Nil(t, Expand(&workflow.Strategy{}))
}

func TestStrategyKey(t *testing.T) {
	a := StrategyKey(map[string]any{"table": "a", "part": 1})
	b := StrategyKey(map[string]any{"part": 1, "table": "a"})
	assert.Equal(t, a, b, "key order does not matter")
	assert.Len(t, a, 10)

	c := StrategyKey(map[string]any{"table": "a", "part": 2})
	assert.NotEqual(t, a, c)

	assert.Equal(t, "0000000000", StrategyKey(nil))
}
