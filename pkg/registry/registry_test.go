package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoCaller(_ context.Context, args map[string]any) (map[string]any, error) {
	return args, nil
}

func TestRegisterAndResolve(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("tasks/el-csv@polars", echoCaller))

	fn, err := r.Resolve("tasks/el-csv@polars")
	require.NoError(t, err)
	out, err := fn(context.Background(), map[string]any{"rows": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"rows": 1}, out)
}

func TestRegisterRejectsBadReferences(t *testing.T) {
	r := New()
	for _, uses := range []string{"", "no-tag/fn", "noslash@tag", "a/b@c@d", "sp ace/fn@tag"} {
		assert.Error(t, r.Register(uses, echoCaller), "uses %q", uses)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("tasks/el@v1", echoCaller))
	err := r.Register("tasks/el@v1", echoCaller)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestResolveUnknown(t *testing.T) {
	r := New()
	_, err := r.Resolve("tasks/ghost@v1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestCallRecoversPanic(t *testing.T) {
	r := New()
	r.MustRegister("tasks/boom@v1", func(context.Context, map[string]any) (map[string]any, error) {
		panic("bad argument shape")
	})

	_, err := r.Call(context.Background(), "tasks/boom@v1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}
