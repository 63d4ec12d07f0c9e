package template

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCtx() map[string]any {
	return map[string]any{
		"params": map[string]any{
			"name":  "orders",
			"count": int64(3),
			"ratio": 0.5,
			"run":   time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC),
			"tags":  []any{"a", "b"},
			"meta":  map[string]any{"owner": "data"},
		},
		"jobs": map[string]any{
			"extract": map[string]any{
				"stages": map[string]any{
					"pull": map[string]any{
						"outputs": map[string]any{"rows": int64(42)},
					},
				},
			},
		},
	}
}

func TestRenderWholeStringKeepsType(t *testing.T) {
	e := New(nil)

	got, err := e.RenderString("${{ params.count }}", testCtx())
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	got, err = e.RenderString("${{ params.tags }}", testCtx())
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, got)

	got, err = e.RenderString("  ${{ params.count }}  ", testCtx())
	require.NoError(t, err)
	assert.Equal(t, int64(3), got, "surrounding whitespace still counts as whole-string")
}

func TestRenderEmbeddedStringifies(t *testing.T) {
	e := New(nil)
	got, err := e.RenderString("table=${{ params.name }} n=${{ params.count }} r=${{ params.ratio }}", testCtx())
	require.NoError(t, err)
	assert.Equal(t, "table=orders n=3 r=0.5", got)
}

func TestRenderDeepPathsAndIndices(t *testing.T) {
	e := New(nil)

	got, err := e.RenderString("${{ jobs.extract.stages.pull.outputs.rows }}", testCtx())
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)

	got, err = e.RenderString("${{ params.tags.1 }}", testCtx())
	require.NoError(t, err)
	assert.Equal(t, "b", got)
}

func TestRenderUnresolvedPathFails(t *testing.T) {
	e := New(nil)
	_, err := e.RenderString("${{ params.ghost }}", testCtx())
	require.Error(t, err)

	_, err = e.RenderString("${{ params.ghost | upper }}", testCtx())
	require.Error(t, err, "only a leading coalesce recovers an unresolved path")
}

func TestRenderCoalesceRecovers(t *testing.T) {
	e := New(nil)
	got, err := e.RenderString(`${{ params.ghost | coalesce("fallback") }}`, testCtx())
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)

	got, err = e.RenderString(`${{ params.name | coalesce("fallback") }}`, testCtx())
	require.NoError(t, err)
	assert.Equal(t, "orders", got)
}

func TestRenderFilterChain(t *testing.T) {
	e := New(nil)

	got, err := e.RenderString("${{ params.name | upper }}", testCtx())
	require.NoError(t, err)
	assert.Equal(t, "ORDERS", got)

	got, err = e.RenderString("${{ params.name | title }}", testCtx())
	require.NoError(t, err)
	assert.Equal(t, "Orders", got)

	got, err = e.RenderString(`${{ params.run | fmt("%Y%m%d") }}`, testCtx())
	require.NoError(t, err)
	assert.Equal(t, "20240310", got)

	got, err = e.RenderString(`${{ params.meta | getitem("owner") | upper }}`, testCtx())
	require.NoError(t, err)
	assert.Equal(t, "DATA", got)

	got, err = e.RenderString("${{ params.tags | getindex(0) }}", testCtx())
	require.NoError(t, err)
	assert.Equal(t, "a", got)
}

func TestRenderUnknownFilter(t *testing.T) {
	e := New(nil)
	_, err := e.RenderString("${{ params.name | reverse }}", testCtx())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown filter")
}

func TestRenderWalksNestedValues(t *testing.T) {
	e := New(nil)
	got, err := e.Render(map[string]any{
		"plain": 1,
		"deep": []any{
			map[string]any{"v": "${{ params.count }}"},
			"n=${{ params.count }}",
		},
	}, testCtx())
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"plain": 1,
		"deep": []any{
			map[string]any{"v": int64(3)},
			"n=3",
		},
	}, got)
}

func TestRenderIdempotentOnResolvedValues(t *testing.T) {
	e := New(nil)
	resolved := map[string]any{
		"s": "no markers here",
		"n": int64(3),
		"l": []any{"a", map[string]any{"k": 1.5}},
	}
	got, err := e.Render(resolved, testCtx())
	require.NoError(t, err)
	assert.Equal(t, resolved, got)
	assert.False(t, Has(resolved))
}

func TestHas(t *testing.T) {
	assert.True(t, Has("${{ params.x }}"))
	assert.True(t, Has(map[string]any{"a": []any{"${{ x }}"}}))
	assert.False(t, Has("plain"))
	assert.False(t, Has(42))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "x", Stringify("x"))
	assert.Equal(t, "3", Stringify(int64(3)))
	assert.Equal(t, "0.5", Stringify(0.5))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "2024-03-10T02:00:00Z", Stringify(time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC)))
	assert.Equal(t, `["a","b"]`, Stringify([]any{"a", "b"}))
	assert.Equal(t, `{"k":1}`, Stringify(map[string]any{"k": 1}))
}

func TestFilterBuiltins(t *testing.T) {
	reg := NewFilterRegistry()

	abs, _ := reg.Get("abs")
	got, err := abs(int64(-5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)

	toInt, _ := reg.Get("int")
	got, err = toInt(" 12 ")
	require.NoError(t, err)
	assert.Equal(t, int64(12), got)
	got, err = toInt(true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	coalesce, _ := reg.Get("coalesce")
	got, err = coalesce(nil, "d")
	require.NoError(t, err)
	assert.Equal(t, "d", got)

	getitem, _ := reg.Get("getitem")
	_, err = getitem(map[string]any{}, "missing")
	assert.Error(t, err)
	got, err = getitem(map[string]any{}, "missing", "dflt")
	require.NoError(t, err)
	assert.Equal(t, "dflt", got)

	getindex, _ := reg.Get("getindex")
	_, err = getindex([]any{"a"}, int64(5))
	assert.Error(t, err)
}

func TestFilterRegistryCustom(t *testing.T) {
	reg := NewFilterRegistry()
	reg.Register("reverse", func(value any, _ ...any) (any, error) {
		s := value.(string)
		runes := []rune(s)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return string(runes), nil
	})

	e := New(reg)
	got, err := e.RenderString("${{ params.name | reverse }}", testCtx())
	require.NoError(t, err)
	assert.Equal(t, "sredro", got)
}
