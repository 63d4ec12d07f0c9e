// Package template resolves ${{ expr }} placeholders inside arbitrarily
// nested JSON-like values. A whole-string placeholder keeps the resolved
// value's native type; embedded placeholders are stringified and
// concatenated in place.
package template

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/errors"
)

const (
	markerOpen  = "${{"
	markerClose = "}}"
)

// Engine renders templates against a context tree using a filter registry.
type Engine struct {
	filters *FilterRegistry
}

// New creates an engine with the built-in filters plus any extras registered
// on the given registry. A nil registry means built-ins only.
func New(filters *FilterRegistry) *Engine {
	if filters == nil {
		filters = NewFilterRegistry()
	}
	return &Engine{filters: filters}
}

// Has reports whether the value contains the template marker anywhere.
func Has(value any) bool {
	switch v := value.(type) {
	case string:
		return strings.Contains(v, markerOpen)
	case map[string]any:
		for _, item := range v {
			if Has(item) {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if Has(item) {
				return true
			}
		}
	}
	return false
}

// Render recursively walks the value, substituting every placeholder against
// the context. Values without markers pass through untouched, so rendering an
// already-resolved tree is the identity.
func (e *Engine) Render(value any, ctx map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return e.renderString(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			rendered, err := e.Render(item, ctx)
			if err != nil {
				return nil, err
			}
			out[key] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			rendered, err := e.Render(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

// RenderString renders a single string scalar.
func (e *Engine) RenderString(s string, ctx map[string]any) (any, error) {
	return e.renderString(s, ctx)
}

func (e *Engine) renderString(s string, ctx map[string]any) (any, error) {
	matches := findPlaceholders(s)
	if len(matches) == 0 {
		return s, nil
	}

	// Whole-string mode: the resolved value replaces the string with its
	// native type preserved.
	if len(matches) == 1 && matches[0].full == strings.TrimSpace(s) {
		return e.eval(matches[0].inner, ctx)
	}

	rendered := s
	for _, m := range matches {
		value, err := e.eval(m.inner, ctx)
		if err != nil {
			return nil, err
		}
		rendered = strings.Replace(rendered, m.full, Stringify(value), 1)
	}
	return rendered, nil
}

// eval parses and evaluates one placeholder expression.
func (e *Engine) eval(expr string, ctx map[string]any) (any, error) {
	parsed, err := parseExpr(expr)
	if err != nil {
		return nil, err
	}

	value, lookupErr := walkPath(ctx, parsed.path)
	if lookupErr != nil {
		// An unresolved path is recoverable only when the filter chain
		// begins with coalesce.
		if len(parsed.filters) == 0 || parsed.filters[0].name != "coalesce" {
			return nil, lookupErr
		}
		value = nil
	}

	for _, fc := range parsed.filters {
		fn, ok := e.filters.Get(fc.name)
		if !ok {
			return nil, errors.Newf(errors.KindUtil, errors.CodeNotFound,
				"unknown filter %q in expression %q", fc.name, expr)
		}
		value, err = fn(value, fc.args...)
		if err != nil {
			return nil, errors.New(errors.KindUtil, errors.CodeInvalidType,
				fmt.Sprintf("filter %q failed in expression %q", fc.name, expr), err)
		}
	}
	return value, nil
}

type placeholder struct {
	full  string
	inner string
}

// findPlaceholders scans for ${{ ... }} markers, tolerating nested braces
// inside the expression body.
func findPlaceholders(s string) []placeholder {
	var out []placeholder
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], markerOpen)
		if start == -1 {
			break
		}
		start += i
		end := strings.Index(s[start+len(markerOpen):], markerClose)
		if end == -1 {
			break
		}
		end += start + len(markerOpen)
		out = append(out, placeholder{
			full:  s[start : end+len(markerClose)],
			inner: strings.TrimSpace(s[start+len(markerOpen) : end]),
		})
		i = end + len(markerClose)
	}
	return out
}

// Stringify renders a resolved value into its embedded string form.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.Format(time.RFC3339)
	case float64:
		return fmt.Sprintf("%g", v)
	case map[string]any, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	default:
		return fmt.Sprintf("%v", v)
	}
}
