package template

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/errors"
)

// expression is a parsed placeholder body: a dotted path followed by an
// optional filter chain.
type expression struct {
	path    []segment
	filters []filterCall
}

// segment is one step of a context path: a mapping key or a sequence index.
type segment struct {
	key     string
	index   int
	isIndex bool
}

type filterCall struct {
	name string
	args []any
}

// parseExpr parses `path ( '|' filter('(' arg,* ')')? )*`. Anything the
// walker cannot statically parse is rejected up front.
func parseExpr(expr string) (*expression, error) {
	parts := splitTop(expr, '|')
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return nil, errors.Newf(errors.KindUtil, errors.CodeInvalidSyntax,
			"empty template expression %q", expr)
	}

	path, err := parsePath(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, err
	}

	out := &expression{path: path}
	for _, part := range parts[1:] {
		fc, err := parseFilterCall(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out.filters = append(out.filters, fc)
	}
	return out, nil
}

func parsePath(raw string) ([]segment, error) {
	pieces := strings.Split(raw, ".")
	segments := make([]segment, 0, len(pieces))
	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			return nil, errors.Newf(errors.KindUtil, errors.CodeInvalidSyntax,
				"empty path segment in %q", raw)
		}
		if idx, err := strconv.Atoi(piece); err == nil {
			segments = append(segments, segment{index: idx, isIndex: true})
			continue
		}
		if !validKey(piece) {
			return nil, errors.Newf(errors.KindUtil, errors.CodeInvalidSyntax,
				"invalid path segment %q in %q", piece, raw)
		}
		segments = append(segments, segment{key: piece})
	}
	return segments, nil
}

func validKey(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func parseFilterCall(raw string) (filterCall, error) {
	open := strings.IndexByte(raw, '(')
	if open == -1 {
		if !validKey(raw) {
			return filterCall{}, errors.Newf(errors.KindUtil, errors.CodeInvalidSyntax,
				"invalid filter name %q", raw)
		}
		return filterCall{name: raw}, nil
	}
	if !strings.HasSuffix(raw, ")") {
		return filterCall{}, errors.Newf(errors.KindUtil, errors.CodeInvalidSyntax,
			"unterminated filter call %q", raw)
	}
	name := strings.TrimSpace(raw[:open])
	if !validKey(name) {
		return filterCall{}, errors.Newf(errors.KindUtil, errors.CodeInvalidSyntax,
			"invalid filter name %q", name)
	}
	body := raw[open+1 : len(raw)-1]
	var args []any
	for _, piece := range splitTop(body, ',') {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		arg, err := parseLiteral(piece)
		if err != nil {
			return filterCall{}, err
		}
		args = append(args, arg)
	}
	return filterCall{name: name, args: args}, nil
}

// parseLiteral accepts quoted strings, integers, floats, booleans and null.
func parseLiteral(raw string) (any, error) {
	if len(raw) >= 2 {
		if (raw[0] == '\'' && raw[len(raw)-1] == '\'') || (raw[0] == '"' && raw[len(raw)-1] == '"') {
			return raw[1 : len(raw)-1], nil
		}
	}
	switch raw {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null", "None":
		return nil, nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f, nil
	}
	return nil, errors.Newf(errors.KindUtil, errors.CodeInvalidSyntax,
		"invalid filter argument %q", raw)
}

// splitTop splits on sep outside of quotes and parentheses.
func splitTop(s string, sep byte) []string {
	var parts []string
	depth := 0
	var quote byte
	last := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, s[last:i])
			last = i + 1
		}
	}
	parts = append(parts, s[last:])
	return parts
}

// walkPath resolves a parsed path against the context tree.
func walkPath(ctx map[string]any, path []segment) (any, error) {
	var current any = ctx
	for i, seg := range path {
		if seg.isIndex {
			seq, ok := current.([]any)
			if !ok {
				return nil, errors.Newf(errors.KindUtil, errors.CodeInvalidType,
					"path %q: segment %d indexes a non-sequence (%T)", joinPath(path), i, current)
			}
			if seg.index < 0 || seg.index >= len(seq) {
				return nil, errors.Newf(errors.KindUtil, errors.CodeNotFound,
					"path %q: index %d out of range (len %d)", joinPath(path), seg.index, len(seq))
			}
			current = seq[seg.index]
			continue
		}
		mapping, ok := asMapping(current)
		if !ok {
			return nil, errors.Newf(errors.KindUtil, errors.CodeInvalidType,
				"path %q: segment %q descends into a non-mapping (%T)", joinPath(path), seg.key, current)
		}
		value, ok := mapping[seg.key]
		if !ok {
			return nil, errors.Newf(errors.KindUtil, errors.CodeNotFound,
				"path %q: key %q not found", joinPath(path), seg.key)
		}
		current = value
	}
	return current, nil
}

func asMapping(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, item := range m {
			out[fmt.Sprintf("%v", k)] = item
		}
		return out, true
	}
	return nil, false
}

func joinPath(path []segment) string {
	parts := make([]string, len(path))
	for i, seg := range path {
		if seg.isIndex {
			parts[i] = strconv.Itoa(seg.index)
		} else {
			parts[i] = seg.key
		}
	}
	return strings.Join(parts, ".")
}
