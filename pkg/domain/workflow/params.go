package workflow

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/errors"
)

// ParamType discriminates the fixed set of parameter variants.
type ParamType string

const (
	ParamStr      ParamType = "str"
	ParamInt      ParamType = "int"
	ParamDate     ParamType = "date"
	ParamDatetime ParamType = "datetime"
	ParamChoice   ParamType = "choice"
	ParamMap      ParamType = "map"
	ParamArray    ParamType = "array"
)

// DateFormat and DatetimeFormat are the ISO-8601 round-trip layouts for the
// date and datetime param variants.
const (
	DateFormat     = "2006-01-02"
	DatetimeFormat = time.RFC3339
)

// ParamSpec declares one workflow input. The zero default means the
// parameter is required: validation fails when no value is supplied.
type ParamSpec struct {
	Type       ParamType `yaml:"type"`
	Desc       string    `yaml:"desc,omitempty"`
	Default    any       `yaml:"default,omitempty"`
	HasDefault bool      `yaml:"-"`
	Options    []string  `yaml:"options,omitempty"` // choice only
}

// UnmarshalYAML accepts either the shorthand form (`count: int`) or the full
// mapping form (`count: {type: int, default: 1}`).
func (p *ParamSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		p.Type = ParamType(node.Value)
		return nil
	}
	type raw ParamSpec
	var r raw
	if err := node.Decode(&r); err != nil {
		return err
	}
	*p = ParamSpec(r)
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "default" {
			p.HasDefault = true
		}
	}
	return nil
}

// Validate checks the declaration itself.
func (p *ParamSpec) Validate(name string) error {
	switch p.Type {
	case ParamStr, ParamInt, ParamDate, ParamDatetime, ParamMap, ParamArray:
	case ParamChoice:
		if len(p.Options) == 0 {
			return errors.Newf(errors.KindParam, errors.CodeValidationFailed,
				"param %q: choice requires a non-empty options list", name)
		}
	default:
		return errors.Newf(errors.KindParam, errors.CodeInvalidType,
			"param %q: unknown type %q", name, p.Type)
	}
	return nil
}

// Receive coerces a supplied value (or the default) to the declared type.
// A missing value with no default is a Param error.
func (p *ParamSpec) Receive(name string, value any, present bool) (any, error) {
	if !present {
		if p.HasDefault || p.Default != nil {
			value = p.Default
		} else if p.Type == ParamChoice {
			// choice falls back to its first option
			return p.Options[0], nil
		} else {
			return nil, errors.Newf(errors.KindParam, errors.CodeMissingParameter,
				"param %q is required but was not supplied", name)
		}
	}
	out, err := coerce(p, value)
	if err != nil {
		return nil, errors.New(errors.KindParam, errors.CodeInvalidType,
			fmt.Sprintf("param %q: cannot coerce %v (%T) to %s", name, value, value, p.Type), err)
	}
	return out, nil
}

func coerce(p *ParamSpec, value any) (any, error) {
	switch p.Type {
	case ParamStr:
		if value == nil {
			return "", nil
		}
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", value), nil
	case ParamInt:
		return coerceInt(value)
	case ParamDate:
		t, err := coerceTime(value)
		if err != nil {
			return nil, err
		}
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, t.Location()), nil
	case ParamDatetime:
		return coerceTime(value)
	case ParamChoice:
		s := fmt.Sprintf("%v", value)
		for _, opt := range p.Options {
			if s == opt {
				return s, nil
			}
		}
		return nil, fmt.Errorf("value %q is not in options %v", s, p.Options)
	case ParamMap:
		switch m := value.(type) {
		case nil:
			return map[string]any{}, nil
		case map[string]any:
			return m, nil
		case map[any]any:
			out := make(map[string]any, len(m))
			for k, v := range m {
				out[fmt.Sprintf("%v", k)] = v
			}
			return out, nil
		default:
			return nil, fmt.Errorf("expected mapping, got %T", value)
		}
	case ParamArray:
		switch a := value.(type) {
		case nil:
			return []any{}, nil
		case []any:
			return a, nil
		default:
			return nil, fmt.Errorf("expected sequence, got %T", value)
		}
	default:
		return nil, fmt.Errorf("unknown param type %q", p.Type)
	}
}

func coerceInt(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("expected integer, got %T", value)
	}
}

func coerceTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range []string{DatetimeFormat, "2006-01-02 15:04:05", DateFormat} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as ISO-8601 date/datetime", v)
	default:
		return time.Time{}, fmt.Errorf("expected date/datetime, got %T", value)
	}
}

// Params is the declared input mapping of a workflow.
type Params map[string]*ParamSpec

// Receive validates and coerces the supplied values against the declaration.
// Unknown keys pass through untouched so release bundles can be injected.
func (ps Params) Receive(values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(ps)+len(values))
	for k, v := range values {
		if _, declared := ps[k]; !declared {
			out[k] = v
		}
	}
	for name, spec := range ps {
		v, present := values[name]
		coerced, err := spec.Receive(name, v, present)
		if err != nil {
			return nil, err
		}
		out[name] = coerced
	}
	return out, nil
}
