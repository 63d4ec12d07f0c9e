package template

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ncruces/go-strftime"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Filter is a pure function of (value, args...). Filters must not touch
// anything outside their inputs.
type Filter func(value any, args ...any) (any, error)

// FilterRegistry holds the built-in filters plus user registrations. It is
// built at load time and read-only during execution.
type FilterRegistry struct {
	mu      sync.RWMutex
	filters map[string]Filter
}

// NewFilterRegistry creates a registry pre-populated with the built-ins.
func NewFilterRegistry() *FilterRegistry {
	r := &FilterRegistry{filters: make(map[string]Filter)}
	for name, fn := range builtins {
		r.filters[name] = fn
	}
	return r
}

// Register adds or replaces a filter by name.
func (r *FilterRegistry) Register(name string, fn Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters[name] = fn
}

// Get looks up a filter by name.
func (r *FilterRegistry) Get(name string) (Filter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.filters[name]
	return fn, ok
}

var titleCaser = cases.Title(language.Und)

var builtins = map[string]Filter{
	"abs": func(value any, _ ...any) (any, error) {
		switch v := value.(type) {
		case int:
			if v < 0 {
				return -v, nil
			}
			return v, nil
		case int64:
			if v < 0 {
				return -v, nil
			}
			return v, nil
		case float64:
			return math.Abs(v), nil
		default:
			return nil, fmt.Errorf("abs: expected number, got %T", value)
		}
	},
	"str": func(value any, _ ...any) (any, error) {
		return Stringify(value), nil
	},
	"int": func(value any, _ ...any) (any, error) {
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			return int64(v), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("int: %w", err)
			}
			return n, nil
		case bool:
			if v {
				return int64(1), nil
			}
			return int64(0), nil
		default:
			return nil, fmt.Errorf("int: cannot convert %T", value)
		}
	},
	"upper": func(value any, _ ...any) (any, error) {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("upper: expected string, got %T", value)
		}
		return strings.ToUpper(s), nil
	},
	"lower": func(value any, _ ...any) (any, error) {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("lower: expected string, got %T", value)
		}
		return strings.ToLower(s), nil
	},
	"title": func(value any, _ ...any) (any, error) {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("title: expected string, got %T", value)
		}
		return titleCaser.String(s), nil
	},
	"fmt": func(value any, args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("fmt: expected one pattern argument, got %d", len(args))
		}
		pattern, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("fmt: pattern must be a string, got %T", args[0])
		}
		if t, ok := value.(time.Time); ok {
			return strftime.Format(pattern, t), nil
		}
		return fmt.Sprintf(pattern, value), nil
	},
	"coalesce": func(value any, args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("coalesce: expected one default argument, got %d", len(args))
		}
		if value == nil {
			return args[0], nil
		}
		return value, nil
	},
	"getitem": func(value any, args ...any) (any, error) {
		if len(args) == 0 || len(args) > 2 {
			return nil, fmt.Errorf("getitem: expected key and optional default, got %d args", len(args))
		}
		mapping, ok := asMapping(value)
		if !ok {
			return nil, fmt.Errorf("getitem: expected mapping, got %T", value)
		}
		key := fmt.Sprintf("%v", args[0])
		if item, ok := mapping[key]; ok {
			return item, nil
		}
		if len(args) == 2 {
			return args[1], nil
		}
		return nil, fmt.Errorf("getitem: key %q not found", key)
	},
	"getindex": func(value any, args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("getindex: expected one index argument, got %d", len(args))
		}
		idx, err := toInt(args[0])
		if err != nil {
			return nil, fmt.Errorf("getindex: %w", err)
		}
		seq, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("getindex: expected sequence, got %T", value)
		}
		if idx < 0 || int(idx) >= len(seq) {
			return nil, fmt.Errorf("getindex: index %d out of range (len %d)", idx, len(seq))
		}
		return seq[idx], nil
	},
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}
