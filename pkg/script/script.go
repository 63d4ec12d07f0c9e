// Package script is the sandboxed evaluator behind embedded-script stages.
//
// Scripts are CEL programs, which keeps the sandbox policy trivial: CEL is
// side-effect free, so no filesystem, process or network primitive exists for
// a script to reach. A script is either a YAML mapping of exported names to
// expressions (evaluated top to bottom, later lines seeing earlier exports)
// or a single expression exported under the name "result".
package script

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
	"gopkg.in/yaml.v3"

	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/errors"
)

// DefaultExport is the output name for single-expression scripts.
const DefaultExport = "result"

// Evaluator compiles and runs embedded scripts against pre-populated vars.
type Evaluator struct {
	// DepsAllow lists dependency names a virtual-script may declare.
	DepsAllow []string
}

// New creates an evaluator with no allowed virtual-script dependencies.
func New() *Evaluator {
	return &Evaluator{}
}

// assignment is one exported name with its source expression.
type assignment struct {
	name string
	expr string
}

// Run evaluates the script source with vars bound as variables and returns
// the exported names.
func (e *Evaluator) Run(source string, vars map[string]any) (map[string]any, error) {
	assigns, err := parse(source)
	if err != nil {
		return nil, err
	}

	scope := make(map[string]any, len(vars))
	for k, v := range vars {
		scope[k] = v
	}

	outputs := make(map[string]any, len(assigns))
	for _, a := range assigns {
		value, err := eval(a.expr, scope)
		if err != nil {
			return nil, errors.New(errors.KindStage, errors.CodeStageFailed,
				fmt.Sprintf("script export %q failed", a.name), err)
		}
		outputs[a.name] = value
		scope[a.name] = value
	}
	return outputs, nil
}

// RunVirtual evaluates a virtual-script after checking its declared deps
// against the allow-list.
func (e *Evaluator) RunVirtual(source string, vars map[string]any, deps []string) (map[string]any, error) {
	for _, dep := range deps {
		if !e.allowed(dep) {
			return nil, errors.Newf(errors.KindStage, errors.CodeScriptBlocked,
				"virtual-script dependency %q is not in the allow-list", dep)
		}
	}
	return e.Run(source, vars)
}

func (e *Evaluator) allowed(dep string) bool {
	for _, a := range e.DepsAllow {
		if a == dep {
			return true
		}
	}
	return false
}

// parse splits the source into ordered assignments. A YAML mapping of
// name -> expression keeps document order; anything else is a single
// expression exported as "result".
func parse(source string) ([]assignment, error) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(source), &node); err == nil &&
		len(node.Content) == 1 && node.Content[0].Kind == yaml.MappingNode {
		doc := node.Content[0]
		assigns := make([]assignment, 0, len(doc.Content)/2)
		for i := 0; i+1 < len(doc.Content); i += 2 {
			key, val := doc.Content[i], doc.Content[i+1]
			if val.Kind != yaml.ScalarNode {
				return nil, errors.Newf(errors.KindStage, errors.CodeInvalidSyntax,
					"script export %q: expression must be a scalar", key.Value)
			}
			assigns = append(assigns, assignment{name: key.Value, expr: val.Value})
		}
		if len(assigns) > 0 {
			return assigns, nil
		}
	}
	return []assignment{{name: DefaultExport, expr: source}}, nil
}

// Eval compiles and runs one expression with the scope bound as dynamic
// variables. Condition, until and case expressions go through here after
// template rendering.
func Eval(expr string, scope map[string]any) (any, error) {
	return eval(expr, scope)
}

// EvalBool evaluates an expression that must produce a boolean.
func EvalBool(expr string, scope map[string]any) (bool, error) {
	value, err := eval(expr, scope)
	if err != nil {
		return false, err
	}
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q evaluated to %T, want bool", expr, value)
	}
	return b, nil
}

// eval compiles and runs one CEL expression with the scope bound as dynamic
// variables.
func eval(expr string, scope map[string]any) (any, error) {
	opts := []cel.EnvOption{
		cel.OptionalTypes(),
		ext.Strings(),
		ext.Encoders(),
		ext.Math(),
		ext.Lists(),
		ext.Sets(),
	}
	for name := range scope {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("build evaluation environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	out, _, err := prg.Eval(scope)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", expr, err)
	}
	return Native(out), nil
}

// Native collapses a CEL value into plain Go types so outputs line up with
// the JSON-like context tree.
func Native(val ref.Val) any {
	switch val.Type() {
	case types.StringType:
		return val.Value().(string)
	case types.IntType:
		return val.Value().(int64)
	case types.UintType:
		return val.Value().(uint64)
	case types.DoubleType:
		return val.Value().(float64)
	case types.BoolType:
		return val.Value().(bool)
	case types.NullType:
		return nil
	case types.ListType:
		switch list := val.Value().(type) {
		case []ref.Val:
			out := make([]any, len(list))
			for i, item := range list {
				out[i] = Native(item)
			}
			return out
		case []any:
			out := make([]any, len(list))
			for i, item := range list {
				if rv, ok := item.(ref.Val); ok {
					out[i] = Native(rv)
				} else {
					out[i] = item
				}
			}
			return out
		default:
			return val.Value()
		}
	case types.MapType:
		switch m := val.Value().(type) {
		case map[ref.Val]ref.Val:
			out := make(map[string]any, len(m))
			for k, v := range m {
				out[fmt.Sprintf("%v", k.Value())] = Native(v)
			}
			return out
		case map[string]any:
			out := make(map[string]any, len(m))
			for k, v := range m {
				if rv, ok := v.(ref.Val); ok {
					out[k] = Native(rv)
				} else {
					out[k] = v
				}
			}
			return out
		default:
			return val.Value()
		}
	default:
		return val.Value()
	}
}
