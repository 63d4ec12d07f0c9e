// Package registry provides the process-wide caller lookup consumed by call
// stages. The registry is populated outside the execution core (at namespace
// init) and is read-only during execution.
package registry

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/errors"
)

// Caller is an executable registered under a group/name@tag reference. It
// receives rendered keyword arguments and returns the stage outputs.
type Caller func(ctx context.Context, args map[string]any) (map[string]any, error)

// usesPattern matches the `<module.path>/<function-or-alias>@<tag>` form.
var usesPattern = regexp.MustCompile(`^([\w.-]+)/([\w.-]+)@([\w.-]+)$`)

// Registry maps uses-references to callers.
type Registry struct {
	mu      sync.RWMutex
	callers map[string]Caller
}

// New creates an empty caller registry.
func New() *Registry {
	return &Registry{callers: make(map[string]Caller)}
}

// Register binds a caller to a uses-reference. The reference must parse.
func (r *Registry) Register(uses string, fn Caller) error {
	if !usesPattern.MatchString(uses) {
		return errors.Newf(errors.KindStage, errors.CodeValidationFailed,
			"invalid caller reference %q, want group/name@tag", uses)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.callers[uses]; exists {
		return errors.Newf(errors.KindStage, errors.CodeValidationFailed,
			"caller %q already registered", uses)
	}
	r.callers[uses] = fn
	return nil
}

// MustRegister is Register that panics on error, for namespace-init blocks.
func (r *Registry) MustRegister(uses string, fn Caller) {
	if err := r.Register(uses, fn); err != nil {
		panic(err)
	}
}

// Resolve looks up the caller for a uses-reference. Resolution is exact.
func (r *Registry) Resolve(uses string) (Caller, error) {
	if !usesPattern.MatchString(uses) {
		return nil, errors.Newf(errors.KindStage, errors.CodeInvalidSyntax,
			"invalid caller reference %q, want group/name@tag", uses)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.callers[uses]
	if !ok {
		return nil, errors.Newf(errors.KindStage, errors.CodeNotFound,
			"caller %q is not registered", uses)
	}
	return fn, nil
}

// Names returns the registered references, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.callers))
	for name := range r.callers {
		names = append(names, name)
	}
	return names
}

// Call resolves and invokes a caller in one step, translating argument panics
// into stage errors so a misbehaving callable cannot take down a worker.
func (r *Registry) Call(ctx context.Context, uses string, args map[string]any) (outputs map[string]any, err error) {
	fn, err := r.Resolve(uses)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Newf(errors.KindStage, errors.CodeInvalidType,
				"caller %q panicked: %v", uses, rec)
		}
	}()
	outputs, err = fn(ctx, args)
	if err != nil {
		return nil, errors.New(errors.KindStage, errors.CodeStageFailed,
			fmt.Sprintf("caller %q failed", uses), err)
	}
	return outputs, nil
}
