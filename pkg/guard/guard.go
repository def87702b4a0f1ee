// Package guard hosts the predicate runtime shared by transition guards
// and generic predicate rules. Predicates are resolved by name when a
// contract is published and evaluated in-process on the decision path.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nomoslabs/nomos/pkg/guard/exprlang"
)

// Input carries everything a predicate may inspect. Subject identifies
// what is being checked (an entity for transitions, a free-form subject
// for generic rules), Params come from the owning rule, and Context is
// the caller-supplied request context.
type Input struct {
	Subject string
	Params  map[string]any
	Context map[string]any
}

// Lookup resolves a dotted expression path against the input. Paths are
// rooted at "subject", "params", or "context".
func (in Input) Lookup(path string) (any, bool) {
	if path == "subject" {
		return in.Subject, true
	}
	if rest, ok := strings.CutPrefix(path, "params."); ok {
		return lookupPath(in.Params, rest)
	}
	if rest, ok := strings.CutPrefix(path, "context."); ok {
		return lookupPath(in.Context, rest)
	}
	return nil, false
}

// Predicate is an evaluable guard. A false result or an error both
// reject; callers report errors as rejection details rather than
// propagating them.
type Predicate func(ctx context.Context, input Input) (bool, error)

// Registry maps predicate names to their implementations. It is safe
// for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	predicates map[string]Predicate
}

// NewRegistry returns a registry seeded with the built-in predicates:
// "always" and "never" for wiring and testing, and "has", which checks
// that the request context contains the key named by Params["key"].
func NewRegistry() *Registry {
	r := &Registry{predicates: make(map[string]Predicate)}
	r.predicates["always"] = func(context.Context, Input) (bool, error) {
		return true, nil
	}
	r.predicates["never"] = func(context.Context, Input) (bool, error) {
		return false, nil
	}
	r.predicates["has"] = hasPredicate
	return r
}

// Register adds a named predicate. Names must be unique and non-empty.
func (r *Registry) Register(name string, p Predicate) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("guard: predicate name must not be empty")
	}
	if p == nil {
		return fmt.Errorf("guard: predicate %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.predicates[name]; exists {
		return fmt.Errorf("guard: predicate %q already registered", name)
	}
	r.predicates[name] = p
	return nil
}

// Resolve returns the predicate registered under name.
func (r *Registry) Resolve(name string) (Predicate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.predicates[name]
	return p, ok
}

// Names lists registered predicate names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.predicates))
	for name := range r.predicates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CompileExpr compiles an expression predicate. The expression sees the
// input through the "subject", "params.*", and "context.*" roots.
func CompileExpr(source string) (Predicate, error) {
	prog, err := exprlang.Compile(source)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, input Input) (bool, error) {
		return prog.Eval(ctx, input.Lookup)
	}, nil
}

func hasPredicate(_ context.Context, input Input) (bool, error) {
	key, ok := input.Params["key"].(string)
	if !ok || key == "" {
		return false, errors.New(`has: rule params must set "key"`)
	}
	_, found := lookupPath(input.Context, key)
	return found, nil
}

// lookupPath walks a dotted path through nested string-keyed maps.
func lookupPath(root map[string]any, path string) (any, bool) {
	if root == nil {
		return nil, false
	}
	current := any(root)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
