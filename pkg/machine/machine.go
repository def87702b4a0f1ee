// Package machine compiles state-machine definitions and validates
// transitions against them. Compilation happens once at contract publish
// time; the compiled Machine is immutable and safe for concurrent use.
package machine

import (
	"context"
	"fmt"

	"github.com/nomoslabs/nomos/pkg/domain"
)

// GuardFunc evaluates a transition guard against the request context. A
// false result or an error both reject the transition; errors are reported
// in the violation details rather than propagated.
type GuardFunc func(ctx context.Context, input map[string]any) (bool, error)

// GuardResolver maps a guard name to its evaluable form. Resolution is
// pinned at publish time, so a miss at evaluation time is itself a rejection.
type GuardResolver func(name string) (GuardFunc, bool)

// Result is the outcome of a single transition check.
type Result struct {
	OK      bool
	Code    domain.ViolationCode
	Message string
	Details map[string]any
}

type edgeKey struct {
	from string
	to   string
}

// Machine is an immutable compiled state machine.
type Machine struct {
	states   map[string]struct{}
	terminal map[string]struct{}
	edges    map[edgeKey]string
	initial  string
	order    []string
	guards   []string
}

// Compile validates a definition and builds its indexed form. Every defect is
// reported; the returned problem list is empty exactly when the machine is
// usable. Field paths are relative to the definition so callers can prefix
// them with the owning rule.
func Compile(def domain.StateMachineDef) (*Machine, []domain.Problem) {
	var problems []domain.Problem
	report := func(field, format string, args ...any) {
		problems = append(problems, domain.Problem{Field: field, Detail: fmt.Sprintf(format, args...)})
	}

	states := make(map[string]struct{}, len(def.States))
	order := make([]string, 0, len(def.States))
	for i, state := range def.States {
		if state == "" {
			report(fmt.Sprintf("states[%d]", i), "state name must not be empty")
			continue
		}
		if _, dup := states[state]; dup {
			report(fmt.Sprintf("states[%d]", i), "duplicate state %q", state)
			continue
		}
		states[state] = struct{}{}
		order = append(order, state)
	}
	if len(states) == 0 {
		report("states", "at least one state is required")
	}

	initialOK := false
	switch {
	case def.Initial == "":
		report("initial", "initial state is required")
	default:
		if _, ok := states[def.Initial]; !ok {
			report("initial", "initial state %q is not declared", def.Initial)
		} else {
			initialOK = true
		}
	}

	terminal := make(map[string]struct{}, len(def.Terminal))
	for i, state := range def.Terminal {
		if _, ok := states[state]; !ok {
			report(fmt.Sprintf("terminal[%d]", i), "terminal state %q is not declared", state)
			continue
		}
		terminal[state] = struct{}{}
	}

	edges := make(map[edgeKey]string, len(def.Transitions))
	guardSeen := make(map[string]struct{})
	var guards []string
	for i, tr := range def.Transitions {
		field := fmt.Sprintf("transitions[%d]", i)
		ok := true
		if _, known := states[tr.From]; !known {
			report(field, "transition source %q is not a declared state", tr.From)
			ok = false
		}
		if _, known := states[tr.To]; !known {
			report(field, "transition target %q is not a declared state", tr.To)
			ok = false
		}
		if !ok {
			continue
		}
		if _, isTerminal := terminal[tr.From]; isTerminal {
			report(field, "terminal state %q must not have outgoing transitions", tr.From)
			continue
		}
		key := edgeKey{from: tr.From, to: tr.To}
		if _, dup := edges[key]; dup {
			report(field, "duplicate transition %s -> %s", tr.From, tr.To)
			continue
		}
		edges[key] = tr.Guard
		if tr.Guard != "" {
			if _, seen := guardSeen[tr.Guard]; !seen {
				guardSeen[tr.Guard] = struct{}{}
				guards = append(guards, tr.Guard)
			}
		}
	}

	if initialOK {
		for _, state := range unreachable(def.Initial, order, edges) {
			report("states", "state %q is unreachable from initial state %q", state, def.Initial)
		}
	}

	if len(problems) > 0 {
		return nil, problems
	}

	return &Machine{
		states:   states,
		terminal: terminal,
		edges:    edges,
		initial:  def.Initial,
		order:    order,
		guards:   guards,
	}, nil
}

// unreachable returns declared states with no path from the initial state,
// in declaration order.
func unreachable(initial string, order []string, edges map[edgeKey]string) []string {
	visited := map[string]struct{}{initial: {}}
	queue := []string{initial}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for key := range edges {
			if key.from != current {
				continue
			}
			if _, seen := visited[key.to]; seen {
				continue
			}
			visited[key.to] = struct{}{}
			queue = append(queue, key.to)
		}
	}

	var missing []string
	for _, state := range order {
		if _, seen := visited[state]; !seen {
			missing = append(missing, state)
		}
	}
	return missing
}

// ValidateTransition checks a single transition. The precedence is fixed:
// unknown state, then illegal transition, then guard rejection. The request
// context is passed to guards read-only.
func (m *Machine) ValidateTransition(ctx context.Context, from, to string, resolve GuardResolver, reqCtx map[string]any) Result {
	if _, ok := m.states[from]; !ok {
		return Result{
			Code:    domain.CodeUnknownState,
			Message: fmt.Sprintf("unknown state %q", from),
			Details: map[string]any{"state": from, "endpoint": "from"},
		}
	}
	if _, ok := m.states[to]; !ok {
		return Result{
			Code:    domain.CodeUnknownState,
			Message: fmt.Sprintf("unknown state %q", to),
			Details: map[string]any{"state": to, "endpoint": "to"},
		}
	}

	guardName, ok := m.edges[edgeKey{from: from, to: to}]
	if !ok {
		return Result{
			Code:    domain.CodeIllegalTransition,
			Message: fmt.Sprintf("illegal transition %s -> %s", from, to),
			Details: map[string]any{"from": from, "to": to},
		}
	}

	if guardName == "" {
		return Result{OK: true}
	}

	details := map[string]any{"from": from, "to": to, "guard": guardName}
	var guard GuardFunc
	if resolve != nil {
		guard, ok = resolve(guardName)
	}
	if resolve == nil || !ok {
		details["error"] = "guard not resolved"
		return Result{
			Code:    domain.CodeGuardRejected,
			Message: fmt.Sprintf("transition guard %q rejected %s -> %s", guardName, from, to),
			Details: details,
		}
	}

	allowed, err := guard(ctx, reqCtx)
	if err != nil {
		details["error"] = err.Error()
	}
	if err != nil || !allowed {
		return Result{
			Code:    domain.CodeGuardRejected,
			Message: fmt.Sprintf("transition guard %q rejected %s -> %s", guardName, from, to),
			Details: details,
		}
	}

	return Result{OK: true}
}

// Terminal reports whether the state is declared terminal.
func (m *Machine) Terminal(state string) bool {
	_, ok := m.terminal[state]
	return ok
}

// Initial returns the machine's initial state.
func (m *Machine) Initial() string {
	return m.initial
}

// States returns the declared states in declaration order.
func (m *Machine) States() []string {
	return append([]string(nil), m.order...)
}

// Guards returns the distinct guard names referenced by transitions, in
// first-reference order. The registry resolves these at publish time.
func (m *Machine) Guards() []string {
	return append([]string(nil), m.guards...)
}
