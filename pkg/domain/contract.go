package domain

import (
	"strings"
	"time"
)

// TenantID identifies the scope a contract is published under. The engine
// treats tenant IDs as opaque keys.
type TenantID string

// GlobalTenant is the reserved scope consulted when a tenant has no contract
// of its own.
const GlobalTenant TenantID = "*"

// Normalize maps the empty tenant to the global scope and trims whitespace.
func (t TenantID) Normalize() TenantID {
	trimmed := strings.TrimSpace(string(t))
	if trimmed == "" {
		return GlobalTenant
	}
	return TenantID(trimmed)
}

// IsGlobal reports whether the tenant denotes the global scope.
func (t TenantID) IsGlobal() bool {
	return t.Normalize() == GlobalTenant
}

// Severity controls how a rule violation folds into the final decision.
type Severity string

const (
	// SeverityBlock marks violations that deny the evaluated action.
	SeverityBlock Severity = "block"
	// SeverityWarn marks advisory violations that are reported but do not deny.
	SeverityWarn Severity = "warn"
)

// IsValid reports whether the severity is one of the recognised values.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityBlock, SeverityWarn:
		return true
	default:
		return false
	}
}

// ParseSeverity converts a textual severity into its canonical constant.
func ParseSeverity(value string) (Severity, bool) {
	s := Severity(strings.TrimSpace(strings.ToLower(value)))
	if !s.IsValid() {
		return "", false
	}
	return s, true
}

// RuleKind discriminates the rule variants a contract may carry.
type RuleKind string

const (
	// KindTransition rules validate state-machine transitions.
	KindTransition RuleKind = "transition"
	// KindDependency rules validate module dependencies against layer edges.
	KindDependency RuleKind = "dependency"
	// KindPredicate rules delegate to a named predicate.
	KindPredicate RuleKind = "predicate"
)

// IsValid reports whether the kind is one of the recognised values.
func (k RuleKind) IsValid() bool {
	switch k {
	case KindTransition, KindDependency, KindPredicate:
		return true
	default:
		return false
	}
}

// Rule is a single enforceable statement inside a contract. Kind selects the
// variant; exactly one of Machine, Graph, or Predicate is populated.
type Rule struct {
	ID          string           `json:"id" yaml:"id"`
	Kind        RuleKind         `json:"kind" yaml:"kind"`
	Severity    Severity         `json:"severity" yaml:"severity"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Machine     *StateMachineDef `json:"machine,omitempty" yaml:"machine,omitempty"`
	Graph       *ArchitectureDef `json:"architecture,omitempty" yaml:"architecture,omitempty"`
	Predicate   string           `json:"predicate,omitempty" yaml:"predicate,omitempty"`
	Params      map[string]any   `json:"params,omitempty" yaml:"params,omitempty"`
}

// Clone returns a deep copy of the rule.
func (r Rule) Clone() Rule {
	clone := r
	clone.Machine = r.Machine.Clone()
	clone.Graph = r.Graph.Clone()
	clone.Params = cloneAnyMap(r.Params)
	return clone
}

// StateMachineDef declares the states and legal transitions of a lifecycle.
// Terminal states must not appear as the source of any transition; publish
// validation rejects definitions that break this.
type StateMachineDef struct {
	States      []string     `json:"states" yaml:"states"`
	Initial     string       `json:"initial" yaml:"initial"`
	Transitions []Transition `json:"transitions" yaml:"transitions"`
	Terminal    []string     `json:"terminal,omitempty" yaml:"terminal,omitempty"`
}

// Transition is a directed edge between two declared states. Guard optionally
// names a predicate that must hold for the transition to be taken.
type Transition struct {
	From  string `json:"from" yaml:"from"`
	To    string `json:"to" yaml:"to"`
	Guard string `json:"guard,omitempty" yaml:"guard,omitempty"`
}

// Clone returns a deep copy of the definition.
func (d *StateMachineDef) Clone() *StateMachineDef {
	if d == nil {
		return nil
	}
	clone := &StateMachineDef{
		States:   append([]string(nil), d.States...),
		Initial:  d.Initial,
		Terminal: append([]string(nil), d.Terminal...),
	}
	if len(d.Transitions) > 0 {
		clone.Transitions = append([]Transition(nil), d.Transitions...)
	}
	return clone
}

// ArchitectureDef declares layers, the layer each module belongs to, and the
// directed layer edges dependencies may cross. Any edge not listed in Allowed
// is forbidden.
type ArchitectureDef struct {
	Layers  []string          `json:"layers" yaml:"layers"`
	Modules map[string]string `json:"modules" yaml:"modules"`
	Allowed []LayerEdge       `json:"allowed" yaml:"allowed"`
	// Hints maps "<fromLayer>-><toLayer>" to remediation text attached to
	// violations of that edge.
	Hints map[string]string `json:"hints,omitempty" yaml:"hints,omitempty"`
}

// LayerEdge is a directed edge between two layers.
type LayerEdge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// ModuleDep is a single observed dependency between two modules, the unit of
// batch architecture validation.
type ModuleDep struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Clone returns a deep copy of the definition.
func (d *ArchitectureDef) Clone() *ArchitectureDef {
	if d == nil {
		return nil
	}
	clone := &ArchitectureDef{
		Layers:  append([]string(nil), d.Layers...),
		Modules: cloneStringMap(d.Modules),
		Hints:   cloneStringMap(d.Hints),
	}
	if len(d.Allowed) > 0 {
		clone.Allowed = append([]LayerEdge(nil), d.Allowed...)
	}
	return clone
}

// PredicateKind discriminates how an inline predicate is expressed.
type PredicateKind string

const (
	// PredicateExpr predicates are boolean expressions over the request context.
	PredicateExpr PredicateKind = "expr"
	// PredicateRego predicates are Rego queries evaluated with OPA.
	PredicateRego PredicateKind = "rego"
)

// PredicateDef declares a named predicate inside a contract document. Inline
// predicates are compiled at publish time; rules and guards reference them by
// name alongside any predicates the host registered programmatically.
type PredicateDef struct {
	Name   string        `json:"name" yaml:"name"`
	Kind   PredicateKind `json:"kind" yaml:"kind"`
	Source string        `json:"source" yaml:"source"`
	// Query is the Rego decision path (e.g. "contracts/fraud/clear").
	// Ignored for expression predicates.
	Query string `json:"query,omitempty" yaml:"query,omitempty"`
}

// Contract is the immutable unit of publication: an identified, versioned
// bundle of rules scoped to a tenant. Version is assigned by the registry on
// publish; Revision is a caller-supplied label such as a VCS commit.
type Contract struct {
	ID          string            `json:"id" yaml:"id"`
	Tenant      TenantID          `json:"tenant" yaml:"tenant"`
	Version     int64             `json:"version" yaml:"version"`
	Revision    string            `json:"revision,omitempty" yaml:"revision,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Predicates  []PredicateDef    `json:"predicates,omitempty" yaml:"predicates,omitempty"`
	Rules       []Rule            `json:"rules" yaml:"rules"`
	CreatedAt   time.Time         `json:"created_at" yaml:"created_at"`
}

// Clone returns a deep copy of the contract to avoid shared mutable state.
func (c *Contract) Clone() *Contract {
	if c == nil {
		return nil
	}
	clone := &Contract{
		ID:          c.ID,
		Tenant:      c.Tenant,
		Version:     c.Version,
		Revision:    c.Revision,
		Description: c.Description,
		Labels:      cloneStringMap(c.Labels),
		CreatedAt:   c.CreatedAt,
	}
	if len(c.Predicates) > 0 {
		clone.Predicates = append([]PredicateDef(nil), c.Predicates...)
	}
	if len(c.Rules) > 0 {
		clone.Rules = make([]Rule, len(c.Rules))
		for i := range c.Rules {
			clone.Rules[i] = c.Rules[i].Clone()
		}
	}
	return clone
}

// RulesOfKind returns the contract's rules of the given kind in declaration
// order.
func (c *Contract) RulesOfKind(kind RuleKind) []Rule {
	if c == nil {
		return nil
	}
	var out []Rule
	for _, rule := range c.Rules {
		if rule.Kind == kind {
			out = append(out, rule)
		}
	}
	return out
}

// ContractInfo is the listing projection of a published contract.
type ContractInfo struct {
	ID       string   `json:"id" yaml:"id"`
	Tenant   TenantID `json:"tenant" yaml:"tenant"`
	Version  int64    `json:"version" yaml:"version"`
	Revision string   `json:"revision,omitempty" yaml:"revision,omitempty"`
	Rules    int      `json:"rules" yaml:"rules"`
}

func cloneStringMap(input map[string]string) map[string]string {
	if len(input) == 0 {
		return nil
	}
	clone := make(map[string]string, len(input))
	for k, v := range input {
		clone[k] = v
	}
	return clone
}

func cloneAnyMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}
	clone := make(map[string]any, len(input))
	for k, v := range input {
		clone[k] = v
	}
	return clone
}
