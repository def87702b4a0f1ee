package domain

import (
	"fmt"
	"time"
)

// RequestKind discriminates the evaluation request variants.
type RequestKind string

const (
	// RequestTransition asks whether a state transition is legal.
	RequestTransition RequestKind = "transition"
	// RequestDependency asks whether a module dependency is allowed.
	RequestDependency RequestKind = "dependency"
	// RequestGeneric asks the contract's predicate rules about a subject.
	RequestGeneric RequestKind = "generic"
)

// EvaluationRequest is the tagged input to the enforcement gateway. Kind
// selects the variant; exactly one of the variant fields is populated.
// Construct requests through the New*Request helpers so the invariant holds.
type EvaluationRequest struct {
	Kind       RequestKind        `json:"kind" yaml:"kind"`
	Transition *TransitionRequest `json:"transition,omitempty" yaml:"transition,omitempty"`
	Dependency *DependencyRequest `json:"dependency,omitempty" yaml:"dependency,omitempty"`
	Generic    *GenericRequest    `json:"generic,omitempty" yaml:"generic,omitempty"`
}

// TransitionRequest describes an attempted state change for an entity.
// Context is read-only input to transition guards.
type TransitionRequest struct {
	Entity  string         `json:"entity,omitempty" yaml:"entity,omitempty"`
	From    string         `json:"from" yaml:"from"`
	To      string         `json:"to" yaml:"to"`
	Context map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
}

// DependencyRequest describes a single module dependency to check.
type DependencyRequest struct {
	FromModule string `json:"from_module" yaml:"from_module"`
	ToModule   string `json:"to_module" yaml:"to_module"`
}

// GenericRequest carries an arbitrary subject and context for predicate rules.
type GenericRequest struct {
	Subject string         `json:"subject" yaml:"subject"`
	Context map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
}

// NewTransitionRequest builds a transition evaluation request. Entity is the
// identifier of the object changing state and travels into diagnostics.
func NewTransitionRequest(entity, from, to string, ctx map[string]any) EvaluationRequest {
	return EvaluationRequest{
		Kind:       RequestTransition,
		Transition: &TransitionRequest{Entity: entity, From: from, To: to, Context: ctx},
	}
}

// NewDependencyRequest builds a dependency evaluation request.
func NewDependencyRequest(fromModule, toModule string) EvaluationRequest {
	return EvaluationRequest{
		Kind:       RequestDependency,
		Dependency: &DependencyRequest{FromModule: fromModule, ToModule: toModule},
	}
}

// NewGenericRequest builds a generic predicate evaluation request.
func NewGenericRequest(subject string, ctx map[string]any) EvaluationRequest {
	return EvaluationRequest{
		Kind:    RequestGeneric,
		Generic: &GenericRequest{Subject: subject, Context: ctx},
	}
}

// Validate reports whether the request is well formed: a recognised kind with
// exactly the matching variant populated.
func (r EvaluationRequest) Validate() error {
	switch r.Kind {
	case RequestTransition:
		if r.Transition == nil || r.Dependency != nil || r.Generic != nil {
			return fmt.Errorf("%w: transition request must carry only the transition variant", ErrRequestInvalid)
		}
	case RequestDependency:
		if r.Dependency == nil || r.Transition != nil || r.Generic != nil {
			return fmt.Errorf("%w: dependency request must carry only the dependency variant", ErrRequestInvalid)
		}
	case RequestGeneric:
		if r.Generic == nil || r.Transition != nil || r.Dependency != nil {
			return fmt.Errorf("%w: generic request must carry only the generic variant", ErrRequestInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown request kind %q", ErrRequestInvalid, r.Kind)
	}
	return nil
}

// RuleKind maps the request to the rule kind that evaluates it.
func (r EvaluationRequest) RuleKind() RuleKind {
	switch r.Kind {
	case RequestTransition:
		return KindTransition
	case RequestDependency:
		return KindDependency
	case RequestGeneric:
		return KindPredicate
	default:
		return ""
	}
}

// Outcome is the final disposition of an evaluation.
type Outcome string

const (
	// OutcomeAllow permits the action; advisory violations may be attached.
	OutcomeAllow Outcome = "allow"
	// OutcomeDeny blocks the action because at least one block rule failed.
	OutcomeDeny Outcome = "deny"
	// OutcomeUnconfigured means no contract (or no rule of the requested
	// kind) applies to the tenant. Distinct from Deny so hosts can choose a
	// failure posture.
	OutcomeUnconfigured Outcome = "unconfigured"
)

// ViolationCode is the machine-readable classification of a rule failure.
type ViolationCode string

const (
	// CodeUnknownState flags a transition endpoint that is not a declared state.
	CodeUnknownState ViolationCode = "unknown-state"
	// CodeIllegalTransition flags an edge absent from the transition set.
	CodeIllegalTransition ViolationCode = "illegal-transition"
	// CodeGuardRejected flags a declared edge whose guard did not hold.
	CodeGuardRejected ViolationCode = "guard-rejected"
	// CodeUnknownModule flags a dependency endpoint with no layer assignment.
	CodeUnknownModule ViolationCode = "unknown-module"
	// CodeForbiddenLayerEdge flags a dependency crossing a disallowed layer edge.
	CodeForbiddenLayerEdge ViolationCode = "forbidden-layer-edge"
	// CodePredicateFailed flags a predicate rule that did not hold.
	CodePredicateFailed ViolationCode = "predicate-failed"
)

// Violation is one rule failure discovered during evaluation. Hint carries
// remediation text when the contract declares one for the failed edge.
type Violation struct {
	Rule     string         `json:"rule" yaml:"rule"`
	Code     ViolationCode  `json:"code" yaml:"code"`
	Severity Severity       `json:"severity" yaml:"severity"`
	Message  string         `json:"message" yaml:"message"`
	Hint     string         `json:"hint,omitempty" yaml:"hint,omitempty"`
	Details  map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

// Decision is the structured result of one evaluation. Violations preserve
// rule declaration order and are complete: evaluation never stops at the
// first failure. Sequence is a logical evaluation counter, deterministic
// under test; EvaluatedAt is wall-clock convenience from an injectable clock.
type Decision struct {
	ID              string      `json:"id" yaml:"id"`
	Outcome         Outcome     `json:"outcome" yaml:"outcome"`
	Tenant          TenantID    `json:"tenant" yaml:"tenant"`
	ContractID      string      `json:"contract_id,omitempty" yaml:"contract_id,omitempty"`
	ContractVersion int64       `json:"contract_version,omitempty" yaml:"contract_version,omitempty"`
	Violations      []Violation `json:"violations,omitempty" yaml:"violations,omitempty"`
	Sequence        int64       `json:"sequence" yaml:"sequence"`
	EvaluatedAt     time.Time   `json:"evaluated_at" yaml:"evaluated_at"`
}

// Blocked reports whether any violation carries block severity.
func (d Decision) Blocked() bool {
	for _, v := range d.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Allowed reports whether the action may proceed. Unconfigured is not an
// allow; hosts decide its posture.
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllow
}
