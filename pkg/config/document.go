// Package config defines the on-disk contract document format and the
// file provider that hot-reloads documents into a registry. Documents
// are YAML with a JSON fallback; the in-memory contract of the engine
// is pkg/domain, and ToDomain is the documented mapping between the two.
package config

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/nomoslabs/nomos/pkg/domain"
)

// SchemaVersion is the document schema this build understands.
const SchemaVersion = 1

// Document is one contract bundle as written by operators. A document
// carries the tenant scope and any number of contracts published under it.
type Document struct {
	SchemaVersion int           `yaml:"schemaVersion" json:"schemaVersion"`
	Tenant        string        `yaml:"tenant,omitempty" json:"tenant,omitempty"`
	Contracts     []ContractDoc `yaml:"contracts" json:"contracts"`
}

// ContractDoc is the document form of one contract.
type ContractDoc struct {
	ID          string            `yaml:"id" json:"id"`
	Revision    string            `yaml:"revision,omitempty" json:"revision,omitempty"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
	Predicates  []PredicateDoc    `yaml:"predicates,omitempty" json:"predicates,omitempty"`
	Rules       []RuleDoc         `yaml:"rules" json:"rules"`
}

// PredicateDoc declares an inline predicate compiled at publish time.
type PredicateDoc struct {
	Name   string `yaml:"name" json:"name"`
	Kind   string `yaml:"kind" json:"kind"`
	Source string `yaml:"source" json:"source"`
	Query  string `yaml:"query,omitempty" json:"query,omitempty"`
}

// RuleDoc is the document form of one rule. Kind selects which of the
// variant fields applies.
type RuleDoc struct {
	ID           string           `yaml:"id" json:"id"`
	Kind         string           `yaml:"kind" json:"kind"`
	Severity     string           `yaml:"severity" json:"severity"`
	Description  string           `yaml:"description,omitempty" json:"description,omitempty"`
	Machine      *MachineDoc      `yaml:"machine,omitempty" json:"machine,omitempty"`
	Architecture *ArchitectureDoc `yaml:"architecture,omitempty" json:"architecture,omitempty"`
	Predicate    string           `yaml:"predicate,omitempty" json:"predicate,omitempty"`
	Params       map[string]any   `yaml:"params,omitempty" json:"params,omitempty"`
}

// MachineDoc is the document form of a state machine definition.
type MachineDoc struct {
	States      []string        `yaml:"states" json:"states"`
	Initial     string          `yaml:"initial" json:"initial"`
	Transitions []TransitionDoc `yaml:"transitions" json:"transitions"`
	Terminal    []string        `yaml:"terminal,omitempty" json:"terminal,omitempty"`
}

// TransitionDoc is one edge of a state machine document.
type TransitionDoc struct {
	From  string `yaml:"from" json:"from"`
	To    string `yaml:"to" json:"to"`
	Guard string `yaml:"guard,omitempty" json:"guard,omitempty"`
}

// ArchitectureDoc is the document form of an architecture definition.
type ArchitectureDoc struct {
	Layers  []string          `yaml:"layers" json:"layers"`
	Modules map[string]string `yaml:"modules" json:"modules"`
	Allowed []EdgeDoc         `yaml:"allowed" json:"allowed"`
	Hints   map[string]string `yaml:"hints,omitempty" json:"hints,omitempty"`
}

// EdgeDoc is one allowed layer edge.
type EdgeDoc struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// DepsDoc lists observed module dependencies for batch architecture
// checks, the input to `nomos check`.
type DepsDoc struct {
	Edges []EdgeDoc `yaml:"edges" json:"edges"`
}

// ParseDocument decodes a contract document, trying YAML first and
// falling back to JSON. The schema version must be absent or current.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		if jsonErr := json.Unmarshal(data, &doc); jsonErr != nil {
			return nil, fmt.Errorf("parse contract document: %w", err)
		}
	}
	if doc.SchemaVersion != 0 && doc.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported schemaVersion %d (want %d)", doc.SchemaVersion, SchemaVersion)
	}
	return &doc, nil
}

// ParseDeps decodes a dependency snapshot document.
func ParseDeps(data []byte) ([]domain.ModuleDep, error) {
	var doc DepsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		if jsonErr := json.Unmarshal(data, &doc); jsonErr != nil {
			return nil, fmt.Errorf("parse dependency snapshot: %w", err)
		}
	}
	deps := make([]domain.ModuleDep, len(doc.Edges))
	for i, edge := range doc.Edges {
		deps[i] = domain.ModuleDep{From: edge.From, To: edge.To}
	}
	return deps, nil
}

// Validate performs field-level checks on the document shape. Every
// problem is reported; deeper structural validation (reachability,
// dangling references, predicate resolution) happens at publish time.
func (d *Document) Validate() error {
	verr := &domain.ValidationError{Contract: "document"}

	if len(d.Contracts) == 0 {
		verr.Add("contracts", "at least one contract is required")
	}

	seen := make(map[string]struct{}, len(d.Contracts))
	for i, contract := range d.Contracts {
		field := fmt.Sprintf("contracts[%d]", i)

		switch {
		case contract.ID == "":
			verr.Add(field, "contract id is required")
		default:
			if _, dup := seen[contract.ID]; dup {
				verr.Addf(field, "duplicate contract id %q", contract.ID)
			}
			seen[contract.ID] = struct{}{}
		}

		for j, pred := range contract.Predicates {
			pfield := fmt.Sprintf("%s.predicates[%d]", field, j)
			if pred.Name == "" {
				verr.Add(pfield, "predicate name is required")
			}
			if pred.Source == "" {
				verr.Add(pfield, "predicate source is required")
			}
			switch domain.PredicateKind(pred.Kind) {
			case domain.PredicateExpr, domain.PredicateRego:
			default:
				verr.Addf(pfield, "unknown predicate kind %q", pred.Kind)
			}
		}

		if len(contract.Rules) == 0 {
			verr.Add(field+".rules", "at least one rule is required")
		}
		for j, rule := range contract.Rules {
			rfield := fmt.Sprintf("%s.rules[%d]", field, j)
			if rule.ID == "" {
				verr.Add(rfield, "rule id is required")
			}
			if _, ok := domain.ParseSeverity(rule.Severity); !ok {
				verr.Addf(rfield, "invalid severity %q", rule.Severity)
			}
			switch domain.RuleKind(rule.Kind) {
			case domain.KindTransition:
				if rule.Machine == nil {
					verr.Add(rfield, "transition rule requires a machine")
				}
			case domain.KindDependency:
				if rule.Architecture == nil {
					verr.Add(rfield, "dependency rule requires an architecture")
				}
			case domain.KindPredicate:
				if rule.Predicate == "" {
					verr.Add(rfield, "predicate rule requires a predicate name")
				}
			default:
				verr.Addf(rfield, "unknown rule kind %q", rule.Kind)
			}
		}
	}

	return verr.Err()
}

// ToDomain maps the document to its in-memory form. The tenant scope
// normalizes "" to the global scope; hints stay attached to the owning
// dependency rule so violations can carry them.
func (d *Document) ToDomain() (domain.TenantID, []domain.Contract, error) {
	if err := d.Validate(); err != nil {
		return "", nil, err
	}

	tenant := domain.TenantID(d.Tenant).Normalize()

	contracts := make([]domain.Contract, 0, len(d.Contracts))
	for _, doc := range d.Contracts {
		contract := domain.Contract{
			ID:          doc.ID,
			Tenant:      tenant,
			Revision:    doc.Revision,
			Description: doc.Description,
			Labels:      doc.Labels,
		}
		for _, pred := range doc.Predicates {
			contract.Predicates = append(contract.Predicates, domain.PredicateDef{
				Name:   pred.Name,
				Kind:   domain.PredicateKind(pred.Kind),
				Source: pred.Source,
				Query:  pred.Query,
			})
		}
		for _, rule := range doc.Rules {
			severity, _ := domain.ParseSeverity(rule.Severity)
			contract.Rules = append(contract.Rules, domain.Rule{
				ID:          rule.ID,
				Kind:        domain.RuleKind(rule.Kind),
				Severity:    severity,
				Description: rule.Description,
				Machine:     rule.Machine.toDomain(),
				Graph:       rule.Architecture.toDomain(),
				Predicate:   rule.Predicate,
				Params:      rule.Params,
			})
		}
		contracts = append(contracts, contract)
	}

	return tenant, contracts, nil
}

func (m *MachineDoc) toDomain() *domain.StateMachineDef {
	if m == nil {
		return nil
	}
	def := &domain.StateMachineDef{
		States:   append([]string(nil), m.States...),
		Initial:  m.Initial,
		Terminal: append([]string(nil), m.Terminal...),
	}
	for _, tr := range m.Transitions {
		def.Transitions = append(def.Transitions, domain.Transition{From: tr.From, To: tr.To, Guard: tr.Guard})
	}
	return def
}

func (a *ArchitectureDoc) toDomain() *domain.ArchitectureDef {
	if a == nil {
		return nil
	}
	def := &domain.ArchitectureDef{
		Layers:  append([]string(nil), a.Layers...),
		Modules: a.Modules,
		Hints:   a.Hints,
	}
	for _, edge := range a.Allowed {
		def.Allowed = append(def.Allowed, domain.LayerEdge{From: edge.From, To: edge.To})
	}
	return def
}
