package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/nomoslabs/nomos/pkg/domain"
	"github.com/nomoslabs/nomos/pkg/guard"
	"github.com/nomoslabs/nomos/pkg/layers"
	"github.com/nomoslabs/nomos/pkg/machine"
)

// Compiled is the immutable evaluation artifact built for one contract
// version at publish time. Machines and Graphs are keyed by rule ID;
// Predicates holds every predicate name the contract references, fully
// resolved. An evaluation in flight keeps the Compiled it captured even
// when a republish swaps the registry underneath it.
type Compiled struct {
	Contract   domain.Contract
	Machines   map[string]*machine.Machine
	Graphs     map[string]*layers.Graph
	Predicates map[string]guard.Predicate
}

// compileContract validates eagerly and builds the evaluation artifact.
// Every defect is collected; nothing is published on a non-empty report.
func compileContract(ctx context.Context, contract domain.Contract, guards *guard.Registry) (*Compiled, error) {
	verr := &domain.ValidationError{Contract: contract.ID}

	if strings.TrimSpace(contract.ID) == "" {
		verr.Add("id", "contract id is required")
	}
	if len(contract.Rules) == 0 {
		verr.Add("rules", "at least one rule is required")
	}

	compiled := &Compiled{
		Machines:   make(map[string]*machine.Machine),
		Graphs:     make(map[string]*layers.Graph),
		Predicates: make(map[string]guard.Predicate),
	}

	declared := compilePredicates(ctx, contract.Predicates, verr)

	// Contract-declared predicates shadow host-registered ones. Either
	// way resolution is pinned here, never at evaluation time.
	resolve := func(field, name string) {
		if name == "" {
			return
		}
		if _, done := compiled.Predicates[name]; done {
			return
		}
		if p, ok := declared[name]; ok {
			compiled.Predicates[name] = p
			return
		}
		if guards != nil {
			if p, ok := guards.Resolve(name); ok {
				compiled.Predicates[name] = p
				return
			}
		}
		verr.Addf(field, "unknown predicate %q", name)
	}

	seenRules := make(map[string]struct{}, len(contract.Rules))
	for i, rule := range contract.Rules {
		field := fmt.Sprintf("rules[%d]", i)

		switch {
		case rule.ID == "":
			verr.Add(field, "rule id is required")
		default:
			if _, dup := seenRules[rule.ID]; dup {
				verr.Addf(field, "duplicate rule id %q", rule.ID)
			}
			seenRules[rule.ID] = struct{}{}
		}
		if !rule.Severity.IsValid() {
			verr.Addf(field, "invalid severity %q", rule.Severity)
		}

		switch rule.Kind {
		case domain.KindTransition:
			if rule.Machine == nil {
				verr.Add(field, "transition rule requires a machine definition")
				continue
			}
			m, problems := machine.Compile(*rule.Machine)
			for _, p := range problems {
				verr.Add(field+"."+p.Field, p.Detail)
			}
			if len(problems) == 0 {
				compiled.Machines[rule.ID] = m
			}
			for ti, tr := range rule.Machine.Transitions {
				resolve(fmt.Sprintf("%s.transitions[%d]", field, ti), tr.Guard)
			}
		case domain.KindDependency:
			if rule.Graph == nil {
				verr.Add(field, "dependency rule requires an architecture definition")
				continue
			}
			g, problems := layers.Compile(*rule.Graph)
			for _, p := range problems {
				verr.Add(field+"."+p.Field, p.Detail)
			}
			if len(problems) == 0 {
				compiled.Graphs[rule.ID] = g
			}
		case domain.KindPredicate:
			if rule.Predicate == "" {
				verr.Add(field, "predicate rule requires a predicate name")
				continue
			}
			resolve(field, rule.Predicate)
		default:
			verr.Addf(field, "unknown rule kind %q", rule.Kind)
		}
	}

	if err := verr.Err(); err != nil {
		return nil, err
	}
	return compiled, nil
}

// compilePredicates compiles the contract's inline predicate
// declarations. Defects are recorded on verr; broken declarations are
// simply absent from the returned map, which later resolution reports
// as unknown names only if something references them.
func compilePredicates(ctx context.Context, defs []domain.PredicateDef, verr *domain.ValidationError) map[string]guard.Predicate {
	declared := make(map[string]guard.Predicate, len(defs))
	for i, def := range defs {
		field := fmt.Sprintf("predicates[%d]", i)

		name := strings.TrimSpace(def.Name)
		if name == "" {
			verr.Add(field, "predicate name is required")
			continue
		}
		if _, dup := declared[name]; dup {
			verr.Addf(field, "duplicate predicate %q", name)
			continue
		}
		if strings.TrimSpace(def.Source) == "" {
			verr.Addf(field, "predicate %q has no source", name)
			continue
		}

		switch def.Kind {
		case domain.PredicateExpr:
			p, err := guard.CompileExpr(def.Source)
			if err != nil {
				verr.Addf(field, "compile %q: %v", name, err)
				continue
			}
			declared[name] = p
		case domain.PredicateRego:
			p, err := guard.CompileRego(ctx, name, def.Source, def.Query)
			if err != nil {
				verr.Addf(field, "compile %q: %v", name, err)
				continue
			}
			declared[name] = p
		default:
			verr.Addf(field, "predicate %q has unknown kind %q", name, def.Kind)
		}
	}
	return declared
}
