// Package layers compiles architecture definitions and validates module
// dependencies against allowed layer edges. The allowed-edge relation is
// taken literally: it is neither symmetric nor transitive, and any edge not
// declared is forbidden.
package layers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nomoslabs/nomos/pkg/domain"
)

// Result is the outcome of a single dependency check.
type Result struct {
	OK      bool
	Code    domain.ViolationCode
	Message string
	Hint    string
	Details map[string]any
}

// Graph is an immutable compiled architecture definition.
type Graph struct {
	modules map[string]string
	layers  map[string]struct{}
	allowed map[domain.LayerEdge]struct{}
	hints   map[domain.LayerEdge]string
	order   []string
}

// Compile validates a definition and builds its indexed form. Every defect is
// reported. Field paths are relative to the definition.
func Compile(def domain.ArchitectureDef) (*Graph, []domain.Problem) {
	var problems []domain.Problem
	report := func(field, format string, args ...any) {
		problems = append(problems, domain.Problem{Field: field, Detail: fmt.Sprintf(format, args...)})
	}

	layerSet := make(map[string]struct{}, len(def.Layers))
	for i, layer := range def.Layers {
		if layer == "" {
			report(fmt.Sprintf("layers[%d]", i), "layer name must not be empty")
			continue
		}
		if _, dup := layerSet[layer]; dup {
			report(fmt.Sprintf("layers[%d]", i), "duplicate layer %q", layer)
			continue
		}
		layerSet[layer] = struct{}{}
	}
	if len(layerSet) == 0 {
		report("layers", "at least one layer is required")
	}

	moduleNames := make([]string, 0, len(def.Modules))
	for module := range def.Modules {
		moduleNames = append(moduleNames, module)
	}
	sort.Strings(moduleNames)

	modules := make(map[string]string, len(def.Modules))
	order := make([]string, 0, len(def.Modules))
	for _, module := range moduleNames {
		layer := def.Modules[module]
		if module == "" {
			report("modules", "module name must not be empty")
			continue
		}
		if _, ok := layerSet[layer]; !ok {
			report("modules", "module %q references undeclared layer %q", module, layer)
			continue
		}
		modules[module] = layer
		order = append(order, module)
	}

	allowed := make(map[domain.LayerEdge]struct{}, len(def.Allowed))
	for i, edge := range def.Allowed {
		field := fmt.Sprintf("allowed[%d]", i)
		ok := true
		if _, known := layerSet[edge.From]; !known {
			report(field, "edge source %q is not a declared layer", edge.From)
			ok = false
		}
		if _, known := layerSet[edge.To]; !known {
			report(field, "edge target %q is not a declared layer", edge.To)
			ok = false
		}
		if !ok {
			continue
		}
		if _, dup := allowed[edge]; dup {
			report(field, "duplicate allowed edge %s -> %s", edge.From, edge.To)
			continue
		}
		allowed[edge] = struct{}{}
	}

	hintKeys := make([]string, 0, len(def.Hints))
	for key := range def.Hints {
		hintKeys = append(hintKeys, key)
	}
	sort.Strings(hintKeys)

	hints := make(map[domain.LayerEdge]string, len(def.Hints))
	for _, key := range hintKeys {
		text := def.Hints[key]
		from, to, ok := strings.Cut(key, "->")
		if !ok {
			report("hints", "hint key %q must use the form \"<from>-><to>\"", key)
			continue
		}
		from = strings.TrimSpace(from)
		to = strings.TrimSpace(to)
		if _, known := layerSet[from]; !known {
			report("hints", "hint key %q references undeclared layer %q", key, from)
			continue
		}
		if _, known := layerSet[to]; !known {
			report("hints", "hint key %q references undeclared layer %q", key, to)
			continue
		}
		hints[domain.LayerEdge{From: from, To: to}] = text
	}

	if len(problems) > 0 {
		return nil, problems
	}

	return &Graph{
		modules: modules,
		layers:  layerSet,
		allowed: allowed,
		hints:   hints,
		order:   order,
	}, nil
}

// ValidateDependency checks a single module dependency. Module lookup runs
// first so unknown identifiers always surface; a declared module's self
// dependency then short-circuits the edge check and is always allowed.
func (g *Graph) ValidateDependency(fromModule, toModule string) Result {
	fromLayer, ok := g.modules[fromModule]
	if !ok {
		return Result{
			Code:    domain.CodeUnknownModule,
			Message: fmt.Sprintf("unknown module %q", fromModule),
			Details: map[string]any{"module": fromModule, "endpoint": "from"},
		}
	}
	toLayer, ok := g.modules[toModule]
	if !ok {
		return Result{
			Code:    domain.CodeUnknownModule,
			Message: fmt.Sprintf("unknown module %q", toModule),
			Details: map[string]any{"module": toModule, "endpoint": "to"},
		}
	}

	if fromModule == toModule {
		return Result{OK: true}
	}

	edge := domain.LayerEdge{From: fromLayer, To: toLayer}
	if _, allowed := g.allowed[edge]; !allowed {
		return Result{
			Code: domain.CodeForbiddenLayerEdge,
			Message: fmt.Sprintf("module %q (layer %q) may not depend on module %q (layer %q)",
				fromModule, fromLayer, toModule, toLayer),
			Hint: g.hints[edge],
			Details: map[string]any{
				"from_module": fromModule,
				"to_module":   toModule,
				"from_layer":  fromLayer,
				"to_layer":    toLayer,
			},
		}
	}

	return Result{OK: true}
}

// ValidateAll checks every dependency in the snapshot and returns one result
// per input edge, in input order. It never stops at the first failure; CI
// callers get the complete report in one pass.
func (g *Graph) ValidateAll(deps []domain.ModuleDep) []Result {
	results := make([]Result, len(deps))
	for i, dep := range deps {
		results[i] = g.ValidateDependency(dep.From, dep.To)
	}
	return results
}

// Violations filters a batch result down to the failures, preserving order.
func Violations(results []Result) []Result {
	var failed []Result
	for _, res := range results {
		if !res.OK {
			failed = append(failed, res)
		}
	}
	return failed
}

// Layer returns the layer a module is assigned to.
func (g *Graph) Layer(module string) (string, bool) {
	layer, ok := g.modules[module]
	return layer, ok
}

// Modules returns the declared module names in sorted order.
func (g *Graph) Modules() []string {
	return append([]string(nil), g.order...)
}
