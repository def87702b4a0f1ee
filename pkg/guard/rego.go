package guard

import (
	"context"
	"fmt"
	"strings"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"
)

// CompileRego compiles a Rego module into a predicate. The query is
// prepared once here so evaluation never pays parse or compile cost.
// Queries may be given as decision paths ("contracts/fraud/clear") or
// data references ("data.contracts.fraud.clear"); empty defaults to the
// module package's "allow" document. The prepared query receives
// {"subject", "params", "context"} as input and must yield a boolean;
// an undefined result evaluates to false.
func CompileRego(ctx context.Context, name, source, query string) (Predicate, error) {
	module, err := ast.ParseModuleWithOpts(name+".rego", source, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return nil, fmt.Errorf("parse rego predicate %q: %w", name, err)
	}

	q := strings.TrimSpace(query)
	switch {
	case q == "":
		q = module.Package.Path.String() + ".allow"
	case !strings.HasPrefix(q, "data."):
		q = "data." + strings.ReplaceAll(q, "/", ".")
	}

	prepared, err := rego.New(
		rego.Query(q),
		rego.ParsedModule(module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rego predicate %q: %w", name, err)
	}

	return func(ctx context.Context, input Input) (bool, error) {
		payload := map[string]any{
			"subject": input.Subject,
			"params":  cloneAnyMap(input.Params),
			"context": cloneAnyMap(input.Context),
		}

		results, err := prepared.Eval(ctx, rego.EvalInput(payload))
		if err != nil {
			return false, fmt.Errorf("rego predicate %q: %w", name, err)
		}
		if len(results) == 0 || len(results[0].Expressions) == 0 {
			return false, nil
		}

		value := results[0].Expressions[0].Value
		verdict, ok := value.(bool)
		if !ok {
			return false, fmt.Errorf("rego predicate %q: result is %T, want bool", name, value)
		}
		return verdict, nil
	}, nil
}

func cloneAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
