package registry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomoslabs/nomos/pkg/domain"
	"github.com/nomoslabs/nomos/pkg/guard"
)

func TestPublishCompilesRegoPredicates(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	contract := domain.Contract{
		ID: "fraud",
		Predicates: []domain.PredicateDef{
			{
				Name: "risk-cleared",
				Kind: domain.PredicateRego,
				Source: `package contracts

allow if {
	input.context.risk_score < 80
}
`,
			},
		},
		Rules: []domain.Rule{
			{ID: "risk", Kind: domain.KindPredicate, Severity: domain.SeverityBlock, Predicate: "risk-cleared"},
		},
	}

	_, err := r.Publish(ctx, "acme", contract)
	require.NoError(t, err)

	compiled, err := r.ResolveCompiled(ctx, "acme", "fraud")
	require.NoError(t, err)
	predicate, ok := compiled.Predicates["risk-cleared"]
	require.True(t, ok)

	got, err := predicate(ctx, guard.Input{Context: map[string]any{"risk_score": 10}})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = predicate(ctx, guard.Input{Context: map[string]any{"risk_score": 95}})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestPublishRejectsBrokenPredicateDecls(t *testing.T) {
	r := newTestRegistry(t)

	contract := domain.Contract{
		ID: "declarations",
		Predicates: []domain.PredicateDef{
			{Name: "", Kind: domain.PredicateExpr, Source: "true"},
			{Name: "empty-source", Kind: domain.PredicateExpr, Source: " "},
			{Name: "bad-syntax", Kind: domain.PredicateExpr, Source: "context.amount >="},
			{Name: "bad-rego", Kind: domain.PredicateRego, Source: "package broken\n\nallow if {"},
			{Name: "odd-kind", Kind: "lua", Source: "return true"},
			{Name: "twice", Kind: domain.PredicateExpr, Source: "true"},
			{Name: "twice", Kind: domain.PredicateExpr, Source: "false"},
		},
		Rules: []domain.Rule{
			{ID: "ok", Kind: domain.KindPredicate, Severity: domain.SeverityBlock, Predicate: "twice"},
		},
	}

	_, err := r.Publish(context.Background(), "acme", contract)
	require.Error(t, err)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	joined := verr.Error()
	for _, fragment := range []string{
		"predicate name is required",
		`predicate "empty-source" has no source`,
		`compile "bad-syntax"`,
		`compile "bad-rego"`,
		`predicate "odd-kind" has unknown kind "lua"`,
		`duplicate predicate "twice"`,
	} {
		assert.Contains(t, joined, fragment)
	}
}

func TestBuiltinGuardsResolveWithoutDeclaration(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	contract := domain.Contract{
		ID: "gated",
		Rules: []domain.Rule{
			{
				ID:       "flow",
				Kind:     domain.KindTransition,
				Severity: domain.SeverityBlock,
				Machine: &domain.StateMachineDef{
					States:  []string{"open", "closed"},
					Initial: "open",
					Transitions: []domain.Transition{
						{From: "open", To: "closed", Guard: "never"},
					},
					Terminal: []string{"closed"},
				},
			},
		},
	}

	_, err := r.Publish(ctx, "acme", contract)
	require.NoError(t, err)

	compiled, err := r.ResolveCompiled(ctx, "acme", "gated")
	require.NoError(t, err)
	never, ok := compiled.Predicates["never"]
	require.True(t, ok, "built-in guard should resolve from the host registry")

	got, err := never(ctx, guard.Input{})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestHostRegisteredPredicates(t *testing.T) {
	guards := guard.NewRegistry()
	require.NoError(t, guards.Register("office-hours", func(context.Context, guard.Input) (bool, error) {
		return true, nil
	}))

	r := New(Options{
		Guards: guards,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:  testClock,
	})
	t.Cleanup(func() { _ = r.Close() })
	ctx := context.Background()

	contract := domain.Contract{
		ID: "scheduled",
		Rules: []domain.Rule{
			{ID: "window", Kind: domain.KindPredicate, Severity: domain.SeverityBlock, Predicate: "office-hours"},
		},
	}
	_, err := r.Publish(ctx, "acme", contract)
	require.NoError(t, err)

	compiled, err := r.ResolveCompiled(ctx, "acme", "scheduled")
	require.NoError(t, err)
	assert.Contains(t, compiled.Predicates, "office-hours")
	assert.Same(t, guards, r.Guards())
}
