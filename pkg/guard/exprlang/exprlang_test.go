package exprlang

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestProgramEval(t *testing.T) {
	lookup := mapLookup(map[string]any{
		"context.amount":        420.0,
		"context.approver.role": "manager",
		"context.locked":        false,
		"subject.from":          "draft",
		"params.limit":          500,
	})

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{
			name: "boolean literal",
			expr: "true",
			want: true,
		},
		{
			name: "numeric and string comparators",
			expr: "context.amount <= 500 && context.approver.role == 'manager'",
			want: true,
		},
		{
			name: "negation",
			expr: "!context.locked",
			want: true,
		},
		{
			name: "identifier against identifier",
			expr: "context.amount < params.limit",
			want: true,
		},
		{
			name: "parentheses regroup precedence",
			expr: "(context.locked || subject.from == 'draft') && context.amount > 100",
			want: true,
		},
		{
			name: "unary minus",
			expr: "-context.amount < 0",
			want: true,
		},
		{
			name: "double quoted string",
			expr: "subject.from != \"published\"",
			want: true,
		},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := Compile(tt.expr)
			if err != nil {
				t.Fatalf("Compile(%q) error = %v", tt.expr, err)
			}
			got, err := prog.Eval(ctx, lookup)
			if err != nil {
				t.Fatalf("Eval() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("Eval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTokenEdgeCases(t *testing.T) {
	lookup := mapLookup(map[string]any{
		"context.feature-flags.dry-run": true,
		"context.note":                  "line1\nline2",
		"context.amount":                420.0,
	})

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{
			name: "kebab identifier is one token",
			expr: "context.feature-flags.dry-run",
			want: true,
		},
		{
			name: "escaped newline in string literal",
			expr: "context.note == 'line1\\nline2'",
			want: true,
		},
		{
			name: "two char comparator wins over one char",
			expr: "context.amount >= 420",
			want: true,
		},
		{
			name: "decimal literal",
			expr: "context.amount > 419.5",
			want: true,
		},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := Compile(tt.expr)
			if err != nil {
				t.Fatalf("Compile(%q) error = %v", tt.expr, err)
			}
			got, err := prog.Eval(ctx, lookup)
			if err != nil {
				t.Fatalf("Eval() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("Eval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompileSyntaxErrors(t *testing.T) {
	exprs := []string{
		"",
		"context.amount >=",
		"(context.amount > 1",
		"context.amount > 1 extra",
		"'unterminated",
		"&& context.amount",
		"context.amount = 420",
		"context.a & context.b",
		"1.2.3",
	}
	for _, expr := range exprs {
		if _, err := Compile(expr); !errors.Is(err, ErrSyntax) {
			t.Fatalf("Compile(%q): expected ErrSyntax, got %v", expr, err)
		}
	}
}

func TestEvalErrors(t *testing.T) {
	lookup := mapLookup(map[string]any{
		"context.amount": 42.0,
	})

	prog, err := Compile("context.missing == true")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if _, err := prog.Eval(context.Background(), lookup); !errors.Is(err, ErrUnknownIdentifier) {
		t.Fatalf("expected ErrUnknownIdentifier, got %v", err)
	}

	prog, err = Compile("context.amount == true")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if _, err := prog.Eval(context.Background(), lookup); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}

	prog, err = Compile("context.amount")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if _, err := prog.Eval(context.Background(), lookup); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("non-bool result: expected ErrTypeMismatch, got %v", err)
	}
}

func TestNumericStringCoercion(t *testing.T) {
	lookup := mapLookup(map[string]any{
		"context.retries": "3",
	})

	prog, err := Compile("context.retries < 5")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	got, err := prog.Eval(context.Background(), lookup)
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if !got {
		t.Fatalf("expected numeric string to compare as number")
	}
}

func TestProgramReuse(t *testing.T) {
	prog, err := Compile("context.amount > 100")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	high := mapLookup(map[string]any{"context.amount": 250})
	low := mapLookup(map[string]any{"context.amount": 7})

	got, err := prog.Eval(context.Background(), high)
	if err != nil || !got {
		t.Fatalf("high amount: got %v, %v", got, err)
	}
	got, err = prog.Eval(context.Background(), low)
	if err != nil || got {
		t.Fatalf("low amount: got %v, %v", got, err)
	}
}

func TestEvalTimeout(t *testing.T) {
	prog, err := CompileWithOptions("context.flag == true", Options{Timeout: time.Millisecond})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	slowLookup := func(path string) (any, bool) {
		time.Sleep(5 * time.Millisecond)
		return true, true
	}

	_, err = prog.Eval(context.Background(), slowLookup)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline exceeded, got %v", err)
	}
}

func TestShortCircuit(t *testing.T) {
	var expensiveCalls int
	lookup := func(path string) (any, bool) {
		switch path {
		case "context.allow":
			return true, true
		case "context.deny":
			return false, true
		case "context.expensive":
			expensiveCalls++
			return true, true
		}
		return nil, false
	}

	prog, err := Compile("context.allow || context.expensive")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	got, err := prog.Eval(context.Background(), lookup)
	if err != nil || !got {
		t.Fatalf("or: got %v, %v", got, err)
	}
	if expensiveCalls != 0 {
		t.Fatalf("|| should skip right side, got %d calls", expensiveCalls)
	}

	prog, err = Compile("context.deny && context.expensive")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	got, err = prog.Eval(context.Background(), lookup)
	if err != nil || got {
		t.Fatalf("and: got %v, %v", got, err)
	}
	if expensiveCalls != 0 {
		t.Fatalf("&& should skip right side, got %d calls", expensiveCalls)
	}
}

func TestNilLookup(t *testing.T) {
	prog, err := Compile("true")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if _, err := prog.Eval(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil lookup")
	}
}

func mapLookup(values map[string]any) LookupFunc {
	return func(path string) (any, bool) {
		v, ok := values[path]
		return v, ok
	}
}
