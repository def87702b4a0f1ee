// Package exprlang implements the small boolean expression language used
// by transition guards. Expressions are compiled once, at contract
// publish time, into a Program that can be evaluated concurrently
// against many inputs.
//
// The language supports comparisons (==, !=, <, <=, >, >=), boolean
// operators (&&, ||, !) with short-circuit evaluation, numeric and
// string literals, parentheses, and dotted identifiers resolved through
// a caller-supplied lookup:
//
//	context.amount <= 500 && context.approver.role == 'manager'
//
// Numbers are float64 internally. Strings accept single or double
// quotes. Unknown identifiers and type-mismatched comparisons are
// evaluation errors, not false.
package exprlang

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSyntax reports a malformed expression at compile time.
	ErrSyntax = errors.New("expression syntax error")
	// ErrUnknownIdentifier reports an identifier the lookup could not resolve.
	ErrUnknownIdentifier = errors.New("unknown identifier")
	// ErrTypeMismatch reports operands of incompatible types.
	ErrTypeMismatch = errors.New("type mismatch")
)

// LookupFunc resolves a dotted identifier path to its value. The second
// return reports whether the path exists; absent paths surface as
// ErrUnknownIdentifier rather than evaluating to a zero value.
type LookupFunc func(path string) (any, bool)

// Options tune compiled programs.
type Options struct {
	// Timeout bounds a single Eval call. Zero means DefaultTimeout;
	// negative disables the bound entirely.
	Timeout time.Duration
}

// DefaultTimeout bounds guard evaluation so a contract cannot stall the
// decision path.
const DefaultTimeout = 10 * time.Millisecond

// Program is a compiled expression. It is immutable and safe for
// concurrent use.
type Program struct {
	source  string
	root    node
	timeout time.Duration
}

// Compile parses source with default options.
func Compile(source string) (*Program, error) {
	return CompileWithOptions(source, Options{})
}

// CompileWithOptions parses source into a reusable Program.
func CompileWithOptions(source string, opts Options) (*Program, error) {
	if source == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	root, err := parse(source)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Program{source: source, root: root, timeout: timeout}, nil
}

// Source returns the original expression text.
func (p *Program) Source() string {
	return p.source
}

// Eval runs the program against lookup. The whole expression must
// reduce to a bool; anything else is an ErrTypeMismatch.
func (p *Program) Eval(ctx context.Context, lookup LookupFunc) (bool, error) {
	if lookup == nil {
		return false, errors.New("exprlang: nil lookup")
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	ev := &evalState{ctx: ctx, lookup: lookup}
	value, err := p.root.eval(ev)
	if err != nil {
		return false, err
	}
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	result, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: expression yields %T, want bool", ErrTypeMismatch, value)
	}
	return result, nil
}
