package exprlang

import (
	"context"
	"fmt"
	"strconv"
)

// evalState threads the context and lookup through the tree walk.
type evalState struct {
	ctx    context.Context
	lookup LookupFunc
}

func (ev *evalState) checkCancelled() error {
	select {
	case <-ev.ctx.Done():
		return ev.ctx.Err()
	default:
		return nil
	}
}

func (n *literalNode) eval(ev *evalState) (any, error) {
	return n.value, nil
}

func (n *identifierNode) eval(ev *evalState) (any, error) {
	if err := ev.checkCancelled(); err != nil {
		return nil, err
	}
	value, ok := ev.lookup(n.path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIdentifier, n.path)
	}
	return value, nil
}

func (n *unaryNode) eval(ev *evalState) (any, error) {
	value, err := n.operand.eval(ev)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case tokenNot:
		b, err := toBool(value)
		if err != nil {
			return nil, err
		}
		return !b, nil
	case tokenMinus:
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		return -f, nil
	}
	return nil, fmt.Errorf("%w: unsupported unary operator %s", ErrSyntax, n.op)
}

func (n *binaryNode) eval(ev *evalState) (any, error) {
	if err := ev.checkCancelled(); err != nil {
		return nil, err
	}

	// && and || short-circuit, so the right side only evaluates when
	// the left side has not already decided the result.
	switch n.op {
	case tokenAnd:
		left, err := n.left.eval(ev)
		if err != nil {
			return nil, err
		}
		lb, err := toBool(left)
		if err != nil {
			return nil, err
		}
		if !lb {
			return false, nil
		}
		right, err := n.right.eval(ev)
		if err != nil {
			return nil, err
		}
		return toBool(right)
	case tokenOr:
		left, err := n.left.eval(ev)
		if err != nil {
			return nil, err
		}
		lb, err := toBool(left)
		if err != nil {
			return nil, err
		}
		if lb {
			return true, nil
		}
		right, err := n.right.eval(ev)
		if err != nil {
			return nil, err
		}
		return toBool(right)
	}

	left, err := n.left.eval(ev)
	if err != nil {
		return nil, err
	}
	right, err := n.right.eval(ev)
	if err != nil {
		return nil, err
	}
	if err := ev.checkCancelled(); err != nil {
		return nil, err
	}

	switch n.op {
	case tokenEq:
		return equals(left, right)
	case tokenNeq:
		eq, err := equals(left, right)
		if err != nil {
			return nil, err
		}
		return !eq, nil
	case tokenGt, tokenGte, tokenLt, tokenLte:
		cmp, err := compare(left, right)
		if err != nil {
			return nil, err
		}
		switch n.op {
		case tokenGt:
			return cmp > 0, nil
		case tokenGte:
			return cmp >= 0, nil
		case tokenLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	}
	return nil, fmt.Errorf("%w: unsupported operator %s", ErrSyntax, n.op)
}

func toBool(value any) (bool, error) {
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: expected bool, got %T", ErrTypeMismatch, value)
	}
	return b, nil
}

// toFloat widens every numeric shape that JSON and YAML decoding can
// produce, plus numeric strings, which turn up when guard context comes
// from HTTP headers.
func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: cannot treat %q as number", ErrTypeMismatch, v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: expected number, got %T", ErrTypeMismatch, value)
}

func equals(left, right any) (bool, error) {
	lf, lerr := toFloat(left)
	rf, rerr := toFloat(right)
	if lerr == nil && rerr == nil {
		return lf == rf, nil
	}

	lb, lok := left.(bool)
	rb, rok := right.(bool)
	if lok && rok {
		return lb == rb, nil
	}

	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		return ls == rs, nil
	}

	if left == nil && right == nil {
		return true, nil
	}

	return false, fmt.Errorf("%w: cannot compare %T against %T", ErrTypeMismatch, left, right)
}

func compare(left, right any) (int, error) {
	lf, lerr := toFloat(left)
	rf, rerr := toFloat(right)
	if lerr == nil && rerr == nil {
		switch {
		case lf < rf:
			return -1, nil
		case lf > rf:
			return 1, nil
		default:
			return 0, nil
		}
	}

	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		switch {
		case ls < rs:
			return -1, nil
		case ls > rs:
			return 1, nil
		default:
			return 0, nil
		}
	}

	return 0, fmt.Errorf("%w: cannot order %T against %T", ErrTypeMismatch, left, right)
}
