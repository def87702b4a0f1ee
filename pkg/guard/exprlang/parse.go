package exprlang

import (
	"fmt"
	"strconv"
)

// node is a compiled expression fragment. Evaluation walks the tree with
// the lookup supplied at Eval time, so one Program serves many inputs.
type node interface {
	eval(ev *evalState) (any, error)
}

type literalNode struct {
	value any
}

type identifierNode struct {
	path string
}

type unaryNode struct {
	op      tokenType
	operand node
}

type binaryNode struct {
	op    tokenType
	left  node
	right node
}

type parser struct {
	lex     *lexer
	current token
}

func parse(source string) (node, error) {
	p := &parser{lex: newLexer(source)}
	p.next()

	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.current.typ != tokenEOF {
		return nil, fmt.Errorf("%w: unexpected %q after expression", ErrSyntax, p.current.literal)
	}
	return root, nil
}

func (p *parser) next() {
	p.current = p.lex.nextToken()
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.current.typ == tokenOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tokenOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.current.typ == tokenAnd {
		p.next()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tokenAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	switch p.current.typ {
	case tokenEq, tokenNeq, tokenGt, tokenGte, tokenLt, tokenLte:
		op := p.current.typ
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	switch p.current.typ {
	case tokenNot:
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: tokenNot, operand: operand}, nil
	case tokenMinus:
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: tokenMinus, operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.current
	switch tok.typ {
	case tokenLParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.current.typ != tokenRParen {
			return nil, fmt.Errorf("%w: expected ) but got %q", ErrSyntax, p.current.literal)
		}
		p.next()
		return inner, nil
	case tokenNumber:
		value, err := strconv.ParseFloat(tok.literal, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid number %q", ErrSyntax, tok.literal)
		}
		p.next()
		return &literalNode{value: value}, nil
	case tokenString:
		p.next()
		return &literalNode{value: tok.literal}, nil
	case tokenBool:
		p.next()
		return &literalNode{value: tok.literal == "true" || tok.literal == "TRUE" || tok.literal == "True"}, nil
	case tokenIdentifier:
		p.next()
		return &identifierNode{path: tok.literal}, nil
	case tokenEOF:
		return nil, fmt.Errorf("%w: unexpected end of expression", ErrSyntax)
	case tokenIllegal:
		return nil, fmt.Errorf("%w: %s", ErrSyntax, tok.literal)
	}
	return nil, fmt.Errorf("%w: unexpected %q", ErrSyntax, tok.literal)
}
