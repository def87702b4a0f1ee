package exprlang

import "strings"

type tokenType int

type token struct {
	typ     tokenType
	literal string
}

const (
	tokenIllegal tokenType = iota
	tokenEOF
	tokenIdentifier
	tokenNumber
	tokenString
	tokenBool
	tokenAnd
	tokenOr
	tokenNot
	tokenEq
	tokenNeq
	tokenGt
	tokenGte
	tokenLt
	tokenLte
	tokenLParen
	tokenRParen
	tokenMinus
	tokenPlus
)

var tokenNames = map[tokenType]string{
	tokenIllegal:    "illegal",
	tokenEOF:        "eof",
	tokenIdentifier: "identifier",
	tokenNumber:     "number",
	tokenString:     "string",
	tokenBool:       "bool",
	tokenAnd:        "&&",
	tokenOr:         "||",
	tokenNot:        "!",
	tokenEq:         "==",
	tokenNeq:        "!=",
	tokenGt:         ">",
	tokenGte:        ">=",
	tokenLt:         "<",
	tokenLte:        "<=",
	tokenLParen:     "(",
	tokenRParen:     ")",
	tokenMinus:      "-",
	tokenPlus:       "+",
}

func (t tokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return "unknown"
}

// operators in match order: two-character lexemes before their one-character
// prefixes, so "<=" wins over "<". Bare "&", "|", and "=" match nothing here
// and fall through to illegal.
var operators = []struct {
	lexeme string
	typ    tokenType
}{
	{"&&", tokenAnd},
	{"||", tokenOr},
	{"==", tokenEq},
	{"!=", tokenNeq},
	{">=", tokenGte},
	{"<=", tokenLte},
	{"!", tokenNot},
	{">", tokenGt},
	{"<", tokenLt},
	{"(", tokenLParen},
	{")", tokenRParen},
	{"-", tokenMinus},
	{"+", tokenPlus},
}

// lexer consumes its input by reslicing rest; there is no position state to
// keep in sync.
type lexer struct {
	rest string
}

func newLexer(input string) *lexer {
	return &lexer{rest: input}
}

func (l *lexer) nextToken() token {
	l.rest = strings.TrimLeft(l.rest, " \t\r\n")
	if l.rest == "" {
		return token{typ: tokenEOF}
	}

	for _, op := range operators {
		if strings.HasPrefix(l.rest, op.lexeme) {
			l.rest = l.rest[len(op.lexeme):]
			return token{typ: op.typ, literal: op.lexeme}
		}
	}

	switch ch := l.rest[0]; {
	case ch == '\'' || ch == '"':
		return l.scanString()
	case isDigit(ch):
		return l.scanNumber()
	case isIdentifierStart(ch):
		return l.scanIdentifier()
	default:
		l.rest = l.rest[1:]
		return token{typ: tokenIllegal, literal: string(ch)}
	}
}

// take splits off the longest prefix satisfying pred and consumes it.
func (l *lexer) take(pred func(byte) bool) string {
	end := len(l.rest)
	for i := 0; i < len(l.rest); i++ {
		if !pred(l.rest[i]) {
			end = i
			break
		}
	}
	lexeme := l.rest[:end]
	l.rest = l.rest[end:]
	return lexeme
}

// scanNumber accepts digits with at most one decimal point; a second dot
// ends the number.
func (l *lexer) scanNumber() token {
	dotted := false
	literal := l.take(func(ch byte) bool {
		if ch == '.' && !dotted {
			dotted = true
			return true
		}
		return isDigit(ch)
	})
	return token{typ: tokenNumber, literal: literal}
}

func (l *lexer) scanIdentifier() token {
	literal := l.take(isIdentifierPart)
	switch strings.ToLower(literal) {
	case "true", "false":
		return token{typ: tokenBool, literal: literal}
	}
	return token{typ: tokenIdentifier, literal: literal}
}

// scanString decodes a single- or double-quoted literal. Backslash escapes
// n, t, and r; any other escaped character stands for itself.
func (l *lexer) scanString() token {
	quote := l.rest[0]
	body := l.rest[1:]
	var out strings.Builder

	for i := 0; i < len(body); i++ {
		switch ch := body[i]; ch {
		case '\\':
			if i+1 >= len(body) {
				break
			}
			i++
			switch body[i] {
			case 'n':
				out.WriteByte('\n')
			case 't':
				out.WriteByte('\t')
			case 'r':
				out.WriteByte('\r')
			default:
				out.WriteByte(body[i])
			}
		case quote:
			l.rest = body[i+1:]
			return token{typ: tokenString, literal: out.String()}
		default:
			out.WriteByte(ch)
		}
	}

	l.rest = ""
	return token{typ: tokenIllegal, literal: "unterminated string"}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// Identifiers are dotted paths into the evaluation context; '-' supports
// kebab-case keys, so "a-b" is one identifier, not a subtraction.
func isIdentifierStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_' || ch == '$'
}

func isIdentifierPart(ch byte) bool {
	switch {
	case isIdentifierStart(ch):
		return true
	case isDigit(ch):
		return true
	case ch == '.', ch == '-', ch == ':':
		return true
	}
	return false
}
