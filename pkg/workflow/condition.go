package workflow

import (
	"fmt"
	"strconv"
)

// Eval evaluates a restricted boolean expression against lookup. No function
// calls, no assignment, no arbitrary code.
//
// Grammar:
//
//	expr  := and ( "||" and )*
//	and   := unary ( "&&" unary )*
//	unary := "!" unary | "(" expr ")" | cmp
//	cmp   := value [ ("==" | "!=" | "<" | "<=" | ">" | ">=") value ]
//	value := reference | 'string' | "string" | number | true | false
//
// References resolve through lookup; an unresolved reference reads as the
// empty string. A bare value is truthy unless it is empty, "false", or "0".
// Equality compares numerically when both sides parse as numbers, as strings
// otherwise. Ordering comparisons require numeric operands.
func Eval(expr string, lookup func(ref string) (string, bool)) (bool, error) {
	p := &parser{lex: &lexer{s: expr}, lookup: lookup}
	if err := p.advance(); err != nil {
		return false, err
	}
	v, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if p.tok.kind != tokEOF {
		return false, fmt.Errorf("unexpected %q in expression", p.tok.text)
	}
	return v, nil
}

// Check parses expr without comparing values, so definitions with syntax
// errors are rejected at load time.
func Check(expr string) error {
	p := &parser{
		lex:    &lexer{s: expr},
		lookup: func(string) (string, bool) { return "", false },
		check:  true,
	}
	if err := p.advance(); err != nil {
		return err
	}
	if _, err := p.parseOr(); err != nil {
		return err
	}
	if p.tok.kind != tokEOF {
		return fmt.Errorf("unexpected %q in expression", p.tok.text)
	}
	return nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokValue
	tokOp
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	// literal marks quoted strings, numbers, and the true/false keywords,
	// which are never resolved through lookup.
	literal bool
}

type lexer struct {
	s   string
	pos int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.s) && (l.s[l.pos] == ' ' || l.s[l.pos] == '\t' || l.s[l.pos] == '\n' || l.s[l.pos] == '\r') {
		l.pos++
	}
	if l.pos >= len(l.s) {
		return token{kind: tokEOF}, nil
	}

	c := l.s[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "("}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")"}, nil
	case c == '&':
		if l.peek(1) != '&' {
			return token{}, fmt.Errorf("expected && at position %d", l.pos)
		}
		l.pos += 2
		return token{kind: tokAnd, text: "&&"}, nil
	case c == '|':
		if l.peek(1) != '|' {
			return token{}, fmt.Errorf("expected || at position %d", l.pos)
		}
		l.pos += 2
		return token{kind: tokOr, text: "||"}, nil
	case c == '=':
		if l.peek(1) != '=' {
			return token{}, fmt.Errorf("expected == at position %d", l.pos)
		}
		l.pos += 2
		return token{kind: tokOp, text: "=="}, nil
	case c == '!':
		if l.peek(1) == '=' {
			l.pos += 2
			return token{kind: tokOp, text: "!="}, nil
		}
		l.pos++
		return token{kind: tokNot, text: "!"}, nil
	case c == '<' || c == '>':
		op := string(c)
		l.pos++
		if l.peek(0) == '=' {
			op += "="
			l.pos++
		}
		return token{kind: tokOp, text: op}, nil
	case c == '\'' || c == '"':
		end := l.pos + 1
		for end < len(l.s) && l.s[end] != c {
			end++
		}
		if end >= len(l.s) {
			return token{}, fmt.Errorf("unterminated string at position %d", l.pos)
		}
		text := l.s[l.pos+1 : end]
		l.pos = end + 1
		return token{kind: tokValue, text: text, literal: true}, nil
	case c == '-' || c >= '0' && c <= '9':
		start := l.pos
		l.pos++
		for l.pos < len(l.s) && (l.s[l.pos] >= '0' && l.s[l.pos] <= '9' || l.s[l.pos] == '.') {
			l.pos++
		}
		text := l.s[start:l.pos]
		if _, err := strconv.ParseFloat(text, 64); err != nil {
			return token{}, fmt.Errorf("bad number %q", text)
		}
		return token{kind: tokValue, text: text, literal: true}, nil
	case isRefChar(c):
		start := l.pos
		for l.pos < len(l.s) && isRefChar(l.s[l.pos]) {
			l.pos++
		}
		text := l.s[start:l.pos]
		if text == "true" || text == "false" {
			return token{kind: tokValue, text: text, literal: true}, nil
		}
		return token{kind: tokValue, text: text}, nil
	default:
		return token{}, fmt.Errorf("unexpected character %q at position %d", c, l.pos)
	}
}

func (l *lexer) peek(ahead int) byte {
	if l.pos+ahead < len(l.s) {
		return l.s[l.pos+ahead]
	}
	return 0
}

// isRefChar covers reference characters: context keys and task ids with
// dots, hyphens, and underscores.
func isRefChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '.' || c == '-'
}

type parser struct {
	lex    *lexer
	tok    token
	lookup func(string) (string, bool)
	check  bool
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) parseOr() (bool, error) {
	v, err := p.parseAnd()
	if err != nil {
		return false, err
	}
	for p.tok.kind == tokOr {
		if err := p.advance(); err != nil {
			return false, err
		}
		rhs, err := p.parseAnd()
		if err != nil {
			return false, err
		}
		v = v || rhs
	}
	return v, nil
}

func (p *parser) parseAnd() (bool, error) {
	v, err := p.parseUnary()
	if err != nil {
		return false, err
	}
	for p.tok.kind == tokAnd {
		if err := p.advance(); err != nil {
			return false, err
		}
		rhs, err := p.parseUnary()
		if err != nil {
			return false, err
		}
		v = v && rhs
	}
	return v, nil
}

func (p *parser) parseUnary() (bool, error) {
	switch p.tok.kind {
	case tokNot:
		if err := p.advance(); err != nil {
			return false, err
		}
		v, err := p.parseUnary()
		if err != nil {
			return false, err
		}
		return !v, nil
	case tokLParen:
		if err := p.advance(); err != nil {
			return false, err
		}
		v, err := p.parseOr()
		if err != nil {
			return false, err
		}
		if p.tok.kind != tokRParen {
			return false, fmt.Errorf("missing closing parenthesis")
		}
		if err := p.advance(); err != nil {
			return false, err
		}
		return v, nil
	default:
		return p.parseComparison()
	}
}

func (p *parser) parseComparison() (bool, error) {
	left, err := p.operand()
	if err != nil {
		return false, err
	}
	if p.tok.kind != tokOp {
		return truthy(left), nil
	}
	op := p.tok.text
	if err := p.advance(); err != nil {
		return false, err
	}
	right, err := p.operand()
	if err != nil {
		return false, err
	}
	if p.check {
		return true, nil
	}
	return compare(op, left, right)
}

func (p *parser) operand() (string, error) {
	if p.tok.kind != tokValue {
		return "", fmt.Errorf("expected a value, got %q", p.tok.text)
	}
	v := p.tok.text
	if !p.tok.literal {
		v, _ = p.lookup(v)
	}
	if err := p.advance(); err != nil {
		return "", err
	}
	return v, nil
}

func compare(op, left, right string) (bool, error) {
	lf, lerr := strconv.ParseFloat(left, 64)
	rf, rerr := strconv.ParseFloat(right, 64)
	numeric := lerr == nil && rerr == nil

	switch op {
	case "==":
		if numeric {
			return lf == rf, nil
		}
		return left == right, nil
	case "!=":
		if numeric {
			return lf != rf, nil
		}
		return left != right, nil
	}
	if !numeric {
		return false, fmt.Errorf("ordering comparison %q needs numeric operands, got %q and %q", op, left, right)
	}
	switch op {
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	case ">":
		return lf > rf, nil
	case ">=":
		return lf >= rf, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

func truthy(v string) bool {
	return v != "" && v != "false" && v != "0"
}
