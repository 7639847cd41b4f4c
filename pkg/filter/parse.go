package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/vanderheijden86/beadnav/pkg/model"
)

// ErrSyntax is wrapped by every error returned from Parse.
var ErrSyntax = errors.New("filter syntax error")

// Parse reads a constraint expression. An empty expression is True.
func Parse(src string) (Constraint, error) {
	p := &parser{src: src}
	p.next()
	if p.tok.kind == tokEOF {
		return True{}, nil
	}
	c, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.errorf("unexpected %s", p.tok)
	}
	return c, nil
}

// MustParse is Parse for expressions known to be valid.
func MustParse(src string) Constraint {
	c, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return c
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokString
	tokEq
	tokNe
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
	tokComma
	tokTilde
	tokIn
	tokTrue
	tokErr
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokIdent, tokString:
		return strconv.Quote(t.text)
	case tokErr:
		return t.text
	}
	return "'" + t.text + "'"
}

type parser struct {
	src string
	off int
	tok token
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at %d: %s", ErrSyntax, p.tok.pos, fmt.Sprintf(format, args...))
}

func (p *parser) parseOr() (Constraint, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	cs := []Constraint{first}
	for p.tok.kind == tokOr {
		p.next()
		c, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		cs = append(cs, c)
	}
	if len(cs) == 1 {
		return first, nil
	}
	return Or{Children: cs}, nil
}

func (p *parser) parseAnd() (Constraint, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	cs := []Constraint{first}
	for p.tok.kind == tokAnd {
		p.next()
		c, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		cs = append(cs, c)
	}
	if len(cs) == 1 {
		return first, nil
	}
	return And{Children: cs}, nil
}

func (p *parser) parseUnary() (Constraint, error) {
	switch p.tok.kind {
	case tokNot:
		p.next()
		c, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Negate(c), nil
	case tokLParen:
		p.next()
		c, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, p.errorf("expected ')', got %s", p.tok)
		}
		p.next()
		return c, nil
	case tokTrue:
		p.next()
		return True{}, nil
	case tokTilde:
		p.next()
		if p.tok.kind != tokString && p.tok.kind != tokIdent {
			return nil, p.errorf("expected text after '~', got %s", p.tok)
		}
		q := p.tok.text
		p.next()
		return Text{Query: q}, nil
	case tokIdent:
		return p.parseComparison()
	}
	return nil, p.errorf("unexpected %s", p.tok)
}

func (p *parser) parseComparison() (Constraint, error) {
	name := p.tok.text
	attr, ok := model.Lookup(name)
	if !ok {
		return nil, p.errorf("unknown attribute %q", name)
	}
	p.next()
	switch p.tok.kind {
	case tokEq, tokNe:
		negated := p.tok.kind == tokNe
		p.next()
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		e := Eq(attr.ID, v)
		e.Negated = negated
		return e, nil
	case tokIn:
		p.next()
		if p.tok.kind != tokLParen {
			return nil, p.errorf("expected '(' after in, got %s", p.tok)
		}
		p.next()
		var cs []Constraint
		for {
			v, err := p.value()
			if err != nil {
				return nil, err
			}
			cs = append(cs, Eq(attr.ID, v))
			if p.tok.kind == tokComma {
				p.next()
				continue
			}
			break
		}
		if p.tok.kind != tokRParen {
			return nil, p.errorf("expected ')', got %s", p.tok)
		}
		p.next()
		if len(cs) == 1 {
			return cs[0], nil
		}
		return Or{Children: cs}, nil
	}
	return nil, p.errorf("expected '=', '!=' or in after %q, got %s", name, p.tok)
}

func (p *parser) value() (string, error) {
	switch p.tok.kind {
	case tokIdent, tokString, tokTrue, tokIn:
		v := p.tok.text
		p.next()
		return v, nil
	}
	return "", p.errorf("expected value, got %s", p.tok)
}

func (p *parser) next() {
	for p.off < len(p.src) && unicode.IsSpace(rune(p.src[p.off])) {
		p.off++
	}
	start := p.off
	if p.off >= len(p.src) {
		p.tok = token{kind: tokEOF, pos: start}
		return
	}
	c := p.src[p.off]
	single := func(k tokKind) {
		p.off++
		p.tok = token{kind: k, text: string(c), pos: start}
	}
	switch c {
	case '(':
		single(tokLParen)
	case ')':
		single(tokRParen)
	case ',':
		single(tokComma)
	case '~':
		single(tokTilde)
	case '&':
		single(tokAnd)
	case '|':
		single(tokOr)
	case '=':
		single(tokEq)
	case '!':
		if strings.HasPrefix(p.src[p.off:], "!=") {
			p.off += 2
			p.tok = token{kind: tokNe, text: "!=", pos: start}
			return
		}
		single(tokNot)
	case '"':
		end := p.off + 1
		for end < len(p.src) && p.src[end] != '"' {
			if p.src[end] == '\\' {
				end++
			}
			end++
		}
		if end >= len(p.src) {
			p.off = len(p.src)
			p.tok = token{kind: tokErr, text: "unterminated string", pos: start}
			return
		}
		s, err := strconv.Unquote(p.src[p.off : end+1])
		p.off = end + 1
		if err != nil {
			p.tok = token{kind: tokErr, text: "bad string literal", pos: start}
			return
		}
		p.tok = token{kind: tokString, text: s, pos: start}
	default:
		end := p.off
		for end < len(p.src) {
			r := rune(p.src[end])
			if !isIdentRune(r) {
				break
			}
			end++
		}
		if end == p.off {
			p.off++
			p.tok = token{kind: tokErr, text: fmt.Sprintf("unexpected character %q", c), pos: start}
			return
		}
		word := p.src[p.off:end]
		p.off = end
		p.tok = token{kind: tokIdent, text: word, pos: start}
		switch strings.ToLower(word) {
		case "and":
			p.tok.kind = tokAnd
		case "or":
			p.tok.kind = tokOr
		case "not":
			p.tok.kind = tokNot
		case "in":
			p.tok.kind = tokIn
		case "true", "all":
			p.tok.kind = tokTrue
		}
	}
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '-' || r == '.' || r == ':' || r == '/' || r == '@' ||
		unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isKeyword(s string) bool {
	switch strings.ToLower(s) {
	case "and", "or", "not", "in", "true", "all":
		return true
	}
	return false
}
