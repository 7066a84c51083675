// Package parse implements the formula expression parser (C1): a hand
// written recursive-descent / precedence-climbing parser over the
// restricted grammar described in spec §4.1. It intentionally does not use
// hashicorp/hcl's hclsyntax expression grammar — hclsyntax has no Python
// style "a if cond else b" ternary and no dotted bare-identifier entity-id
// syntax, so it cannot express this language. Diagnostics still use hcl's
// Pos/Range/Diagnostic types so downstream tooling can render them
// uniformly with any other hcl-based error in the binary.
package parse

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"

	"synsensors/core/ast"
	internalerrors "synsensors/internal/errors"
)

// Parse parses formula into an AST, or returns a *errors.Error of type
// TypeSyntax carrying the hcl.Diagnostic position on failure.
func Parse(formula string) (ast.Node, error) {
	return ParseNamed("formula", formula)
}

// ParseNamed is Parse with an explicit filename used only in diagnostics
// (useful when a harness parses many named formulas and wants the formula's
// id/name to show up in error messages).
func ParseNamed(name, formula string) (ast.Node, error) {
	p := &parser{lex: newLexer(name, formula)}
	if err := p.advance(); err != nil {
		return nil, wrapDiag(err)
	}
	node, err := p.parseExpr()
	if err != nil {
		return nil, wrapDiag(err)
	}
	if p.cur.kind != tokEOF {
		return nil, wrapDiag(p.errorf("unexpected trailing input %q", p.cur.text))
	}
	return node, nil
}

func wrapDiag(err error) error {
	if err == nil {
		return nil
	}
	diag, ok := err.(*hcl.Diagnostic)
	if !ok {
		return internalerrors.Syntax(err.Error())
	}
	return internalerrors.Syntax(fmt.Sprintf("%s (at %d:%d)", diag.Detail, diag.Subject.Start.Line, diag.Subject.Start.Column)).
		WithContext("range", *diag.Subject)
}

type parser struct {
	lex *lexer
	cur token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  "Invalid formula syntax",
		Detail:   fmt.Sprintf(format, args...),
		Subject:  &hcl.Range{Filename: p.lex.filename, Start: p.cur.start, End: p.cur.end},
	}
}

func (p *parser) expect(k tokenKind, want string) (token, error) {
	if p.cur.kind != k {
		return token{}, p.errorf("expected %s, got %q", want, p.cur.text)
	}
	tok := p.cur
	if err := p.advance(); err != nil {
		return token{}, err
	}
	return tok, nil
}

// parseExpr = conditional
func (p *parser) parseExpr() (ast.Node, error) {
	return p.parseConditional()
}

// conditional := or_expr ('if' or_expr 'else' conditional)?
func (p *parser) parseConditional() (ast.Node, error) {
	start := p.cur.start
	then, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokIf {
		return then, nil
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokElse, "'else'"); err != nil {
		return nil, err
	}
	elseExpr, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	return &ast.Conditional{
		Cond: cond,
		Then: then,
		Else: elseExpr,
		Rng:  hcl.Range{Filename: p.lex.filename, Start: start, End: p.cur.start},
	}, nil
}

// or_expr := and_expr ('or' and_expr)*
func (p *parser) parseOr() (ast.Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokOr {
		start := p.cur.start
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryOp{Op: "or", Left: left, Right: right, Rng: rangeFrom(p.lex.filename, start, p.cur.start)}
	}
	return left, nil
}

// and_expr := not_expr ('and' not_expr)*
func (p *parser) parseAnd() (ast.Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokAnd {
		start := p.cur.start
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryOp{Op: "and", Left: left, Right: right, Rng: rangeFrom(p.lex.filename, start, p.cur.start)}
	}
	return left, nil
}

// not_expr := 'not' not_expr | comparison
func (p *parser) parseNot() (ast.Node, error) {
	if p.cur.kind == tokNot {
		start := p.cur.start
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryOp{Op: "not", X: x, Rng: rangeFrom(p.lex.filename, start, p.cur.start)}, nil
	}
	return p.parseComparison()
}

var comparisonOps = map[tokenKind]string{
	tokEq: "==", tokNe: "!=", tokLt: "<", tokLe: "<=", tokGt: ">", tokGe: ">=",
}

// comparison := additive ((== | != | < | <= | > | >=) additive)*
func (p *parser) parseComparison() (ast.Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := comparisonOps[p.cur.kind]
		if !ok {
			return left, nil
		}
		start := p.cur.start
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryOp{Op: op, Left: left, Right: right, Rng: rangeFrom(p.lex.filename, start, p.cur.start)}
	}
}

// additive := term (('+'|'-') term)*
func (p *parser) parseAdditive() (ast.Node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokPlus || p.cur.kind == tokMinus {
		op := "+"
		if p.cur.kind == tokMinus {
			op = "-"
		}
		start := p.cur.start
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryOp{Op: op, Left: left, Right: right, Rng: rangeFrom(p.lex.filename, start, p.cur.start)}
	}
	return left, nil
}

// term := unary (('*'|'/'|'%') unary)*
func (p *parser) parseTerm() (ast.Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokStar || p.cur.kind == tokSlash || p.cur.kind == tokPercent {
		var op string
		switch p.cur.kind {
		case tokStar:
			op = "*"
		case tokSlash:
			op = "/"
		case tokPercent:
			op = "%"
		}
		start := p.cur.start
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryOp{Op: op, Left: left, Right: right, Rng: rangeFrom(p.lex.filename, start, p.cur.start)}
	}
	return left, nil
}

// unary := '-' unary | primary
func (p *parser) parseUnary() (ast.Node, error) {
	if p.cur.kind == tokMinus {
		start := p.cur.start
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryOp{Op: "-", X: x, Rng: rangeFrom(p.lex.filename, start, p.cur.start)}, nil
	}
	return p.parsePrimary()
}

// primary := NUMBER | STRING | True | False | None | '(' expr ')' | name_or_call
func (p *parser) parsePrimary() (ast.Node, error) {
	tok := p.cur
	switch tok.kind {
	case tokNumber:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.Number{Value: tok.num, Rng: rangeFrom(p.lex.filename, tok.start, tok.end)}, nil
	case tokString:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.Str{Value: tok.text, Rng: rangeFrom(p.lex.filename, tok.start, tok.end)}, nil
	case tokTrue:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.Bool{Value: true, Rng: rangeFrom(p.lex.filename, tok.start, tok.end)}, nil
	case tokFalse:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.Bool{Value: false, Rng: rangeFrom(p.lex.filename, tok.start, tok.end)}, nil
	case tokNone:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.NullLit{Rng: rangeFrom(p.lex.filename, tok.start, tok.end)}, nil
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokIdent:
		return p.parseNameOrCall()
	default:
		return nil, p.errorf("unexpected token %q", tok.text)
	}
}

// name_or_call := IDENT ('.' IDENT)* | IDENT '(' args ')'
func (p *parser) parseNameOrCall() (ast.Node, error) {
	start := p.cur.start
	first := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.cur.kind == tokLParen {
		if err := p.advance(); err != nil {
			return nil, err
		}
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return &ast.Call{Func: first, Args: args, Rng: rangeFrom(p.lex.filename, start, p.cur.start)}, nil
	}

	segments := []string{first}
	for p.cur.kind == tokDot {
		if err := p.advance(); err != nil {
			return nil, err
		}
		seg, err := p.expect(tokIdent, "identifier after '.'")
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg.text)
	}
	return &ast.Name{Segments: segments, Rng: rangeFrom(p.lex.filename, start, p.cur.start)}, nil
}

func (p *parser) parseArgs() ([]ast.Node, error) {
	var args []ast.Node
	if p.cur.kind == tokRParen {
		return args, nil
	}
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.cur.kind != tokComma {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return args, nil
}

func rangeFrom(filename string, start, end hcl.Pos) hcl.Range {
	return hcl.Range{Filename: filename, Start: start, End: end}
}
