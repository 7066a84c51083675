package parse

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokAnd
	tokOr
	tokNot
	tokIf
	tokElse
	tokTrue
	tokFalse
	tokNone
	tokLParen
	tokRParen
	tokComma
	tokDot
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokPercent
	tokEq
	tokNe
	tokLt
	tokLe
	tokGt
	tokGe
)

var keywords = map[string]tokenKind{
	"and":   tokAnd,
	"or":    tokOr,
	"not":   tokNot,
	"if":    tokIf,
	"else":  tokElse,
	"True":  tokTrue,
	"False": tokFalse,
	"None":  tokNone,
}

type token struct {
	kind  tokenKind
	text  string
	num   float64
	start hcl.Pos
	end   hcl.Pos
}

type lexer struct {
	filename string
	src      []rune
	pos      int
	line     int
	col      int
}

func newLexer(filename, src string) *lexer {
	return &lexer{filename: filename, src: []rune(src), line: 1, col: 1}
}

func (l *lexer) peekRune() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) peekRuneAt(offset int) rune {
	if l.pos+offset >= len(l.src) {
		return 0
	}
	return l.src[l.pos+offset]
}

func (l *lexer) advance() rune {
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *lexer) here() hcl.Pos {
	return hcl.Pos{Line: l.line, Column: l.col, Byte: l.pos}
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		r := l.peekRune()
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			l.advance()
			continue
		}
		break
	}
}

// next returns the next token, or an error if the input is lexically
// invalid (unterminated string, stray character).
func (l *lexer) next() (token, error) {
	l.skipSpace()
	start := l.here()
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, start: start, end: start}, nil
	}

	r := l.peekRune()
	switch {
	case r == '(':
		l.advance()
		return token{kind: tokLParen, text: "(", start: start, end: l.here()}, nil
	case r == ')':
		l.advance()
		return token{kind: tokRParen, text: ")", start: start, end: l.here()}, nil
	case r == ',':
		l.advance()
		return token{kind: tokComma, text: ",", start: start, end: l.here()}, nil
	case r == '.':
		if !isDigit(l.peekRuneAt(1)) {
			l.advance()
			return token{kind: tokDot, text: ".", start: start, end: l.here()}, nil
		}
	case r == '+':
		l.advance()
		return token{kind: tokPlus, text: "+", start: start, end: l.here()}, nil
	case r == '-':
		l.advance()
		return token{kind: tokMinus, text: "-", start: start, end: l.here()}, nil
	case r == '*':
		l.advance()
		return token{kind: tokStar, text: "*", start: start, end: l.here()}, nil
	case r == '/':
		l.advance()
		return token{kind: tokSlash, text: "/", start: start, end: l.here()}, nil
	case r == '%':
		l.advance()
		return token{kind: tokPercent, text: "%", start: start, end: l.here()}, nil
	case r == '=':
		l.advance()
		if l.peekRune() == '=' {
			l.advance()
			return token{kind: tokEq, text: "==", start: start, end: l.here()}, nil
		}
		return token{}, l.errAt(start, "unexpected character '=' (did you mean '=='?)")
	case r == '!':
		l.advance()
		if l.peekRune() == '=' {
			l.advance()
			return token{kind: tokNe, text: "!=", start: start, end: l.here()}, nil
		}
		return token{}, l.errAt(start, "unexpected character '!' (did you mean '!='?)")
	case r == '<':
		l.advance()
		if l.peekRune() == '=' {
			l.advance()
			return token{kind: tokLe, text: "<=", start: start, end: l.here()}, nil
		}
		return token{kind: tokLt, text: "<", start: start, end: l.here()}, nil
	case r == '>':
		l.advance()
		if l.peekRune() == '=' {
			l.advance()
			return token{kind: tokGe, text: ">=", start: start, end: l.here()}, nil
		}
		return token{kind: tokGt, text: ">", start: start, end: l.here()}, nil
	case r == '\'' || r == '"':
		return l.lexString(r, start)
	case isDigit(r):
		return l.lexNumber(start)
	case isIdentStart(r):
		return l.lexIdent(start)
	}
	return token{}, l.errAt(start, fmt.Sprintf("unexpected character %q", r))
}

func (l *lexer) lexString(quote rune, start hcl.Pos) (token, error) {
	l.advance() // opening quote
	var sb strings.Builder
	for {
		if l.pos >= len(l.src) {
			return token{}, l.errAt(start, "unterminated string literal")
		}
		r := l.peekRune()
		if r == quote {
			l.advance()
			break
		}
		if r == '\\' {
			l.advance()
			if l.pos >= len(l.src) {
				return token{}, l.errAt(start, "unterminated string literal")
			}
			esc := l.advance()
			switch esc {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			case '\\', '\'', '"':
				sb.WriteRune(esc)
			default:
				sb.WriteRune(esc)
			}
			continue
		}
		sb.WriteRune(l.advance())
	}
	return token{kind: tokString, text: sb.String(), start: start, end: l.here()}, nil
}

func (l *lexer) lexNumber(start hcl.Pos) (token, error) {
	var sb strings.Builder
	for isDigit(l.peekRune()) {
		sb.WriteRune(l.advance())
	}
	if l.peekRune() == '.' && isDigit(l.peekRuneAt(1)) {
		sb.WriteRune(l.advance())
		for isDigit(l.peekRune()) {
			sb.WriteRune(l.advance())
		}
	}
	if l.peekRune() == 'e' || l.peekRune() == 'E' {
		save := l.pos
		saveLine, saveCol := l.line, l.col
		exp := string(l.advance())
		if l.peekRune() == '+' || l.peekRune() == '-' {
			exp += string(l.advance())
		}
		if isDigit(l.peekRune()) {
			for isDigit(l.peekRune()) {
				exp += string(l.advance())
			}
			sb.WriteString(exp)
		} else {
			l.pos, l.line, l.col = save, saveLine, saveCol
		}
	}
	var num float64
	if _, err := fmt.Sscanf(sb.String(), "%g", &num); err != nil {
		return token{}, l.errAt(start, fmt.Sprintf("invalid numeric literal %q", sb.String()))
	}
	return token{kind: tokNumber, text: sb.String(), num: num, start: start, end: l.here()}, nil
}

func (l *lexer) lexIdent(start hcl.Pos) (token, error) {
	var sb strings.Builder
	for isIdentCont(l.peekRune()) {
		sb.WriteRune(l.advance())
	}
	text := sb.String()
	if kw, ok := keywords[text]; ok {
		return token{kind: kw, text: text, start: start, end: l.here()}, nil
	}
	return token{kind: tokIdent, text: text, start: start, end: l.here()}, nil
}

func (l *lexer) errAt(pos hcl.Pos, msg string) error {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  "Invalid formula syntax",
		Detail:   msg,
		Subject:  &hcl.Range{Filename: l.filename, Start: pos, End: pos},
	}
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentCont(r rune) bool {
	return isIdentStart(r) || isDigit(r)
}
