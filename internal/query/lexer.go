package query

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString   // 'single' or "double" quoted
	tokBacktick // `quoted`
	tokOp       // = != < <= > >=
	tokLParen
	tokRParen
	tokComma
	tokDot
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits a filter string into tokens. Keywords (AND, LIKE, IN, ...) are
// returned as tokIdent and classified by the parser, which keeps quoted
// identifiers that happen to spell a keyword usable as keys.
func lex(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		case c == '.':
			toks = append(toks, token{tokDot, ".", i})
			i++
		case c == '=':
			toks = append(toks, token{tokOp, "=", i})
			i++
		case c == '!':
			if i+1 >= len(s) || s[i+1] != '=' {
				return nil, malformed("unexpected character '!' at position %d in filter", i)
			}
			toks = append(toks, token{tokOp, "!=", i})
			i += 2
		case c == '<' || c == '>':
			op := string(c)
			if i+1 < len(s) && s[i+1] == '=' {
				op += "="
				i++
			}
			toks = append(toks, token{tokOp, op, i})
			i++
		case c == '\'' || c == '"':
			val, next, err := scanQuoted(s, i, rune(c))
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tokString, val, i})
			i = next
		case c == '`':
			val, next, err := scanQuoted(s, i, '`')
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tokBacktick, val, i})
			i = next
		case c >= '0' && c <= '9' || c == '-' || c == '+':
			start := i
			i++
			for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.' || s[i] == 'e' || s[i] == 'E' || s[i] == '-' || s[i] == '+') {
				// Exponent signs only directly after e/E.
				if (s[i] == '-' || s[i] == '+') && !(s[i-1] == 'e' || s[i-1] == 'E') {
					break
				}
				i++
			}
			toks = append(toks, token{tokNumber, s[start:i], start})
		case isIdentStart(rune(c)):
			start := i
			for i < len(s) && isIdentPart(rune(s[i])) {
				i++
			}
			toks = append(toks, token{tokIdent, s[start:i], start})
		default:
			return nil, malformed("unexpected character %q at position %d in filter", string(c), i)
		}
	}
	return toks, nil
}

// scanQuoted reads a quoted run starting at the opening quote; returns the
// unquoted content and the index just past the closing quote.
func scanQuoted(s string, start int, quote rune) (string, int, error) {
	var b strings.Builder
	i := start + 1
	for i < len(s) {
		if rune(s[i]) == quote {
			return b.String(), i + 1, nil
		}
		b.WriteByte(s[i])
		i++
	}
	return "", 0, malformed("unterminated quote starting at position %d in filter", start)
}

func isIdentStart(c rune) bool {
	return unicode.IsLetter(c) || c == '_'
}

func isIdentPart(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || c == '-' || c == '/'
}
