package query

import (
	"strconv"
	"strings"
)

// categories maps identifier prefixes to comparison kinds.
var categories = map[string]Kind{
	"metric":     KindMetric,
	"metrics":    KindMetric,
	"param":      KindParam,
	"params":     KindParam,
	"parameter":  KindParam,
	"tag":        KindTag,
	"tags":       KindTag,
	"attribute":  KindAttribute,
	"attributes": KindAttribute,
	"run":        KindAttribute,
	"dataset":    KindAttribute,
}

type parser struct {
	toks   []token
	pos    int
	entity Entity
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) next() (token, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

func (p *parser) parse() ([]Comparison, error) {
	var out []Comparison
	for {
		c, err := p.parseClause()
		if err != nil {
			return nil, err
		}
		out = append(out, c)

		t, ok := p.next()
		if !ok {
			return out, nil
		}
		if t.kind != tokIdent {
			return nil, malformed("expected AND between filter clauses, found %q", t.text)
		}
		switch strings.ToUpper(t.text) {
		case "AND":
		case "OR":
			return nil, malformed("filter clauses may only be joined with AND; OR is not supported")
		default:
			return nil, malformed("expected AND between filter clauses, found %q", t.text)
		}
	}
}

func (p *parser) parseClause() (Comparison, error) {
	kind, key, err := p.parseIdentifier()
	if err != nil {
		return Comparison{}, err
	}
	op, err := p.parseOperator()
	if err != nil {
		return Comparison{}, err
	}
	val, err := p.parseValue(op)
	if err != nil {
		return Comparison{}, err
	}
	c := Comparison{Kind: kind, Key: key, Op: op, Value: val}
	if err := c.validate(p.entity); err != nil {
		return Comparison{}, err
	}
	return c, nil
}

// parseIdentifier reads `<category>.<key>` or a bare attribute name. A
// quoted token before the dot is a category only if it names one; a quoted
// token with no dot after it is a bare attribute key.
func (p *parser) parseIdentifier() (Kind, string, error) {
	t, ok := p.next()
	if !ok {
		return 0, "", malformed("expected an identifier, found end of filter")
	}
	var head string
	switch t.kind {
	case tokIdent, tokBacktick, tokString:
		head = t.text
	default:
		return 0, "", malformed("expected an identifier, found %q", t.text)
	}

	if nxt, ok := p.peek(); !ok || nxt.kind != tokDot {
		// Bare attribute name (e.g. "status", "run_id", "name").
		return KindAttribute, head, nil
	}
	p.pos++ // consume the dot

	kind, ok := categories[head]
	if !ok {
		return 0, "", malformed(
			"invalid search expression type %q, valid values are metric, metrics, param, params, parameter, tag, tags, attribute, attributes, run", head)
	}

	key, err := p.parseKey()
	if err != nil {
		return 0, "", err
	}
	return kind, key, nil
}

// parseKey reads the key after a category dot. Bare keys may span dots
// (metrics.foo.bar names the metric "foo.bar"); a quoted key is taken
// verbatim, dots included.
func (p *parser) parseKey() (string, error) {
	t, ok := p.next()
	if !ok {
		return "", malformed("expected a key after '.', found end of filter")
	}
	switch t.kind {
	case tokBacktick, tokString:
		return t.text, nil
	case tokIdent, tokNumber:
	default:
		return "", malformed("expected a key after '.', found %q", t.text)
	}
	key := t.text
	for {
		dot, ok := p.peek()
		if !ok || dot.kind != tokDot {
			return key, nil
		}
		p.pos++
		seg, ok := p.next()
		if !ok || (seg.kind != tokIdent && seg.kind != tokNumber) {
			return "", malformed("expected a key segment after '.'")
		}
		key += "." + seg.text
	}
}

func (p *parser) parseOperator() (Op, error) {
	t, ok := p.next()
	if !ok {
		return "", malformed("expected an operator, found end of filter")
	}
	switch t.kind {
	case tokOp:
		return Op(t.text), nil
	case tokIdent:
		switch strings.ToUpper(t.text) {
		case "LIKE":
			return OpLike, nil
		case "ILIKE":
			return OpILike, nil
		case "IN":
			return OpIn, nil
		case "NOT":
			nxt, ok := p.next()
			if !ok || nxt.kind != tokIdent || !strings.EqualFold(nxt.text, "IN") {
				return "", malformed("expected IN after NOT")
			}
			return OpNotIn, nil
		}
	}
	return "", malformed("%q is not a valid operator", t.text)
}

func (p *parser) parseValue(op Op) (any, error) {
	if op == OpIn || op == OpNotIn {
		return p.parseList()
	}
	t, ok := p.next()
	if !ok {
		return nil, malformed("expected a value, found end of filter")
	}
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, malformed("invalid numeric value %q", t.text)
		}
		return f, nil
	case tokString:
		return t.text, nil
	case tokIdent:
		return nil, malformed("value %q is not quoted, use single or double quotes around string values", t.text)
	default:
		return nil, malformed("expected a value, found %q", t.text)
	}
}

// parseList reads a parenthesized, comma-separated, non-empty list of
// quoted strings.
func (p *parser) parseList() ([]string, error) {
	t, ok := p.next()
	if !ok || t.kind != tokLParen {
		return nil, malformed("expected '(' to open an IN list")
	}
	var vals []string
	for {
		t, ok := p.next()
		if !ok {
			return nil, malformed("unterminated IN list")
		}
		if t.kind == tokRParen {
			if len(vals) == 0 {
				return nil, malformed("IN list must contain at least one quoted string")
			}
			return vals, nil
		}
		if len(vals) > 0 {
			if t.kind != tokComma {
				return nil, malformed("expected ',' between IN list values, found %q", t.text)
			}
			t, ok = p.next()
			if !ok {
				return nil, malformed("unterminated IN list")
			}
		}
		if t.kind != tokString {
			return nil, malformed("IN list values must be quoted strings, found %q", t.text)
		}
		vals = append(vals, t.text)
	}
}
