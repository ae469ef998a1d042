package query

import "strings"

// OrderBy is one parsed order_by clause.
type OrderBy struct {
	Kind      Kind
	Key       string
	Ascending bool
}

// ParseOrderBy parses a single order_by entry: "<field> [ASC|DESC]" where
// field uses the same identifier syntax as filters. Direction defaults to
// ascending.
func ParseOrderBy(s string, entity Entity) (OrderBy, error) {
	toks, err := lex(s)
	if err != nil {
		return OrderBy{}, err
	}
	p := &parser{toks: toks, entity: entity}
	kind, key, err := p.parseIdentifier()
	if err != nil {
		return OrderBy{}, err
	}
	ob := OrderBy{Kind: kind, Key: key, Ascending: true}

	t, ok := p.next()
	if !ok {
		return ob, validateOrderKey(ob, entity)
	}
	if t.kind != tokIdent {
		return OrderBy{}, malformed("invalid order_by clause %q", s)
	}
	switch strings.ToUpper(t.text) {
	case "ASC":
	case "DESC":
		ob.Ascending = false
	default:
		return OrderBy{}, malformed("invalid order_by direction %q, expected ASC or DESC", t.text)
	}
	if _, ok := p.next(); ok {
		return OrderBy{}, malformed("trailing tokens in order_by clause %q", s)
	}
	return ob, validateOrderKey(ob, entity)
}

// ParseOrderByList parses each entry of an order_by list.
func ParseOrderByList(entries []string, entity Entity) ([]OrderBy, error) {
	out := make([]OrderBy, 0, len(entries))
	for _, e := range entries {
		ob, err := ParseOrderBy(e, entity)
		if err != nil {
			return nil, err
		}
		out = append(out, ob)
	}
	return out, nil
}

func validateOrderKey(ob OrderBy, entity Entity) error {
	if ob.Kind != KindAttribute {
		return nil
	}
	allowed := attrsFor(entity)
	if !allowed[ob.Key] {
		return malformed("invalid order_by attribute %q, valid keys are %s", ob.Key, keyList(allowed))
	}
	return nil
}
