// Package query parses the search filter DSL into a typed comparison list
// and the order_by clauses into sort keys.
//
// The grammar is a single conjunction:
//
//	<clause> ( AND <clause> )*
//	clause     := <identifier> <op> <value>
//	identifier := <category> '.' <key> | <bare attribute>
//	op         := = | != | < | <= | > | >= | LIKE | ILIKE | IN | NOT IN
//
// Keys may be bare, `backtick`, 'single' or "double" quoted. The category
// prefix is split from the key on the first unquoted dot, so tags.`my.key`
// names the tag "my.key" while a fully quoted identifier is never split.
// OR is recognized and rejected explicitly. Parse errors carry the
// MALFORMED_REQUEST code.
package query

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/kiroku/internal/model"
)

// Kind is the identifier category of a comparison.
type Kind int

const (
	KindMetric Kind = iota
	KindParam
	KindTag
	KindAttribute
)

func (k Kind) String() string {
	switch k {
	case KindMetric:
		return "metric"
	case KindParam:
		return "parameter"
	case KindTag:
		return "tag"
	default:
		return "attribute"
	}
}

// Op is a comparison operator.
type Op string

const (
	OpEq    Op = "="
	OpNe    Op = "!="
	OpLt    Op = "<"
	OpLe    Op = "<="
	OpGt    Op = ">"
	OpGe    Op = ">="
	OpLike  Op = "LIKE"
	OpILike Op = "ILIKE"
	OpIn    Op = "IN"
	OpNotIn Op = "NOT IN"
)

// Comparison is one parsed filter clause. Value is a float64 for numeric
// clauses, a string for string clauses, and a []string for IN / NOT IN.
type Comparison struct {
	Kind  Kind
	Key   string
	Op    Op
	Value any
}

func (c Comparison) String() string {
	return fmt.Sprintf("%s.%s %s %v", c.Kind, c.Key, c.Op, c.Value)
}

// Entity selects the attribute allow-list a filter is validated against.
type Entity int

const (
	EntityRun Entity = iota
	EntityExperiment
	EntityRegisteredModel
	EntityModelVersion
)

// attribute key sets per entity; numericAttrs marks the ones compared as
// numbers.
var (
	runAttrs = map[string]bool{
		"run_id": true, "run_name": true, "status": true, "artifact_uri": true,
		"user_id": true, "start_time": true, "end_time": true,
	}
	experimentAttrs = map[string]bool{
		"name": true, "creation_time": true, "last_update_time": true,
	}
	registeredModelAttrs = map[string]bool{"name": true}
	modelVersionAttrs    = map[string]bool{"name": true, "run_id": true, "source_path": true}

	numericAttrs = map[string]bool{
		"start_time": true, "end_time": true, "creation_time": true, "last_update_time": true,
	}
)

func attrsFor(e Entity) map[string]bool {
	switch e {
	case EntityExperiment:
		return experimentAttrs
	case EntityRegisteredModel:
		return registeredModelAttrs
	case EntityModelVersion:
		return modelVersionAttrs
	default:
		return runAttrs
	}
}

func malformed(format string, args ...any) error {
	return model.Errorf(model.ErrCodeMalformedRequest, format, args...)
}

// ParseFilter parses a filter string for the given entity. An empty filter
// yields no comparisons, meaning no restriction.
func ParseFilter(filter string, entity Entity) ([]Comparison, error) {
	if strings.TrimSpace(filter) == "" {
		return nil, nil
	}
	toks, err := lex(filter)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, entity: entity}
	return p.parse()
}

// validate applies category/operator/value typing rules to a single clause.
func (c *Comparison) validate(entity Entity) error {
	switch c.Kind {
	case KindMetric:
		switch c.Op {
		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		default:
			return malformed("operator %q is not supported for metrics", c.Op)
		}
		if _, ok := c.Value.(float64); !ok {
			return malformed("expected a numeric value for metric %s", c.Key)
		}
	case KindParam, KindTag:
		switch c.Op {
		case OpEq, OpNe, OpLike, OpILike:
			if _, ok := c.Value.(string); !ok {
				return malformed("expected a quoted string value for %s %s", c.Kind, c.Key)
			}
		case OpIn, OpNotIn:
			if _, ok := c.Value.([]string); !ok {
				return malformed("expected a list of quoted strings for %s %s", c.Kind, c.Key)
			}
		default:
			return malformed("operator %q is not supported for %ss", c.Op, c.Kind)
		}
	case KindAttribute:
		allowed := attrsFor(entity)
		if !allowed[c.Key] {
			return malformed("invalid attribute key %q, valid keys are %s", c.Key, keyList(allowed))
		}
		if numericAttrs[c.Key] {
			switch c.Op {
			case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
			default:
				return malformed("operator %q is not supported for numeric attribute %q", c.Op, c.Key)
			}
			if _, ok := c.Value.(float64); !ok {
				return malformed("expected a numeric value for attribute %q", c.Key)
			}
			return nil
		}
		switch c.Op {
		case OpEq, OpNe, OpLike, OpILike:
			if _, ok := c.Value.(string); !ok {
				return malformed("expected a quoted string value for attribute %q", c.Key)
			}
		case OpIn, OpNotIn:
			if _, ok := c.Value.([]string); !ok {
				return malformed("expected a list of quoted strings for attribute %q", c.Key)
			}
		default:
			return malformed("operator %q is not supported for attribute %q", c.Op, c.Key)
		}
	}
	return nil
}

func keyList(set map[string]bool) string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	// Deterministic error text.
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	return strings.Join(keys, ", ")
}
