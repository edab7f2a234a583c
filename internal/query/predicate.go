// Package query implements the predicate language, cost-based planner, and
// cursor-paginated executor that runs queries over a CRDT map's snapshot.
package query

import "regexp"

// NodeKind identifies a predicate AST node type.
type NodeKind string

const (
	KindEq          NodeKind = "eq"
	KindNe          NodeKind = "ne"
	KindGt          NodeKind = "gt"
	KindGte         NodeKind = "gte"
	KindLt          NodeKind = "lt"
	KindLte         NodeKind = "lte"
	KindIn          NodeKind = "in"
	KindRegex       NodeKind = "regex"
	KindMatch       NodeKind = "match"
	KindMatchPhrase NodeKind = "matchPhrase"
	KindMatchPrefix NodeKind = "matchPrefix"
	KindAnd         NodeKind = "and"
	KindOr          NodeKind = "or"
	KindNot         NodeKind = "not"
)

// Predicate is one node of the query AST. Field is the dotted path a leaf
// predicate tests; Children holds operands for and/or/not.
type Predicate struct {
	Kind     NodeKind
	Field    string
	Value    any
	Values   []any
	Children []Predicate
}

// Eq builds a field == value predicate.
func Eq(field string, value any) Predicate { return Predicate{Kind: KindEq, Field: field, Value: value} }

// In builds a field IN values predicate.
func In(field string, values []any) Predicate {
	return Predicate{Kind: KindIn, Field: field, Values: values}
}

// And combines predicates with logical AND.
func And(children ...Predicate) Predicate { return Predicate{Kind: KindAnd, Children: children} }

// Or combines predicates with logical OR.
func Or(children ...Predicate) Predicate { return Predicate{Kind: KindOr, Children: children} }

// Not negates a single predicate.
func Not(child Predicate) Predicate { return Predicate{Kind: KindNot, Children: []Predicate{child}} }

// Evaluate reports whether doc satisfies p. doc maps field name to value;
// comparisons use compareValues, which only orders comparable scalar kinds.
func (p Predicate) Evaluate(doc map[string]any) bool {
	switch p.Kind {
	case KindAnd:
		for _, c := range p.Children {
			if !c.Evaluate(doc) {
				return false
			}
		}
		return true
	case KindOr:
		for _, c := range p.Children {
			if c.Evaluate(doc) {
				return true
			}
		}
		return false
	case KindNot:
		return !p.Children[0].Evaluate(doc)
	}

	fv, present := doc[p.Field]
	switch p.Kind {
	case KindEq:
		return present && compareValues(fv, p.Value) == 0
	case KindNe:
		return !present || compareValues(fv, p.Value) != 0
	case KindGt:
		return present && compareValues(fv, p.Value) > 0
	case KindGte:
		return present && compareValues(fv, p.Value) >= 0
	case KindLt:
		return present && compareValues(fv, p.Value) < 0
	case KindLte:
		return present && compareValues(fv, p.Value) <= 0
	case KindIn:
		if !present {
			return false
		}
		for _, v := range p.Values {
			if compareValues(fv, v) == 0 {
				return true
			}
		}
		return false
	case KindRegex:
		s, ok := fv.(string)
		if !ok {
			return false
		}
		pattern, _ := p.Value.(string)
		re, err := regexp.Compile(pattern)
		return err == nil && re.MatchString(s)
	case KindMatch:
		s, ok := fv.(string)
		pattern, _ := p.Value.(string)
		return ok && containsToken(s, pattern)
	case KindMatchPhrase:
		s, ok := fv.(string)
		phrase, _ := p.Value.(string)
		return ok && containsPhrase(s, phrase)
	case KindMatchPrefix:
		s, ok := fv.(string)
		prefix, _ := p.Value.(string)
		return ok && hasPrefixFold(s, prefix)
	default:
		return false
	}
}

// fields returns the set of field names this predicate tree touches.
func (p Predicate) fields() []string {
	switch p.Kind {
	case KindAnd, KindOr, KindNot:
		var out []string
		for _, c := range p.Children {
			out = append(out, c.fields()...)
		}
		return out
	default:
		if p.Field == "" {
			return nil
		}
		return []string{p.Field}
	}
}

// eqFields returns the {field: value} pairs of top-level AND-ed eq nodes,
// used by the planner to match compound and single-field indexes.
func (p Predicate) eqFields() map[string]any {
	out := make(map[string]any)
	collectEq(p, out)
	return out
}

func collectEq(p Predicate, out map[string]any) {
	switch p.Kind {
	case KindEq:
		out[p.Field] = p.Value
	case KindAnd:
		for _, c := range p.Children {
			collectEq(c, out)
		}
	}
}
