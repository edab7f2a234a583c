package query

import "strings"

// compareValues orders two scalar values, returning -1/0/1. Mismatched
// types compare by their string form so eq/ne still behave sensibly.
func compareValues(a, b any) int {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case float64:
		if bv, ok := toFloat64(b); ok {
			return compareFloats(av, bv)
		}
	case int:
		if bv, ok := toFloat64(b); ok {
			return compareFloats(float64(av), bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			if av == bv {
				return 0
			}
			if !av {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(toString(a), toString(b))
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	default:
		return ""
	}
}

func containsToken(s, token string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(token))
}

func containsPhrase(s, phrase string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(phrase))
}

func hasPrefixFold(s, prefix string) bool {
	return strings.HasPrefix(strings.ToLower(s), strings.ToLower(prefix))
}
