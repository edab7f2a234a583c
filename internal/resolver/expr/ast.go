package expr

import (
	"fmt"
	"strings"
)

type literalExpr struct{ value any }

func (e literalExpr) Eval(Env) (any, error) { return e.value, nil }

type identExpr struct{ name string }

func (e identExpr) Eval(env Env) (any, error) {
	v, ok := env[e.name]
	if !ok {
		return nil, fmt.Errorf("undefined variable %q", e.name)
	}
	return v, nil
}

type notExpr struct{ inner Expr }

func (e notExpr) Eval(env Env) (any, error) {
	b, err := EvalBool(e.inner, env)
	if err != nil {
		return nil, err
	}
	return !b, nil
}

type andExpr struct{ left, right Expr }

func (e andExpr) Eval(env Env) (any, error) {
	l, err := EvalBool(e.left, env)
	if err != nil {
		return nil, err
	}
	if !l {
		return false, nil
	}
	return EvalBool(e.right, env)
}

type orExpr struct{ left, right Expr }

func (e orExpr) Eval(env Env) (any, error) {
	l, err := EvalBool(e.left, env)
	if err != nil {
		return nil, err
	}
	if l {
		return true, nil
	}
	return EvalBool(e.right, env)
}

type compareExpr struct {
	op          tokenKind
	left, right Expr
}

func (e compareExpr) Eval(env Env) (any, error) {
	lv, err := e.left.Eval(env)
	if err != nil {
		return nil, err
	}
	rv, err := e.right.Eval(env)
	if err != nil {
		return nil, err
	}

	switch e.op {
	case tokEq:
		return valuesEqual(lv, rv), nil
	case tokNe:
		return !valuesEqual(lv, rv), nil
	}

	lf, lok := toFloat(lv)
	rf, rok := toFloat(rv)
	if !lok || !rok {
		return false, fmt.Errorf("ordered comparison requires numeric operands, got %v and %v", lv, rv)
	}
	switch e.op {
	case tokLt:
		return lf < rf, nil
	case tokLte:
		return lf <= rf, nil
	case tokGt:
		return lf > rf, nil
	case tokGte:
		return lf >= rf, nil
	default:
		return nil, fmt.Errorf("unknown comparison operator")
	}
}

func valuesEqual(a, b any) bool {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.EqualFold(as, bs)
		}
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ab == bb
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
