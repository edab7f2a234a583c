// Package expr implements the small boolean expression language conflict
// resolver rules are written in: comparisons and boolean connectives over an
// op's fields, no loops, no function calls, no host code execution. It is a
// sandbox by construction rather than by isolating an embedded interpreter.
package expr

import "fmt"

// Env is the variable bindings an expression evaluates against: the
// resolver populates one from a pending op's fields (see
// internal/resolver's envFromOp).
type Env map[string]any

// Expr is one parsed expression node.
type Expr interface {
	Eval(env Env) (any, error)
}

// EvalBool evaluates e and requires the result to be a bool.
func EvalBool(e Expr, env Env) (bool, error) {
	v, err := e.Eval(env)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not evaluate to a boolean: %v", v)
	}
	return b, nil
}

// Parse compiles source into an Expr, or returns a syntax error.
func Parse(source string) (Expr, error) {
	p := &parser{lex: newLexer(source)}
	p.advance()
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected token %q after expression", p.tok.text)
	}
	return e, nil
}

// MustParse panics on a syntax error; for rule sets built into server
// bootstrap where the expression text is a compile-time constant.
func MustParse(source string) Expr {
	e, err := Parse(source)
	if err != nil {
		panic(err)
	}
	return e
}
