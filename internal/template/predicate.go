package template

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pewpew/pewpew/internal/jsonvalue"
)

// Predicate is a compiled `where` expression. Two forms are accepted:
// a comparison `lhs OP rhs` (OP one of ==, !=, >=, <=, >, <), or a bare
// expression whose truthiness decides the outcome. Operands are dotted
// references into the iteration environment (`response.status`), number
// or quoted-string literals, or `{{...}}` template holes.
type Predicate struct {
	op       string
	lhs, rhs *operand
	bare     *Template // set when the expression has no comparison operator
}

type operand struct {
	lit  jsonvalue.Value
	ref  string
	tpl  *Template
	kind operandKind
}

type operandKind int

const (
	operandLiteral operandKind = iota
	operandRef
	operandTemplate
)

// comparison operators, two-character ones first so ">=" never splits
// as ">".
var compareOps = []string{"==", "!=", ">=", "<=", ">", "<"}

// ParsePredicate compiles a `where` expression string.
func ParsePredicate(expr string) (*Predicate, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty where expression")
	}

	for _, op := range compareOps {
		idx := indexOpOutsideHoles(expr, op)
		if idx < 0 {
			continue
		}
		lhs, err := parseOperand(expr[:idx])
		if err != nil {
			return nil, fmt.Errorf("where %q: %w", expr, err)
		}
		rhs, err := parseOperand(expr[idx+len(op):])
		if err != nil {
			return nil, fmt.Errorf("where %q: %w", expr, err)
		}
		return &Predicate{op: op, lhs: lhs, rhs: rhs}, nil
	}

	t, err := Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("where %q: %w", expr, err)
	}
	return &Predicate{bare: t}, nil
}

// indexOpOutsideHoles finds op in expr, skipping over {{...}} spans so a
// helper argument can never be mistaken for a comparison.
func indexOpOutsideHoles(expr, op string) int {
	depth := 0
	for i := 0; i+len(op) <= len(expr); i++ {
		if strings.HasPrefix(expr[i:], "{{") {
			depth++
			i++
			continue
		}
		if strings.HasPrefix(expr[i:], "}}") {
			if depth > 0 {
				depth--
			}
			i++
			continue
		}
		if depth == 0 && strings.HasPrefix(expr[i:], op) {
			return i
		}
	}
	return -1
}

func parseOperand(s string) (*operand, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("missing comparison operand")
	}
	if strings.Contains(s, "{{") {
		t, err := Parse(s)
		if err != nil {
			return nil, err
		}
		return &operand{kind: operandTemplate, tpl: t}, nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return &operand{kind: operandLiteral, lit: jsonvalue.NewFloat(n)}, nil
	}
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		return &operand{kind: operandLiteral, lit: jsonvalue.NewString(s[1 : len(s)-1])}, nil
	}
	switch s {
	case "true":
		return &operand{kind: operandLiteral, lit: jsonvalue.NewBool(true)}, nil
	case "false":
		return &operand{kind: operandLiteral, lit: jsonvalue.NewBool(false)}, nil
	case "null":
		return &operand{kind: operandLiteral, lit: jsonvalue.NewNull()}, nil
	}
	return &operand{kind: operandRef, ref: s}, nil
}

func (o *operand) eval(env *Env, helpers Helpers) (jsonvalue.Value, error) {
	switch o.kind {
	case operandLiteral:
		return o.lit, nil
	case operandRef:
		v, ok := env.lookup(o.ref)
		if !ok {
			return jsonvalue.Value{}, fmt.Errorf("reference %q not found in iteration environment", o.ref)
		}
		return v, nil
	default:
		return o.tpl.EvalValue(env, helpers)
	}
}

// Eval decides the predicate against an iteration environment.
func (p *Predicate) Eval(env *Env, helpers Helpers) (bool, error) {
	if p.bare != nil {
		v, err := p.bare.EvalValue(env, helpers)
		if err != nil {
			return false, err
		}
		return v.Truthy(), nil
	}

	lv, err := p.lhs.eval(env, helpers)
	if err != nil {
		return false, err
	}
	rv, err := p.rhs.eval(env, helpers)
	if err != nil {
		return false, err
	}
	return compareValues(lv, rv, p.op), nil
}

// compareValues compares numerically when both sides are numbers,
// otherwise by stringified form. Ordering operators on non-numbers use
// lexicographic order.
func compareValues(a, b jsonvalue.Value, op string) bool {
	af, aok := a.Float()
	bf, bok := b.Float()
	if aok && bok {
		switch op {
		case "==":
			return af == bf
		case "!=":
			return af != bf
		case ">=":
			return af >= bf
		case "<=":
			return af <= bf
		case ">":
			return af > bf
		case "<":
			return af < bf
		}
	}
	as, bs := a.Stringify(), b.Stringify()
	switch op {
	case "==":
		return as == bs
	case "!=":
		return as != bs
	case ">=":
		return as >= bs
	case "<=":
		return as <= bs
	case ">":
		return as > bs
	case "<":
		return as < bs
	}
	return false
}
