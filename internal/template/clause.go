package template

import (
	"fmt"

	"github.com/pewpew/pewpew/internal/jsonvalue"
)

// Clause is the compiled form shared by ProvidesClause and LoggerDef:
// an optional `where` guard, a `select` expression, and zero or more
// `for_each` array expressions whose Cartesian product is iterated.
type Clause struct {
	Select  *Template
	Where   *Predicate // nil => always truthy
	ForEach []*Template
}

// CompileClause parses a clause's expression strings once at config load.
func CompileClause(selectExpr, whereExpr string, forEachExprs []string) (*Clause, error) {
	c := &Clause{}
	sel, err := Parse(selectExpr)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	c.Select = sel

	if whereExpr != "" {
		w, err := ParsePredicate(whereExpr)
		if err != nil {
			return nil, err
		}
		c.Where = w
	}
	for i, fe := range forEachExprs {
		t, err := Parse(fe)
		if err != nil {
			return nil, fmt.Errorf("for_each[%d]: %w", i, err)
		}
		c.ForEach = append(c.ForEach, t)
	}
	return c, nil
}

// cartesian expands a list of array values into every combination,
// preserving each list's internal order.
func cartesian(arrays [][]jsonvalue.Value) [][]jsonvalue.Value {
	if len(arrays) == 0 {
		return [][]jsonvalue.Value{{}}
	}
	rest := cartesian(arrays[1:])
	var out [][]jsonvalue.Value
	for _, v := range arrays[0] {
		for _, r := range rest {
			combo := make([]jsonvalue.Value, 0, len(r)+1)
			combo = append(combo, v)
			combo = append(combo, r...)
			out = append(out, combo)
		}
	}
	return out
}

// Eval runs the clause against base (already bound with request/response
// scope): for each for_each combination, binds "element0".."elementN"
// (one per listed array) and "element" (the last array's item) and, if
// `where` is absent or truthy, evaluates `select` and appends its value.
func (c *Clause) Eval(base *Env, helpers Helpers) ([]jsonvalue.Value, error) {
	if len(c.ForEach) == 0 {
		return c.evalOne(base, helpers)
	}

	arrays := make([][]jsonvalue.Value, len(c.ForEach))
	for i, t := range c.ForEach {
		v, err := t.EvalValue(base, helpers)
		if err != nil {
			return nil, fmt.Errorf("for_each[%d]: %w", i, err)
		}
		items, ok := v.ArrayItems()
		if !ok {
			return nil, fmt.Errorf("for_each[%d]: expression did not yield an array", i)
		}
		arrays[i] = items
	}

	var out []jsonvalue.Value
	for _, combo := range cartesian(arrays) {
		env := base.clone()
		for i, v := range combo {
			env.Bind(fmt.Sprintf("element%d", i), v)
		}
		if len(combo) > 0 {
			env.Bind("element", combo[len(combo)-1])
		}
		vals, err := c.evalOne(env, helpers)
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	return out, nil
}

func (c *Clause) evalOne(env *Env, helpers Helpers) ([]jsonvalue.Value, error) {
	if c.Where != nil {
		ok, err := c.Where.Eval(env, helpers)
		if err != nil {
			return nil, fmt.Errorf("where: %w", err)
		}
		if !ok {
			return nil, nil
		}
	}
	v, err := c.Select.EvalValue(env, helpers)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	return []jsonvalue.Value{v}, nil
}

// clone shallow-copies the environment so per-combination bindings
// (element0, element, ...) don't leak across Cartesian product entries.
func (e *Env) clone() *Env {
	cp := NewEnv()
	for k, v := range e.values {
		cp.values[k] = v
	}
	return cp
}
