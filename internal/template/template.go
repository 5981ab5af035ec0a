// Package template implements the request/response interpolation
// language: `{{name}}` holes, helper calls, and `declare` aliases
// (including `collect`), compiled once at config load and evaluated
// once per endpoint iteration against a read-only environment of
// provider takes.
package template

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"

	"github.com/pewpew/pewpew/internal/jsonvalue"
)

// node is one piece of a compiled template: either a literal span or a
// hole (a name reference, optionally piped through helper calls).
type node struct {
	literal string
	isHole  bool
	ref     string   // provider/alias/scope-path name
	helpers []helper // applied left to right
}

type helper struct {
	name string
	args []string
}

// Template is a string template parsed once at config load into a
// small expression tree of literal spans and hole references.
type Template struct {
	raw   string
	nodes []node
}

// Parse compiles a template string. It never touches providers; all
// provider interaction happens in Eval.
func Parse(raw string) (*Template, error) {
	t := &Template{raw: raw}
	i := 0
	for i < len(raw) {
		start := strings.Index(raw[i:], "{{")
		if start < 0 {
			t.nodes = append(t.nodes, node{literal: raw[i:]})
			break
		}
		if start > 0 {
			t.nodes = append(t.nodes, node{literal: raw[i : i+start]})
		}
		i += start + 2
		end := strings.Index(raw[i:], "}}")
		if end < 0 {
			return nil, fmt.Errorf("template: unterminated {{ in %q", raw)
		}
		expr := strings.TrimSpace(raw[i : i+end])
		i += end + 2
		n, err := parseHole(expr)
		if err != nil {
			return nil, fmt.Errorf("template: %w", err)
		}
		t.nodes = append(t.nodes, n)
	}
	return t, nil
}

// parseHole parses `name` or `name|helper(args)|helper2(args)`.
func parseHole(expr string) (node, error) {
	parts := strings.Split(expr, "|")
	n := node{isHole: true, ref: strings.TrimSpace(parts[0])}
	if n.ref == "" {
		return node{}, fmt.Errorf("empty hole reference in %q", expr)
	}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		h, err := parseHelper(p)
		if err != nil {
			return node{}, err
		}
		n.helpers = append(n.helpers, h)
	}
	return n, nil
}

func parseHelper(s string) (helper, error) {
	open := strings.Index(s, "(")
	if open < 0 {
		return helper{name: s}, nil
	}
	if !strings.HasSuffix(s, ")") {
		return helper{}, fmt.Errorf("malformed helper call %q", s)
	}
	name := strings.TrimSpace(s[:open])
	argStr := s[open+1 : len(s)-1]
	var args []string
	if strings.TrimSpace(argStr) != "" {
		for _, a := range strings.Split(argStr, ",") {
			args = append(args, strings.TrimSpace(a))
		}
	}
	return helper{name: name, args: args}, nil
}

// LiteralSkeleton renders the template with every hole replaced by a
// fixed placeholder, yielding the immutable path tokens used to build a
// stats identifier — stable across iterations even though the
// interpolated values themselves vary per request.
func (t *Template) LiteralSkeleton() string {
	var sb strings.Builder
	for _, n := range t.nodes {
		if n.isHole {
			sb.WriteString("*")
			continue
		}
		sb.WriteString(n.literal)
	}
	return sb.String()
}

// References returns every distinct ref this template holes depend on,
// used by the compiler to build a config's take plan.
func (t *Template) References() []string {
	seen := map[string]bool{}
	var out []string
	for _, n := range t.nodes {
		if n.isHole && !seen[n.ref] {
			seen[n.ref] = true
			out = append(out, n.ref)
		}
	}
	return out
}

// Env is the read-only per-iteration value environment: resolved
// aliases and scope values (request/response/for_each element).
type Env struct {
	values map[string]jsonvalue.Value
}

// NewEnv creates an empty environment.
func NewEnv() *Env {
	return &Env{values: map[string]jsonvalue.Value{}}
}

// Bind sets name's value for this iteration. Declares, providers taken
// bare, and scope names (request/response/element) are all bound here
// before Eval runs.
func (e *Env) Bind(name string, v jsonvalue.Value) {
	e.values[name] = v
}

func (e *Env) lookup(name string) (jsonvalue.Value, bool) {
	// Supports dotted field access, e.g. "response.body.id".
	parts := strings.Split(name, ".")
	v, ok := e.values[parts[0]]
	if !ok {
		return jsonvalue.Value{}, false
	}
	for _, p := range parts[1:] {
		v, ok = v.Field(p)
		if !ok {
			return jsonvalue.Value{}, false
		}
	}
	return v, true
}

// Helpers is the fixed function table applied to hole values, keyed by
// name. The helper set is fixed by schema and passed in by the caller.
type Helpers map[string]func(v jsonvalue.Value, args []string) (jsonvalue.Value, error)

// DefaultHelpers implements the helper set a test plan may invoke:
// JSON path extraction and stringification.
func DefaultHelpers() Helpers {
	return Helpers{
		"json": func(v jsonvalue.Value, _ []string) (jsonvalue.Value, error) {
			s, ok := v.String()
			if !ok {
				return v, nil
			}
			var raw interface{}
			if err := json.Unmarshal([]byte(s), &raw); err != nil {
				return jsonvalue.Value{}, fmt.Errorf("json(): %w", err)
			}
			return jsonvalue.FromInterface(raw), nil
		},
		"string": func(v jsonvalue.Value, _ []string) (jsonvalue.Value, error) {
			return jsonvalue.NewString(v.Stringify()), nil
		},
		"field": func(v jsonvalue.Value, args []string) (jsonvalue.Value, error) {
			if len(args) != 1 {
				return jsonvalue.Value{}, fmt.Errorf("field() takes exactly one argument")
			}
			f, ok := v.Field(strings.Trim(args[0], `"'`))
			if !ok {
				return jsonvalue.Value{}, fmt.Errorf("field %q not present", args[0])
			}
			return f, nil
		},
		"index": func(v jsonvalue.Value, args []string) (jsonvalue.Value, error) {
			if len(args) != 1 {
				return jsonvalue.Value{}, fmt.Errorf("index() takes exactly one argument")
			}
			var idx int
			if _, err := fmt.Sscanf(args[0], "%d", &idx); err != nil {
				return jsonvalue.Value{}, fmt.Errorf("index() argument %q not an integer", args[0])
			}
			elt, ok := v.Index(idx)
			if !ok {
				return jsonvalue.Value{}, fmt.Errorf("index %d out of range", idx)
			}
			return elt, nil
		},
	}
}

// Eval renders the template against env, applying each hole's helper
// chain. Returns an error on a missing reference; the caller aborts
// just the one iteration, not the whole test.
func (t *Template) Eval(env *Env, helpers Helpers) (string, error) {
	var sb strings.Builder
	for _, n := range t.nodes {
		if !n.isHole {
			sb.WriteString(n.literal)
			continue
		}
		v, ok := env.lookup(n.ref)
		if !ok {
			return "", fmt.Errorf("reference %q not found in iteration environment", n.ref)
		}
		for _, h := range n.helpers {
			fn, ok := helpers[h.name]
			if !ok {
				return "", fmt.Errorf("unknown helper %q", h.name)
			}
			var err error
			v, err = fn(v, h.args)
			if err != nil {
				return "", fmt.Errorf("helper %q: %w", h.name, err)
			}
		}
		sb.WriteString(v.Stringify())
	}
	return sb.String(), nil
}

// EvalValue is like Eval but for a single bare hole (e.g.
// `{{response.status}}`), returning the resolved value instead of its
// stringification — used when the result feeds a `provides`/`logs`
// select expression rather than request text.
func (t *Template) EvalValue(env *Env, helpers Helpers) (jsonvalue.Value, error) {
	if len(t.nodes) != 1 || !t.nodes[0].isHole {
		s, err := t.Eval(env, helpers)
		if err != nil {
			return jsonvalue.Value{}, err
		}
		return jsonvalue.NewString(s), nil
	}
	n := t.nodes[0]
	v, ok := env.lookup(n.ref)
	if !ok {
		return jsonvalue.Value{}, fmt.Errorf("reference %q not found in iteration environment", n.ref)
	}
	for _, h := range n.helpers {
		fn, ok := helpers[h.name]
		if !ok {
			return jsonvalue.Value{}, fmt.Errorf("unknown helper %q", h.name)
		}
		var err error
		v, err = fn(v, h.args)
		if err != nil {
			return jsonvalue.Value{}, fmt.Errorf("helper %q: %w", h.name, err)
		}
	}
	return v, nil
}

// CollectCount draws N for a `collect(min, max, name)` declare,
// uniformly in [min, max] inclusive, using the supplied source so
// iteration-level determinism can be controlled in tests.
func CollectCount(min, max int, src *rand.Rand) int {
	if max <= min {
		return min
	}
	return min + src.Intn(max-min+1)
}
