package template

import (
	"fmt"
	"strconv"
	"strings"
)

// DeclareKind distinguishes a plain alias (one take) from a collect
// alias (N takes collected into an array).
type DeclareKind int

const (
	DeclareSingle DeclareKind = iota
	DeclareCollect
)

// DeclareSpec is a compiled `declare` entry: `alias: provider` or
// `alias: collect(n, provider)` / `alias: collect(min, max, provider)`.
type DeclareSpec struct {
	Alias    string
	Kind     DeclareKind
	Provider string
	Min, Max int // both set for DeclareCollect; Min==Max for collect(n, name)
}

// ParseDeclare compiles one `declare` map entry's value expression.
func ParseDeclare(alias, expr string) (DeclareSpec, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "collect(") {
		if expr == "" {
			return DeclareSpec{}, fmt.Errorf("declare %q: empty provider reference", alias)
		}
		return DeclareSpec{Alias: alias, Kind: DeclareSingle, Provider: expr}, nil
	}
	if !strings.HasSuffix(expr, ")") {
		return DeclareSpec{}, fmt.Errorf("declare %q: malformed collect() in %q", alias, expr)
	}
	inner := expr[len("collect(") : len(expr)-1]
	args := strings.Split(inner, ",")
	for i := range args {
		args[i] = strings.TrimSpace(args[i])
	}
	switch len(args) {
	case 2:
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return DeclareSpec{}, fmt.Errorf("declare %q: collect(n, name) n=%q: %w", alias, args[0], err)
		}
		return DeclareSpec{Alias: alias, Kind: DeclareCollect, Provider: args[1], Min: n, Max: n}, nil
	case 3:
		lo, err := strconv.Atoi(args[0])
		if err != nil {
			return DeclareSpec{}, fmt.Errorf("declare %q: collect(min,max,name) min=%q: %w", alias, args[0], err)
		}
		hi, err := strconv.Atoi(args[1])
		if err != nil {
			return DeclareSpec{}, fmt.Errorf("declare %q: collect(min,max,name) max=%q: %w", alias, args[1], err)
		}
		if hi < lo {
			return DeclareSpec{}, fmt.Errorf("declare %q: collect() max %d < min %d", alias, hi, lo)
		}
		return DeclareSpec{Alias: alias, Kind: DeclareCollect, Provider: args[2], Min: lo, Max: hi}, nil
	default:
		return DeclareSpec{}, fmt.Errorf("declare %q: collect() takes 2 or 3 arguments, got %d", alias, len(args))
	}
}
