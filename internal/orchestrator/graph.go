package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pewpew/pewpew/internal/plan"
	"github.com/pewpew/pewpew/internal/template"
)

// checkCycles runs Tarjan's strongly connected components algorithm
// over the bipartite endpoint/provider graph: consumption edges come
// from declare entries and bare {{name}} holes, production edges from
// `provides` clauses. A nontrivial SCC (more than one node,
// or a single node with a self-loop) is a cycle; it is only acceptable
// if every edge inside it is send:if_not_full, since otherwise two
// endpoints can each block forever waiting on the other's output. A
// single if_not_full edge does not make a cycle acceptable, and a static
// provider inside the cycle is not treated as a seed.
func checkCycles(cfg *plan.Config) error {
	g := newGraphBuilder(cfg)
	sccs := tarjanSCC(g.adj)

	for _, scc := range sccs {
		if len(scc) == 1 {
			node := scc[0]
			if !g.hasSelfLoop(node) {
				continue
			}
		}
		if g.allEdgesSafe(scc) {
			continue
		}
		return &plan.ConfigError{
			Subject: fmt.Sprintf("provider cycle: %v", g.describe(scc)),
			Err:     fmt.Errorf("cyclic provider graph with a blocking edge; make every provides clause in the cycle send: if_not_full"),
		}
	}
	return nil
}

// graphBuilder is scratch state for one checkCycles call.
type graphBuilder struct {
	adj      map[string][]string // node -> nodes it has an edge to
	edgeSafe map[[2]string]bool  // (from,to) -> safe (if_not_full)
	labels   map[string]string
}

func newGraphBuilder(cfg *plan.Config) *graphBuilder {
	g := &graphBuilder{
		adj:      map[string][]string{},
		edgeSafe: map[[2]string]bool{},
		labels:   map[string]string{},
	}

	providerNames := make(map[string]bool, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		providerNames[pc.Name] = true
	}

	for _, ep := range cfg.Endpoints {
		epNode := "endpoint:" + ep.Name
		g.labels[epNode] = "endpoint " + ep.Name
		for _, expr := range ep.Declare {
			provName := providerRefName(expr)
			if provName == "" {
				continue
			}
			provNode := "provider:" + provName
			g.labels[provNode] = "provider " + provName
			g.addEdge(provNode, epNode, true)
		}
		for _, provName := range bareProviderRefs(ep, providerNames) {
			provNode := "provider:" + provName
			g.labels[provNode] = "provider " + provName
			g.addEdge(provNode, epNode, true)
		}
		for _, pc := range ep.Provides {
			provNode := "provider:" + pc.Target
			g.labels[provNode] = "provider " + pc.Target
			g.addEdge(epNode, provNode, pc.Send == plan.SendIfNotFull)
		}
	}

	for _, pc := range cfg.Providers {
		provNode := "provider:" + pc.Name
		g.labels[provNode] = "provider " + pc.Name
	}

	return g
}

// providerRefName extracts a bare provider name from a declare
// expression, ignoring collect(...) forms (those still reference a
// provider but the SCC check only needs the referenced name).
func providerRefName(expr string) string {
	spec, err := template.ParseDeclare("_", expr)
	if err != nil {
		return ""
	}
	return spec.Provider
}

// bareProviderRefs finds providers an endpoint consumes directly through
// `{{name}}` holes in its URL, headers, or body — consumption edges the
// declare map alone would miss.
func bareProviderRefs(ep plan.Endpoint, providerNames map[string]bool) []string {
	seen := map[string]bool{}
	var out []string
	templates := []string{ep.URL, ep.Body}
	for _, h := range ep.Headers {
		templates = append(templates, h)
	}
	for _, raw := range templates {
		if raw == "" {
			continue
		}
		t, err := template.Parse(raw)
		if err != nil {
			continue // compile reports parse errors with full context
		}
		for _, ref := range t.References() {
			root := strings.SplitN(ref, ".", 2)[0]
			if !providerNames[root] || seen[root] {
				continue
			}
			seen[root] = true
			out = append(out, root)
		}
	}
	sort.Strings(out)
	return out
}

func (g *graphBuilder) addEdge(from, to string, safe bool) {
	g.adj[from] = append(g.adj[from], to)
	key := [2]string{from, to}
	if existing, ok := g.edgeSafe[key]; !ok || (ok && existing && !safe) {
		g.edgeSafe[key] = safe
	}
}

func (g *graphBuilder) hasSelfLoop(node string) bool {
	for _, to := range g.adj[node] {
		if to == node {
			return true
		}
	}
	return false
}

func (g *graphBuilder) allEdgesSafe(scc []string) bool {
	inSCC := make(map[string]bool, len(scc))
	for _, n := range scc {
		inSCC[n] = true
	}
	for _, from := range scc {
		for _, to := range g.adj[from] {
			if !inSCC[to] {
				continue
			}
			if !g.edgeSafe[[2]string{from, to}] {
				return false
			}
		}
	}
	return true
}

func (g *graphBuilder) describe(scc []string) []string {
	out := make([]string, 0, len(scc))
	for _, n := range scc {
		if label, ok := g.labels[n]; ok {
			out = append(out, label)
		} else {
			out = append(out, n)
		}
	}
	return out
}

// tarjanSCC returns every strongly connected component of the graph
// described by adj, including trivial (single-node) ones.
func tarjanSCC(adj map[string][]string) [][]string {
	index := 0
	indices := map[string]int{}
	lowlink := map[string]int{}
	onStack := map[string]bool{}
	var stack []string
	var sccs [][]string

	nodes := make([]string, 0, len(adj))
	seen := map[string]bool{}
	for n, outs := range adj {
		if !seen[n] {
			seen[n] = true
			nodes = append(nodes, n)
		}
		for _, o := range outs {
			if !seen[o] {
				seen[o] = true
				nodes = append(nodes, o)
			}
		}
	}

	var strongconnect func(v string)
	strongconnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, ok := indices[w]; !ok {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, n := range nodes {
		if _, ok := indices[n]; !ok {
			strongconnect(n)
		}
	}
	return sccs
}
