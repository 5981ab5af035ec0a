package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pewpew/pewpew/internal/logsink"
	"github.com/pewpew/pewpew/internal/plan"
	"github.com/pewpew/pewpew/internal/provider"
	"github.com/pewpew/pewpew/internal/template"
)

// compiledProvides pairs a compiled provides clause with its resolved
// target provider and send discipline.
type compiledProvides struct {
	clause *template.Clause
	target *provider.Provider
	send   plan.SendMode
}

// compiledLogRoute pairs a compiled logs clause with its resolved sink.
type compiledLogRoute struct {
	clause *template.Clause
	sink   *logsink.Sink
}

// CompiledEndpoint is the config-load-time compilation of one
// plan.Endpoint: every template parsed once, every provides/logs
// clause compiled once, every provider reference resolved once. Eval
// work per iteration touches none of this.
type CompiledEndpoint struct {
	Name    string
	Method  string
	urlTpl  *template.Template
	hdrTpls map[string]*template.Template
	bodyTpl *template.Template // nil if no body

	declares  []template.DeclareSpec
	bareRefs  []string // provider names referenced outside declare
	providers map[string]*provider.Provider

	provides []compiledProvides
	logs     []compiledLogRoute

	statsIDBase string // method + skeleton, labels appended at render time
	statsLabels []string

	helpers template.Helpers
}

// ProviderLookup resolves a name to its Provider, used by Registry lookups
// during compilation.
type ProviderLookup func(name string) (*provider.Provider, bool)

// Compile builds a CompiledEndpoint from its parsed plan.Endpoint.
func Compile(ep plan.Endpoint, providers ProviderLookup, loggers *logsink.Registry) (*CompiledEndpoint, error) {
	ce := &CompiledEndpoint{
		Name:      ep.Name,
		Method:    ep.Method,
		hdrTpls:   map[string]*template.Template{},
		providers: map[string]*provider.Provider{},
		helpers:   template.DefaultHelpers(),
	}

	urlTpl, err := template.Parse(ep.URL)
	if err != nil {
		return nil, fmt.Errorf("endpoint %q: url: %w", ep.Name, err)
	}
	ce.urlTpl = urlTpl

	for k, v := range ep.Headers {
		t, err := template.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: header %q: %w", ep.Name, k, err)
		}
		ce.hdrTpls[k] = t
	}

	if ep.Body != "" {
		t, err := template.Parse(ep.Body)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: body: %w", ep.Name, err)
		}
		ce.bodyTpl = t
	}

	aliasNames := map[string]bool{}
	for alias, expr := range ep.Declare {
		spec, err := template.ParseDeclare(alias, expr)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", ep.Name, err)
		}
		ce.declares = append(ce.declares, spec)
		aliasNames[alias] = true
		if _, ok := providers(spec.Provider); !ok {
			return nil, fmt.Errorf("endpoint %q: declare %q references unknown provider %q", ep.Name, alias, spec.Provider)
		}
	}

	bare := map[string]bool{}
	for _, tpl := range ce.allTemplates() {
		for _, ref := range tpl.References() {
			root := strings.SplitN(ref, ".", 2)[0]
			if aliasNames[root] || root == "request" || root == "response" || root == "element" || strings.HasPrefix(root, "element") {
				continue
			}
			if bare[root] {
				continue
			}
			p, ok := providers(root)
			if !ok {
				return nil, fmt.Errorf("endpoint %q: reference %q does not match a provider or declared alias", ep.Name, root)
			}
			ce.providers[root] = p
			bare[root] = true
		}
	}
	for name := range bare {
		ce.bareRefs = append(ce.bareRefs, name)
	}
	sort.Strings(ce.bareRefs)
	for _, spec := range ce.declares {
		p, _ := providers(spec.Provider)
		ce.providers[spec.Alias] = p
	}

	for _, pc := range ep.Provides {
		target, ok := providers(pc.Target)
		if !ok {
			return nil, fmt.Errorf("endpoint %q: provides targets unknown provider %q", ep.Name, pc.Target)
		}
		clause, err := template.CompileClause(pc.Select, pc.Where, pc.ForEach)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: provides %q: %w", ep.Name, pc.Target, err)
		}
		ce.provides = append(ce.provides, compiledProvides{clause: clause, target: target, send: pc.Send})
	}

	if loggers != nil {
		for _, lr := range ep.Logs {
			entry, ok := loggers.Get(lr.Target)
			if !ok {
				return nil, fmt.Errorf("endpoint %q: logs targets unknown logger %q", ep.Name, lr.Target)
			}
			clause, err := template.CompileClause(lr.Select, lr.Where, lr.ForEach)
			if err != nil {
				return nil, fmt.Errorf("endpoint %q: logs %q: %w", ep.Name, lr.Target, err)
			}
			ce.logs = append(ce.logs, compiledLogRoute{clause: clause, sink: entry.Sink})
		}
	}

	ce.statsIDBase = ep.Method + " " + urlTpl.LiteralSkeleton()
	labels := make([]string, 0, len(ep.StatsID))
	for k, v := range ep.StatsID {
		labels = append(labels, k+"="+v)
	}
	sort.Strings(labels)
	ce.statsLabels = labels

	return ce, nil
}

func (ce *CompiledEndpoint) allTemplates() []*template.Template {
	all := []*template.Template{ce.urlTpl}
	for _, t := range ce.hdrTpls {
		all = append(all, t)
	}
	if ce.bodyTpl != nil {
		all = append(all, ce.bodyTpl)
	}
	return all
}

// StatsID is the tuple that groups per-request telemetry for a logical
// endpoint: method + immutable path tokens + sorted stats_id labels.
func (ce *CompiledEndpoint) StatsID() string {
	if len(ce.statsLabels) == 0 {
		return ce.statsIDBase
	}
	return ce.statsIDBase + " [" + strings.Join(ce.statsLabels, ",") + "]"
}
