package plan

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// rawDoc mirrors the top-level YAML shape of a test plan:
// load_pattern, peak_load, providers, loggers, endpoints. It decodes
// straight into the types config.go already knows how to unmarshal
// (Duration/Percentage/Rate/LoadPattern), so Load only has to resolve
// the provider-kind union and the endpoint/logger clause shorthand.
type rawDoc struct {
	LoadPattern *LoadPattern           `yaml:"load_pattern"`
	PeakLoad    *PeakLoad              `yaml:"peak_load"`
	Providers   map[string]rawProvider `yaml:"providers"`
	Loggers     map[string]rawLogger   `yaml:"loggers"`
	Endpoints   []rawEndpoint          `yaml:"endpoints"`
}

type rawProvider struct {
	Buffer     string `yaml:"buffer"`
	AutoReturn string `yaml:"auto_return"`

	File *struct {
		Path   string `yaml:"path"`
		Repeat bool   `yaml:"repeat"`
	} `yaml:"file"`
	Response   *struct{}  `yaml:"response"`
	Static     *yaml.Node `yaml:"static"`
	StaticList *yaml.Node `yaml:"static_list"`
	Endpoint   *struct{}  `yaml:"endpoint"`
}

type rawClause struct {
	Target  string   `yaml:"target"`
	Send    string   `yaml:"send"`
	Select  string   `yaml:"select"`
	ForEach []string `yaml:"for_each"`
	Where   string   `yaml:"where"`
}

type rawLogger struct {
	To      string   `yaml:"to"`
	Select  string   `yaml:"select"`
	ForEach []string `yaml:"for_each"`
	Where   string   `yaml:"where"`
	Pretty  bool     `yaml:"pretty"`
	Limit   int      `yaml:"limit"`
}

type rawEndpoint struct {
	Name        string            `yaml:"name"`
	Method      string            `yaml:"method"`
	URL         string            `yaml:"url"`
	Headers     map[string]string `yaml:"headers"`
	Body        string            `yaml:"body"`
	LoadPattern *LoadPattern      `yaml:"load_pattern"`
	PeakLoad    *PeakLoad         `yaml:"peak_load"`
	Declare     map[string]string `yaml:"declare"`
	Provides    []rawClause       `yaml:"provides"`
	Logs        []rawClause       `yaml:"logs"`
	StatsID     map[string]string `yaml:"stats_id"`
}

// Load parses a pewpew YAML test plan into the runtime's boundary
// object, the parsed configuration the rest of the engine runs on.
func Load(data []byte) (*Config, error) {
	var doc rawDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	cfg := &Config{
		RootLoadPattern: doc.LoadPattern,
		RootPeakLoad:    doc.PeakLoad,
	}

	for name, rp := range doc.Providers {
		pc, err := rp.resolve(name)
		if err != nil {
			return nil, err
		}
		cfg.Providers = append(cfg.Providers, pc)
	}

	for name, rl := range doc.Loggers {
		cfg.Loggers = append(cfg.Loggers, LoggerDef{
			Name:    name,
			To:      rl.To,
			Select:  rl.Select,
			ForEach: rl.ForEach,
			Where:   rl.Where,
			Pretty:  rl.Pretty,
			Limit:   rl.Limit,
		})
	}

	for _, re := range doc.Endpoints {
		ep, err := re.resolve()
		if err != nil {
			return nil, err
		}
		cfg.Endpoints = append(cfg.Endpoints, ep)
	}

	return cfg, nil
}

func (rp rawProvider) resolve(name string) (ProviderConfig, error) {
	pc := ProviderConfig{Name: name, Buffer: BufferLimit{Auto: true}}

	switch rp.Buffer {
	case "", "auto":
		pc.Buffer = BufferLimit{Auto: true}
	default:
		n, err := parseBufferInt(rp.Buffer)
		if err != nil {
			return ProviderConfig{}, fmt.Errorf("provider %q: %w", name, err)
		}
		pc.Buffer = BufferLimit{Fixed: n}
	}

	ar, err := ParseAutoReturn(rp.AutoReturn)
	if err != nil {
		return ProviderConfig{}, fmt.Errorf("provider %q: %w", name, err)
	}
	pc.AutoReturn = ar

	kinds := 0
	if rp.File != nil {
		kinds++
		pc.Kind = KindFile
		pc.FilePath = rp.File.Path
		pc.Repeat = rp.File.Repeat
	}
	if rp.Response != nil {
		kinds++
		pc.Kind = KindResponse
	}
	if rp.Static != nil {
		kinds++
		pc.Kind = KindStatic
		var v interface{}
		if err := rp.Static.Decode(&v); err != nil {
			return ProviderConfig{}, fmt.Errorf("provider %q: static: %w", name, err)
		}
		pc.StaticValue = v
	}
	if rp.StaticList != nil {
		kinds++
		pc.Kind = KindStaticList
		var v []interface{}
		if err := rp.StaticList.Decode(&v); err != nil {
			return ProviderConfig{}, fmt.Errorf("provider %q: static_list: %w", name, err)
		}
		if len(v) == 0 {
			return ProviderConfig{}, fmt.Errorf("%w: provider %q: static_list must have at least one value", ErrConfig, name)
		}
		pc.StaticList = v
	}
	if rp.Endpoint != nil {
		kinds++
		pc.Kind = KindEndpoint
	}
	if kinds != 1 {
		return ProviderConfig{}, fmt.Errorf("%w: provider %q must declare exactly one of file/response/static/static_list/endpoint", ErrConfig, name)
	}
	return pc, nil
}

func parseBufferInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("%w: buffer %q must be \"auto\" or a positive integer", ErrConfig, s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: buffer %q must be positive", ErrConfig, s)
	}
	return n, nil
}

func (rc rawClause) resolveProvides() (ProvidesClause, error) {
	send, err := ParseSendMode(rc.Send)
	if err != nil {
		return ProvidesClause{}, err
	}
	return ProvidesClause{
		Target:  rc.Target,
		Send:    send,
		Select:  rc.Select,
		ForEach: rc.ForEach,
		Where:   rc.Where,
	}, nil
}

func (rc rawClause) resolveLogRoute() LogRoute {
	return LogRoute{
		Target:  rc.Target,
		Select:  rc.Select,
		ForEach: rc.ForEach,
		Where:   rc.Where,
	}
}

func (re rawEndpoint) resolve() (Endpoint, error) {
	method := re.Method
	if method == "" {
		method = "GET"
	}
	name := re.Name
	if name == "" {
		name = method + " " + re.URL
	}
	ep := Endpoint{
		Name:        name,
		Method:      method,
		URL:         re.URL,
		Headers:     re.Headers,
		Body:        re.Body,
		LoadPattern: re.LoadPattern,
		PeakLoad:    re.PeakLoad,
		Declare:     re.Declare,
		StatsID:     re.StatsID,
	}
	for _, rc := range re.Provides {
		pc, err := rc.resolveProvides()
		if err != nil {
			return Endpoint{}, fmt.Errorf("endpoint %q: provides %q: %w", name, rc.Target, err)
		}
		ep.Provides = append(ep.Provides, pc)
	}
	for _, rc := range re.Logs {
		ep.Logs = append(ep.Logs, rc.resolveLogRoute())
	}
	return ep, nil
}
