package plan

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// LoadSegment is one leg of a piecewise-linear load curve.
type LoadSegment struct {
	From Percentage `yaml:"from"`
	To   Percentage `yaml:"to"`
	Over Duration   `yaml:"over"`

	// HasFrom records whether `from` was explicit in the YAML, so
	// Normalize can apply the "defaults to previous segment's to" rule
	// and still allow a deliberate jump to be distinguished from an
	// omitted field.
	HasFrom bool `yaml:"-"`
}

// LoadPattern is an ordered sequence of segments.
type LoadPattern struct {
	Segments []LoadSegment `yaml:"-"`
}

// segmentShape decodes either a LoadSegment's direct fields
// (`{from, to, over}`) or the `linear: {from, to, over}` shorthand.
type segmentShape struct {
	From *Percentage `yaml:"from"`
	To   Percentage  `yaml:"to"`
	Over Duration    `yaml:"over"`
}

// UnmarshalYAML accepts either shape for one LoadSegment entry.
func (s *LoadSegment) UnmarshalYAML(value *yaml.Node) error {
	var wrapper struct {
		Linear *segmentShape `yaml:"linear"`
	}
	if err := value.Decode(&wrapper); err == nil && wrapper.Linear != nil {
		s.To, s.Over = wrapper.Linear.To, wrapper.Linear.Over
		if wrapper.Linear.From != nil {
			s.From, s.HasFrom = *wrapper.Linear.From, true
		}
		return nil
	}
	var direct segmentShape
	if err := value.Decode(&direct); err != nil {
		return fmt.Errorf("%w: load pattern segment: %v", ErrConfig, err)
	}
	s.To, s.Over = direct.To, direct.Over
	if direct.From != nil {
		s.From, s.HasFrom = *direct.From, true
	}
	return nil
}

// UnmarshalYAML decodes a sequence of segments and normalizes their
// `from` defaults in one step, so every LoadPattern produced by the
// loader is immediately queryable.
func (p *LoadPattern) UnmarshalYAML(value *yaml.Node) error {
	var segs []LoadSegment
	if err := value.Decode(&segs); err != nil {
		return fmt.Errorf("%w: load_pattern: %v", ErrConfig, err)
	}
	p.Segments = segs
	p.Normalize()
	return nil
}

// Normalize fills in default `from` values: the first segment defaults to
// 0, later segments default to the previous segment's `to`.
func (p *LoadPattern) Normalize() {
	prev := Percentage(0)
	for i := range p.Segments {
		if !p.Segments[i].HasFrom {
			p.Segments[i].From = prev
		}
		prev = p.Segments[i].To
	}
}

// TotalDuration sums every segment's `over`.
func (p LoadPattern) TotalDuration() Duration {
	var total Duration
	for _, s := range p.Segments {
		total += s.Over
	}
	return total
}

// PeakLoad is the rate denoted by a load pattern value of 100%.
type PeakLoad struct {
	Rate Rate `yaml:"-"`
}

func (p *PeakLoad) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var r Rate
	if err := (&r).UnmarshalYAML(unmarshal); err != nil {
		return err
	}
	p.Rate = r
	return nil
}

// ProviderKind enumerates the available provider backends.
type ProviderKind int

const (
	KindFile ProviderKind = iota
	KindResponse
	KindStatic
	KindStaticList
	KindEndpoint
)

func (k ProviderKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindResponse:
		return "response"
	case KindStatic:
		return "static"
	case KindStaticList:
		return "static_list"
	case KindEndpoint:
		return "endpoint"
	default:
		return "unknown"
	}
}

// AutoReturn is the policy by which a consumed value is re-inserted when
// the consuming iteration ends.
type AutoReturn int

const (
	AutoReturnNone AutoReturn = iota
	AutoReturnBlock
	AutoReturnForce
	AutoReturnIfNotFull
)

func ParseAutoReturn(s string) (AutoReturn, error) {
	switch s {
	case "", "none":
		return AutoReturnNone, nil
	case "block":
		return AutoReturnBlock, nil
	case "force":
		return AutoReturnForce, nil
	case "if_not_full":
		return AutoReturnIfNotFull, nil
	default:
		return 0, fmt.Errorf("%w: unknown auto_return %q", ErrConfig, s)
	}
}

// SendMode governs `put` discipline (shared by provides clauses and
// provider auto_return).
type SendMode int

const (
	SendBlock SendMode = iota
	SendForce
	SendIfNotFull
)

func ParseSendMode(s string) (SendMode, error) {
	switch s {
	case "", "block":
		return SendBlock, nil
	case "force":
		return SendForce, nil
	case "if_not_full":
		return SendIfNotFull, nil
	default:
		return 0, fmt.Errorf("%w: unknown send mode %q", ErrConfig, s)
	}
}

// BufferLimit is the provider's soft limit: either a fixed positive int
// or "auto" autosizing.
type BufferLimit struct {
	Auto  bool
	Fixed int
}

// ProviderConfig is the parsed form of a `providers.<name>` entry.
type ProviderConfig struct {
	Name       string
	Kind       ProviderKind
	Buffer     BufferLimit
	AutoReturn AutoReturn

	// File
	FilePath string
	Repeat   bool

	// Static / StaticList
	StaticValue interface{}   // decoded YAML scalar/map for Static
	StaticList  []interface{} // decoded YAML sequence for StaticList
}

// ProvidesClause routes selected request/response fields into a target
// provider.
type ProvidesClause struct {
	Target  string
	Send    SendMode
	Select  string
	ForEach []string
	Where   string
}

// LoggerDef is a `loggers.<name>` entry. Global loggers have Select set.
type LoggerDef struct {
	Name    string
	To      string // stdout | stderr | filepath
	Select  string
	ForEach []string
	Where   string
	Pretty  bool
	Limit   int // 0 = unbounded
}

func (l LoggerDef) IsGlobal() bool { return l.Select != "" }

// LogRoute is an `endpoint.logs[]` entry: routes this endpoint's
// (request, response) events into a named top-level logger, with its
// own select/for_each/where clause.
type LogRoute struct {
	Target  string
	Select  string
	ForEach []string
	Where   string
}

// Endpoint is one `endpoints[]` entry.
type Endpoint struct {
	Name        string // synthesized from method+url if not explicit
	Method      string
	URL         string
	Headers     map[string]string
	Body        string
	LoadPattern *LoadPattern // nil => inherit root
	PeakLoad    *PeakLoad    // nil => inherit root
	Declare     map[string]string
	Provides    []ProvidesClause
	Logs        []LogRoute
	StatsID     map[string]string
}

// Config is the fully parsed test plan handed to the orchestrator. Load
// parses the YAML into it and Validate checks its structure; Config is
// the boundary object that process produces.
type Config struct {
	RootLoadPattern *LoadPattern
	RootPeakLoad    *PeakLoad
	Providers       []ProviderConfig
	Loggers         []LoggerDef
	Endpoints       []Endpoint
}

// EffectiveLoadPattern resolves an endpoint's load pattern, falling back
// to the root pattern when the endpoint doesn't declare its own.
func (c Config) EffectiveLoadPattern(e Endpoint) *LoadPattern {
	if e.LoadPattern != nil {
		return e.LoadPattern
	}
	return c.RootLoadPattern
}

// EffectivePeakLoad resolves an endpoint's peak load, falling back to root.
func (c Config) EffectivePeakLoad(e Endpoint) *PeakLoad {
	if e.PeakLoad != nil {
		return e.PeakLoad
	}
	return c.RootPeakLoad
}
