package plan

import "fmt"

// Validate checks the structural invariants a parsed Config must
// satisfy, independent of any cross-provider graph analysis (that lives
// in the orchestrator, which alone knows every endpoint's wiring).
func Validate(cfg *Config) error {
	seenProviders := map[string]bool{}
	for _, pc := range cfg.Providers {
		if pc.Name == "" {
			return &ConfigError{Err: fmt.Errorf("provider entry missing a name")}
		}
		if pc.Name == "request" || pc.Name == "response" {
			return &ConfigError{Subject: pc.Name, Err: fmt.Errorf("provider name %q is reserved for template scopes", pc.Name)}
		}
		if seenProviders[pc.Name] {
			return &ConfigError{Subject: pc.Name, Err: fmt.Errorf("duplicate provider name")}
		}
		seenProviders[pc.Name] = true
		if pc.Kind == KindFile && pc.FilePath == "" {
			return &ConfigError{Subject: pc.Name, Err: fmt.Errorf("file provider requires a path")}
		}
	}

	seenLoggers := map[string]bool{}
	for _, ld := range cfg.Loggers {
		if ld.Name == "" {
			return &ConfigError{Err: fmt.Errorf("logger entry missing a name")}
		}
		if seenLoggers[ld.Name] {
			return &ConfigError{Subject: ld.Name, Err: fmt.Errorf("duplicate logger name")}
		}
		seenLoggers[ld.Name] = true
		if ld.To == "" {
			return &ConfigError{Subject: ld.Name, Err: fmt.Errorf("logger requires a \"to\" destination")}
		}
	}

	if len(cfg.Endpoints) == 0 {
		return &ConfigError{Err: fmt.Errorf("config declares no endpoints")}
	}

	seenNames := map[string]bool{}
	for _, ep := range cfg.Endpoints {
		if ep.URL == "" {
			return &ConfigError{Subject: ep.Name, Err: fmt.Errorf("endpoint requires a url")}
		}
		if seenNames[ep.Name] {
			return &ConfigError{Subject: ep.Name, Err: fmt.Errorf("duplicate endpoint name %q — set an explicit name to disambiguate", ep.Name)}
		}
		seenNames[ep.Name] = true

		lp := cfg.EffectiveLoadPattern(ep)
		if lp != nil && len(lp.Segments) > 0 {
			peak := cfg.EffectivePeakLoad(ep)
			if peak == nil {
				return &ConfigError{Subject: ep.Name, Err: fmt.Errorf("endpoint has a nonempty load pattern but no peak_load")}
			}
		}
		for _, pc := range ep.Provides {
			if !seenProviders[pc.Target] {
				return &ConfigError{Subject: ep.Name, Err: fmt.Errorf("provides targets unknown provider %q", pc.Target)}
			}
		}
		for _, lr := range ep.Logs {
			if !seenLoggers[lr.Target] {
				return &ConfigError{Subject: ep.Name, Err: fmt.Errorf("logs targets unknown logger %q", lr.Target)}
			}
		}
	}

	return nil
}
