package orchestrator

import (
	"github.com/pewpew/pewpew/internal/jsonvalue"
	"github.com/pewpew/pewpew/internal/loadpattern"
	"github.com/pewpew/pewpew/internal/plan"
)

// firstJSONValue converts a Static provider's decoded YAML scalar/map
// into the jsonvalue.Value New hands to provider.New; every other
// provider kind has no static payload.
func firstJSONValue(pc plan.ProviderConfig) jsonvalue.Value {
	if pc.Kind != plan.KindStatic {
		return jsonvalue.NewNull()
	}
	return jsonvalue.FromInterface(pc.StaticValue)
}

// jsonValueList converts a StaticList provider's decoded YAML sequence
// into the []jsonvalue.Value provider.New cycles through.
func jsonValueList(pc plan.ProviderConfig) []jsonvalue.Value {
	if pc.Kind != plan.KindStaticList {
		return nil
	}
	out := make([]jsonvalue.Value, len(pc.StaticList))
	for i, v := range pc.StaticList {
		out[i] = jsonvalue.FromInterface(v)
	}
	return out
}

// compilePattern resolves an endpoint's effective load pattern and peak
// into a queryable loadpattern.Pattern. A nil pattern or peak compiles
// to an always-empty curve; Validate already rejects the configurations
// where a nonempty pattern is missing its peak load.
func compilePattern(lp *plan.LoadPattern, peak *plan.PeakLoad) *loadpattern.Pattern {
	var rate plan.Rate
	if peak != nil {
		rate = peak.Rate
	}
	return loadpattern.Compile(lp, rate)
}
