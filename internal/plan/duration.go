// Package plan holds the declarative data model parsed from a pewpew YAML
// test plan: durations, percentages, rates, load patterns, provider and
// endpoint definitions, and the error kinds the runtime surfaces.
package plan

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a nonnegative number of nanoseconds, parsed from chained
// "{N[ ]unit}" segments.
type Duration time.Duration

var durationUnits = map[string]time.Duration{
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
}

// ParseDuration parses an additive chain of duration segments, e.g.
// "1hour30min", "1 hour 30 min", "90s".
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty duration", ErrConfig)
	}

	var total time.Duration
	i := 0
	for i < len(s) {
		for i < len(s) && s[i] == ' ' {
			i++
		}
		start := i
		for i < len(s) && (s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
			i++
		}
		if start == i {
			return 0, fmt.Errorf("%w: expected number in duration %q", ErrConfig, s)
		}
		numStr := s[start:i]

		for i < len(s) && s[i] == ' ' {
			i++
		}
		unitStart := i
		for i < len(s) && (s[i] >= 'a' && s[i] <= 'z' || s[i] >= 'A' && s[i] <= 'Z') {
			i++
		}
		unitStr := strings.ToLower(s[unitStart:i])
		unit, ok := durationUnits[unitStr]
		if !ok {
			return 0, fmt.Errorf("%w: unknown duration unit %q in %q", ErrConfig, unitStr, s)
		}

		n, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid duration number %q: %v", ErrConfig, numStr, err)
		}
		if n < 0 {
			return 0, fmt.Errorf("%w: negative duration segment in %q", ErrConfig, s)
		}
		total += time.Duration(n * float64(unit))
	}

	return Duration(total), nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
func (d Duration) String() string          { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
