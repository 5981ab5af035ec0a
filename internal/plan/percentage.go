package plan

import (
	"fmt"
	"strconv"
	"strings"
)

// Percentage is a nonnegative rational, parsed from "N%" or "N.M%"
// (may exceed 1.0 — peak load can be exceeded deliberately).
type Percentage float64

// ParsePercentage parses "N%" / "N.M%" into a fraction (50% -> 0.5).
func ParsePercentage(s string) (Percentage, error) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, "%") {
		return 0, fmt.Errorf("%w: percentage %q must end in %%", ErrConfig, s)
	}
	n, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid percentage %q: %v", ErrConfig, s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative percentage %q", ErrConfig, s)
	}
	return Percentage(n / 100.0), nil
}

func (p Percentage) Float() float64 { return float64(p) }

func (p *Percentage) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParsePercentage(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Rate is a nonnegative requests-per-second value.
type Rate float64

// ParseRate parses "Nhps" or "Nhpm" into a hits-per-second Rate.
func ParseRate(s string) (Rate, error) {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	switch {
	case strings.HasSuffix(lower, "hps"):
		n, err := strconv.ParseFloat(s[:len(s)-3], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid rate %q: %v", ErrConfig, s, err)
		}
		if n < 0 {
			return 0, fmt.Errorf("%w: negative rate %q", ErrConfig, s)
		}
		return Rate(n), nil
	case strings.HasSuffix(lower, "hpm"):
		n, err := strconv.ParseFloat(s[:len(s)-3], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid rate %q: %v", ErrConfig, s, err)
		}
		if n < 0 {
			return 0, fmt.Errorf("%w: negative rate %q", ErrConfig, s)
		}
		return Rate(n / 60.0), nil
	default:
		return 0, fmt.Errorf("%w: rate %q must end in hps or hpm", ErrConfig, s)
	}
}

func (r Rate) PerSecond() float64 { return float64(r) }

func (r *Rate) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseRate(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
