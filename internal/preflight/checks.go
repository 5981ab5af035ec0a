// Package preflight provides startup resource validation checks: does
// this machine have enough file descriptors and ephemeral ports to
// sustain the concurrency a test plan implies, and can its
// file-based loggers actually be opened. Structural plan validation
// (cyclic provider graphs, missing peak_load) lives in internal/plan
// and internal/orchestrator instead — this package only checks what the
// operating system, not the YAML, can get wrong.
package preflight

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/pewpew/pewpew/internal/logsink"
	"github.com/pewpew/pewpew/internal/plan"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string
	Required int
	Actual   int
	Passed   bool
	Warning  bool
	Message  string
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}
	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// maxInFlight mirrors internal/executor's in-flight cap formula,
// max(peak_load*2s, 8), so preflight estimates the same worst-case
// concurrency the executor will actually spawn.
func maxInFlight(hps float64) int {
	cap := int(hps * 2)
	if cap < 8 {
		cap = 8
	}
	return cap
}

// totalInFlight sums every endpoint's in-flight cap, the worst-case
// number of concurrently open HTTP connections the plan can produce.
func totalInFlight(cfg *plan.Config) int {
	total := 0
	for _, ep := range cfg.Endpoints {
		peak := cfg.EffectivePeakLoad(ep)
		hps := 0.0
		if peak != nil {
			hps = peak.Rate.PerSecond()
		}
		total += maxInFlight(hps)
	}
	return total
}

// RunAll executes every preflight check against a parsed test plan.
func RunAll(cfg *plan.Config, openWriter func(to string) error) *Result {
	result := &Result{Checks: make([]Check, 0, 4), Passed: true}

	inFlight := totalInFlight(cfg)

	fdCheck := checkFileDescriptors(inFlight)
	result.Checks = append(result.Checks, fdCheck)
	if !fdCheck.Passed {
		result.Passed = false
	}

	loggerCheck := checkLoggerWritability(cfg, openWriter)
	result.Checks = append(result.Checks, loggerCheck)
	if !loggerCheck.Passed {
		result.Passed = false
	}

	portCheck := checkEphemeralPorts(inFlight)
	result.Checks = append(result.Checks, portCheck)

	return result
}

// checkFileDescriptors verifies enough FDs exist for the plan's
// worst-case concurrent HTTP connections, plus logger files and the
// metrics server.
func checkFileDescriptors(inFlight int) Check {
	var limit syscall.Rlimit
	syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit)

	required := inFlight + 100
	actual := int(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d in-flight requests)", actual, required, inFlight),
	}
}

// checkLoggerWritability opens and immediately closes every file-backed
// logger target, catching permission/path errors before any endpoint
// starts — those are avoidable startup failures, not the runtime I/O
// errors a logger reports mid-run.
func checkLoggerWritability(cfg *plan.Config, openWriter func(to string) error) Check {
	if openWriter == nil {
		openWriter = func(to string) error {
			w, err := logsink.DefaultOpenWriter(to)
			if err != nil {
				return err
			}
			return w.Close()
		}
	}
	var bad []string
	for _, l := range cfg.Loggers {
		if err := openWriter(l.To); err != nil {
			bad = append(bad, fmt.Sprintf("%s (%s): %v", l.Name, l.To, err))
		}
	}
	if len(bad) > 0 {
		return Check{Name: "logger_writability", Message: strings.Join(bad, "; ")}
	}
	return Check{Name: "logger_writability", Passed: true, Message: fmt.Sprintf("%d logger(s) writable", len(cfg.Loggers))}
}

// checkEphemeralPorts warns (never fails) when the plan's worst-case
// concurrency looks likely to exhaust the local ephemeral port range.
func checkEphemeralPorts(inFlight int) Check {
	data, err := os.ReadFile("/proc/sys/net/ipv4/ip_local_port_range")
	if err != nil {
		return Check{Name: "ephemeral_ports", Passed: true, Warning: true, Message: "unable to read port range (non-Linux?)"}
	}
	var low, high int
	fmt.Sscanf(string(data), "%d %d", &low, &high)
	available := high - low
	recommended := inFlight * 2

	return Check{
		Name:     "ephemeral_ports",
		Required: recommended,
		Actual:   available,
		Passed:   true,
		Warning:  available < recommended,
		Message:  fmt.Sprintf("%d-%d (%d available, recommend %d)", low, high, available, recommended),
	}
}

// PrintResults prints the preflight check results to stdout.
func PrintResults(result *Result) {
	fmt.Println("Preflight checks:")
	for _, check := range result.Checks {
		fmt.Println(check.String())
	}
	fmt.Println()
}
