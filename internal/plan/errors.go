package plan

import "errors"

// Error kinds the runtime distinguishes. Each wraps a sentinel so
// callers can discriminate with errors.Is/errors.As while still getting
// a useful message from Error().
var (
	// ErrConfig: parse/validation failure. Fatal, pre-start.
	ErrConfig = errors.New("config error")

	// ErrProviderStarved: a provider closed with consumers waiting.
	ErrProviderStarved = errors.New("provider starved")

	// ErrProviderOverflow: put to a full block provider during shutdown.
	ErrProviderOverflow = errors.New("provider overflow")

	// ErrTemplate: missing field or bad expression at eval time.
	ErrTemplate = errors.New("template error")

	// ErrTransport: connect/timeout/DNS failure dispatching a request.
	ErrTransport = errors.New("transport error")

	// ErrInternalInvariant: panic-equivalent structural failure.
	ErrInternalInvariant = errors.New("internal invariant violated")
)

// ConfigError carries validation context (e.g. which endpoint/provider).
type ConfigError struct {
	Subject string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Subject == "" {
		return "config error: " + e.Err.Error()
	}
	return "config error (" + e.Subject + "): " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// TemplateError records which alias/provider failed to resolve.
type TemplateError struct {
	Endpoint string
	Detail   string
}

func (e *TemplateError) Error() string {
	return "template error in endpoint " + e.Endpoint + ": " + e.Detail
}

func (e *TemplateError) Unwrap() error { return ErrTemplate }

// TransportError wraps the underlying dial/timeout/DNS failure.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string { return "transport error: " + e.Cause.Error() }
func (e *TransportError) Unwrap() error { return ErrTransport }
