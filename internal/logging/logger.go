// Package logging builds the structured logger pewpew's runtime shares
// and fixes the attribute vocabulary its components log with: executors
// scope themselves to an endpoint, provider readers to a provider, and
// duration attributes render human-readable in both handler formats.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Attribute keys every component uses, so a single filter expression
// (jq, grep, a log pipeline) can follow one endpoint or provider
// through executor, watchdog, and reader events alike.
const (
	KeyEndpoint = "endpoint"
	KeyProvider = "provider"
	KeyLogger   = "logger"
)

// Options configures the run-wide logger, populated from the CLI flags.
type Options struct {
	Format  string    // "json" or "text"; anything else falls back to json
	Level   string    // debug | info | warn | error; default info
	Verbose bool      // forces debug and turns on source locations
	Writer  io.Writer // defaults to os.Stderr
}

// New builds the logger every component derives its scoped logger from.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	level := parseLevel(opts.Level)
	if opts.Verbose {
		level = slog.LevelDebug
	}

	hopts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level == slog.LevelDebug,
		ReplaceAttr: replaceAttr,
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "text":
		handler = slog.NewTextHandler(w, hopts)
	default:
		handler = slog.NewJSONHandler(w, hopts)
	}
	return slog.New(handler)
}

// ForEndpoint scopes a logger to one endpoint's executor events.
func ForEndpoint(l *slog.Logger, name string) *slog.Logger {
	return l.With(KeyEndpoint, name)
}

// ForProvider scopes a logger to one provider's reader/queue events.
func ForProvider(l *slog.Logger, name string) *slog.Logger {
	return l.With(KeyProvider, name)
}

// replaceAttr renders duration attributes as strings: shutdown
// timeouts and RTTs read as "1.5s" rather than a nanosecond integer,
// in the text handler and the JSON handler both.
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindDuration {
		a.Value = slog.StringValue(a.Value.Duration().String())
	}
	return a
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
