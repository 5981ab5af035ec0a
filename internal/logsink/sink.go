// Package logsink implements component G: named, append-only log
// destinations (stdout, stderr, or a truncated-and-created file), each
// evaluating a select/for_each/where clause over request/response
// events and capping total emitted records with `limit`.
package logsink

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/pewpew/pewpew/internal/jsonvalue"
	"github.com/pewpew/pewpew/internal/logging"
	"github.com/pewpew/pewpew/internal/plan"
	"github.com/pewpew/pewpew/internal/template"
)

// Sink owns one logger's output stream.
type Sink struct {
	Name   string
	w      io.WriteCloser
	pretty bool
	limit  int

	mu      sync.Mutex
	emitted int
	closed  bool
}

// OpenWriter is the filesystem/stream collaborator: the caller supplies
// how `to: stdout|stderr|filepath` resolves to a writer, keeping
// filesystem I/O out of this package.
type OpenWriter func(to string) (io.WriteCloser, error)

// DefaultOpenWriter maps "stdout"/"stderr" to the process streams and
// anything else to a truncated-and-created file.
func DefaultOpenWriter(to string) (io.WriteCloser, error) {
	switch to {
	case "stdout":
		return nopCloser{os.Stdout}, nil
	case "stderr":
		return nopCloser{os.Stderr}, nil
	default:
		f, err := os.OpenFile(to, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logsink: open %q: %w", to, err)
		}
		return f, nil
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func newSink(name string, w io.WriteCloser, pretty bool, limit int) *Sink {
	return &Sink{Name: name, w: w, pretty: pretty, limit: limit}
}

// Emit writes v as one JSON record if the sink is still open and under
// its limit. Returns false without error once the limit has closed it.
func (s *Sink) Emit(v jsonvalue.Value) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, nil
	}

	var b []byte
	var err error
	if s.pretty {
		b, err = json.MarshalIndent(v, "", "  ")
	} else {
		b, err = json.Marshal(v)
	}
	if err != nil {
		return false, fmt.Errorf("logsink %q: marshal: %w", s.Name, err)
	}
	b = append(b, '\n')
	if _, err := s.w.Write(b); err != nil {
		// An unwritable sink stays broken; close it and report once
		// rather than erroring on every subsequent event.
		s.closed = true
		s.w.Close()
		slog.Error("logger_io_error", logging.KeyLogger, s.Name, "error", err)
		return false, fmt.Errorf("logsink %q: write: %w", s.Name, err)
	}

	s.emitted++
	if s.limit > 0 && s.emitted >= s.limit {
		s.closed = true
		return true, s.w.Close()
	}
	return true, nil
}

// Close shuts the sink down early, e.g. during orchestrator shutdown.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.w.Close()
}

// Entry is one named logger: its Sink plus, if the logger is global
// (select present at the top level), the compiled clause evaluated
// automatically for every endpoint's events.
type Entry struct {
	Sink   *Sink
	Global bool
	Clause *template.Clause // set iff Global
}

// Registry holds every named logger declared in the test plan.
type Registry struct {
	entries map[string]*Entry
}

// NewRegistry opens every declared logger's sink and compiles global
// loggers' clauses once at config load.
func NewRegistry(defs []plan.LoggerDef, open OpenWriter) (*Registry, error) {
	if open == nil {
		open = DefaultOpenWriter
	}
	r := &Registry{entries: map[string]*Entry{}}
	for _, def := range defs {
		w, err := open(def.To)
		if err != nil {
			return nil, fmt.Errorf("logger %q: %w", def.Name, err)
		}
		sink := newSink(def.Name, w, def.Pretty, def.Limit)
		entry := &Entry{Sink: sink, Global: def.IsGlobal()}
		if entry.Global {
			clause, err := template.CompileClause(def.Select, def.Where, def.ForEach)
			if err != nil {
				return nil, fmt.Errorf("logger %q: %w", def.Name, err)
			}
			entry.Clause = clause
		}
		r.entries[def.Name] = entry
	}
	return r, nil
}

// Get looks up a named logger (for endpoint.logs routing).
func (r *Registry) Get(name string) (*Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// GlobalEntries returns every logger that fires automatically for
// every endpoint's events.
func (r *Registry) GlobalEntries() []*Entry {
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Global {
			out = append(out, e)
		}
	}
	return out
}

// CloseAll shuts down every sink, used during orchestrator shutdown.
func (r *Registry) CloseAll() {
	for _, e := range r.entries {
		e.Sink.Close()
	}
}
