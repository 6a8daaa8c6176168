package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Sink is one named log destination.
type Sink struct {
	Name    string
	Handler slog.Handler
}

// FanoutHandler sends every record to all sinks enabled for its level.
// A sink that fails does not stop the others; its first failure is
// written to the report writer and later ones are dropped.
type FanoutHandler struct {
	sinks  []Sink
	failed *sinkFailures
}

type sinkFailures struct {
	mu     sync.Mutex
	report io.Writer
	seen   map[string]bool
}

// NewFanoutHandler builds a handler over the non-nil sinks. report may be
// nil to drop failures silently.
func NewFanoutHandler(report io.Writer, sinks ...Sink) *FanoutHandler {
	valid := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s.Handler != nil {
			valid = append(valid, s)
		}
	}
	return &FanoutHandler{
		sinks:  valid,
		failed: &sinkFailures{report: report, seen: make(map[string]bool)},
	}
}

// Enabled reports whether any sink takes records at level.
func (f *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, s := range f.sinks {
		if s.Handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *FanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, s := range f.sinks {
		if !s.Handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := s.Handler.Handle(ctx, r.Clone()); err != nil {
			f.failed.note(s.Name, err)
		}
	}
	return nil
}

// Failed lists the sinks that have failed at least once.
func (f *FanoutHandler) Failed() []string {
	f.failed.mu.Lock()
	defer f.failed.mu.Unlock()
	var names []string
	for _, s := range f.sinks {
		if f.failed.seen[s.Name] {
			names = append(names, s.Name)
		}
	}
	return names
}

func (sf *sinkFailures) note(name string, err error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.seen[name] {
		return
	}
	sf.seen[name] = true
	if sf.report != nil {
		fmt.Fprintf(sf.report, "log sink %q failed, further errors suppressed: %v\n", name, err)
	}
}

func (f *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f *FanoutHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

// derive keeps the failure record shared, so a sink is reported once across
// all loggers built from the same handler.
func (f *FanoutHandler) derive(fn func(slog.Handler) slog.Handler) *FanoutHandler {
	sinks := make([]Sink, len(f.sinks))
	for i, s := range f.sinks {
		sinks[i] = Sink{Name: s.Name, Handler: fn(s.Handler)}
	}
	return &FanoutHandler{sinks: sinks, failed: f.failed}
}
