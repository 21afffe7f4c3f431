package diagnostics

import (
	"context"
	"fmt"
	"sync"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/metrics"
)

// Warning is a single diagnostic produced by a pipeline stage
type Warning struct {
	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Entity   string   `json:"entity,omitempty"`
	// Location is a JSON-pointer like path such as $[3].authorId
	Location string `json:"location,omitempty"`
}

// String renders the warning on one line
func (w Warning) String() string {
	s := fmt.Sprintf("%s %s: %s", w.Severity, w.Kind, w.Message)
	if w.Entity != "" {
		s += fmt.Sprintf(" (entity %s", w.Entity)
		if w.Location != "" {
			s += " at " + w.Location
		}
		s += ")"
	}
	return s
}

// Summary holds aggregate diagnostic counts
type Summary struct {
	Warnings int            `json:"warnings"`
	Errors   int            `json:"errors"`
	ByKind   map[string]int `json:"by_kind"`
}

// Sink is an append-only, concurrency safe collection of diagnostics.
// Appends from one goroutine keep their relative order.
type Sink struct {
	mu       sync.Mutex
	warnings []Warning
	errors   int
	logger   ectologger.Logger
}

// NewSink creates an empty sink. Every diagnostic is also logged through logger.
func NewSink(logger ectologger.Logger) *Sink {
	return &Sink{
		warnings: make([]Warning, 0),
		logger:   logger,
	}
}

// Add appends a diagnostic of the given kind
func (s *Sink) Add(ctx context.Context, kind Kind, entity, location, message string) {
	if kind.name == "" {
		panic("diagnostics: undeclared kind")
	}

	w := Warning{
		Kind:     kind,
		Severity: kind.Severity(),
		Message:  message,
		Entity:   entity,
		Location: location,
	}

	s.mu.Lock()
	s.warnings = append(s.warnings, w)
	if w.Severity == SeverityError {
		s.errors++
	}
	s.mu.Unlock()

	metrics.DiagnosticsTotal.WithLabelValues(kind.String(), w.Severity.String()).Inc()

	if s.logger == nil {
		return
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"kind":     kind.String(),
		"entity":   entity,
		"location": location,
	})
	if w.Severity == SeverityError {
		log.Error(message)
	} else {
		log.Warn(message)
	}
}

// Addf appends a diagnostic with a formatted message
func (s *Sink) Addf(ctx context.Context, kind Kind, entity, location, format string, args ...any) {
	s.Add(ctx, kind, entity, location, fmt.Sprintf(format, args...))
}

// Warnings returns a copy of every diagnostic in append order
func (s *Sink) Warnings() []Warning {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Warning(nil), s.warnings...)
}

// Filter returns the diagnostics of one kind in append order
func (s *Sink) Filter(kind Kind) []Warning {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Warning, 0)
	for _, w := range s.warnings {
		if w.Kind == kind {
			out = append(out, w)
		}
	}
	return out
}

// HasErrors reports whether any Error-severity diagnostic was recorded
func (s *Sink) HasErrors() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors > 0
}

// Count returns the number of diagnostics of one severity
func (s *Sink) Count(severity Severity) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if severity == SeverityError {
		return s.errors
	}
	return len(s.warnings) - s.errors
}

// Len returns the number of diagnostics recorded
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.warnings)
}

// Summary returns counts by severity and by kind
func (s *Sink) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := Summary{ByKind: make(map[string]int)}
	for _, w := range s.warnings {
		if w.Severity == SeverityError {
			summary.Errors++
		} else {
			summary.Warnings++
		}
		summary.ByKind[w.Kind.String()]++
	}
	return summary
}
