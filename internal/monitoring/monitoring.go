// Package monitoring defines the metric/error sink consumed by every
// admission component. The sink is always passed explicitly so tests can swap
// in a capture implementation; there is no package-level singleton.
package monitoring

import (
	"context"
	"log/slog"
	"sync"
)

// Sink accepts metric records and error reports. It is write-only: nothing in
// the admission layer ever reads a metric back.
type Sink interface {
	// Record emits a named metric with optional tags.
	Record(name string, value float64, tags map[string]string)
	// ReportError reports an infrastructure failure observed by a component.
	// Fail-open controls call this instead of surfacing the error.
	ReportError(ctx context.Context, component string, err error)
}

// NopSink discards everything. Useful as a default in constructors.
type NopSink struct{}

func (NopSink) Record(string, float64, map[string]string)  {}
func (NopSink) ReportError(context.Context, string, error) {}

// CaptureSink records everything in memory for test assertions.
type CaptureSink struct {
	mu      sync.Mutex
	Metrics []CapturedMetric
	Errors  []CapturedError
}

type CapturedMetric struct {
	Name  string
	Value float64
	Tags  map[string]string
}

type CapturedError struct {
	Component string
	Err       error
}

func (c *CaptureSink) Record(name string, value float64, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Metrics = append(c.Metrics, CapturedMetric{Name: name, Value: value, Tags: tags})
}

func (c *CaptureSink) ReportError(_ context.Context, component string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Errors = append(c.Errors, CapturedError{Component: component, Err: err})
}

// MetricsNamed returns captured metrics matching name.
func (c *CaptureSink) MetricsNamed(name string) []CapturedMetric {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []CapturedMetric
	for _, m := range c.Metrics {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// logSink wraps another sink and mirrors records to structured logs.
type logSink struct {
	next   Sink
	logger *slog.Logger
}

// WithLogging mirrors every record and error report to the logger before
// delegating to next.
func WithLogging(next Sink, logger *slog.Logger) Sink {
	return &logSink{next: next, logger: logger}
}

func (s *logSink) Record(name string, value float64, tags map[string]string) {
	args := []any{"metric", name, "value", value}
	for k, v := range tags {
		args = append(args, k, v)
	}
	s.logger.Debug("metric recorded", args...)
	s.next.Record(name, value, tags)
}

func (s *logSink) ReportError(ctx context.Context, component string, err error) {
	s.logger.ErrorContext(ctx, "component error", "component", component, "error", err)
	s.next.ReportError(ctx, component, err)
}
