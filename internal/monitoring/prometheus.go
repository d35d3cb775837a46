package monitoring

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Known tag keys that become Prometheus labels. Any other tags are carried in
// logs only; an unbounded label set would blow up cardinality.
const (
	TagMunicipality = "municipality"
	TagLimitClass   = "limit_class"
	TagOutcome      = "outcome"
)

// PrometheusSink exposes metric records as Prometheus counters.
type PrometheusSink struct {
	events *prometheus.CounterVec
	errors *prometheus.CounterVec
}

// NewPrometheusSink creates and registers the sink's collectors on the
// default registry.
func NewPrometheusSink() *PrometheusSink {
	return NewPrometheusSinkWith(prometheus.DefaultRegisterer)
}

// NewPrometheusSinkWith registers on a caller-provided registerer, which keeps
// tests free of default-registry collisions.
func NewPrometheusSinkWith(reg prometheus.Registerer) *PrometheusSink {
	factory := promauto.With(reg)
	return &PrometheusSink{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kompetens_admission_events_total",
			Help: "Admission-control decisions and security events by name and tenant",
		}, []string{"name", TagMunicipality, TagLimitClass, TagOutcome}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kompetens_component_errors_total",
			Help: "Infrastructure errors reported by admission components",
		}, []string{"component"}),
	}
}

func (s *PrometheusSink) Record(name string, value float64, tags map[string]string) {
	s.events.WithLabelValues(
		name,
		tags[TagMunicipality],
		tags[TagLimitClass],
		tags[TagOutcome],
	).Add(value)
}

func (s *PrometheusSink) ReportError(_ context.Context, component string, _ error) {
	s.errors.WithLabelValues(component).Inc()
}
