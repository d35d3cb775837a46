package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"kompetens/pkg/requestcontext"
)

// Publisher emits audit events. Implementations must never block the request
// path on collector availability; a lost audit event is preferable to a
// blocked admission decision.
type Publisher interface {
	Emit(ctx context.Context, event Event)
}

// Emit is the shared enrichment path used by all publishers: it stamps the
// event ID, timestamp and request correlation ID before handing off.
func enrich(ctx context.Context, event Event) Event {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	return event
}

// LogPublisher writes audit events to structured logs. It is the fallback
// sink when no Kafka seeds are configured, and is composed under the Kafka
// publisher so events always reach at least the log stream.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Emit(ctx context.Context, event Event) {
	event = enrich(ctx, event)
	args := []any{
		"log_type", "audit",
		"event_id", event.ID,
		"event", string(event.Type),
		"municipality_id", event.MunicipalityID,
	}
	if event.RequestID != "" {
		args = append(args, "request_id", event.RequestID)
	}
	for k, v := range event.Tags {
		args = append(args, k, v)
	}
	p.logger.InfoContext(ctx, string(event.Type), args...)
}

// MemoryPublisher collects events for test assertions.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Emit(ctx context.Context, event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, enrich(ctx, event))
}

// Events returns a copy of everything emitted so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// EventsOfType filters captured events by type.
func (p *MemoryPublisher) EventsOfType(t EventType) []Event {
	var out []Event
	for _, e := range p.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
