// Package ddos implements per-source-IP burst detection with escalation to a
// time-boxed block. It runs on a longer window than the sliding-window rate
// limiter and is independent of it: an IP hammering many tenants still trips
// the block even when each tenant window stays under budget.
package ddos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"kompetens/internal/audit"
	"kompetens/internal/monitoring"
	"kompetens/internal/platform/cache"
	"kompetens/internal/platform/config"
	tenantmodels "kompetens/internal/tenant/models"
	"kompetens/pkg/platform/sentinel"
	"kompetens/pkg/requestcontext"
)

// Decision is the outcome of a burst evaluation.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// ProfileSource resolves municipality profiles for threshold lookup.
type ProfileSource interface {
	Lookup(ctx context.Context, municipalityID string) (*tenantmodels.Municipality, error)
}

type Protector struct {
	store    cache.Store
	profiles ProfileSource
	defaults config.LimitDefaults
	auditor  audit.Publisher
	sink     monitoring.Sink
	logger   *slog.Logger
	tracer   trace.Tracer
}

type Option func(*Protector)

func WithAuditPublisher(p audit.Publisher) Option {
	return func(s *Protector) { s.auditor = p }
}

func WithSink(sink monitoring.Sink) Option {
	return func(s *Protector) { s.sink = sink }
}

func WithDefaults(d config.LimitDefaults) Option {
	return func(s *Protector) { s.defaults = d }
}

func New(store cache.Store, profiles ProfileSource, logger *slog.Logger, opts ...Option) (*Protector, error) {
	if store == nil {
		return nil, errors.New("cache store is required")
	}
	p := &Protector{
		store:    store,
		profiles: profiles,
		defaults: config.DefaultLimits(),
		sink:     monitoring.NopSink{},
		logger:   logger,
		tracer:   otel.Tracer("kompetens/ddos"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func blockKey(ip string) string  { return "blocked:" + ip }
func windowKey(ip string) string { return "ddos:window:" + ip }

// Evaluate checks whether ip is currently blocked, records the request into
// the burst window, and escalates to a block when the tenant's threshold is
// exceeded. Store failures fail open.
func (p *Protector) Evaluate(ctx context.Context, ip, municipalityID string) (*Decision, error) {
	ctx, span := p.tracer.Start(ctx, "ddos.evaluate", trace.WithAttributes(
		attribute.String("tenant.municipality", municipalityID),
	))
	defer span.End()

	now := requestcontext.Now(ctx)

	remaining, err := p.store.TTL(ctx, blockKey(ip))
	switch {
	case err == nil:
		// Block entry exists; retry-after is its remaining TTL, so repeated
		// probes see a decreasing value.
		p.sink.Record("ddos.blocked_request", 1, map[string]string{
			monitoring.TagMunicipality: municipalityID,
			monitoring.TagOutcome:      "blocked",
		})
		p.emit(ctx, audit.EventDDoSBlockedRequest, municipalityID, map[string]string{
			"ip":                  ip,
			"retry_after_seconds": fmt.Sprintf("%d", int(remaining.Seconds())),
		})
		return &Decision{Allowed: false, Reason: "ip_blocked", RetryAfter: remaining}, nil
	case errors.Is(err, sentinel.ErrNotFound):
		// Not blocked, continue to the burst counter.
	default:
		return p.failOpen(ctx, err), nil
	}

	threshold, window := p.thresholdFor(ctx, municipalityID)

	member := cache.Member{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d:%s", now.UnixMilli(), uuid.NewString()),
	}
	if err := p.store.ZAdd(ctx, windowKey(ip), member); err != nil {
		return p.failOpen(ctx, err), nil
	}
	if err := p.store.Expire(ctx, windowKey(ip), window); err != nil {
		p.sink.ReportError(ctx, "ddos", err)
	}
	if _, err := p.store.ZRemRangeByScore(ctx, windowKey(ip), 0, float64(now.Add(-window).UnixMilli())); err != nil {
		return p.failOpen(ctx, err), nil
	}
	count, err := p.store.ZCard(ctx, windowKey(ip))
	if err != nil {
		return p.failOpen(ctx, err), nil
	}

	if count > int64(threshold) {
		blockFor := p.defaults.DDoSBlockDuration
		if err := p.store.SetWithTTL(ctx, blockKey(ip), "1", blockFor); err != nil {
			// Could not persist the block; still reject this request.
			p.sink.ReportError(ctx, "ddos", err)
		}
		p.logger.WarnContext(ctx, "ddos block triggered",
			"ip", ip, "municipality", municipalityID,
			"threshold", threshold, "observed", count)
		p.sink.Record("ddos.block_triggered", 1, map[string]string{
			monitoring.TagMunicipality: municipalityID,
			monitoring.TagOutcome:      "blocked",
		})
		p.emit(ctx, audit.EventDDoSBlockTriggered, municipalityID, map[string]string{
			"ip":        ip,
			"threshold": fmt.Sprintf("%d", threshold),
			"observed":  fmt.Sprintf("%d", count),
		})
		return &Decision{Allowed: false, Reason: "burst_threshold_exceeded", RetryAfter: blockFor}, nil
	}

	return &Decision{Allowed: true}, nil
}

func (p *Protector) thresholdFor(ctx context.Context, municipalityID string) (int, time.Duration) {
	threshold, window := p.defaults.DDoSThreshold, p.defaults.DDoSWindow
	if p.profiles == nil {
		return threshold, window
	}
	profile, err := p.profiles.Lookup(ctx, municipalityID)
	if err != nil {
		return threshold, window
	}
	if profile.DDoSThreshold > 0 {
		threshold = profile.DDoSThreshold
	}
	if profile.DDoSWindow > 0 {
		window = profile.DDoSWindow
	}
	return threshold, window
}

func (p *Protector) failOpen(ctx context.Context, err error) *Decision {
	p.logger.ErrorContext(ctx, "ddos evaluation failed, failing open", "error", err)
	p.sink.ReportError(ctx, "ddos", err)
	return &Decision{Allowed: true}
}

func (p *Protector) emit(ctx context.Context, t audit.EventType, municipalityID string, tags map[string]string) {
	if p.auditor == nil {
		return
	}
	p.auditor.Emit(ctx, audit.Event{
		Type:           t,
		MunicipalityID: municipalityID,
		Tags:           tags,
	})
}
