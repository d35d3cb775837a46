// Package gdpr orchestrates subject-rights requests over a municipality's
// cache namespace. Results are structured rather than thrown: automated
// compliance callers branch on Success instead of handling panics or errors.
package gdpr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"kompetens/internal/audit"
	"kompetens/internal/monitoring"
	dErrors "kompetens/pkg/domain-errors"
)

// Action is the subject-rights operation being performed.
type Action string

const (
	ActionExport Action = "export"
	ActionDelete Action = "delete"
)

// exportConcurrency bounds parallel reads against the shared store.
const exportConcurrency = 8

// Result is the structured outcome of a subject-rights request.
type Result struct {
	Success          bool              `json:"success"`
	Message          string            `json:"message,omitempty"`
	ExportedRecords  int               `json:"exported_records,omitempty"`
	Data             map[string]string `json:"data,omitempty"`
	DeletedCacheKeys int64             `json:"deleted_cache_keys,omitempty"`
}

// Namespace is the slice of the tenant namespace service the manager needs.
type Namespace interface {
	ListKeys(ctx context.Context, municipalityID string) ([]string, error)
	Get(ctx context.Context, municipalityID, key string) (string, error)
	Delete(ctx context.Context, municipalityID string, keys ...string) (int64, error)
	DeleteAll(ctx context.Context, municipalityID string) (int64, error)
}

type Manager struct {
	namespace Namespace
	auditor   audit.Publisher
	sink      monitoring.Sink
	logger    *slog.Logger
	tracer    trace.Tracer
}

type Option func(*Manager)

func WithAuditPublisher(p audit.Publisher) Option {
	return func(m *Manager) { m.auditor = p }
}

func WithSink(sink monitoring.Sink) Option {
	return func(m *Manager) { m.sink = sink }
}

func New(namespace Namespace, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if namespace == nil {
		return nil, errors.New("namespace service is required")
	}
	m := &Manager{
		namespace: namespace,
		sink:      monitoring.NopSink{},
		logger:    logger,
		tracer:    otel.Tracer("kompetens/gdpr"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ProcessRequest runs a subject-rights action for the municipality. When
// subjectID is set, only keys referencing that subject are touched. The
// compliance audit event is emitted regardless of outcome.
func (m *Manager) ProcessRequest(ctx context.Context, municipalityID string, action Action, subjectID string) (*Result, error) {
	ctx, span := m.tracer.Start(ctx, "gdpr.process", trace.WithAttributes(
		attribute.String("tenant.municipality", municipalityID),
		attribute.String("gdpr.action", string(action)),
	))
	defer span.End()

	var (
		result *Result
		err    error
	)
	switch action {
	case ActionExport:
		result = m.export(ctx, municipalityID, subjectID)
	case ActionDelete:
		result, err = m.delete(ctx, municipalityID, subjectID)
	default:
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown gdpr action %q", action)
	}

	eventType := audit.EventDataExport
	if action == ActionDelete {
		eventType = audit.EventDataDeletion
	}
	tags := map[string]string{
		"action":  string(action),
		"success": fmt.Sprintf("%t", err == nil && result != nil && result.Success),
	}
	if subjectID != "" {
		tags["subject"] = subjectID
	}
	if m.auditor != nil {
		m.auditor.Emit(ctx, audit.Event{
			Type:           eventType,
			MunicipalityID: municipalityID,
			Tags:           tags,
		})
	}
	return result, err
}

// export assembles every matching record. Listing or read failures come back
// as a structured failure, never an error.
func (m *Manager) export(ctx context.Context, municipalityID, subjectID string) *Result {
	keys, err := m.namespace.ListKeys(ctx, municipalityID)
	if err != nil {
		m.sink.ReportError(ctx, "gdpr", err)
		m.logger.ErrorContext(ctx, "gdpr export listing failed",
			"municipality", municipalityID, "error", err)
		return &Result{Success: false, Message: "Could not list municipality data"}
	}
	keys = filterSubject(keys, subjectID)

	var mu sync.Mutex
	data := make(map[string]string, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(exportConcurrency)
	for _, key := range keys {
		g.Go(func() error {
			value, err := m.namespace.Get(gctx, municipalityID, key)
			if err != nil {
				return fmt.Errorf("read %s: %w", key, err)
			}
			mu.Lock()
			data[key] = value
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.sink.ReportError(ctx, "gdpr", err)
		m.logger.ErrorContext(ctx, "gdpr export read failed",
			"municipality", municipalityID, "error", err)
		return &Result{Success: false, Message: "Could not read municipality data"}
	}

	return &Result{Success: true, ExportedRecords: len(data), Data: data}
}

func (m *Manager) delete(ctx context.Context, municipalityID, subjectID string) (*Result, error) {
	var (
		deleted int64
		err     error
	)
	if subjectID == "" {
		deleted, err = m.namespace.DeleteAll(ctx, municipalityID)
	} else {
		deleted, err = m.deleteSubject(ctx, municipalityID, subjectID)
	}
	if err != nil {
		// Deletion failures surface: a half-deleted namespace must not be
		// reported as compliant.
		m.sink.ReportError(ctx, "gdpr", err)
		return &Result{Success: false, Message: "Could not delete municipality data"}, err
	}
	m.logger.InfoContext(ctx, "gdpr deletion completed",
		"municipality", municipalityID, "deleted", deleted)
	return &Result{Success: true, DeletedCacheKeys: deleted}, nil
}

func (m *Manager) deleteSubject(ctx context.Context, municipalityID, subjectID string) (int64, error) {
	keys, err := m.namespace.ListKeys(ctx, municipalityID)
	if err != nil {
		return 0, err
	}
	keys = filterSubject(keys, subjectID)
	if len(keys) == 0 {
		return 0, nil
	}
	return m.namespace.Delete(ctx, municipalityID, keys...)
}

func filterSubject(keys []string, subjectID string) []string {
	sort.Strings(keys)
	if subjectID == "" {
		return keys
	}
	out := keys[:0]
	for _, k := range keys {
		if strings.Contains(k, subjectID) {
			out = append(out, k)
		}
	}
	return out
}
