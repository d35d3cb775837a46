package ddos

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kompetens/internal/audit"
	"kompetens/internal/monitoring"
	"kompetens/internal/platform/cache"
	"kompetens/internal/platform/config"
	tenantmodels "kompetens/internal/tenant/models"
	"kompetens/pkg/platform/sentinel"
	"kompetens/pkg/requestcontext"
)

type staticProfiles map[string]*tenantmodels.Municipality

func (p staticProfiles) Lookup(_ context.Context, id string) (*tenantmodels.Municipality, error) {
	if m, ok := p[id]; ok {
		return m, nil
	}
	return nil, sentinel.ErrNotFound
}

type DDoSSuite struct {
	suite.Suite
	now       time.Time
	store     *cache.MemoryStore
	auditor   *audit.MemoryPublisher
	sink      *monitoring.CaptureSink
	protector *Protector
}

func TestDDoSSuite(t *testing.T) {
	suite.Run(t, new(DDoSSuite))
}

func (s *DDoSSuite) SetupTest() {
	s.now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.store = cache.NewMemoryStore(cache.WithClock(func() time.Time { return s.now }))
	s.auditor = audit.NewMemoryPublisher()
	s.sink = &monitoring.CaptureSink{}

	profiles := staticProfiles{
		"ystad_kommun": {
			ID:            "ystad_kommun",
			DDoSThreshold: 5,
			DDoSWindow:    5 * time.Minute,
			Active:        true,
		},
	}

	protector, err := New(s.store, profiles, slog.Default(),
		WithAuditPublisher(s.auditor),
		WithSink(s.sink),
	)
	s.Require().NoError(err)
	s.protector = protector
}

func (s *DDoSSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *DDoSSuite) TestBlocksAfterThresholdExceeded() {
	const ip = "198.51.100.9"
	for i := 0; i < 5; i++ {
		decision, err := s.protector.Evaluate(s.ctx(), ip, "ystad_kommun")
		s.Require().NoError(err)
		s.Require().True(decision.Allowed, "request %d should pass", i+1)
	}

	decision, err := s.protector.Evaluate(s.ctx(), ip, "ystad_kommun")
	s.Require().NoError(err)
	s.False(decision.Allowed)
	s.Equal("burst_threshold_exceeded", decision.Reason)
	s.Equal(config.DefaultLimits().DDoSBlockDuration, decision.RetryAfter)

	events := s.auditor.EventsOfType(audit.EventDDoSBlockTriggered)
	s.Require().Len(events, 1)
	s.Equal("5", events[0].Tags["threshold"])
	s.Equal("6", events[0].Tags["observed"])
}

func (s *DDoSSuite) TestBlockPersistsWithDecreasingRetryAfter() {
	const ip = "198.51.100.9"
	for i := 0; i < 6; i++ {
		_, err := s.protector.Evaluate(s.ctx(), ip, "ystad_kommun")
		s.Require().NoError(err)
	}

	decision, err := s.protector.Evaluate(s.ctx(), ip, "ystad_kommun")
	s.Require().NoError(err)
	s.False(decision.Allowed)
	s.Equal("ip_blocked", decision.Reason)
	first := decision.RetryAfter

	s.now = s.now.Add(2 * time.Minute)
	decision, err = s.protector.Evaluate(s.ctx(), ip, "ystad_kommun")
	s.Require().NoError(err)
	s.False(decision.Allowed)
	s.Less(decision.RetryAfter, first, "retry-after should decrease as the block ages")

	s.Len(s.auditor.EventsOfType(audit.EventDDoSBlockedRequest), 2)
}

func (s *DDoSSuite) TestBlockExpires() {
	const ip = "198.51.100.9"
	for i := 0; i < 6; i++ {
		_, err := s.protector.Evaluate(s.ctx(), ip, "ystad_kommun")
		s.Require().NoError(err)
	}

	// Past the block duration and the burst window the IP is clean again.
	s.now = s.now.Add(16 * time.Minute)
	decision, err := s.protector.Evaluate(s.ctx(), ip, "ystad_kommun")
	s.Require().NoError(err)
	s.True(decision.Allowed)
}

func (s *DDoSSuite) TestUnknownTenantUsesDefaultThreshold() {
	const ip = "203.0.113.4"
	for i := 0; i < 50; i++ {
		decision, err := s.protector.Evaluate(s.ctx(), ip, "simrishamn_kommun")
		s.Require().NoError(err)
		s.Require().True(decision.Allowed, "default threshold is %d, request %d must pass",
			config.DefaultLimits().DDoSThreshold, i+1)
	}
}

func (s *DDoSSuite) TestIPsAreIndependent() {
	for i := 0; i < 6; i++ {
		_, err := s.protector.Evaluate(s.ctx(), "198.51.100.9", "ystad_kommun")
		s.Require().NoError(err)
	}
	decision, err := s.protector.Evaluate(s.ctx(), "198.51.100.10", "ystad_kommun")
	s.Require().NoError(err)
	s.True(decision.Allowed)
}

func (s *DDoSSuite) TestFailsOpenWhenStoreUnavailable() {
	protector, err := New(unavailableStore{}, nil, slog.Default(), WithSink(s.sink))
	s.Require().NoError(err)

	decision, err := protector.Evaluate(s.ctx(), "198.51.100.9", "ystad_kommun")
	s.Require().NoError(err)
	s.True(decision.Allowed)
	s.Require().Len(s.sink.Errors, 1)
	s.Equal("ddos", s.sink.Errors[0].Component)
}

type unavailableStore struct {
	cache.Store
}

func (unavailableStore) TTL(context.Context, string) (time.Duration, error) {
	return 0, fmt.Errorf("ttl: %w", sentinel.ErrUnavailable)
}
