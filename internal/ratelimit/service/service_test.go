package service

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
	"kompetens/internal/ratelimit/models"
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

type RateLimitSuite struct {
	suite.Suite
	now     time.Time
	store   *cache.MemoryStore
	auditor *audit.MemoryPublisher
	sink    *monitoring.CaptureSink
	service *Service
}

func TestRateLimitSuite(t *testing.T) {
	suite.Run(t, new(RateLimitSuite))
}

func (s *RateLimitSuite) SetupTest() {
	s.now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.store = cache.NewMemoryStore(cache.WithClock(func() time.Time { return s.now }))
	s.auditor = audit.NewMemoryPublisher()
	s.sink = &monitoring.CaptureSink{}

	profiles := staticProfiles{
		"malmo_stad": {
			ID: "malmo_stad",
			RateLimits: tenantmodels.RateLimits{
				API:        1000,
				Validation: 200,
			},
			Active: true,
		},
		"ystad_kommun": {
			ID: "ystad_kommun",
			RateLimits: tenantmodels.RateLimits{
				API:        3,
				Validation: 2,
			},
			Active: true,
		},
	}

	svc, err := New(s.store, profiles, slog.Default(),
		WithAuditPublisher(s.auditor),
		WithSink(s.sink),
	)
	s.Require().NoError(err)
	s.service = svc
}

func (s *RateLimitSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *RateLimitSuite) TestAllowsUpToLimitThenRejects() {
	for i := 0; i < 3; i++ {
		result, err := s.service.CheckAndRecord(s.ctx(), models.ClassAPI, "ystad_kommun", "10.0.0.1")
		s.Require().NoError(err)
		s.True(result.Allowed, "request %d should be admitted", i+1)
		s.Equal(3, result.Limit)
		s.Equal(2-i, result.Remaining)
	}

	result, err := s.service.CheckAndRecord(s.ctx(), models.ClassAPI, "ystad_kommun", "10.0.0.1")
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Zero(result.Remaining)
	s.GreaterOrEqual(result.RetryAfter, time.Second)
	s.LessOrEqual(result.RetryAfter, time.Minute)

	events := s.auditor.EventsOfType(audit.EventRateLimitExceeded)
	s.Require().Len(events, 1)
	s.Equal("ystad_kommun", events[0].MunicipalityID)
	s.Equal("api", events[0].Tags["limit_class"])
}

func (s *RateLimitSuite) TestWindowSlides() {
	for i := 0; i < 3; i++ {
		result, err := s.service.CheckAndRecord(s.ctx(), models.ClassAPI, "ystad_kommun", "10.0.0.1")
		s.Require().NoError(err)
		s.True(result.Allowed)
	}
	result, err := s.service.CheckAndRecord(s.ctx(), models.ClassAPI, "ystad_kommun", "10.0.0.1")
	s.Require().NoError(err)
	s.False(result.Allowed)

	// Old entries age out once the window passes.
	s.now = s.now.Add(61 * time.Second)
	result, err = s.service.CheckAndRecord(s.ctx(), models.ClassAPI, "ystad_kommun", "10.0.0.1")
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(2, result.Remaining)
}

func (s *RateLimitSuite) TestIdentitiesHaveIndependentWindows() {
	for i := 0; i < 3; i++ {
		result, err := s.service.CheckAndRecord(s.ctx(), models.ClassAPI, "ystad_kommun", "10.0.0.1")
		s.Require().NoError(err)
		s.True(result.Allowed)
	}
	result, err := s.service.CheckAndRecord(s.ctx(), models.ClassAPI, "ystad_kommun", "10.0.0.2")
	s.Require().NoError(err)
	s.True(result.Allowed)

	// Classes are isolated too: validation has its own window.
	result, err = s.service.CheckAndRecord(s.ctx(), models.ClassValidation, "ystad_kommun", "10.0.0.1")
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(2, result.Limit)
}

func (s *RateLimitSuite) TestUnknownMunicipalityGetsDefaultBudget() {
	result, err := s.service.CheckAndRecord(s.ctx(), models.ClassAPI, "simrishamn_kommun", "10.0.0.1")
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(config.DefaultLimits().APIRequestsPerWindow, result.Limit)

	result, err = s.service.CheckAndRecord(s.ctx(), models.ClassValidation, "simrishamn_kommun", "10.0.0.1")
	s.Require().NoError(err)
	s.Equal(config.DefaultLimits().ValidationRequestsPerWindow, result.Limit)
}

func (s *RateLimitSuite) TestLargeMunicipalityBudget() {
	for i := 0; i < 1000; i++ {
		result, err := s.service.CheckAndRecord(s.ctx(), models.ClassAPI, "malmo_stad", "10.1.2.3")
		s.Require().NoError(err)
		s.Require().True(result.Allowed, "request %d should be admitted", i+1)
	}
	result, err := s.service.CheckAndRecord(s.ctx(), models.ClassAPI, "malmo_stad", "10.1.2.3")
	s.Require().NoError(err)
	s.False(result.Allowed)
}

func (s *RateLimitSuite) TestExplicitLimitOverridesProfile() {
	limit := models.Limit{MaxRequests: 1, Window: time.Minute}
	result, err := s.service.CheckAndRecordLimit(s.ctx(), models.ClassDevTeam, "malmo_stad", "key_abc", limit)
	s.Require().NoError(err)
	s.True(result.Allowed)

	result, err = s.service.CheckAndRecordLimit(s.ctx(), models.ClassDevTeam, "malmo_stad", "key_abc", limit)
	s.Require().NoError(err)
	s.False(result.Allowed)
}

func (s *RateLimitSuite) TestFailsOpenWhenStoreUnavailable() {
	svc, err := New(unavailableStore{}, nil, slog.Default(), WithSink(s.sink))
	s.Require().NoError(err)

	result, err := svc.CheckAndRecord(s.ctx(), models.ClassAPI, "malmo_stad", "10.0.0.1")
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.True(result.FailedOpen)
	s.Require().Len(s.sink.Errors, 1)
	s.Equal("ratelimit", s.sink.Errors[0].Component)
}

// unavailableStore simulates a cache outage. Only the first window operation
// is ever reached, so the embedded nil interface is never called.
type unavailableStore struct {
	cache.Store
}

func (unavailableStore) ZRemRangeByScore(context.Context, string, float64, float64) (int64, error) {
	return 0, fmt.Errorf("zremrangebyscore: %w", sentinel.ErrUnavailable)
}
