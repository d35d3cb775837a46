package registry

import (
	"context"
	"fmt"
	"time"

	"kompetens/internal/tenant/models"
)

// tierDefaults maps a tier to its seed budgets. The DDoS threshold is a
// static per-tenant value, not derived from population figures; operators
// tune it per municipality through the admin update endpoint.
var tierDefaults = map[models.Tier]struct {
	limits        models.RateLimits
	ddosThreshold int
}{
	models.TierSmall:  {models.RateLimits{API: 200, Validation: 50}, 500},
	models.TierMedium: {models.RateLimits{API: 500, Validation: 100}, 1000},
	models.TierLarge:  {models.RateLimits{API: 1000, Validation: 200}, 2000},
}

// SeedEntry describes a municipality to register at startup.
type SeedEntry struct {
	ID          string
	DisplayName string
	Tier        models.Tier
}

// Seed registers the given municipalities with tier defaults, skipping any
// that already exist so restarts do not clobber admin updates.
func Seed(ctx context.Context, svc *Service, entries []SeedEntry, now time.Time) error {
	for _, e := range entries {
		if _, err := svc.Lookup(ctx, e.ID); err == nil {
			continue
		}
		defaults, ok := tierDefaults[e.Tier]
		if !ok {
			defaults = tierDefaults[models.TierSmall]
		}
		m, err := models.NewMunicipality(e.ID, e.DisplayName, e.Tier,
			defaults.limits, defaults.ddosThreshold, 5*time.Minute, now)
		if err != nil {
			return fmt.Errorf("seed %s: %w", e.ID, err)
		}
		if err := svc.Register(ctx, m); err != nil {
			return fmt.Errorf("seed %s: %w", e.ID, err)
		}
	}
	return nil
}

// DefaultSeed is the development registry.
func DefaultSeed() []SeedEntry {
	return []SeedEntry{
		{ID: "malmo_stad", DisplayName: "Malmö stad", Tier: models.TierLarge},
		{ID: "lund_kommun", DisplayName: "Lunds kommun", Tier: models.TierMedium},
		{ID: "ystad_kommun", DisplayName: "Ystads kommun", Tier: models.TierSmall},
	}
}
