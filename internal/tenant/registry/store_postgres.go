package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"kompetens/internal/tenant/models"
	"kompetens/pkg/platform/sentinel"
)

// PostgresStore persists municipality profiles in PostgreSQL. Schema:
//
//	CREATE TABLE municipalities (
//	    id              TEXT PRIMARY KEY,
//	    display_name    TEXT NOT NULL,
//	    tier            TEXT NOT NULL,
//	    api_limit       INT  NOT NULL,
//	    validation_limit INT NOT NULL,
//	    ddos_threshold  INT  NOT NULL,
//	    ddos_window_s   INT  NOT NULL,
//	    active          BOOLEAN NOT NULL DEFAULT TRUE,
//	    updated_at      TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Find(ctx context.Context, municipalityID string) (*models.Municipality, error) {
	query := `
		SELECT id, display_name, tier, api_limit, validation_limit,
		       ddos_threshold, ddos_window_s, active, updated_at
		FROM municipalities
		WHERE id = $1
	`
	var (
		m          models.Municipality
		windowSecs int
	)
	err := s.db.QueryRowContext(ctx, query, municipalityID).Scan(
		&m.ID, &m.DisplayName, &m.Tier,
		&m.RateLimits.API, &m.RateLimits.Validation,
		&m.DDoSThreshold, &windowSecs, &m.Active, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find municipality: %w", err)
	}
	m.DDoSWindow = time.Duration(windowSecs) * time.Second
	return &m, nil
}

func (s *PostgresStore) Put(ctx context.Context, m *models.Municipality) error {
	query := `
		INSERT INTO municipalities (id, display_name, tier, api_limit, validation_limit,
		                            ddos_threshold, ddos_window_s, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			tier = EXCLUDED.tier,
			api_limit = EXCLUDED.api_limit,
			validation_limit = EXCLUDED.validation_limit,
			ddos_threshold = EXCLUDED.ddos_threshold,
			ddos_window_s = EXCLUDED.ddos_window_s,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.DisplayName, string(m.Tier),
		m.RateLimits.API, m.RateLimits.Validation,
		m.DDoSThreshold, int(m.DDoSWindow.Seconds()), m.Active, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put municipality: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Municipality, error) {
	query := `
		SELECT id, display_name, tier, api_limit, validation_limit,
		       ddos_threshold, ddos_window_s, active, updated_at
		FROM municipalities
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list municipalities: %w", err)
	}
	defer rows.Close()

	var out []*models.Municipality
	for rows.Next() {
		var (
			m          models.Municipality
			windowSecs int
		)
		if err := rows.Scan(
			&m.ID, &m.DisplayName, &m.Tier,
			&m.RateLimits.API, &m.RateLimits.Validation,
			&m.DDoSThreshold, &windowSecs, &m.Active, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan municipality: %w", err)
		}
		m.DDoSWindow = time.Duration(windowSecs) * time.Second
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list municipalities: %w", err)
	}
	return out, nil
}
