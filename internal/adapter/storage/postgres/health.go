package postgres

import (
	"context"
	"fmt"
)

// HealthCheck implements ports.HealthChecker for PostgreSQL. A schema behind
// the compiled-in migrations counts as unhealthy.
type HealthCheck struct {
	pool Pool
}

func NewHealthCheck(pool Pool) *HealthCheck {
	return &HealthCheck{pool: pool}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	var applied string
	err := h.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), '') FROM schema_migrations`).Scan(&applied)
	if err != nil {
		return fmt.Errorf("postgres schema version: %w", err)
	}
	if latest := LatestVersion(); applied < latest {
		return fmt.Errorf("postgres schema at %q, want %s", applied, latest)
	}
	return nil
}

func (h *HealthCheck) Name() string { return "postgresql" }

// LatestVersion is the version of the last known migration.
func LatestVersion() string {
	return Migrations[len(Migrations)-1].Version
}
