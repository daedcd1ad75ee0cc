package postgres

import (
	"context"

	"ledger-settlement-engine/internal/core/domain"
	"ledger-settlement-engine/internal/core/ports"
)

type auditRepo struct {
	pool Pool
}

// NewAuditRepository creates a PostgreSQL-backed AuditRepository.
func NewAuditRepository(pool Pool) ports.AuditRepository {
	return &auditRepo{pool: pool}
}

func (r *auditRepo) Create(ctx context.Context, log *domain.AuditLog) error {
	var details any
	if log.Details != "" {
		details = log.Details
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_logs (id, principal_id, action, resource_type, resource_id, details, ip_address, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		log.ID, log.PrincipalID, string(log.Action), log.ResourceType,
		log.ResourceID, details, log.IPAddress, domain.NormalizeTime(log.CreatedAt),
	)
	return storageErr("insert audit log", err)
}
