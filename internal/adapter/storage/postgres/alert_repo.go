package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"ledger-settlement-engine/internal/core/domain"

	"github.com/google/uuid"
)

const defaultAlertLimit = 50

// AlertRepo persists risk alerts.
type AlertRepo struct {
	pool Pool
}

// NewAlertRepo creates a PostgreSQL-backed alert repository.
func NewAlertRepo(pool Pool) *AlertRepo {
	return &AlertRepo{pool: pool}
}

func (r *AlertRepo) Create(ctx context.Context, alert *domain.RiskAlert) error {
	factors, err := json.Marshal(alert.Factors)
	if err != nil {
		return fmt.Errorf("encode factors: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO risk_alerts (id, client_ref, account_id, principal_id, decision, score, factors, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		alert.ID, alert.ClientRef, alert.AccountID, alert.PrincipalID,
		string(alert.Decision), alert.Score, factors, domain.NormalizeTime(alert.CreatedAt),
	)
	return storageErr("insert risk alert", err)
}

// ListByAccount returns the newest alerts first.
func (r *AlertRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.RiskAlert, error) {
	if limit <= 0 {
		limit = defaultAlertLimit
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, client_ref, account_id, principal_id, decision, score, factors, created_at
		 FROM risk_alerts WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, storageErr("list risk alerts", err)
	}
	defer rows.Close()

	var out []domain.RiskAlert
	for rows.Next() {
		var a domain.RiskAlert
		var decision string
		var factors []byte
		if err := rows.Scan(&a.ID, &a.ClientRef, &a.AccountID, &a.PrincipalID, &decision, &a.Score, &factors, &a.CreatedAt); err != nil {
			return nil, storageErr("scan risk alert", err)
		}
		a.Decision = domain.Decision(decision)
		a.CreatedAt = a.CreatedAt.UTC()
		if len(factors) > 0 {
			if err := json.Unmarshal(factors, &a.Factors); err != nil {
				return nil, fmt.Errorf("decode factors for alert %s: %w", a.ID, err)
			}
		}
		out = append(out, a)
	}
	return out, storageErr("list risk alerts", rows.Err())
}
