package memory

import (
	"context"
	"sync"

	"ledger-settlement-engine/internal/core/domain"

	"github.com/google/uuid"
)

// AlertRepo stores risk alerts in memory, newest last.
type AlertRepo struct {
	mu     sync.RWMutex
	alerts []domain.RiskAlert
}

func NewAlertRepo() *AlertRepo {
	return &AlertRepo{}
}

func (r *AlertRepo) Create(ctx context.Context, alert *domain.RiskAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, *alert)
	return nil
}

// ListByAccount returns the newest alerts first.
func (r *AlertRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.RiskAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.RiskAlert
	for i := len(r.alerts) - 1; i >= 0; i-- {
		if r.alerts[i].AccountID != accountID {
			continue
		}
		out = append(out, r.alerts[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// All returns every alert, oldest first.
func (r *AlertRepo) All() []domain.RiskAlert {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.RiskAlert(nil), r.alerts...)
}
