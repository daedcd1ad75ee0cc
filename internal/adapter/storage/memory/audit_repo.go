package memory

import (
	"context"
	"sync"

	"ledger-settlement-engine/internal/core/domain"
)

// AuditRepo keeps audit entries in memory.
type AuditRepo struct {
	mu      sync.RWMutex
	entries []domain.AuditLog
}

func NewAuditRepo() *AuditRepo {
	return &AuditRepo{}
}

func (r *AuditRepo) Create(ctx context.Context, log *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *log)
	return nil
}

// All returns every entry, oldest first.
func (r *AuditRepo) All() []domain.AuditLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.AuditLog(nil), r.entries...)
}
