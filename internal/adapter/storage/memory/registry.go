package memory

import (
	"context"
	"sync"
	"time"

	"ledger-settlement-engine/internal/core/domain"
	"ledger-settlement-engine/internal/core/ports"
)

// Registry is an in-process IdempotencyRegistry guarded by a single mutex.
type Registry struct {
	mu          sync.Mutex
	records     map[string]*domain.IdempotencyRecord
	inFlightTTL time.Duration
	retention   time.Duration
	clock       ports.Clock
}

// NewRegistry creates a Registry. A nil clock uses the wall clock.
func NewRegistry(inFlightTTL, retention time.Duration, clock ports.Clock) *Registry {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Registry{
		records:     make(map[string]*domain.IdempotencyRecord),
		inFlightTTL: inFlightTTL,
		retention:   retention,
		clock:       clock,
	}
}

func (r *Registry) CheckAndReserve(ctx context.Context, key string) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()

	rec, ok := r.records[key]
	if ok && !rec.Reclaimable(now) {
		return &domain.Reservation{Status: rec.Status, Outcome: rec.Outcome}, nil
	}
	r.records[key] = &domain.IdempotencyRecord{
		Key:       key,
		Status:    domain.ReservationInFlight,
		ExpiresAt: now.Add(r.inFlightTTL),
		UpdatedAt: now,
	}
	return &domain.Reservation{Status: domain.ReservationNew}, nil
}

func (r *Registry) Complete(ctx context.Context, key string, outcome *domain.SettlementOutcome) error {
	r.finish(key, domain.ReservationCompleted, outcome)
	return nil
}

func (r *Registry) Fail(ctx context.Context, key string, outcome *domain.SettlementOutcome) error {
	r.finish(key, domain.ReservationFailed, outcome)
	return nil
}

func (r *Registry) finish(key string, status domain.ReservationStatus, outcome *domain.SettlementOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	r.records[key] = &domain.IdempotencyRecord{
		Key:       key,
		Status:    status,
		Outcome:   outcome,
		ExpiresAt: now.Add(r.retention),
		UpdatedAt: now,
	}
}

func (r *Registry) Purge(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	n := 0
	for key, rec := range r.records {
		if rec.Expired(now) {
			delete(r.records, key)
			n++
		}
	}
	return n, nil
}

// Len is the number of stored records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
