package memory

import (
	"context"
	"sync"
	"time"

	"ledger-settlement-engine/internal/core/domain"

	"github.com/google/uuid"
)

const defaultMaxSamples = 500

// ActivityStore keeps the most recent samples per account in memory.
type ActivityStore struct {
	mu         sync.RWMutex
	samples    map[uuid.UUID][]domain.ActivitySample
	maxSamples int
}

// NewActivityStore creates an ActivityStore bounded to maxSamples per account.
func NewActivityStore(maxSamples int) *ActivityStore {
	if maxSamples <= 0 {
		maxSamples = defaultMaxSamples
	}
	return &ActivityStore{
		samples:    make(map[uuid.UUID][]domain.ActivitySample),
		maxSamples: maxSamples,
	}
}

func (s *ActivityStore) Record(ctx context.Context, sample domain.ActivitySample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.samples[sample.AccountID], sample)
	// keep ascending by time
	for i := len(list) - 1; i > 0 && list[i].OccurredAt.Before(list[i-1].OccurredAt); i-- {
		list[i], list[i-1] = list[i-1], list[i]
	}
	if len(list) > s.maxSamples {
		list = append([]domain.ActivitySample(nil), list[len(list)-s.maxSamples:]...)
	}
	s.samples[sample.AccountID] = list
	return nil
}

func (s *ActivityStore) History(ctx context.Context, accountID uuid.UUID, since time.Time) (*domain.RiskHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := &domain.RiskHistory{}
	for _, smp := range s.samples[accountID] {
		if !smp.OccurredAt.Before(since) {
			h.Samples = append(h.Samples, smp)
		}
	}
	return h, nil
}
