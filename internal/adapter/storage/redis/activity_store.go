package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"ledger-settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// ActivityStore keeps recent samples per account in a sorted set scored by
// occurrence time (ms).
type ActivityStore struct {
	client     goredis.Cmdable
	prefix     string
	maxSamples int64
	ttl        time.Duration
}

// NewActivityStore creates a store keeping at most maxSamples per account.
// Idle accounts are dropped after ttl.
func NewActivityStore(client goredis.Cmdable, maxSamples int, ttl time.Duration) *ActivityStore {
	if maxSamples <= 0 {
		maxSamples = 500
	}
	return &ActivityStore{
		client:     client,
		prefix:     "activity:",
		maxSamples: int64(maxSamples),
		ttl:        ttl,
	}
}

func (s *ActivityStore) key(accountID uuid.UUID) string {
	return s.prefix + accountID.String()
}

func (s *ActivityStore) Record(ctx context.Context, sample domain.ActivitySample) error {
	member, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encode activity sample: %w", err)
	}
	key := s.key(sample.AccountID)
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, key, goredis.Z{Score: float64(sample.OccurredAt.UnixMilli()), Member: member})
		// drop everything but the newest maxSamples
		pipe.ZRemRangeByRank(ctx, key, 0, -s.maxSamples-1)
		if s.ttl > 0 {
			pipe.PExpire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis record activity: %w", err)
	}
	return nil
}

// History returns samples at or after since, oldest first.
func (s *ActivityStore) History(ctx context.Context, accountID uuid.UUID, since time.Time) (*domain.RiskHistory, error) {
	members, err := s.client.ZRangeByScore(ctx, s.key(accountID), &goredis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis activity history: %w", err)
	}

	h := &domain.RiskHistory{Samples: make([]domain.ActivitySample, 0, len(members))}
	for _, m := range members {
		var smp domain.ActivitySample
		if err := json.Unmarshal([]byte(m), &smp); err != nil {
			return nil, fmt.Errorf("decode activity sample: %w", err)
		}
		if smp.OccurredAt.Before(since) {
			continue // same millisecond, earlier microsecond
		}
		h.Samples = append(h.Samples, smp)
	}
	return h, nil
}
