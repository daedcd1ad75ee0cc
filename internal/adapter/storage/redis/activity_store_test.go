package redis_test

import (
	"context"
	"testing"
	"time"

	"ledger-settlement-engine/internal/adapter/storage/redis"
	"ledger-settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityStore_BoundedAndOrdered(t *testing.T) {
	mr, client := newTestClient(t)
	store := redis.NewActivityStore(client, 3, 24*time.Hour)
	ctx := context.Background()
	account := uuid.New()
	base := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

	for _, offset := range []int{4, 1, 3, 2, 5} {
		require.NoError(t, store.Record(ctx, domain.ActivitySample{
			ClientRef:  "tx",
			AccountID:  account,
			Amount:     int64(offset * 100),
			Currency:   "USD",
			Country:    "DE",
			OccurredAt: base.Add(time.Duration(offset) * time.Minute),
		}))
	}

	h, err := store.History(ctx, account, base)
	require.NoError(t, err)
	require.Equal(t, 3, h.Len())
	assert.Equal(t, []int64{300, 400, 500}, []int64{h.Samples[0].Amount, h.Samples[1].Amount, h.Samples[2].Amount})
	assert.True(t, h.SeenCountry("de"))
	assert.Equal(t, 24*time.Hour, mr.TTL("activity:"+account.String()))
}

func TestActivityStore_HistorySince(t *testing.T) {
	_, client := newTestClient(t)
	store := redis.NewActivityStore(client, 0, 0)
	ctx := context.Background()
	account := uuid.New()
	base := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		require.NoError(t, store.Record(ctx, domain.ActivitySample{
			ClientRef:  "tx",
			AccountID:  account,
			Amount:     int64(i),
			Currency:   "USD",
			OccurredAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	h, err := store.History(ctx, account, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, h.Len())
	assert.Equal(t, int64(2), h.Samples[0].Amount)
	assert.True(t, h.Samples[0].OccurredAt.Equal(base.Add(2*time.Hour)))

	empty, err := store.History(ctx, uuid.New(), base)
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}
