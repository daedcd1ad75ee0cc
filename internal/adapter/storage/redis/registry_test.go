package redis_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ledger-settlement-engine/internal/adapter/storage/redis"
	"ledger-settlement-engine/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Lifecycle(t *testing.T) {
	_, client := newTestClient(t)
	reg := redis.NewRegistry(client, time.Minute, time.Hour, newTestClock())
	ctx := context.Background()

	res, err := reg.CheckAndReserve(ctx, "alice:tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationNew, res.Status)

	res, err = reg.CheckAndReserve(ctx, "alice:tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationInFlight, res.Status)
	assert.Nil(t, res.Outcome)

	outcome := &domain.SettlementOutcome{ClientRef: "tx-1", Status: domain.StateCompleted, States: []domain.SettlementState{domain.StateCompleted}}
	require.NoError(t, reg.Complete(ctx, "alice:tx-1", outcome))

	res, err = reg.CheckAndReserve(ctx, "alice:tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationCompleted, res.Status)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, outcome.ClientRef, res.Outcome.ClientRef)
	assert.Equal(t, outcome.States, res.Outcome.States)
}

func TestRegistry_FailedKeyIsReclaimable(t *testing.T) {
	_, client := newTestClient(t)
	reg := redis.NewRegistry(client, time.Minute, time.Hour, newTestClock())
	ctx := context.Background()

	_, err := reg.CheckAndReserve(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, reg.Fail(ctx, "k", &domain.SettlementOutcome{Status: domain.StateFailed}))

	res, err := reg.CheckAndReserve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationNew, res.Status)
}

func TestRegistry_LapsedLeaseIsReclaimed(t *testing.T) {
	_, client := newTestClient(t)
	clock := newTestClock()
	reg := redis.NewRegistry(client, time.Minute, time.Hour, clock)
	ctx := context.Background()

	_, err := reg.CheckAndReserve(ctx, "k")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	res, err := reg.CheckAndReserve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationNew, res.Status)
}

func TestRegistry_RecordsExpireNatively(t *testing.T) {
	mr, client := newTestClient(t)
	reg := redis.NewRegistry(client, time.Minute, time.Hour, newTestClock())
	ctx := context.Background()

	_, err := reg.CheckAndReserve(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, reg.Complete(ctx, "k", &domain.SettlementOutcome{Status: domain.StateCompleted}))
	assert.Equal(t, time.Hour, mr.TTL("idempotency:k"))

	mr.FastForward(time.Hour)
	assert.False(t, mr.Exists("idempotency:k"))

	n, err := reg.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegistry_ConcurrentReserveHasOneWinner(t *testing.T) {
	_, client := newTestClient(t)
	reg := redis.NewRegistry(client, time.Minute, time.Hour, newTestClock())

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := reg.CheckAndReserve(context.Background(), "race")
			if err == nil && res.Status == domain.ReservationNew {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestRegistry_RedisDown(t *testing.T) {
	mr, client := newTestClient(t)
	reg := redis.NewRegistry(client, time.Minute, time.Hour, newTestClock())
	mr.Close()

	_, err := reg.CheckAndReserve(context.Background(), "k")
	assert.Error(t, err)
}
