package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ledger-settlement-engine/internal/core/domain"
	"ledger-settlement-engine/internal/core/ports"

	goredis "github.com/redis/go-redis/v9"
)

// reserveScript takes over a key unless it holds a completed record or a live
// in-flight lease. Records are hashes {status, outcome, expires_at(ms)}.
//
// KEYS[1] key, ARGV[1] now ms, ARGV[2] lease expiry ms, ARGV[3] lease ttl ms
var reserveScript = goredis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status then
  local exp = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
  if status ~= 'failed' and exp and exp > tonumber(ARGV[1]) then
    return {status, redis.call('HGET', KEYS[1], 'outcome') or ''}
  end
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'status', 'in_flight', 'expires_at', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return {'new', ''}
`)

// Registry implements ports.IdempotencyRegistry on Redis. Reservation is a
// single Lua script, so concurrent callers on one key are serialized by Redis.
type Registry struct {
	client      goredis.Cmdable
	prefix      string
	inFlightTTL time.Duration
	retention   time.Duration
	clock       ports.Clock
}

// NewRegistry creates a Redis-backed idempotency registry.
func NewRegistry(client goredis.Cmdable, inFlightTTL, retention time.Duration, clock ports.Clock) *Registry {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Registry{
		client:      client,
		prefix:      "idempotency:",
		inFlightTTL: inFlightTTL,
		retention:   retention,
		clock:       clock,
	}
}

func (r *Registry) CheckAndReserve(ctx context.Context, key string) (*domain.Reservation, error) {
	now := r.clock.Now()
	res, err := reserveScript.Run(ctx, r.client, []string{r.prefix + key},
		now.UnixMilli(), now.Add(r.inFlightTTL).UnixMilli(), r.inFlightTTL.Milliseconds()).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("redis reserve %s: %w", key, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("redis reserve %s: unexpected reply %v", key, res)
	}

	reservation := &domain.Reservation{Status: domain.ReservationStatus(res[0])}
	if res[1] != "" {
		reservation.Outcome = &domain.SettlementOutcome{}
		if err := json.Unmarshal([]byte(res[1]), reservation.Outcome); err != nil {
			return nil, fmt.Errorf("decode outcome for %s: %w", key, err)
		}
	}
	return reservation, nil
}

func (r *Registry) Complete(ctx context.Context, key string, outcome *domain.SettlementOutcome) error {
	return r.finish(ctx, key, domain.ReservationCompleted, outcome)
}

func (r *Registry) Fail(ctx context.Context, key string, outcome *domain.SettlementOutcome) error {
	return r.finish(ctx, key, domain.ReservationFailed, outcome)
}

func (r *Registry) finish(ctx context.Context, key string, status domain.ReservationStatus, outcome *domain.SettlementOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	redisKey := r.prefix + key
	expires := r.clock.Now().Add(r.retention)
	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, redisKey, "status", string(status), "outcome", payload, "expires_at", expires.UnixMilli())
		pipe.PExpire(ctx, redisKey, r.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store outcome %s: %w", key, err)
	}
	return nil
}

// Purge is a no-op: records carry a Redis TTL and expire on their own.
func (r *Registry) Purge(ctx context.Context) (int, error) {
	return 0, nil
}
