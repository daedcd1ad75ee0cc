package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ledger-settlement-engine/internal/core/domain"
	"ledger-settlement-engine/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

// IdempotencyRepo implements ports.IdempotencyRegistry. A reservation is an
// insert that loses to any existing row; the existing row is then inspected
// under FOR UPDATE so only one caller can reclaim a lapsed key.
type IdempotencyRepo struct {
	pool        Pool
	inFlightTTL time.Duration
	retention   time.Duration
	clock       ports.Clock
}

// NewIdempotencyRepo creates a new IdempotencyRepo.
func NewIdempotencyRepo(pool Pool, inFlightTTL, retention time.Duration, clock ports.Clock) *IdempotencyRepo {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &IdempotencyRepo{pool: pool, inFlightTTL: inFlightTTL, retention: retention, clock: clock}
}

func (r *IdempotencyRepo) CheckAndReserve(ctx context.Context, key string) (*domain.Reservation, error) {
	now := domain.NormalizeTime(r.clock.Now())
	expires := now.Add(r.inFlightTTL)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reserve: %w", err)
	}
	defer rollback(ctx, tx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO idempotency_records (key, status, expires_at, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO NOTHING`,
		key, string(domain.ReservationInFlight), expires, now)
	if err != nil {
		return nil, fmt.Errorf("insert idempotency record: %w", err)
	}
	if tag.RowsAffected() == 1 {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit reserve: %w", err)
		}
		return &domain.Reservation{Status: domain.ReservationNew}, nil
	}

	rec := &domain.IdempotencyRecord{Key: key}
	var status string
	var outcome []byte
	err = tx.QueryRow(ctx,
		`SELECT status, outcome, expires_at, updated_at FROM idempotency_records WHERE key = $1 FOR UPDATE`,
		key).Scan(&status, &outcome, &rec.ExpiresAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// purged between the insert and the select; the caller retries
			return nil, fmt.Errorf("idempotency record %s vanished", key)
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	rec.Status = domain.ReservationStatus(status)

	if rec.Reclaimable(now) {
		if _, err := tx.Exec(ctx,
			`UPDATE idempotency_records SET status = $1, outcome = NULL, expires_at = $2, updated_at = $3 WHERE key = $4`,
			string(domain.ReservationInFlight), expires, now, key); err != nil {
			return nil, fmt.Errorf("reclaim idempotency record: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit reclaim: %w", err)
		}
		return &domain.Reservation{Status: domain.ReservationNew}, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reserve: %w", err)
	}

	res := &domain.Reservation{Status: rec.Status}
	if len(outcome) > 0 {
		res.Outcome = &domain.SettlementOutcome{}
		if err := json.Unmarshal(outcome, res.Outcome); err != nil {
			return nil, fmt.Errorf("decode outcome for %s: %w", key, err)
		}
	}
	return res, nil
}

func (r *IdempotencyRepo) Complete(ctx context.Context, key string, outcome *domain.SettlementOutcome) error {
	return r.finish(ctx, key, domain.ReservationCompleted, outcome)
}

func (r *IdempotencyRepo) Fail(ctx context.Context, key string, outcome *domain.SettlementOutcome) error {
	return r.finish(ctx, key, domain.ReservationFailed, outcome)
}

func (r *IdempotencyRepo) finish(ctx context.Context, key string, status domain.ReservationStatus, outcome *domain.SettlementOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	now := domain.NormalizeTime(r.clock.Now())
	_, err = r.pool.Exec(ctx,
		`INSERT INTO idempotency_records (key, status, outcome, expires_at, updated_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET status = EXCLUDED.status, outcome = EXCLUDED.outcome,
			expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
		key, string(status), payload, now.Add(r.retention), now)
	if err != nil {
		return fmt.Errorf("store outcome: %w", err)
	}
	return nil
}

// Purge deletes expired records.
func (r *IdempotencyRepo) Purge(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`,
		domain.NormalizeTime(r.clock.Now()))
	if err != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
