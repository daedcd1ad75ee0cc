package ports

import (
	"context"
	"iter"
	"time"

	"ledger-settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// LedgerStore is the system of record for accounts and entries.
// PostGroup is atomic: either every entry and balance change of the group is
// visible to readers or none of it is.
type LedgerStore interface {
	CreateAccount(ctx context.Context, account *domain.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	SetStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) (*domain.Account, error)

	PostGroup(ctx context.Context, group domain.PostingGroup) (*domain.LedgerGroup, error)
	GetGroup(ctx context.Context, id ulid.ULID) (*domain.LedgerGroup, error)
	// GetReversal returns the group that reversed id, or nil.
	GetReversal(ctx context.Context, id ulid.ULID) (*domain.LedgerGroup, error)

	GetBalance(ctx context.Context, id uuid.UUID) (*domain.Balance, error)
	// ListEntries yields entries ascending by (timestamp, id). Each range over the
	// sequence starts a fresh scan; pages are fetched lazily.
	ListEntries(ctx context.Context, accountID uuid.UUID, filter domain.EntryFilter, page domain.Page) iter.Seq2[domain.LedgerEntry, error]

	PlaceHold(ctx context.Context, accountID uuid.UUID, amount domain.Money, reference string) (*domain.Hold, error)
	ReleaseHold(ctx context.Context, holdID uuid.UUID) (*domain.Hold, error)

	// Aggregates cover committed entries only.
	SumByAccountType(ctx context.Context, asOf time.Time) ([]domain.AccountTypeTotal, error)
	SumByCategoryRange(ctx context.Context, start, end time.Time) ([]domain.CategoryTotal, error)
}

// IdempotencyRegistry deduplicates settlements per key.
type IdempotencyRegistry interface {
	// CheckAndReserve atomically reads the key and, when it is unknown, failed
	// or its in-flight lease lapsed, reserves it for the caller (status new).
	CheckAndReserve(ctx context.Context, key string) (*domain.Reservation, error)
	Complete(ctx context.Context, key string, outcome *domain.SettlementOutcome) error
	Fail(ctx context.Context, key string, outcome *domain.SettlementOutcome) error
	// Purge drops expired records and returns how many were removed.
	Purge(ctx context.Context) (int, error)
}

// ActivityStore keeps recent per-account activity for risk scoring.
type ActivityStore interface {
	Record(ctx context.Context, sample domain.ActivitySample) error
	History(ctx context.Context, accountID uuid.UUID, since time.Time) (*domain.RiskHistory, error)
}

// AlertRepository persists review and block decisions.
type AlertRepository interface {
	Create(ctx context.Context, alert *domain.RiskAlert) error
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.RiskAlert, error)
}

// AuditRepository persists operator audit entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// EventPublisher emits events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.Event) error
	Close() error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
