package ports

import (
	"context"
	"time"

	"ledger-settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// TokenService verifies the principal envelope issued by the identity provider.
type TokenService interface {
	Generate(principal domain.Principal) (string, time.Time, error)
	Validate(tokenString string) (*domain.Principal, error)
}

// --- Service Ports (Business Logic) ---

// SettlementService turns transaction requests into posted ledger groups.
//
// Submit returns an error without an outcome only when the request cannot be
// tied to a key (missing client reference) or another submission of the same
// key is still in flight. Every other result is a terminal outcome.
type SettlementService interface {
	Submit(ctx context.Context, principal domain.Principal, req domain.TransactionRequest) (*domain.SettlementOutcome, error)
	SubmitBatch(ctx context.Context, principal domain.Principal, reqs []domain.TransactionRequest) []BatchResult
	Reverse(ctx context.Context, principal domain.Principal, req ReversalRequest) (*domain.SettlementOutcome, error)
}

// BatchResult pairs each batch item with its outcome or error, in input order.
type BatchResult struct {
	Outcome *domain.SettlementOutcome
	Err     error
}

// ReversalRequest asks for a posted group to be undone.
type ReversalRequest struct {
	ClientRef string
	GroupID   ulid.ULID
}

// LedgerService exposes account administration and read access.
type LedgerService interface {
	OpenAccount(ctx context.Context, spec domain.NewAccountSpec) (*domain.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetBalance(ctx context.Context, id uuid.UUID) (*domain.Balance, error)
	ListEntries(ctx context.Context, params EntryListParams) (*EntryPage, error)
	GetGroup(ctx context.Context, id ulid.ULID) (*domain.LedgerGroup, error)
	Freeze(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	Unfreeze(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	Close(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	PlaceHold(ctx context.Context, accountID uuid.UUID, amount domain.Money, reference string) (*domain.Hold, error)
	ReleaseHold(ctx context.Context, holdID uuid.UUID) (*domain.Hold, error)
}

// EntryListParams holds filter + pagination for listing entries.
type EntryListParams struct {
	AccountID uuid.UUID
	Filter    domain.EntryFilter
	Limit     int
	After     *domain.EntryCursor
}

// EntryPage is one page of entries and the cursor of the next, if any.
type EntryPage struct {
	Entries []domain.LedgerEntry
	Next    *domain.EntryCursor
}

// AuditService records operator actions. Log must not block the caller.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// ReportingService derives financial statements from the ledger aggregates.
type ReportingService interface {
	AccountTypeTotals(ctx context.Context, asOf time.Time) ([]domain.AccountTypeTotal, error)
	CategoryTotals(ctx context.Context, start, end time.Time) ([]domain.CategoryTotal, error)
	TrialBalance(ctx context.Context, asOf time.Time) (*domain.TrialBalance, error)
	BalanceSheet(ctx context.Context, asOf time.Time, currency domain.Currency) (*domain.BalanceSheet, error)
	IncomeStatement(ctx context.Context, start, end time.Time, currency domain.Currency) (*domain.IncomeStatement, error)
}
