package service

import (
	"context"
	"strings"

	"ledger-settlement-engine/internal/core/domain"
	"ledger-settlement-engine/internal/core/ports"
	"ledger-settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const maxEntryPageSize = 500

type ledgerService struct {
	store ports.LedgerStore
	clock ports.Clock
}

// NewLedgerService creates the account administration and read service.
func NewLedgerService(store ports.LedgerStore, clock ports.Clock) ports.LedgerService {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &ledgerService{store: store, clock: clock}
}

func (s *ledgerService) OpenAccount(ctx context.Context, spec domain.NewAccountSpec) (*domain.Account, error) {
	typ := domain.AccountType(strings.ToLower(strings.TrimSpace(string(spec.Type))))
	if !typ.Valid() {
		return nil, apperror.Validation("invalid account type: must be asset, liability, equity, revenue or expense")
	}
	currency, err := domain.ParseCurrency(spec.Currency)
	if err != nil {
		return nil, err
	}
	category := strings.TrimSpace(spec.Category)
	if category == "" {
		category = string(typ)
	}

	now := domain.NormalizeTime(s.clock.Now())
	acc := &domain.Account{
		ID:             uuid.New(),
		OwnerRef:       strings.TrimSpace(spec.OwnerRef),
		Type:           typ,
		Category:       category,
		Currency:       currency,
		Status:         domain.AccountStatusActive,
		AllowOverdraft: spec.AllowOverdraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateAccount(ctx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *ledgerService) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.store.GetAccount(ctx, id)
}

func (s *ledgerService) GetBalance(ctx context.Context, id uuid.UUID) (*domain.Balance, error) {
	return s.store.GetBalance(ctx, id)
}

// ListEntries returns one page. One extra entry is read to tell whether a
// next page exists.
func (s *ledgerService) ListEntries(ctx context.Context, params ports.EntryListParams) (*ports.EntryPage, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = domain.DefaultPageSize
	}
	if limit > maxEntryPageSize {
		limit = maxEntryPageSize
	}
	if params.Filter.Direction != "" && !params.Filter.Direction.Valid() {
		return nil, apperror.Validation("direction must be debit or credit")
	}
	if !params.Filter.From.IsZero() && !params.Filter.To.IsZero() && params.Filter.To.Before(params.Filter.From) {
		return nil, apperror.Validation("to must not be before from")
	}

	page := &ports.EntryPage{Entries: make([]domain.LedgerEntry, 0, limit)}
	seq := s.store.ListEntries(ctx, params.AccountID, params.Filter, domain.Page{Size: limit + 1, After: params.After})
	for e, err := range seq {
		if err != nil {
			return nil, err
		}
		if len(page.Entries) == limit {
			c := page.Entries[limit-1].Cursor()
			page.Next = &c
			break
		}
		page.Entries = append(page.Entries, e)
	}
	return page, nil
}

func (s *ledgerService) GetGroup(ctx context.Context, id ulid.ULID) (*domain.LedgerGroup, error) {
	return s.store.GetGroup(ctx, id)
}

func (s *ledgerService) Freeze(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.store.SetStatus(ctx, id, domain.AccountStatusFrozen)
}

func (s *ledgerService) Unfreeze(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.store.SetStatus(ctx, id, domain.AccountStatusActive)
}

// Close is final. The account must have a zero balance and no open holds.
func (s *ledgerService) Close(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.store.SetStatus(ctx, id, domain.AccountStatusClosed)
}

func (s *ledgerService) PlaceHold(ctx context.Context, accountID uuid.UUID, amount domain.Money, reference string) (*domain.Hold, error) {
	if !amount.IsPositive() {
		return nil, apperror.Validation("hold amount must be positive")
	}
	return s.store.PlaceHold(ctx, accountID, amount, strings.TrimSpace(reference))
}

func (s *ledgerService) ReleaseHold(ctx context.Context, holdID uuid.UUID) (*domain.Hold, error) {
	return s.store.ReleaseHold(ctx, holdID)
}
