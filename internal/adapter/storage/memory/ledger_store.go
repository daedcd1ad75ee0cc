package memory

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"ledger-settlement-engine/internal/core/domain"
	"ledger-settlement-engine/internal/core/ports"
	"ledger-settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// LedgerStore is an in-process LedgerStore. A single RWMutex is the commit
// boundary: PostGroup applies a whole group under the write lock, so readers
// never observe a partially applied group.
type LedgerStore struct {
	mu        sync.RWMutex
	accounts  map[uuid.UUID]*domain.Account
	groups    map[ulid.ULID]*domain.LedgerGroup
	reversals map[ulid.ULID]ulid.ULID
	byAccount map[uuid.UUID][]domain.LedgerEntry
	entries   []domain.LedgerEntry
	holds     map[uuid.UUID]*domain.Hold
	clock     ports.Clock
}

// NewLedgerStore creates an empty store. A nil clock uses the wall clock.
func NewLedgerStore(clock ports.Clock) *LedgerStore {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &LedgerStore{
		accounts:  make(map[uuid.UUID]*domain.Account),
		groups:    make(map[ulid.ULID]*domain.LedgerGroup),
		reversals: make(map[ulid.ULID]ulid.ULID),
		byAccount: make(map[uuid.UUID][]domain.LedgerEntry),
		holds:     make(map[uuid.UUID]*domain.Hold),
		clock:     clock,
	}
}

func (s *LedgerStore) now() time.Time {
	return domain.NormalizeTime(s.clock.Now())
}

func (s *LedgerStore) CreateAccount(ctx context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[account.ID]; exists {
		return apperror.Validation("account " + account.ID.String() + " already exists")
	}
	cp := *account
	s.accounts[account.ID] = &cp
	return nil
}

func (s *LedgerStore) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, apperror.ErrAccountNotFound(id.String())
	}
	cp := *acc
	return &cp, nil
}

func (s *LedgerStore) SetStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, apperror.ErrAccountNotFound(id.String())
	}
	if err := acc.CheckStatusChange(status); err != nil {
		return nil, err
	}
	acc.Status = status
	acc.UpdatedAt = s.now()
	cp := *acc
	return &cp, nil
}

func (s *LedgerStore) PostGroup(ctx context.Context, group domain.PostingGroup) (*domain.LedgerGroup, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperror.ErrCanceled(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if group.ReversalOf != nil {
		if _, ok := s.groups[*group.ReversalOf]; !ok {
			return nil, apperror.ErrGroupNotFound(group.ReversalOf.String())
		}
		if _, done := s.reversals[*group.ReversalOf]; done {
			return nil, apperror.ErrAlreadyReversed(group.ReversalOf.String())
		}
	}

	snapshot := make(map[uuid.UUID]*domain.Account, len(group.Lines))
	for _, l := range group.Lines {
		if acc, ok := s.accounts[l.AccountID]; ok {
			snapshot[l.AccountID] = acc
		}
	}
	plan, err := domain.PlanPosting(snapshot, group, ulid.Make(), s.now())
	if err != nil {
		return nil, err
	}

	// commit
	for _, acc := range plan.Accounts {
		s.accounts[acc.ID] = acc
	}
	for _, e := range plan.Group.Entries {
		s.byAccount[e.AccountID] = insertSorted(s.byAccount[e.AccountID], e)
		s.entries = append(s.entries, e)
	}
	s.groups[plan.Group.ID] = plan.Group
	if group.ReversalOf != nil {
		s.reversals[*group.ReversalOf] = plan.Group.ID
	}
	return copyGroup(plan.Group), nil
}

func insertSorted(list []domain.LedgerEntry, e domain.LedgerEntry) []domain.LedgerEntry {
	c := e.Cursor()
	i := sort.Search(len(list), func(i int) bool { return c.Before(list[i].Cursor()) })
	list = append(list, domain.LedgerEntry{})
	copy(list[i+1:], list[i:])
	list[i] = e
	return list
}

func copyGroup(g *domain.LedgerGroup) *domain.LedgerGroup {
	cp := *g
	cp.Entries = append([]domain.LedgerEntry(nil), g.Entries...)
	return &cp
}

func (s *LedgerStore) GetGroup(ctx context.Context, id ulid.ULID) (*domain.LedgerGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, apperror.ErrGroupNotFound(id.String())
	}
	return copyGroup(g), nil
}

func (s *LedgerStore) GetReversal(ctx context.Context, id ulid.ULID) (*domain.LedgerGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rid, ok := s.reversals[id]
	if !ok {
		return nil, nil
	}
	return copyGroup(s.groups[rid]), nil
}

func (s *LedgerStore) GetBalance(ctx context.Context, id uuid.UUID) (*domain.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, apperror.ErrAccountNotFound(id.String())
	}
	b := acc.Snapshot()
	return &b, nil
}

func (s *LedgerStore) ListEntries(ctx context.Context, accountID uuid.UUID, filter domain.EntryFilter, page domain.Page) iter.Seq2[domain.LedgerEntry, error] {
	return func(yield func(domain.LedgerEntry, error) bool) {
		after := page.After
		size := page.SizeOrDefault()
		for {
			if err := ctx.Err(); err != nil {
				yield(domain.LedgerEntry{}, apperror.ErrCanceled(err))
				return
			}
			batch, err := s.entryPage(accountID, filter, after, size)
			if err != nil {
				yield(domain.LedgerEntry{}, err)
				return
			}
			for _, e := range batch {
				if !yield(e, nil) {
					return
				}
			}
			if len(batch) < size {
				return
			}
			c := batch[len(batch)-1].Cursor()
			after = &c
		}
	}
}

func (s *LedgerStore) entryPage(accountID uuid.UUID, filter domain.EntryFilter, after *domain.EntryCursor, size int) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[accountID]; !ok {
		return nil, apperror.ErrAccountNotFound(accountID.String())
	}
	list := s.byAccount[accountID]
	start := 0
	if after != nil {
		start = sort.Search(len(list), func(i int) bool { return after.Before(list[i].Cursor()) })
	}
	out := make([]domain.LedgerEntry, 0, size)
	for _, e := range list[start:] {
		if !filter.Match(e) {
			continue
		}
		out = append(out, e)
		if len(out) == size {
			break
		}
	}
	return out, nil
}

func (s *LedgerStore) PlaceHold(ctx context.Context, accountID uuid.UUID, amount domain.Money, reference string) (*domain.Hold, error) {
	if !amount.IsPositive() {
		return nil, apperror.Validation("hold amount must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return nil, apperror.ErrAccountNotFound(accountID.String())
	}
	if err := acc.CheckHold(amount); err != nil {
		return nil, err
	}
	now := s.now()
	acc.Held += amount.Amount
	acc.UpdatedAt = now
	h := &domain.Hold{
		ID:        uuid.New(),
		AccountID: accountID,
		Amount:    amount,
		Reference: reference,
		CreatedAt: now,
	}
	s.holds[h.ID] = h
	cp := *h
	return &cp, nil
}

func (s *LedgerStore) ReleaseHold(ctx context.Context, holdID uuid.UUID) (*domain.Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok || h.ReleasedAt != nil {
		return nil, apperror.ErrHoldNotFound(holdID.String())
	}
	now := s.now()
	if acc, ok := s.accounts[h.AccountID]; ok {
		acc.Held -= h.Amount.Amount
		acc.UpdatedAt = now
	}
	h.ReleasedAt = &now
	cp := *h
	return &cp, nil
}

func (s *LedgerStore) SumByAccountType(ctx context.Context, asOf time.Time) ([]domain.AccountTypeTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct {
		typ domain.AccountType
		cur domain.Currency
	}
	totals := make(map[key]*domain.AccountTypeTotal)
	for _, e := range s.entries {
		if !asOf.IsZero() && e.CreatedAt.After(asOf) {
			continue
		}
		acc := s.accounts[e.AccountID]
		k := key{acc.Type, e.Amount.Currency}
		t, ok := totals[k]
		if !ok {
			t = &domain.AccountTypeTotal{Type: k.typ, Currency: k.cur}
			totals[k] = t
		}
		addEntry(&t.Debits, &t.Credits, e)
	}

	out := make([]domain.AccountTypeTotal, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Currency < out[j].Currency
	})
	return out, nil
}

// SumByCategoryRange totals entries with start <= created_at < end.
func (s *LedgerStore) SumByCategoryRange(ctx context.Context, start, end time.Time) ([]domain.CategoryTotal, error) {
	if !end.IsZero() && end.Before(start) {
		return nil, apperror.Validation("end must not be before start")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct {
		category string
		typ      domain.AccountType
		cur      domain.Currency
	}
	totals := make(map[key]*domain.CategoryTotal)
	for _, e := range s.entries {
		if !(domain.EntryFilter{From: start, To: end}).Match(e) {
			continue
		}
		acc := s.accounts[e.AccountID]
		k := key{acc.Category, acc.Type, e.Amount.Currency}
		t, ok := totals[k]
		if !ok {
			t = &domain.CategoryTotal{Category: k.category, Type: k.typ, Currency: k.cur}
			totals[k] = t
		}
		addEntry(&t.Debits, &t.Credits, e)
	}

	out := make([]domain.CategoryTotal, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Currency < out[j].Currency
	})
	return out, nil
}

func addEntry(debits, credits *int64, e domain.LedgerEntry) {
	if e.Direction == domain.DirectionDebit {
		*debits += e.Amount.Amount
	} else {
		*credits += e.Amount.Amount
	}
}
