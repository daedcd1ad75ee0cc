package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"ledger-settlement-engine/internal/core/domain"
	"ledger-settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func openAccount(t *testing.T, s *LedgerStore, typ domain.AccountType, category string, overdraft bool) *domain.Account {
	t.Helper()
	acc := &domain.Account{
		ID:             uuid.New(),
		Type:           typ,
		Category:       category,
		Currency:       "USD",
		Status:         domain.AccountStatusActive,
		AllowOverdraft: overdraft,
	}
	require.NoError(t, s.CreateAccount(context.Background(), acc))
	return acc
}

func transfer(from, to uuid.UUID, amount int64) domain.PostingGroup {
	return domain.PostingGroup{
		Type: domain.TransactionTypeTransfer,
		Lines: []domain.PostingLine{
			{AccountID: from, Direction: domain.DirectionDebit, Amount: domain.MustMoney(amount, "USD")},
			{AccountID: to, Direction: domain.DirectionCredit, Amount: domain.MustMoney(amount, "USD")},
		},
	}
}

// fund debits the clearing asset and credits a liability account.
func fund(t *testing.T, s *LedgerStore, clearing, to uuid.UUID, amount int64) {
	t.Helper()
	_, err := s.PostGroup(context.Background(), transfer(clearing, to, amount))
	require.NoError(t, err)
}

func TestLedgerStore_TransferScenario(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore(newTestClock())
	clearing := openAccount(t, s, domain.AccountTypeAsset, "clearing", true)
	a := openAccount(t, s, domain.AccountTypeLiability, "customer", false)
	b := openAccount(t, s, domain.AccountTypeLiability, "customer", false)
	fund(t, s, clearing.ID, a.ID, 10000)

	g, err := s.PostGroup(ctx, transfer(a.ID, b.ID, 4000))
	require.NoError(t, err)
	require.Len(t, g.Entries, 2)

	balA, err := s.GetBalance(ctx, a.ID)
	require.NoError(t, err)
	balB, err := s.GetBalance(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), balA.Current.Amount)
	assert.Equal(t, int64(4000), balB.Current.Amount)

	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g, got)
}

func TestLedgerStore_FailedPostLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore(newTestClock())
	a := openAccount(t, s, domain.AccountTypeLiability, "customer", false)
	b := openAccount(t, s, domain.AccountTypeLiability, "customer", false)

	_, err := s.PostGroup(ctx, transfer(a.ID, b.ID, 1))
	assert.Equal(t, apperror.KindInsufficientFunds, apperror.KindOf(err))

	for e, err := range s.ListEntries(ctx, b.ID, domain.EntryFilter{}, domain.Page{}) {
		require.NoError(t, err)
		t.Fatalf("unexpected entry %v", e.ID)
	}
	bal, err := s.GetBalance(ctx, b.ID)
	require.NoError(t, err)
	assert.Zero(t, bal.Current.Amount)
}

func TestLedgerStore_BalanceEqualsSignedEntrySum(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	s := NewLedgerStore(clock)
	clearing := openAccount(t, s, domain.AccountTypeAsset, "clearing", true)
	a := openAccount(t, s, domain.AccountTypeLiability, "customer", false)
	b := openAccount(t, s, domain.AccountTypeLiability, "customer", false)

	fund(t, s, clearing.ID, a.ID, 5000)
	for i := 0; i < 20; i++ {
		clock.Advance(time.Second)
		from, to := a.ID, b.ID
		if i%3 == 0 {
			from, to = b.ID, a.ID
		}
		_, _ = s.PostGroup(ctx, transfer(from, to, int64(100+i)))
	}

	for _, acc := range []*domain.Account{clearing, a, b} {
		stored, err := s.GetAccount(ctx, acc.ID)
		require.NoError(t, err)
		var sum int64
		for e, err := range s.ListEntries(ctx, acc.ID, domain.EntryFilter{}, domain.Page{Size: 3}) {
			require.NoError(t, err)
			sum += stored.Delta(e.Direction, e.Amount.Amount)
		}
		assert.Equal(t, stored.Balance, sum, "account %s", acc.Category)
	}
}

func TestLedgerStore_ListEntriesPagination(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	s := NewLedgerStore(clock)
	clearing := openAccount(t, s, domain.AccountTypeAsset, "clearing", true)
	a := openAccount(t, s, domain.AccountTypeLiability, "customer", false)

	start := clock.Now()
	for i := 0; i < 7; i++ {
		fund(t, s, clearing.ID, a.ID, int64(i+1))
		clock.Advance(time.Minute)
	}

	collect := func(filter domain.EntryFilter, page domain.Page) []int64 {
		var out []int64
		for e, err := range s.ListEntries(ctx, a.ID, filter, page) {
			require.NoError(t, err)
			out = append(out, e.Amount.Amount)
		}
		return out
	}

	seq := s.ListEntries(ctx, a.ID, domain.EntryFilter{}, domain.Page{Size: 2})
	var first []int64
	for e, err := range seq {
		require.NoError(t, err)
		first = append(first, e.Amount.Amount)
	}
	var second []int64
	for e, err := range seq {
		require.NoError(t, err)
		second = append(second, e.Amount.Amount)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7}, first)
	assert.Equal(t, first, second)

	assert.Equal(t, []int64{3, 4}, collect(domain.EntryFilter{From: start.Add(2 * time.Minute), To: start.Add(4 * time.Minute)}, domain.Page{Size: 1}))
	assert.Empty(t, collect(domain.EntryFilter{Direction: domain.DirectionDebit}, domain.Page{}))

	// early break stops the scan
	n := 0
	for range seq {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestLedgerStore_ListEntriesUnknownAccount(t *testing.T) {
	s := NewLedgerStore(nil)
	for _, err := range s.ListEntries(context.Background(), uuid.New(), domain.EntryFilter{}, domain.Page{}) {
		assert.Equal(t, apperror.KindAccountNotFound, apperror.KindOf(err))
	}
}

func TestLedgerStore_Holds(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore(newTestClock())
	clearing := openAccount(t, s, domain.AccountTypeAsset, "clearing", true)
	a := openAccount(t, s, domain.AccountTypeLiability, "customer", false)
	b := openAccount(t, s, domain.AccountTypeLiability, "customer", false)
	fund(t, s, clearing.ID, a.ID, 1000)

	h, err := s.PlaceHold(ctx, a.ID, domain.MustMoney(600, "USD"), "auth-1")
	require.NoError(t, err)

	bal, err := s.GetBalance(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal.Current.Amount)
	assert.Equal(t, int64(400), bal.Available.Amount)

	_, err = s.PlaceHold(ctx, a.ID, domain.MustMoney(401, "USD"), "auth-2")
	assert.Equal(t, apperror.KindInsufficientFunds, apperror.KindOf(err))

	_, err = s.PostGroup(ctx, transfer(a.ID, b.ID, 401))
	assert.Equal(t, apperror.KindInsufficientFunds, apperror.KindOf(err))

	_, err = s.ReleaseHold(ctx, h.ID)
	require.NoError(t, err)
	_, err = s.ReleaseHold(ctx, h.ID)
	assert.Equal(t, apperror.KindHoldNotFound, apperror.KindOf(err))

	_, err = s.PostGroup(ctx, transfer(a.ID, b.ID, 1000))
	assert.NoError(t, err)
}

func TestLedgerStore_StatusRules(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore(newTestClock())
	clearing := openAccount(t, s, domain.AccountTypeAsset, "clearing", true)
	a := openAccount(t, s, domain.AccountTypeLiability, "customer", false)
	b := openAccount(t, s, domain.AccountTypeLiability, "customer", false)
	fund(t, s, clearing.ID, a.ID, 1000)

	g, err := s.PostGroup(ctx, transfer(a.ID, b.ID, 100))
	require.NoError(t, err)

	_, err = s.SetStatus(ctx, a.ID, domain.AccountStatusFrozen)
	require.NoError(t, err)

	_, err = s.PostGroup(ctx, transfer(a.ID, b.ID, 100))
	assert.Equal(t, apperror.KindAccountFrozen, apperror.KindOf(err))

	// reversals are allowed on frozen accounts, once
	rev, err := s.PostGroup(ctx, g.Mirror("rev-1"))
	require.NoError(t, err)
	got, err := s.GetReversal(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, rev.ID, got.ID)
	_, err = s.PostGroup(ctx, g.Mirror("rev-2"))
	assert.Equal(t, apperror.KindAlreadyReversed, apperror.KindOf(err))

	_, err = s.SetStatus(ctx, a.ID, domain.AccountStatusClosed)
	assert.Equal(t, apperror.KindInvalidRequest, apperror.KindOf(err))

	_, err = s.SetStatus(ctx, b.ID, domain.AccountStatusClosed)
	require.NoError(t, err)
	_, err = s.SetStatus(ctx, b.ID, domain.AccountStatusActive)
	assert.Equal(t, apperror.KindAccountClosed, apperror.KindOf(err))
	_, err = s.PostGroup(ctx, transfer(clearing.ID, b.ID, 1))
	assert.Equal(t, apperror.KindAccountClosed, apperror.KindOf(err))
}

func TestLedgerStore_Aggregates(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	s := NewLedgerStore(clock)
	clearing := openAccount(t, s, domain.AccountTypeAsset, "clearing", true)
	a := openAccount(t, s, domain.AccountTypeLiability, "customer", false)
	fees := openAccount(t, s, domain.AccountTypeRevenue, "fees", false)

	start := clock.Now()
	fund(t, s, clearing.ID, a.ID, 1000)
	clock.Advance(time.Hour)
	_, err := s.PostGroup(ctx, transfer(a.ID, fees.ID, 50))
	require.NoError(t, err)

	byType, err := s.SumByAccountType(ctx, start)
	require.NoError(t, err)
	assert.Equal(t, []domain.AccountTypeTotal{
		{Type: domain.AccountTypeAsset, Currency: "USD", Debits: 1000},
		{Type: domain.AccountTypeLiability, Currency: "USD", Credits: 1000},
	}, byType)

	byType, err = s.SumByAccountType(ctx, time.Time{})
	require.NoError(t, err)
	var debits, credits int64
	for _, tt := range byType {
		debits += tt.Debits
		credits += tt.Credits
	}
	assert.Equal(t, debits, credits)

	cats, err := s.SumByCategoryRange(ctx, start.Add(time.Minute), start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []domain.CategoryTotal{
		{Category: "customer", Type: domain.AccountTypeLiability, Currency: "USD", Debits: 50},
		{Category: "fees", Type: domain.AccountTypeRevenue, Currency: "USD", Credits: 50},
	}, cats)

	_, err = s.SumByCategoryRange(ctx, start, start.Add(-time.Second))
	assert.Error(t, err)
}

func TestLedgerStore_ConcurrentReadersSeeWholeGroups(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore(nil)
	clearing := openAccount(t, s, domain.AccountTypeAsset, "clearing", true)
	a := openAccount(t, s, domain.AccountTypeLiability, "customer", false)
	b := openAccount(t, s, domain.AccountTypeLiability, "customer", false)
	fund(t, s, clearing.ID, a.ID, 100000)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			byType, err := s.SumByAccountType(ctx, time.Time{})
			if !assert.NoError(t, err) {
				return
			}
			var debits, credits int64
			for _, tt := range byType {
				debits += tt.Debits
				credits += tt.Credits
			}
			assert.Equal(t, debits, credits)
		}
	}()

	for i := 0; i < 200; i++ {
		_, err := s.PostGroup(ctx, transfer(a.ID, b.ID, 10))
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()

	bal, err := s.GetBalance(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), bal.Current.Amount)
}
