package postgres

import (
	"context"
	"testing"
	"time"

	"ledger-settlement-engine/internal/core/domain"
	"ledger-settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClock struct{ t time.Time }

func (c stubClock) Now() time.Time { return c.t }

var testNow = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

func newTestAccount(typ domain.AccountType, balance int64) *domain.Account {
	return &domain.Account{
		ID:        uuid.New(),
		OwnerRef:  "cust-1",
		Type:      typ,
		Category:  string(typ),
		Currency:  "USD",
		Balance:   balance,
		Status:    domain.AccountStatusActive,
		CreatedAt: testNow.Add(-time.Hour),
		UpdatedAt: testNow.Add(-time.Hour),
	}
}

func accountColumnNames() []string {
	return []string{"id", "owner_ref", "type", "category", "currency", "balance", "held", "status", "allow_overdraft", "created_at", "updated_at"}
}

func accountRows(accounts ...*domain.Account) *pgxmock.Rows {
	rows := pgxmock.NewRows(accountColumnNames())
	for _, a := range accounts {
		rows.AddRow(a.ID, a.OwnerRef, string(a.Type), a.Category, string(a.Currency),
			a.Balance, a.Held, string(a.Status), a.AllowOverdraft, a.CreatedAt, a.UpdatedAt)
	}
	return rows
}

func entryColumnNames() []string {
	return []string{"id", "group_id", "account_id", "direction", "amount", "currency", "balance_after", "created_at"}
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *LedgerStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewLedgerStore(mock, stubClock{testNow})
}

func TestLedgerStore_CreateAccount(t *testing.T) {
	mock, store := newMockStore(t)
	a := newTestAccount(domain.AccountTypeLiability, 0)

	mock.ExpectExec("INSERT INTO accounts").
		WithArgs(a.ID, a.OwnerRef, "liability", a.Category, "USD",
			int64(0), int64(0), "active", false, a.CreatedAt, a.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateAccount(context.Background(), a))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_CreateAccount_Duplicate(t *testing.T) {
	mock, store := newMockStore(t)
	a := newTestAccount(domain.AccountTypeLiability, 0)

	mock.ExpectExec("INSERT INTO accounts").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := store.CreateAccount(context.Background(), a)
	assert.Equal(t, apperror.KindInvalidRequest, apperror.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_GetAccount(t *testing.T) {
	mock, store := newMockStore(t)
	a := newTestAccount(domain.AccountTypeAsset, 2500)

	mock.ExpectQuery("SELECT .+ FROM accounts WHERE id").
		WithArgs(a.ID).
		WillReturnRows(accountRows(a))

	got, err := store.GetAccount(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_GetAccount_NotFound(t *testing.T) {
	mock, store := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM accounts WHERE id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetAccount(context.Background(), id)
	assert.Equal(t, apperror.KindAccountNotFound, apperror.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_GetAccount_DriverError(t *testing.T) {
	mock, store := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM accounts WHERE id").
		WithArgs(id).
		WillReturnError(assert.AnError)

	_, err := store.GetAccount(context.Background(), id)
	assert.Equal(t, apperror.KindStorageUnavailable, apperror.KindOf(err))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestLedgerStore_PostGroup_Transfer(t *testing.T) {
	mock, store := newMockStore(t)
	from := newTestAccount(domain.AccountTypeLiability, 10000)
	to := newTestAccount(domain.AccountTypeLiability, 0)
	group := domain.PostingGroup{
		ClientRef: "tx-1",
		Type:      domain.TransactionTypeTransfer,
		Lines: []domain.PostingLine{
			{AccountID: from.ID, Direction: domain.DirectionDebit, Amount: domain.MustMoney(4000, "USD")},
			{AccountID: to.ID, Direction: domain.DirectionCredit, Amount: domain.MustMoney(4000, "USD")},
		},
	}
	after := map[uuid.UUID]int64{from.ID: 6000, to.ID: 4000}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM accounts WHERE id = ANY.+ FOR UPDATE").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(accountRows(from, to))
	mock.ExpectExec("INSERT INTO ledger_groups").
		WithArgs(pgxmock.AnyArg(), "tx-1", "transfer", pgxmock.AnyArg(), testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), 0, from.ID, "debit", int64(4000), "USD", int64(6000), testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), 1, to.ID, "credit", int64(4000), "USD", int64(4000), testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	for _, id := range domain.SortedAccountIDs([]uuid.UUID{from.ID, to.ID}) {
		mock.ExpectExec("UPDATE accounts SET balance").
			WithArgs(after[id], testNow, id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	}
	mock.ExpectCommit()

	g, err := store.PostGroup(context.Background(), group)
	require.NoError(t, err)
	require.Len(t, g.Entries, 2)
	assert.Equal(t, "tx-1", g.ClientRef)
	assert.Equal(t, int64(6000), g.Entries[0].BalanceAfter)
	assert.Equal(t, int64(4000), g.Entries[1].BalanceAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_PostGroup_InsufficientFunds(t *testing.T) {
	mock, store := newMockStore(t)
	from := newTestAccount(domain.AccountTypeLiability, 1000)
	to := newTestAccount(domain.AccountTypeLiability, 0)
	group := domain.PostingGroup{
		ClientRef: "tx-2",
		Type:      domain.TransactionTypeTransfer,
		Lines: []domain.PostingLine{
			{AccountID: from.ID, Direction: domain.DirectionDebit, Amount: domain.MustMoney(1001, "USD")},
			{AccountID: to.ID, Direction: domain.DirectionCredit, Amount: domain.MustMoney(1001, "USD")},
		},
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM accounts WHERE id = ANY.+ FOR UPDATE").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(accountRows(from, to))
	mock.ExpectRollback()

	_, err := store.PostGroup(context.Background(), group)
	assert.Equal(t, apperror.KindInsufficientFunds, apperror.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_PostGroup_UnbalancedNeverTouchesDB(t *testing.T) {
	mock, store := newMockStore(t)
	group := domain.PostingGroup{
		ClientRef: "tx-3",
		Type:      domain.TransactionTypeTransfer,
		Lines: []domain.PostingLine{
			{AccountID: uuid.New(), Direction: domain.DirectionDebit, Amount: domain.MustMoney(10, "USD")},
			{AccountID: uuid.New(), Direction: domain.DirectionCredit, Amount: domain.MustMoney(9, "USD")},
		},
	}

	_, err := store.PostGroup(context.Background(), group)
	assert.Equal(t, apperror.KindUnbalancedGroup, apperror.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_PostGroup_AlreadyReversed(t *testing.T) {
	mock, store := newMockStore(t)
	orig := ulid.Make()
	group := domain.PostingGroup{
		ClientRef:  "rev-1",
		Type:       domain.TransactionTypeTransfer,
		ReversalOf: &orig,
		Lines: []domain.PostingLine{
			{AccountID: uuid.New(), Direction: domain.DirectionDebit, Amount: domain.MustMoney(10, "USD")},
			{AccountID: uuid.New(), Direction: domain.DirectionCredit, Amount: domain.MustMoney(10, "USD")},
		},
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS .+ FROM ledger_groups g WHERE g.id").
		WithArgs(orig.String()).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := store.PostGroup(context.Background(), group)
	assert.Equal(t, apperror.KindAlreadyReversed, apperror.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_GetGroup(t *testing.T) {
	mock, store := newMockStore(t)
	id := ulid.Make()
	orig := ulid.Make()
	a, b := uuid.New(), uuid.New()
	reversalOf := orig.String()

	mock.ExpectQuery("SELECT client_ref, type, reversal_of, created_at FROM ledger_groups WHERE id").
		WithArgs(id.String()).
		WillReturnRows(pgxmock.NewRows([]string{"client_ref", "type", "reversal_of", "created_at"}).
			AddRow("rev-1", "transfer", &reversalOf, testNow))
	mock.ExpectQuery("SELECT .+ FROM ledger_entries WHERE group_id .+ ORDER BY line_no").
		WithArgs(id.String()).
		WillReturnRows(pgxmock.NewRows(entryColumnNames()).
			AddRow(uuid.New(), id.String(), a, "debit", int64(50), "USD", int64(0), testNow).
			AddRow(uuid.New(), id.String(), b, "credit", int64(50), "USD", int64(50), testNow))

	g, err := store.GetGroup(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, g.ReversalOf)
	assert.Equal(t, orig, *g.ReversalOf)
	assert.Equal(t, domain.TransactionTypeTransfer, g.Type)
	require.Len(t, g.Entries, 2)
	assert.Equal(t, a, g.Entries[0].AccountID)
	assert.Equal(t, id, g.Entries[1].GroupID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_GetReversal_None(t *testing.T) {
	mock, store := newMockStore(t)
	id := ulid.Make()

	mock.ExpectQuery("SELECT id FROM ledger_groups WHERE reversal_of").
		WithArgs(id.String()).
		WillReturnError(pgx.ErrNoRows)

	g, err := store.GetReversal(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, g)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_ListEntries_Pages(t *testing.T) {
	mock, store := newMockStore(t)
	account := uuid.New()
	gid := ulid.Make().String()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(account).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT .+ FROM ledger_entries").
		WithArgs(account, pgxmock.AnyArg(), pgxmock.AnyArg(), "", pgxmock.AnyArg(), uuid.Nil, 2).
		WillReturnRows(pgxmock.NewRows(entryColumnNames()).
			AddRow(uuid.New(), gid, account, "credit", int64(1), "USD", int64(1), testNow).
			AddRow(uuid.New(), gid, account, "credit", int64(2), "USD", int64(3), testNow.Add(time.Second)))
	mock.ExpectQuery("SELECT .+ FROM ledger_entries").
		WithArgs(account, pgxmock.AnyArg(), pgxmock.AnyArg(), "", pgxmock.AnyArg(), pgxmock.AnyArg(), 2).
		WillReturnRows(pgxmock.NewRows(entryColumnNames()).
			AddRow(uuid.New(), gid, account, "debit", int64(3), "USD", int64(0), testNow.Add(2*time.Second)))

	var amounts []int64
	for e, err := range store.ListEntries(context.Background(), account, domain.EntryFilter{}, domain.Page{Size: 2}) {
		require.NoError(t, err)
		amounts = append(amounts, e.Amount.Amount)
	}
	assert.Equal(t, []int64{1, 2, 3}, amounts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_ListEntries_UnknownAccount(t *testing.T) {
	mock, store := newMockStore(t)
	account := uuid.New()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(account).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	var errs []error
	for _, err := range store.ListEntries(context.Background(), account, domain.EntryFilter{}, domain.Page{}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.Equal(t, apperror.KindAccountNotFound, apperror.KindOf(errs[0]))
}

func TestLedgerStore_SetStatus_CloseWithBalance(t *testing.T) {
	mock, store := newMockStore(t)
	a := newTestAccount(domain.AccountTypeLiability, 5)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM accounts WHERE id .+ FOR UPDATE").
		WithArgs(a.ID).
		WillReturnRows(accountRows(a))
	mock.ExpectRollback()

	_, err := store.SetStatus(context.Background(), a.ID, domain.AccountStatusClosed)
	assert.Equal(t, apperror.KindInvalidRequest, apperror.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_SetStatus_Freeze(t *testing.T) {
	mock, store := newMockStore(t)
	a := newTestAccount(domain.AccountTypeLiability, 5)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM accounts WHERE id .+ FOR UPDATE").
		WithArgs(a.ID).
		WillReturnRows(accountRows(a))
	mock.ExpectExec("UPDATE accounts SET status").
		WithArgs("frozen", testNow, a.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	got, err := store.SetStatus(context.Background(), a.ID, domain.AccountStatusFrozen)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusFrozen, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_PlaceHold(t *testing.T) {
	mock, store := newMockStore(t)
	a := newTestAccount(domain.AccountTypeLiability, 500)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM accounts WHERE id .+ FOR UPDATE").
		WithArgs(a.ID).
		WillReturnRows(accountRows(a))
	mock.ExpectExec("INSERT INTO holds").
		WithArgs(pgxmock.AnyArg(), a.ID, int64(300), "USD", "auth-7", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE accounts SET held = held \\+").
		WithArgs(int64(300), testNow, a.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	h, err := store.PlaceHold(context.Background(), a.ID, domain.MustMoney(300, "USD"), "auth-7")
	require.NoError(t, err)
	assert.Equal(t, a.ID, h.AccountID)
	assert.Equal(t, "auth-7", h.Reference)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_PlaceHold_Insufficient(t *testing.T) {
	mock, store := newMockStore(t)
	a := newTestAccount(domain.AccountTypeLiability, 500)
	a.Held = 400

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM accounts WHERE id .+ FOR UPDATE").
		WithArgs(a.ID).
		WillReturnRows(accountRows(a))
	mock.ExpectRollback()

	_, err := store.PlaceHold(context.Background(), a.ID, domain.MustMoney(101, "USD"), "")
	assert.Equal(t, apperror.KindInsufficientFunds, apperror.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_ReleaseHold_NotFound(t *testing.T) {
	mock, store := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM holds WHERE id .+ released_at IS NULL FOR UPDATE").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.ReleaseHold(context.Background(), id)
	assert.Equal(t, apperror.KindHoldNotFound, apperror.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_SumByAccountType(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery("SELECT a.type, e.currency").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"type", "currency", "debits", "credits"}).
			AddRow("asset", "USD", int64(12000), int64(2000)).
			AddRow("liability", "USD", int64(1500), int64(11000)))

	totals, err := store.SumByAccountType(context.Background(), testNow)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, domain.AccountTypeAsset, totals[0].Type)
	assert.Equal(t, int64(10000), totals[0].Net())
	assert.Equal(t, int64(9500), totals[1].Net())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_SumByCategoryRange_InvalidPeriod(t *testing.T) {
	_, store := newMockStore(t)

	_, err := store.SumByCategoryRange(context.Background(), testNow, testNow.Add(-time.Hour))
	assert.Equal(t, apperror.KindInvalidRequest, apperror.KindOf(err))
}
