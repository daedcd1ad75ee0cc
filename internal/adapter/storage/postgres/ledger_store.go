package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"ledger-settlement-engine/internal/core/domain"
	"ledger-settlement-engine/internal/core/ports"
	"ledger-settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
)

const accountColumns = `id, owner_ref, type, category, currency, balance, held, status, allow_overdraft, created_at, updated_at`

const entryColumns = `id, group_id, account_id, direction, amount, currency, balance_after, created_at`

// LedgerStore implements ports.LedgerStore on PostgreSQL. Each PostGroup runs
// in one transaction with the touched account rows locked FOR UPDATE in id
// order.
type LedgerStore struct {
	pool  Pool
	clock ports.Clock
}

// NewLedgerStore creates a new LedgerStore. A nil clock uses the wall clock.
func NewLedgerStore(pool Pool, clock ports.Clock) *LedgerStore {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &LedgerStore{pool: pool, clock: clock}
}

func (s *LedgerStore) now() time.Time {
	return domain.NormalizeTime(s.clock.Now())
}

// CreateAccount inserts a new account.
func (s *LedgerStore) CreateAccount(ctx context.Context, a *domain.Account) error {
	query := `INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.OwnerRef, string(a.Type), a.Category, string(a.Currency),
		a.Balance, a.Held, string(a.Status), a.AllowOverdraft, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Validation("account " + a.ID.String() + " already exists")
		}
		return storageErr("insert account", err)
	}
	return nil
}

// GetAccount fetches an account by id (without locking).
func (s *LedgerStore) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	a, err := scanAccount(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrAccountNotFound(id.String())
		}
		return nil, storageErr("get account", err)
	}
	return a, nil
}

// SetStatus changes the status under a row lock.
func (s *LedgerStore) SetStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) (*domain.Account, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin set status", err)
	}
	defer rollback(ctx, tx)

	a, err := lockAccount(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := a.CheckStatusChange(status); err != nil {
		return nil, err
	}
	a.Status = status
	a.UpdatedAt = s.now()

	if _, err := tx.Exec(ctx, `UPDATE accounts SET status = $1, updated_at = $2 WHERE id = $3`,
		string(a.Status), a.UpdatedAt, a.ID); err != nil {
		return nil, storageErr("update account status", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit set status", err)
	}
	return a, nil
}

// PostGroup validates and commits a group atomically.
func (s *LedgerStore) PostGroup(ctx context.Context, group domain.PostingGroup) (*domain.LedgerGroup, error) {
	if err := domain.ValidateGroup(group); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin post group", err)
	}
	defer rollback(ctx, tx)

	if group.ReversalOf != nil {
		if err := checkReversible(ctx, tx, *group.ReversalOf); err != nil {
			return nil, err
		}
	}

	accounts, err := lockAccounts(ctx, tx, group.AccountIDs())
	if err != nil {
		return nil, err
	}
	plan, err := domain.PlanPosting(accounts, group, ulid.Make(), s.now())
	if err != nil {
		return nil, err
	}
	g := plan.Group

	var reversalOf *string
	if g.ReversalOf != nil {
		r := g.ReversalOf.String()
		reversalOf = &r
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_groups (id, client_ref, type, reversal_of, created_at) VALUES ($1, $2, $3, $4, $5)`,
		g.ID.String(), g.ClientRef, string(g.Type), reversalOf, g.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) && g.ReversalOf != nil {
			return nil, apperror.ErrAlreadyReversed(g.ReversalOf.String())
		}
		return nil, storageErr("insert ledger group", err)
	}

	for i, e := range g.Entries {
		_, err := tx.Exec(ctx,
			`INSERT INTO ledger_entries (id, group_id, line_no, account_id, direction, amount, currency, balance_after, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.ID, g.ID.String(), i, e.AccountID, string(e.Direction), e.Amount.Amount,
			string(e.Amount.Currency), e.BalanceAfter, e.CreatedAt)
		if err != nil {
			return nil, storageErr("insert ledger entry", err)
		}
	}

	for _, a := range plan.Accounts {
		_, err := tx.Exec(ctx, `UPDATE accounts SET balance = $1, updated_at = $2 WHERE id = $3`,
			a.Balance, a.UpdatedAt, a.ID)
		if err != nil {
			return nil, storageErr("update account balance", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit post group", err)
	}
	return g, nil
}

func checkReversible(ctx context.Context, tx pgx.Tx, id ulid.ULID) error {
	var reversed bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_groups r WHERE r.reversal_of = g.id) FROM ledger_groups g WHERE g.id = $1 FOR UPDATE OF g`,
		id.String()).Scan(&reversed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperror.ErrGroupNotFound(id.String())
		}
		return storageErr("check reversal", err)
	}
	if reversed {
		return apperror.ErrAlreadyReversed(id.String())
	}
	return nil
}

func lockAccount(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Account, error) {
	a, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrAccountNotFound(id.String())
		}
		return nil, storageErr("lock account", err)
	}
	return a, nil
}

// lockAccounts locks rows in ascending id order. Missing ids are left out of
// the map; PlanPosting reports them.
func lockAccounts(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) (map[uuid.UUID]*domain.Account, error) {
	rows, err := tx.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, storageErr("lock accounts", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]*domain.Account, len(ids))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, storageErr("scan account", err)
		}
		out[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("lock accounts", err)
	}
	return out, nil
}

// GetGroup fetches a group with its entries in posting order.
func (s *LedgerStore) GetGroup(ctx context.Context, id ulid.ULID) (*domain.LedgerGroup, error) {
	g := &domain.LedgerGroup{ID: id}
	var typ string
	var reversalOf *string
	err := s.pool.QueryRow(ctx,
		`SELECT client_ref, type, reversal_of, created_at FROM ledger_groups WHERE id = $1`, id.String(),
	).Scan(&g.ClientRef, &typ, &reversalOf, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrGroupNotFound(id.String())
		}
		return nil, storageErr("get ledger group", err)
	}
	g.Type = domain.TransactionType(typ)
	g.CreatedAt = g.CreatedAt.UTC()
	if reversalOf != nil {
		r, err := ulid.Parse(*reversalOf)
		if err != nil {
			return nil, storageErr("parse reversal_of", err)
		}
		g.ReversalOf = &r
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE group_id = $1 ORDER BY line_no`, id.String())
	if err != nil {
		return nil, storageErr("get group entries", err)
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storageErr("scan entry", err)
		}
		g.Entries = append(g.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get group entries", err)
	}
	return g, nil
}

// GetReversal returns the group that reversed id, or nil.
func (s *LedgerStore) GetReversal(ctx context.Context, id ulid.ULID) (*domain.LedgerGroup, error) {
	var rid string
	err := s.pool.QueryRow(ctx, `SELECT id FROM ledger_groups WHERE reversal_of = $1`, id.String()).Scan(&rid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storageErr("get reversal", err)
	}
	parsed, err := ulid.Parse(rid)
	if err != nil {
		return nil, storageErr("parse group id", err)
	}
	return s.GetGroup(ctx, parsed)
}

// GetBalance reads balance and held from a single row, so the view is consistent.
func (s *LedgerStore) GetBalance(ctx context.Context, id uuid.UUID) (*domain.Balance, error) {
	a, err := s.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	b := a.Snapshot()
	return &b, nil
}

// ListEntries pages through an account's entries with a (created_at, id)
// keyset. Each range starts from page.After.
func (s *LedgerStore) ListEntries(ctx context.Context, accountID uuid.UUID, filter domain.EntryFilter, page domain.Page) iter.Seq2[domain.LedgerEntry, error] {
	return func(yield func(domain.LedgerEntry, error) bool) {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
			yield(domain.LedgerEntry{}, storageErr("check account", err))
			return
		}
		if !exists {
			yield(domain.LedgerEntry{}, apperror.ErrAccountNotFound(accountID.String()))
			return
		}

		after := page.After
		size := page.SizeOrDefault()
		for {
			batch, err := s.entryPage(ctx, accountID, filter, after, size)
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

func (s *LedgerStore) entryPage(ctx context.Context, accountID uuid.UUID, filter domain.EntryFilter, after *domain.EntryCursor, size int) ([]domain.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries
		WHERE account_id = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at < $3)
		  AND ($4 = '' OR direction = $4)
		  AND ($5::timestamptz IS NULL OR (created_at, id) > ($5, $6::uuid))
		ORDER BY created_at, id
		LIMIT $7`

	var afterAt *time.Time
	afterID := uuid.Nil
	if after != nil {
		afterAt, afterID = &after.CreatedAt, after.ID
	}
	rows, err := s.pool.Query(ctx, query,
		accountID, optionalTime(filter.From), optionalTime(filter.To), string(filter.Direction),
		afterAt, afterID, size)
	if err != nil {
		return nil, storageErr("list entries", err)
	}
	defer rows.Close()

	out := make([]domain.LedgerEntry, 0, size)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storageErr("scan entry", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list entries", err)
	}
	return out, nil
}

// PlaceHold reserves amount on the account under a row lock.
func (s *LedgerStore) PlaceHold(ctx context.Context, accountID uuid.UUID, amount domain.Money, reference string) (*domain.Hold, error) {
	if !amount.IsPositive() {
		return nil, apperror.Validation("hold amount must be positive")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin place hold", err)
	}
	defer rollback(ctx, tx)

	a, err := lockAccount(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if err := a.CheckHold(amount); err != nil {
		return nil, err
	}

	h := &domain.Hold{
		ID:        uuid.New(),
		AccountID: accountID,
		Amount:    amount,
		Reference: reference,
		CreatedAt: s.now(),
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO holds (id, account_id, amount, currency, reference, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		h.ID, h.AccountID, amount.Amount, string(amount.Currency), h.Reference, h.CreatedAt); err != nil {
		return nil, storageErr("insert hold", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE accounts SET held = held + $1, updated_at = $2 WHERE id = $3`,
		amount.Amount, h.CreatedAt, accountID); err != nil {
		return nil, storageErr("update held", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit place hold", err)
	}
	return h, nil
}

// ReleaseHold releases an outstanding hold. Released holds are not found.
func (s *LedgerStore) ReleaseHold(ctx context.Context, holdID uuid.UUID) (*domain.Hold, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin release hold", err)
	}
	defer rollback(ctx, tx)

	h := &domain.Hold{ID: holdID}
	var currency string
	err = tx.QueryRow(ctx,
		`SELECT account_id, amount, currency, reference, created_at FROM holds WHERE id = $1 AND released_at IS NULL FOR UPDATE`,
		holdID).Scan(&h.AccountID, &h.Amount.Amount, &currency, &h.Reference, &h.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrHoldNotFound(holdID.String())
		}
		return nil, storageErr("lock hold", err)
	}
	h.Amount.Currency = domain.Currency(currency)

	now := s.now()
	h.ReleasedAt = &now
	if _, err := tx.Exec(ctx, `UPDATE holds SET released_at = $1 WHERE id = $2`, now, holdID); err != nil {
		return nil, storageErr("release hold", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE accounts SET held = held - $1, updated_at = $2 WHERE id = $3`,
		h.Amount.Amount, now, h.AccountID); err != nil {
		return nil, storageErr("update held", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit release hold", err)
	}
	return h, nil
}

// SumByAccountType totals committed entries with created_at <= asOf.
func (s *LedgerStore) SumByAccountType(ctx context.Context, asOf time.Time) ([]domain.AccountTypeTotal, error) {
	query := `SELECT a.type, e.currency,
			COALESCE(SUM(e.amount) FILTER (WHERE e.direction = 'debit'), 0)::BIGINT,
			COALESCE(SUM(e.amount) FILTER (WHERE e.direction = 'credit'), 0)::BIGINT
		FROM ledger_entries e
		JOIN accounts a ON a.id = e.account_id
		WHERE ($1::timestamptz IS NULL OR e.created_at <= $1)
		GROUP BY a.type, e.currency
		ORDER BY a.type, e.currency`

	rows, err := s.pool.Query(ctx, query, optionalTime(asOf))
	if err != nil {
		return nil, storageErr("sum by account type", err)
	}
	defer rows.Close()

	var out []domain.AccountTypeTotal
	for rows.Next() {
		var typ, currency string
		var t domain.AccountTypeTotal
		if err := rows.Scan(&typ, &currency, &t.Debits, &t.Credits); err != nil {
			return nil, storageErr("scan account type total", err)
		}
		t.Type, t.Currency = domain.AccountType(typ), domain.Currency(currency)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("sum by account type", err)
	}
	return out, nil
}

// SumByCategoryRange totals committed entries with start <= created_at < end.
func (s *LedgerStore) SumByCategoryRange(ctx context.Context, start, end time.Time) ([]domain.CategoryTotal, error) {
	if !end.IsZero() && end.Before(start) {
		return nil, apperror.Validation("end must not be before start")
	}
	query := `SELECT a.category, a.type, e.currency,
			COALESCE(SUM(e.amount) FILTER (WHERE e.direction = 'debit'), 0)::BIGINT,
			COALESCE(SUM(e.amount) FILTER (WHERE e.direction = 'credit'), 0)::BIGINT
		FROM ledger_entries e
		JOIN accounts a ON a.id = e.account_id
		WHERE ($1::timestamptz IS NULL OR e.created_at >= $1)
		  AND ($2::timestamptz IS NULL OR e.created_at < $2)
		GROUP BY a.category, a.type, e.currency
		ORDER BY a.category, a.type, e.currency`

	rows, err := s.pool.Query(ctx, query, optionalTime(start), optionalTime(end))
	if err != nil {
		return nil, storageErr("sum by category", err)
	}
	defer rows.Close()

	var out []domain.CategoryTotal
	for rows.Next() {
		var typ, currency string
		var t domain.CategoryTotal
		if err := rows.Scan(&t.Category, &typ, &currency, &t.Debits, &t.Credits); err != nil {
			return nil, storageErr("scan category total", err)
		}
		t.Type, t.Currency = domain.AccountType(typ), domain.Currency(currency)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("sum by category", err)
	}
	return out, nil
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	a := &domain.Account{}
	var typ, currency, status string
	err := row.Scan(
		&a.ID, &a.OwnerRef, &typ, &a.Category, &currency,
		&a.Balance, &a.Held, &status, &a.AllowOverdraft, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Type = domain.AccountType(typ)
	a.Currency = domain.Currency(currency)
	a.Status = domain.AccountStatus(status)
	a.CreatedAt, a.UpdatedAt = a.CreatedAt.UTC(), a.UpdatedAt.UTC()
	return a, nil
}

func scanEntry(row pgx.Row) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var groupID, direction, currency string
	err := row.Scan(&e.ID, &groupID, &e.AccountID, &direction, &e.Amount.Amount, &currency, &e.BalanceAfter, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	gid, err := ulid.Parse(groupID)
	if err != nil {
		return e, fmt.Errorf("parse group id %q: %w", groupID, err)
	}
	e.GroupID = gid
	e.Direction = domain.Direction(direction)
	e.Amount.Currency = domain.Currency(currency)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}
