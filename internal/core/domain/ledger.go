package domain

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"ledger-settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Direction is the side of a ledger entry.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

func (d Direction) Valid() bool {
	return d == DirectionDebit || d == DirectionCredit
}

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == DirectionDebit {
		return DirectionCredit
	}
	return DirectionDebit
}

// LedgerEntry is one immutable line of a posted group.
type LedgerEntry struct {
	ID           uuid.UUID `json:"id"`
	GroupID      ulid.ULID `json:"group_id"`
	AccountID    uuid.UUID `json:"account_id"`
	Direction    Direction `json:"direction"`
	Amount       Money     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

// LedgerGroup is the set of entries produced by one settlement or reversal.
type LedgerGroup struct {
	ID         ulid.ULID       `json:"id"`
	ClientRef  string          `json:"client_ref"`
	Type       TransactionType `json:"type"`
	ReversalOf *ulid.ULID      `json:"reversal_of,omitempty"`
	Entries    []LedgerEntry   `json:"entries"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AccountIDs returns the distinct accounts of the group in ascending order.
func (g *LedgerGroup) AccountIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(g.Entries))
	for _, e := range g.Entries {
		ids = append(ids, e.AccountID)
	}
	return SortedAccountIDs(ids)
}

// Mirror builds the posting that undoes g.
func (g *LedgerGroup) Mirror(clientRef string) PostingGroup {
	id := g.ID
	lines := make([]PostingLine, 0, len(g.Entries))
	for _, e := range g.Entries {
		lines = append(lines, PostingLine{
			AccountID: e.AccountID,
			Direction: e.Direction.Opposite(),
			Amount:    e.Amount,
		})
	}
	return PostingGroup{
		ClientRef:  clientRef,
		Type:       g.Type,
		ReversalOf: &id,
		Lines:      lines,
	}
}

// PostingLine is a requested entry before it is committed.
type PostingLine struct {
	AccountID uuid.UUID
	Direction Direction
	Amount    Money
}

// PostingGroup is the unit handed to a LedgerStore.
type PostingGroup struct {
	ClientRef  string
	Type       TransactionType
	ReversalOf *ulid.ULID
	Lines      []PostingLine
}

// IsReversal reports whether the group undoes an earlier one.
func (g PostingGroup) IsReversal() bool {
	return g.ReversalOf != nil
}

// AccountIDs returns the distinct accounts touched, ascending.
func (g PostingGroup) AccountIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(g.Lines))
	for _, l := range g.Lines {
		ids = append(ids, l.AccountID)
	}
	return SortedAccountIDs(ids)
}

// ValidateGroup checks the structural rules of a posting: at least two lines,
// positive amounts, and debits equal to credits within every currency.
func ValidateGroup(g PostingGroup) error {
	if len(g.Lines) < 2 {
		return apperror.ErrUnbalancedGroup("a group needs at least two entries")
	}
	totals := make(map[Currency]int64)
	for i, l := range g.Lines {
		if !l.Direction.Valid() {
			return apperror.Validation(fmt.Sprintf("entry %d: invalid direction %q", i, l.Direction))
		}
		if l.AccountID == uuid.Nil {
			return apperror.Validation(fmt.Sprintf("entry %d: missing account", i))
		}
		if !l.Amount.Currency.Valid() {
			return apperror.Validation(fmt.Sprintf("entry %d: invalid currency %q", i, l.Amount.Currency))
		}
		if !l.Amount.IsPositive() {
			return apperror.Validation(fmt.Sprintf("entry %d: amount must be positive", i))
		}
		signed := l.Amount.Amount
		if l.Direction == DirectionCredit {
			signed = -signed
		}
		next := totals[l.Amount.Currency] + signed
		if (signed > 0 && next < totals[l.Amount.Currency]) || (signed < 0 && next > totals[l.Amount.Currency]) {
			return apperror.Validation("amount overflow")
		}
		totals[l.Amount.Currency] = next
	}
	for cur, net := range totals {
		if net != 0 {
			return apperror.ErrUnbalancedGroup(fmt.Sprintf("%s debits and credits differ by %d", cur, net))
		}
	}
	return nil
}

// PostingPlan is the result of applying a group to a snapshot of accounts.
type PostingPlan struct {
	Group    *LedgerGroup
	Accounts []*Account // updated copies, ascending by id
}

// PlanPosting validates g against the given accounts and computes the entries
// and resulting balances without mutating the inputs. Stores call it while
// holding their commit lock (or row locks) and persist the plan atomically.
func PlanPosting(accounts map[uuid.UUID]*Account, g PostingGroup, groupID ulid.ULID, now time.Time) (*PostingPlan, error) {
	if err := ValidateGroup(g); err != nil {
		return nil, err
	}

	working := make(map[uuid.UUID]*Account, len(accounts))
	start := make(map[uuid.UUID]int64, len(accounts))
	for _, l := range g.Lines {
		if _, ok := working[l.AccountID]; ok {
			continue
		}
		acc, ok := accounts[l.AccountID]
		if !ok || acc == nil {
			return nil, apperror.ErrAccountNotFound(l.AccountID.String())
		}
		switch acc.Status {
		case AccountStatusClosed:
			return nil, apperror.ErrAccountClosed(acc.ID.String())
		case AccountStatusFrozen:
			if !g.IsReversal() {
				return nil, apperror.ErrAccountFrozen(acc.ID.String())
			}
		}
		cp := *acc
		working[acc.ID] = &cp
		start[acc.ID] = acc.Balance
	}

	group := &LedgerGroup{
		ID:         groupID,
		ClientRef:  g.ClientRef,
		Type:       g.Type,
		ReversalOf: g.ReversalOf,
		Entries:    make([]LedgerEntry, 0, len(g.Lines)),
		CreatedAt:  now,
	}
	for _, l := range g.Lines {
		acc := working[l.AccountID]
		if acc.Currency != l.Amount.Currency {
			return nil, apperror.ErrCurrencyMismatch(string(acc.Currency), string(l.Amount.Currency))
		}
		next, err := Money{Amount: acc.Balance, Currency: acc.Currency}.Add(
			Money{Amount: acc.Delta(l.Direction, l.Amount.Amount), Currency: acc.Currency})
		if err != nil {
			return nil, err
		}
		acc.Balance = next.Amount
		acc.UpdatedAt = now
		group.Entries = append(group.Entries, LedgerEntry{
			ID:           uuid.New(),
			GroupID:      groupID,
			AccountID:    acc.ID,
			Direction:    l.Direction,
			Amount:       l.Amount,
			BalanceAfter: acc.Balance,
			CreatedAt:    now,
		})
	}

	updated := make([]*Account, 0, len(working))
	for _, id := range g.AccountIDs() {
		acc := working[id]
		if acc.Balance < start[id] && !acc.AllowOverdraft && acc.Available() < 0 {
			return nil, apperror.ErrInsufficientFunds(id.String())
		}
		updated = append(updated, acc)
	}

	return &PostingPlan{Group: group, Accounts: updated}, nil
}

// SortedAccountIDs dedupes ids and sorts them by their byte representation,
// which matches uuid ordering in postgres.
func SortedAccountIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// EntryFilter narrows ListEntries. Zero values mean unbounded.
type EntryFilter struct {
	From      time.Time
	To        time.Time
	Direction Direction
}

// Match reports whether e passes the filter. To is exclusive.
func (f EntryFilter) Match(e LedgerEntry) bool {
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	if f.Direction != "" && e.Direction != f.Direction {
		return false
	}
	return true
}

// DefaultPageSize is used when Page.Size is not set.
const DefaultPageSize = 100

// Page controls the internal keyset pagination of ListEntries.
type Page struct {
	Size  int
	After *EntryCursor
}

// EntryCursor is the (timestamp, id) position of the last entry seen.
type EntryCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Cursor returns the keyset position of e.
func (e LedgerEntry) Cursor() EntryCursor {
	return EntryCursor{CreatedAt: e.CreatedAt, ID: e.ID}
}

// Before orders entries ascending by (timestamp, id).
func (c EntryCursor) Before(other EntryCursor) bool {
	if !c.CreatedAt.Equal(other.CreatedAt) {
		return c.CreatedAt.Before(other.CreatedAt)
	}
	return bytes.Compare(c.ID[:], other.ID[:]) < 0
}

func (p Page) SizeOrDefault() int {
	if p.Size <= 0 {
		return DefaultPageSize
	}
	return p.Size
}

// AccountTypeTotal is the debit/credit volume of one account type in one currency.
type AccountTypeTotal struct {
	Type     AccountType `json:"type"`
	Currency Currency    `json:"currency"`
	Debits   int64       `json:"debits"`
	Credits  int64       `json:"credits"`
}

// Net is the total expressed on the type's normal side.
func (t AccountTypeTotal) Net() int64 {
	if t.Type.NormalSide() == DirectionDebit {
		return t.Debits - t.Credits
	}
	return t.Credits - t.Debits
}

// CategoryTotal is the debit/credit volume of one category in one currency,
// split by account type.
type CategoryTotal struct {
	Category string      `json:"category"`
	Type     AccountType `json:"type"`
	Currency Currency    `json:"currency"`
	Debits   int64       `json:"debits"`
	Credits  int64       `json:"credits"`
}

// Net is the total expressed on the type's normal side.
func (t CategoryTotal) Net() int64 {
	return AccountTypeTotal{Type: t.Type, Debits: t.Debits, Credits: t.Credits}.Net()
}
