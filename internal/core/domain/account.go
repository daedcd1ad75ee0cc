package domain

import (
	"time"

	"ledger-settlement-engine/pkg/apperror"

	"github.com/google/uuid"
)

// AccountType is the accounting classification used by reporting aggregates.
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeEquity    AccountType = "equity"
	AccountTypeRevenue   AccountType = "revenue"
	AccountTypeExpense   AccountType = "expense"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// NormalSide is the direction that increases an account of this type.
func (t AccountType) NormalSide() Direction {
	if t == AccountTypeAsset || t == AccountTypeExpense {
		return DirectionDebit
	}
	return DirectionCredit
}

// AccountStatus represents the posting state of an account.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusFrozen AccountStatus = "frozen"
	AccountStatusClosed AccountStatus = "closed"
)

// Account is a ledger account. Balances change only through posted entries.
type Account struct {
	ID             uuid.UUID     `json:"id"`
	OwnerRef       string        `json:"owner_ref"`
	Type           AccountType   `json:"type"`
	Category       string        `json:"category"`
	Currency       Currency      `json:"currency"`
	Balance        int64         `json:"balance"`
	Held           int64         `json:"held"`
	Status         AccountStatus `json:"status"`
	AllowOverdraft bool          `json:"allow_overdraft"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Available is the current balance minus outstanding holds.
func (a *Account) Available() int64 {
	return a.Balance - a.Held
}

// Snapshot returns the balance view of the account.
func (a *Account) Snapshot() Balance {
	return Balance{
		AccountID: a.ID,
		Current:   Money{Amount: a.Balance, Currency: a.Currency},
		Available: Money{Amount: a.Available(), Currency: a.Currency},
		Held:      Money{Amount: a.Held, Currency: a.Currency},
		Status:    a.Status,
	}
}

// Delta is the signed balance change caused by an entry on this account.
func (a *Account) Delta(dir Direction, amount int64) int64 {
	if dir == a.Type.NormalSide() {
		return amount
	}
	return -amount
}

// CheckHold reports whether amount can be reserved on the account.
func (a *Account) CheckHold(amount Money) error {
	switch a.Status {
	case AccountStatusFrozen:
		return apperror.ErrAccountFrozen(a.ID.String())
	case AccountStatusClosed:
		return apperror.ErrAccountClosed(a.ID.String())
	}
	if a.Currency != amount.Currency {
		return apperror.ErrCurrencyMismatch(string(a.Currency), string(amount.Currency))
	}
	if !a.AllowOverdraft && a.Available()-amount.Amount < 0 {
		return apperror.ErrInsufficientFunds(a.ID.String())
	}
	return nil
}

// CheckStatusChange validates a move to status. Closed is final, and closing
// requires a zero balance and no outstanding holds.
func (a *Account) CheckStatusChange(status AccountStatus) error {
	if a.Status == AccountStatusClosed {
		return apperror.ErrAccountClosed(a.ID.String())
	}
	switch status {
	case AccountStatusActive, AccountStatusFrozen:
		return nil
	case AccountStatusClosed:
		if a.Balance != 0 || a.Held != 0 {
			return apperror.Validation("account must have a zero balance and no holds to close")
		}
		return nil
	}
	return apperror.Validation("unknown account status " + string(status))
}

// Balance is a consistent point-in-time view of an account's balances.
type Balance struct {
	AccountID uuid.UUID     `json:"account_id"`
	Current   Money         `json:"current"`
	Available Money         `json:"available"`
	Held      Money         `json:"held"`
	Status    AccountStatus `json:"status"`
}

// Hold reserves part of an account's balance, reducing its available balance.
type Hold struct {
	ID         uuid.UUID  `json:"id"`
	AccountID  uuid.UUID  `json:"account_id"`
	Amount     Money      `json:"amount"`
	Reference  string     `json:"reference"`
	CreatedAt  time.Time  `json:"created_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// NewAccountSpec is the input for opening an account.
type NewAccountSpec struct {
	OwnerRef       string
	Type           AccountType
	Category       string
	Currency       string
	AllowOverdraft bool
}
