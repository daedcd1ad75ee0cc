package domain

import "time"

// TrialBalanceLine is the debit and credit volume of one account type.
type TrialBalanceLine struct {
	Type    AccountType `json:"type"`
	Debits  int64       `json:"debits"`
	Credits int64       `json:"credits"`
}

// TrialBalance lists per-currency totals. Balanced is true when total debits
// equal total credits in every currency.
type TrialBalance struct {
	AsOf       time.Time                       `json:"as_of"`
	Currencies map[Currency][]TrialBalanceLine `json:"currencies"`
	Balanced   bool                            `json:"balanced"`
}

// BalanceSheet groups closing positions by type for one currency.
// Retained earnings close the revenue and expense accounts into equity.
type BalanceSheet struct {
	AsOf             time.Time `json:"as_of"`
	Currency         Currency  `json:"currency"`
	Assets           int64     `json:"assets"`
	Liabilities      int64     `json:"liabilities"`
	Equity           int64     `json:"equity"`
	RetainedEarnings int64     `json:"retained_earnings"`
	Balanced         bool      `json:"balanced"`
}

// CategoryLine is the net movement of one reporting category.
type CategoryLine struct {
	Category string `json:"category"`
	Amount   int64  `json:"amount"`
}

// IncomeStatement is revenue minus expenses over a period in one currency.
type IncomeStatement struct {
	Start     time.Time      `json:"start"`
	End       time.Time      `json:"end"`
	Currency  Currency       `json:"currency"`
	Revenue   int64          `json:"revenue"`
	Expenses  int64          `json:"expenses"`
	NetIncome int64          `json:"net_income"`
	Lines     []CategoryLine `json:"lines,omitempty"`
}
