package domain

import (
	"strings"
	"time"

	"ledger-settlement-engine/pkg/apperror"

	"github.com/google/uuid"
)

// TransactionType represents the kind of money movement.
type TransactionType string

const (
	TransactionTypeDeposit     TransactionType = "deposit"
	TransactionTypeWithdrawal  TransactionType = "withdrawal"
	TransactionTypeTransfer    TransactionType = "transfer"
	TransactionTypeCardPayment TransactionType = "card_payment"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypeTransfer, TransactionTypeCardPayment:
		return true
	}
	return false
}

// Metadata is the context the risk engine scores against.
type Metadata struct {
	MerchantCategory string    `json:"merchant_category,omitempty"`
	DeviceID         string    `json:"device_id,omitempty"`
	IP               string    `json:"ip,omitempty"`
	Country          string    `json:"country,omitempty"`
	City             string    `json:"city,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// TransactionRequest is a financial intent submitted for settlement.
// Source is unused for deposits and Destination for withdrawals.
type TransactionRequest struct {
	ClientRef   string          `json:"client_ref"`
	Type        TransactionType `json:"type"`
	Source      uuid.UUID       `json:"source,omitempty"`
	Destination uuid.UUID       `json:"destination,omitempty"`
	Amount      int64           `json:"amount"`
	Currency    string          `json:"currency"`
	Metadata    Metadata        `json:"metadata"`
}

// Validate checks the request shape. It does not look at accounts.
func (r *TransactionRequest) Validate() error {
	if strings.TrimSpace(r.ClientRef) == "" {
		return apperror.Validation("client_ref is required")
	}
	if !r.Type.Valid() {
		return apperror.Validation("unknown transaction type " + string(r.Type))
	}
	if _, err := NewEntryAmount(r.Amount, r.Currency); err != nil {
		return err
	}
	switch r.Type {
	case TransactionTypeDeposit:
		if r.Destination == uuid.Nil {
			return apperror.Validation("deposit requires a destination account")
		}
	case TransactionTypeWithdrawal:
		if r.Source == uuid.Nil {
			return apperror.Validation("withdrawal requires a source account")
		}
	default:
		if r.Source == uuid.Nil || r.Destination == uuid.Nil {
			return apperror.Validation(string(r.Type) + " requires source and destination accounts")
		}
		if r.Source == r.Destination {
			return apperror.Validation("source and destination must differ")
		}
	}
	return nil
}

// Money returns the request amount. Call after Validate.
func (r *TransactionRequest) Money() Money {
	return Money{Amount: r.Amount, Currency: Currency(strings.ToUpper(strings.TrimSpace(r.Currency)))}
}

// AccountsTouched returns the customer accounts the request mutates, sorted.
// The clearing account is not included.
func (r *TransactionRequest) AccountsTouched() []uuid.UUID {
	var ids []uuid.UUID
	switch r.Type {
	case TransactionTypeDeposit:
		ids = []uuid.UUID{r.Destination}
	case TransactionTypeWithdrawal:
		ids = []uuid.UUID{r.Source}
	default:
		ids = []uuid.UUID{r.Source, r.Destination}
	}
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id != uuid.Nil {
			out = append(out, id)
		}
	}
	return SortedAccountIDs(out)
}

// SubjectAccount is the account whose activity history the request is scored
// against: the paying side, or the receiving side of a deposit.
func (r *TransactionRequest) SubjectAccount() uuid.UUID {
	if r.Type == TransactionTypeDeposit {
		return r.Destination
	}
	return r.Source
}

// RiskTier is the KYC/AML risk classification supplied with the principal.
type RiskTier string

const (
	RiskTierLow    RiskTier = "low"
	RiskTierMedium RiskTier = "medium"
	RiskTierHigh   RiskTier = "high"
)

// ParseRiskTier maps unknown or empty tiers to medium.
func ParseRiskTier(s string) RiskTier {
	switch RiskTier(strings.ToLower(s)) {
	case RiskTierLow:
		return RiskTierLow
	case RiskTierHigh:
		return RiskTierHigh
	}
	return RiskTierMedium
}

// Principal is the authorized caller, as asserted by the identity provider.
type Principal struct {
	ID       string   `json:"id"`
	RiskTier RiskTier `json:"risk_tier"`
	Roles    []string `json:"roles,omitempty"`
}

// HasRole reports whether the principal carries role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Roles understood by the HTTP layer.
const (
	RoleOperator = "operator"
	RoleAuditor  = "auditor"
)
