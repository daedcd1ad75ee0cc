package dto

import (
	"fmt"
	"strings"
	"time"

	"ledger-settlement-engine/internal/core/domain"
	"ledger-settlement-engine/pkg/apperror"

	"github.com/google/uuid"
)

// SettlementRequest is the request body for a single settlement.
type SettlementRequest struct {
	ClientRef   string          `json:"client_ref" binding:"required,max=128,safe_id"`
	Type        string          `json:"type" binding:"required,oneof=deposit withdrawal transfer card_payment"`
	Source      string          `json:"source,omitempty" binding:"omitempty,uuid"`
	Destination string          `json:"destination,omitempty" binding:"omitempty,uuid"`
	Amount      int64           `json:"amount" binding:"required,gt=0"`
	Currency    string          `json:"currency" binding:"required,currency_code"`
	Metadata    MetadataRequest `json:"metadata"`
}

// MetadataRequest carries the scoring context of a settlement.
type MetadataRequest struct {
	MerchantCategory string     `json:"merchant_category,omitempty" binding:"omitempty,max=64"`
	DeviceID         string     `json:"device_id,omitempty" binding:"omitempty,max=128"`
	IP               string     `json:"ip,omitempty" binding:"omitempty,ip"`
	Country          string     `json:"country,omitempty" binding:"omitempty,max=64"`
	City             string     `json:"city,omitempty" binding:"omitempty,max=128"`
	OccurredAt       *time.Time `json:"occurred_at,omitempty"`
}

// ToDomain converts the request. clientIP and now fill in missing metadata.
func (r SettlementRequest) ToDomain(clientIP string, now time.Time) (domain.TransactionRequest, error) {
	req := domain.TransactionRequest{
		ClientRef: r.ClientRef,
		Type:      domain.TransactionType(r.Type),
		Amount:    r.Amount,
		Currency:  strings.ToUpper(r.Currency),
		Metadata: domain.Metadata{
			MerchantCategory: r.Metadata.MerchantCategory,
			DeviceID:         r.Metadata.DeviceID,
			IP:               r.Metadata.IP,
			Country:          r.Metadata.Country,
			City:             r.Metadata.City,
			OccurredAt:       now,
		},
	}
	var err error
	if req.Source, err = parseOptionalUUID("source", r.Source); err != nil {
		return req, err
	}
	if req.Destination, err = parseOptionalUUID("destination", r.Destination); err != nil {
		return req, err
	}
	if req.Metadata.IP == "" {
		req.Metadata.IP = clientIP
	}
	if r.Metadata.OccurredAt != nil {
		req.Metadata.OccurredAt = *r.Metadata.OccurredAt
	}
	return req, nil
}

func parseOptionalUUID(field, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, apperror.Validation(fmt.Sprintf("%s is not a valid account id", field))
	}
	return id, nil
}

// BatchSettlementRequest is the request body for a settlement batch.
type BatchSettlementRequest struct {
	Items []SettlementRequest `json:"items" binding:"required,min=1,dive"`
}

// ReversalRequest is the request body for reversing a posted group.
type ReversalRequest struct {
	ClientRef string `json:"client_ref" binding:"required,max=128,safe_id"`
	GroupID   string `json:"group_id" binding:"required,ulid"`
}

// OutcomeResponse is the terminal result of a settlement or reversal.
type OutcomeResponse struct {
	ClientRef   string                 `json:"client_ref"`
	Status      string                 `json:"status"`
	GroupID     string                 `json:"group_id,omitempty"`
	Risk        *domain.RiskAssessment `json:"risk,omitempty"`
	ErrorKind   string                 `json:"error_kind,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Retryable   bool                   `json:"retryable"`
	Accounts    []string               `json:"accounts"`
	States      []string               `json:"states"`
	CompletedAt string                 `json:"completed_at"`
}

// BatchItemResponse is one batch result, in input order.
type BatchItemResponse struct {
	Index   int              `json:"index"`
	Outcome *OutcomeResponse `json:"outcome,omitempty"`
	Error   *ItemError       `json:"error,omitempty"`
}

// ItemError is a batch item that produced no outcome.
type ItemError struct {
	ErrorCode string `json:"error_code"`
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

// BatchResponse is the response body for a settlement batch.
type BatchResponse struct {
	Items     []BatchItemResponse `json:"items"`
	Completed int                 `json:"completed"`
	Rejected  int                 `json:"rejected"`
	Failed    int                 `json:"failed"`
}

// OpenAccountRequest is the request body for opening an account.
type OpenAccountRequest struct {
	OwnerRef       string `json:"owner_ref" binding:"max=128"`
	Type           string `json:"type" binding:"required,oneof=asset liability equity revenue expense"`
	Category       string `json:"category" binding:"max=64"`
	Currency       string `json:"currency" binding:"required,currency_code"`
	AllowOverdraft bool   `json:"allow_overdraft"`
}

// ToDomain converts the request.
func (r OpenAccountRequest) ToDomain() domain.NewAccountSpec {
	return domain.NewAccountSpec{
		OwnerRef:       r.OwnerRef,
		Type:           domain.AccountType(r.Type),
		Category:       r.Category,
		Currency:       strings.ToUpper(r.Currency),
		AllowOverdraft: r.AllowOverdraft,
	}
}

// PlaceHoldRequest is the request body for reserving funds.
type PlaceHoldRequest struct {
	Amount    int64  `json:"amount" binding:"required,gt=0"`
	Currency  string `json:"currency" binding:"required,currency_code"`
	Reference string `json:"reference" binding:"max=128"`
}

// EntryListResponse is one page of ledger entries.
type EntryListResponse struct {
	Items      []domain.LedgerEntry `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// AccountTypeTotalsResponse lists per-type totals as of a point in time.
type AccountTypeTotalsResponse struct {
	AsOf   string                    `json:"as_of"`
	Totals []domain.AccountTypeTotal `json:"totals"`
}

// CategoryTotalsResponse lists per-category totals over a period.
type CategoryTotalsResponse struct {
	Start  string                 `json:"start"`
	End    string                 `json:"end"`
	Totals []domain.CategoryTotal `json:"totals"`
}
