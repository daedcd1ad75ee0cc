package domain

import (
	"fmt"
	"time"

	"ledger-settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// SettlementState is a step of the settlement state machine.
type SettlementState string

const (
	StateReceived      SettlementState = "received"
	StateDeduplicated  SettlementState = "deduplicated"
	StateRiskEvaluated SettlementState = "risk_evaluated"
	StateLocksAcquired SettlementState = "locks_acquired"
	StatePosted        SettlementState = "posted"
	StateCompleted     SettlementState = "completed"
	StateRejected      SettlementState = "rejected"
	StateFailed        SettlementState = "failed"
)

var transitions = map[SettlementState][]SettlementState{
	StateReceived:      {StateDeduplicated, StateRejected, StateFailed},
	StateDeduplicated:  {StateRiskEvaluated, StateRejected, StateFailed},
	StateRiskEvaluated: {StateLocksAcquired, StateRejected, StateFailed},
	StateLocksAcquired: {StatePosted, StateRejected, StateFailed},
	StatePosted:        {StateCompleted},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to SettlementState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for completed, rejected and failed.
func (s SettlementState) IsTerminal() bool {
	return s == StateCompleted || s == StateRejected || s == StateFailed
}

// Settlement tracks one run through the state machine.
type Settlement struct {
	Request   TransactionRequest
	Principal Principal
	State     SettlementState
	Trail     []SettlementState
}

// NewSettlement starts a run in the received state.
func NewSettlement(req TransactionRequest, principal Principal) *Settlement {
	return &Settlement{
		Request:   req,
		Principal: principal,
		State:     StateReceived,
		Trail:     []SettlementState{StateReceived},
	}
}

// Advance moves the run to next, refusing illegal transitions.
func (s *Settlement) Advance(next SettlementState) error {
	if !CanTransition(s.State, next) {
		return apperror.InternalError(fmt.Errorf("illegal settlement transition %s -> %s", s.State, next))
	}
	s.State = next
	s.Trail = append(s.Trail, next)
	return nil
}

// SettlementOutcome is the terminal result stored against an idempotency key.
type SettlementOutcome struct {
	ClientRef   string            `json:"client_ref"`
	Status      SettlementState   `json:"status"`
	GroupID     *ulid.ULID        `json:"group_id,omitempty"`
	Risk        *RiskAssessment   `json:"risk,omitempty"`
	ErrorKind   apperror.Kind     `json:"error_kind,omitempty"`
	Message     string            `json:"message,omitempty"`
	Accounts    []uuid.UUID       `json:"accounts"`
	States      []SettlementState `json:"states"`
	PrincipalID string            `json:"principal_id,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}

// Outcome freezes the run into its terminal outcome. err may be nil.
func (s *Settlement) Outcome(groupID *ulid.ULID, risk *RiskAssessment, err error, now time.Time) *SettlementOutcome {
	out := &SettlementOutcome{
		ClientRef:   s.Request.ClientRef,
		Status:      s.State,
		GroupID:     groupID,
		Risk:        risk,
		Accounts:    s.Request.AccountsTouched(),
		States:      append([]SettlementState(nil), s.Trail...),
		PrincipalID: s.Principal.ID,
		CompletedAt: NormalizeTime(now),
	}
	if err != nil {
		appErr := apperror.As(err)
		out.ErrorKind = appErr.Kind
		out.Message = appErr.Message
	}
	return out
}

// Retryable reports whether the key may be resubmitted.
func (o *SettlementOutcome) Retryable() bool {
	return o.Status == StateFailed
}

// NormalizeTime drops the monotonic reading and sub-microsecond precision so
// values survive a round trip through postgres or JSON unchanged.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// BuildGroup turns a validated request into its balanced posting. The clearing
// account stands on the other side of deposits and withdrawals.
func BuildGroup(req *TransactionRequest, clearing uuid.UUID) PostingGroup {
	amount := req.Money()
	debit, credit := req.Source, req.Destination
	switch req.Type {
	case TransactionTypeDeposit:
		debit = clearing
	case TransactionTypeWithdrawal:
		credit = clearing
	}
	return PostingGroup{
		ClientRef: req.ClientRef,
		Type:      req.Type,
		Lines: []PostingLine{
			{AccountID: debit, Direction: DirectionDebit, Amount: amount},
			{AccountID: credit, Direction: DirectionCredit, Amount: amount},
		},
	}
}
