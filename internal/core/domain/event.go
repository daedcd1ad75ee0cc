package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// EventType names the events emitted to downstream consumers.
type EventType string

const (
	EventSettlementCompleted EventType = "settlement.completed"
	EventSettlementRejected  EventType = "settlement.rejected"
	EventRiskAlert           EventType = "risk.alert"
)

// Event is the envelope published on the configured bus.
type Event struct {
	ID          string          `json:"id"`
	Type        EventType       `json:"type"`
	ClientRef   string          `json:"client_ref"`
	GroupID     *ulid.ULID      `json:"group_id,omitempty"`
	ReversalOf  *ulid.ULID      `json:"reversal_of,omitempty"`
	Status      SettlementState `json:"status,omitempty"`
	Accounts    []uuid.UUID     `json:"accounts"`
	Decision    Decision        `json:"decision,omitempty"`
	Score       int             `json:"score"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	PrincipalID string          `json:"principal_id,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// Key is used for partitioning; events of one settlement share it.
func (e *Event) Key() string {
	return e.ClientRef
}

// NewSettlementEvent builds the completed or rejected event of an outcome.
// It returns nil for outcomes that emit nothing.
func NewSettlementEvent(o *SettlementOutcome) *Event {
	var typ EventType
	switch o.Status {
	case StateCompleted:
		typ = EventSettlementCompleted
	case StateRejected:
		typ = EventSettlementRejected
	default:
		return nil
	}
	ev := &Event{
		ID:          ulid.Make().String(),
		Type:        typ,
		ClientRef:   o.ClientRef,
		GroupID:     o.GroupID,
		Status:      o.Status,
		Accounts:    o.Accounts,
		ErrorKind:   string(o.ErrorKind),
		PrincipalID: o.PrincipalID,
		OccurredAt:  o.CompletedAt,
	}
	if o.Risk != nil {
		ev.Decision = o.Risk.Decision
		ev.Score = o.Risk.Score
	}
	return ev
}

// NewRiskAlertEvent builds the risk.alert event of an alert record.
func NewRiskAlertEvent(a *RiskAlert) *Event {
	return &Event{
		ID:          ulid.Make().String(),
		Type:        EventRiskAlert,
		ClientRef:   a.ClientRef,
		Accounts:    []uuid.UUID{a.AccountID},
		Decision:    a.Decision,
		Score:       a.Score,
		PrincipalID: a.PrincipalID,
		OccurredAt:  a.CreatedAt,
	}
}
