package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited operator action.
type AuditAction string

const (
	AuditActionOpenAccount     AuditAction = "ACCOUNT_OPEN"
	AuditActionFreezeAccount   AuditAction = "ACCOUNT_FREEZE"
	AuditActionUnfreezeAccount AuditAction = "ACCOUNT_UNFREEZE"
	AuditActionCloseAccount    AuditAction = "ACCOUNT_CLOSE"
	AuditActionPlaceHold       AuditAction = "HOLD_PLACE"
	AuditActionReleaseHold     AuditAction = "HOLD_RELEASE"
	AuditActionReverse         AuditAction = "SETTLEMENT_REVERSE"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	PrincipalID  string      `json:"principal_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
