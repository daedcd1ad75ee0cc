package domain

import "time"

// ReservationStatus is what CheckAndReserve found for a key.
type ReservationStatus string

const (
	// ReservationNew means the caller now owns the key and must settle it.
	ReservationNew       ReservationStatus = "new"
	ReservationInFlight  ReservationStatus = "in_flight"
	ReservationCompleted ReservationStatus = "completed"
	// ReservationFailed is reported only when a failed key could not be re-reserved.
	ReservationFailed ReservationStatus = "failed"
)

// Reservation is the result of CheckAndReserve. Outcome is set for completed keys.
type Reservation struct {
	Status  ReservationStatus
	Outcome *SettlementOutcome
}

// IdempotencyRecord is the stored state of a key.
type IdempotencyRecord struct {
	Key       string             `json:"key"`
	Status    ReservationStatus  `json:"status"`
	Outcome   *SettlementOutcome `json:"outcome,omitempty"`
	ExpiresAt time.Time          `json:"expires_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Expired reports whether the record may be discarded at now.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Reclaimable reports whether a new CheckAndReserve may take over the key:
// failed keys are always re-attempted, in-flight keys once their lease lapsed.
func (r *IdempotencyRecord) Reclaimable(now time.Time) bool {
	if r.Status == ReservationFailed {
		return true
	}
	return r.Expired(now)
}

// BuildIdempotencyKey scopes a client reference to its principal.
func BuildIdempotencyKey(principalID, clientRef string) string {
	if principalID == "" {
		return clientRef
	}
	return principalID + ":" + clientRef
}

// BuildReversalKey is the key of a reversal request.
func BuildReversalKey(principalID, clientRef string) string {
	return BuildIdempotencyKey(principalID, "reversal:"+clientRef)
}
