package domain

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"
)

// Decision is the risk engine verdict.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionReview Decision = "review"
	DecisionBlock  Decision = "block"
)

// Factor names.
const (
	FactorAmount           = "amount"
	FactorVelocity         = "velocity"
	FactorGeographic       = "geographic"
	FactorTimeOfDay        = "time_of_day"
	FactorMerchantCategory = "merchant_category"
	FactorDeviceIP         = "device_ip"
	FactorBehavioral       = "behavioral"
	FactorKYCTier          = "kyc_tier"
)

var factorNames = []string{
	FactorAmount, FactorVelocity, FactorGeographic, FactorTimeOfDay,
	FactorMerchantCategory, FactorDeviceIP, FactorBehavioral, FactorKYCTier,
}

// FactorNames lists every factor the engine scores, in evaluation order.
func FactorNames() []string {
	return append([]string(nil), factorNames...)
}

// IsFactor reports whether name is a scored factor.
func IsFactor(name string) bool {
	for _, n := range factorNames {
		if n == name {
			return true
		}
	}
	return false
}

// RiskFactor is one scored signal. Weight and Contribution marshal as decimal
// strings.
type RiskFactor struct {
	Name         string          `json:"name"`
	Score        int             `json:"score"`
	Weight       decimal.Decimal `json:"weight"`
	Contribution decimal.Decimal `json:"contribution"`
	Reason       string          `json:"reason,omitempty"`
}

// RiskAssessment is the result of scoring one request.
type RiskAssessment struct {
	ClientRef   string       `json:"client_ref"`
	Score       int          `json:"score"`
	Factors     []RiskFactor `json:"factors"`
	Decision    Decision     `json:"decision"`
	EvaluatedAt time.Time    `json:"evaluated_at"`
}

// Contributing returns the factors that added to the score.
func (a *RiskAssessment) Contributing() []RiskFactor {
	var out []RiskFactor
	for _, f := range a.Factors {
		if f.Score > 0 {
			out = append(out, f)
		}
	}
	return out
}

// ActivitySample is one completed settlement kept for behavioural scoring.
// Device identifiers are stored only as fingerprints.
type ActivitySample struct {
	ClientRef        string    `json:"client_ref"`
	AccountID        uuid.UUID `json:"account_id"`
	Amount           int64     `json:"amount"`
	Currency         Currency  `json:"currency"`
	MerchantCategory string    `json:"merchant_category,omitempty"`
	DeviceHash       string    `json:"device_hash,omitempty"`
	IP               string    `json:"ip,omitempty"`
	Country          string    `json:"country,omitempty"`
	City             string    `json:"city,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// SampleFromRequest builds the activity sample recorded after a completion.
func SampleFromRequest(req *TransactionRequest, at time.Time) ActivitySample {
	occurred := req.Metadata.OccurredAt
	if occurred.IsZero() {
		occurred = at
	}
	return ActivitySample{
		ClientRef:        req.ClientRef,
		AccountID:        req.SubjectAccount(),
		Amount:           req.Amount,
		Currency:         req.Money().Currency,
		MerchantCategory: req.Metadata.MerchantCategory,
		DeviceHash:       Fingerprint(req.Metadata.DeviceID),
		IP:               req.Metadata.IP,
		Country:          strings.ToUpper(req.Metadata.Country),
		City:             req.Metadata.City,
		OccurredAt:       NormalizeTime(occurred),
	}
}

// Fingerprint hashes a device identifier. Empty input stays empty.
func Fingerprint(deviceID string) string {
	if deviceID == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(deviceID))
	return hex.EncodeToString(sum[:16])
}

// RiskHistory is the recent activity of an account, oldest first.
type RiskHistory struct {
	Samples []ActivitySample
}

// Len is the number of samples.
func (h RiskHistory) Len() int { return len(h.Samples) }

// Since returns the samples at or after t.
func (h RiskHistory) Since(t time.Time) []ActivitySample {
	var out []ActivitySample
	for _, s := range h.Samples {
		if !s.OccurredAt.Before(t) {
			out = append(out, s)
		}
	}
	return out
}

// SeenCountry reports whether any sample came from country.
func (h RiskHistory) SeenCountry(country string) bool {
	for _, s := range h.Samples {
		if strings.EqualFold(s.Country, country) {
			return true
		}
	}
	return false
}

// SeenDevice reports whether any sample used the fingerprinted device.
func (h RiskHistory) SeenDevice(hash string) bool {
	for _, s := range h.Samples {
		if s.DeviceHash == hash {
			return true
		}
	}
	return false
}

// SeenIP reports whether any sample came from ip.
func (h RiskHistory) SeenIP(ip string) bool {
	for _, s := range h.Samples {
		if s.IP == ip {
			return true
		}
	}
	return false
}

// RiskAlert records a review or block decision for follow-up.
type RiskAlert struct {
	ID          uuid.UUID    `json:"id"`
	ClientRef   string       `json:"client_ref"`
	AccountID   uuid.UUID    `json:"account_id"`
	PrincipalID string       `json:"principal_id,omitempty"`
	Decision    Decision     `json:"decision"`
	Score       int          `json:"score"`
	Factors     []RiskFactor `json:"factors"`
	CreatedAt   time.Time    `json:"created_at"`
}

// NewRiskAlert builds an alert from an assessment.
func NewRiskAlert(req *TransactionRequest, principal Principal, a *RiskAssessment) *RiskAlert {
	return &RiskAlert{
		ID:          uuid.New(),
		ClientRef:   req.ClientRef,
		AccountID:   req.SubjectAccount(),
		PrincipalID: principal.ID,
		Decision:    a.Decision,
		Score:       a.Score,
		Factors:     a.Contributing(),
		CreatedAt:   a.EvaluatedAt,
	}
}
