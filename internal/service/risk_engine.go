package service

import (
	"fmt"
	"strings"
	"time"

	"ledger-settlement-engine/internal/core/domain"

	"github.com/shopspring/decimal"
)

// RiskPolicy is the externally loaded rule set of the risk engine.
type RiskPolicy struct {
	Weights         map[string]decimal.Decimal
	ReviewThreshold int
	BlockThreshold  int

	// HistoryWindow bounds the activity loaded for scoring.
	HistoryWindow time.Duration
	// MinHistory is the sample count below which history is considered thin.
	MinHistory int

	AmountMultiple decimal.Decimal

	VelocityWindow    time.Duration
	VelocityMaxCount  int
	VelocityMaxAmount int64

	NightStartHour int
	NightEndHour   int

	RestrictedMerchantCategories []string
	HighRiskMerchantCategories   []string
	DeniedDevices                []string
	DeniedIPs                    []string

	TierScores map[domain.RiskTier]int
}

// DefaultRiskPolicy returns the starting-point weights and thresholds.
func DefaultRiskPolicy() RiskPolicy {
	return RiskPolicy{
		Weights: map[string]decimal.Decimal{
			domain.FactorAmount:           decimal.RequireFromString("0.35"),
			domain.FactorVelocity:         decimal.RequireFromString("0.35"),
			domain.FactorGeographic:       decimal.RequireFromString("0.20"),
			domain.FactorTimeOfDay:        decimal.RequireFromString("0.10"),
			domain.FactorMerchantCategory: decimal.RequireFromString("0.20"),
			domain.FactorDeviceIP:         decimal.RequireFromString("0.20"),
			domain.FactorBehavioral:       decimal.RequireFromString("0.20"),
			domain.FactorKYCTier:          decimal.RequireFromString("0.10"),
		},
		ReviewThreshold:   30,
		BlockThreshold:    70,
		HistoryWindow:     30 * 24 * time.Hour,
		MinHistory:        5,
		AmountMultiple:    decimal.NewFromInt(5),
		VelocityWindow:    time.Hour,
		VelocityMaxCount:  10,
		VelocityMaxAmount: 0,
		NightStartHour:    0,
		NightEndHour:      5,

		RestrictedMerchantCategories: []string{"7995"},
		HighRiskMerchantCategories:   []string{"6051", "4829", "5967"},

		TierScores: map[domain.RiskTier]int{
			domain.RiskTierLow:    0,
			domain.RiskTierMedium: 50,
			domain.RiskTierHigh:   100,
		},
	}
}

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// RiskEngine scores requests against the account's recent activity.
// Evaluate has no side effects and is safe for concurrent use.
type RiskEngine struct {
	policy        RiskPolicy
	restricted    map[string]struct{}
	highRisk      map[string]struct{}
	deniedDevices map[string]struct{}
	deniedIPs     map[string]struct{}
}

// NewRiskEngine creates a RiskEngine. Zero-valued policy fields fall back to
// the defaults.
func NewRiskEngine(policy RiskPolicy) *RiskEngine {
	def := DefaultRiskPolicy()
	if policy.Weights == nil {
		policy.Weights = def.Weights
	}
	if policy.ReviewThreshold <= 0 {
		policy.ReviewThreshold = def.ReviewThreshold
	}
	if policy.BlockThreshold <= 0 {
		policy.BlockThreshold = def.BlockThreshold
	}
	if policy.MinHistory <= 0 {
		policy.MinHistory = def.MinHistory
	}
	if policy.AmountMultiple.LessThanOrEqual(one) {
		policy.AmountMultiple = def.AmountMultiple
	}
	if policy.VelocityWindow <= 0 {
		policy.VelocityWindow = def.VelocityWindow
	}
	if policy.VelocityMaxCount <= 0 {
		policy.VelocityMaxCount = def.VelocityMaxCount
	}
	if policy.HistoryWindow <= 0 {
		policy.HistoryWindow = def.HistoryWindow
	}
	if policy.TierScores == nil {
		policy.TierScores = def.TierScores
	}

	e := &RiskEngine{
		policy:        policy,
		restricted:    toSet(policy.RestrictedMerchantCategories, strings.ToLower),
		highRisk:      toSet(policy.HighRiskMerchantCategories, strings.ToLower),
		deniedDevices: toSet(policy.DeniedDevices, domain.Fingerprint),
		deniedIPs:     toSet(policy.DeniedIPs, strings.TrimSpace),
	}
	return e
}

// Policy returns the effective policy.
func (e *RiskEngine) Policy() RiskPolicy {
	return e.policy
}

// HistorySince is the lower bound of the history to load for a request at now.
func (e *RiskEngine) HistorySince(now time.Time) time.Time {
	return now.Add(-e.policy.HistoryWindow)
}

// Evaluate computes the composite score and decision. The reference time is the
// request's occurred-at when present, otherwise now.
func (e *RiskEngine) Evaluate(req *domain.TransactionRequest, history *domain.RiskHistory, tier domain.RiskTier, now time.Time) *domain.RiskAssessment {
	if history == nil {
		history = &domain.RiskHistory{}
	}
	ref := req.Metadata.OccurredAt
	if ref.IsZero() {
		ref = now
	}
	h := sameCurrency(history, req.Money().Currency)

	factors := []factorScore{
		e.amountFactor(req, h),
		e.velocityFactor(req, h, ref),
		e.geographicFactor(req, history),
		e.timeOfDayFactor(history, ref),
		e.merchantFactor(req),
		e.deviceFactor(req, history),
		e.behavioralFactor(req, h),
		e.tierFactor(tier),
	}

	total := decimal.Zero
	out := make([]domain.RiskFactor, 0, len(factors))
	for _, f := range factors {
		w, ok := e.policy.Weights[f.name]
		if !ok {
			w = decimal.Zero
		}
		contribution := w.Mul(decimal.NewFromInt(int64(f.score)))
		total = total.Add(contribution)
		out = append(out, domain.RiskFactor{
			Name:         f.name,
			Score:        f.score,
			Weight:       w,
			Contribution: contribution,
			Reason:       f.reason,
		})
	}
	score := int(decimal.Min(total, hundred).RoundBank(0).IntPart())

	return &domain.RiskAssessment{
		ClientRef:   req.ClientRef,
		Score:       score,
		Factors:     out,
		Decision:    e.decide(score),
		EvaluatedAt: domain.NormalizeTime(now),
	}
}

func (e *RiskEngine) decide(score int) domain.Decision {
	switch {
	case score >= e.policy.BlockThreshold:
		return domain.DecisionBlock
	case score >= e.policy.ReviewThreshold:
		return domain.DecisionReview
	}
	return domain.DecisionAllow
}

type factorScore struct {
	name   string
	score  int
	reason string
}

// amountFactor scales from 0 at the rolling average to 100 at AmountMultiple
// times the average.
func (e *RiskEngine) amountFactor(req *domain.TransactionRequest, h []domain.ActivitySample) factorScore {
	f := factorScore{name: domain.FactorAmount}
	if len(h) == 0 {
		return f
	}
	avg := mean(h)
	if !avg.IsPositive() {
		return f
	}
	ratio := decimal.NewFromInt(req.Amount).Div(avg)
	if ratio.LessThanOrEqual(one) {
		return f
	}
	f.score = clampScore(ratio.Sub(one).Div(e.policy.AmountMultiple.Sub(one)).Mul(hundred))
	f.reason = fmt.Sprintf("amount is %s times the rolling average", ratio.StringFixed(2))
	return f
}

func (e *RiskEngine) velocityFactor(req *domain.TransactionRequest, h []domain.ActivitySample, ref time.Time) factorScore {
	f := factorScore{name: domain.FactorVelocity}
	cutoff := ref.Add(-e.policy.VelocityWindow)
	count, sum := 1, req.Amount
	for _, s := range h {
		if !s.OccurredAt.Before(cutoff) && !s.OccurredAt.After(ref) {
			count++
			sum += s.Amount
		}
	}

	maxCount := e.policy.VelocityMaxCount
	switch {
	case count > maxCount:
		f.score = 100
	case count*2 > maxCount:
		f.score = 50
	}
	if limit := e.policy.VelocityMaxAmount; limit > 0 {
		switch {
		case sum > limit:
			f.score = 100
		case sum*2 > limit && f.score < 50:
			f.score = 50
		}
	}
	if f.score > 0 {
		f.reason = fmt.Sprintf("%d transactions totalling %d within %s", count, sum, e.policy.VelocityWindow)
	}
	return f
}

func (e *RiskEngine) geographicFactor(req *domain.TransactionRequest, history *domain.RiskHistory) factorScore {
	f := factorScore{name: domain.FactorGeographic}
	country := strings.ToUpper(strings.TrimSpace(req.Metadata.Country))
	if country == "" || history.Len() == 0 {
		return f
	}
	if !history.SeenCountry(country) {
		f.score = 100
		f.reason = "origin country " + country + " not in recent history"
	}
	return f
}

func (e *RiskEngine) timeOfDayFactor(history *domain.RiskHistory, ref time.Time) factorScore {
	f := factorScore{name: domain.FactorTimeOfDay}
	hour := ref.UTC().Hour()

	if history.Len() < e.policy.MinHistory {
		if e.isNight(hour) {
			f.score = 100
			f.reason = fmt.Sprintf("hour %02d is in the night band", hour)
		}
		return f
	}

	band := hour / 4
	for _, s := range history.Samples {
		if s.OccurredAt.UTC().Hour()/4 == band {
			return f
		}
	}
	f.score = 100
	f.reason = fmt.Sprintf("hour band %02d:00-%02d:00 unseen for this account", band*4, band*4+4)
	return f
}

func (e *RiskEngine) isNight(hour int) bool {
	start, end := e.policy.NightStartHour, e.policy.NightEndHour
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func (e *RiskEngine) merchantFactor(req *domain.TransactionRequest) factorScore {
	f := factorScore{name: domain.FactorMerchantCategory}
	mcc := strings.ToLower(strings.TrimSpace(req.Metadata.MerchantCategory))
	if mcc == "" {
		return f
	}
	if _, ok := e.restricted[mcc]; ok {
		f.score = 100
		f.reason = "restricted merchant category " + mcc
	} else if _, ok := e.highRisk[mcc]; ok {
		f.score = 60
		f.reason = "high-risk merchant category " + mcc
	}
	return f
}

func (e *RiskEngine) deviceFactor(req *domain.TransactionRequest, history *domain.RiskHistory) factorScore {
	f := factorScore{name: domain.FactorDeviceIP}
	device := domain.Fingerprint(req.Metadata.DeviceID)
	ip := strings.TrimSpace(req.Metadata.IP)

	if _, ok := e.deniedDevices[device]; ok && device != "" {
		return factorScore{name: f.name, score: 100, reason: "device on denylist"}
	}
	if _, ok := e.deniedIPs[ip]; ok && ip != "" {
		return factorScore{name: f.name, score: 100, reason: "ip on denylist"}
	}
	if history.Len() == 0 {
		return f
	}

	var reasons []string
	if device != "" && !history.SeenDevice(device) {
		f.score += 50
		reasons = append(reasons, "new device")
	}
	if ip != "" && !history.SeenIP(ip) {
		f.score += 25
		reasons = append(reasons, "new ip")
	}
	f.reason = strings.Join(reasons, ", ")
	return f
}

// behavioralFactor measures how many mean absolute deviations the amount lies
// from the account's mean; four deviations score 100.
func (e *RiskEngine) behavioralFactor(req *domain.TransactionRequest, h []domain.ActivitySample) factorScore {
	f := factorScore{name: domain.FactorBehavioral}
	if len(h) < e.policy.MinHistory {
		return f
	}
	avg := mean(h)
	mad := decimal.Zero
	for _, s := range h {
		mad = mad.Add(decimal.NewFromInt(s.Amount).Sub(avg).Abs())
	}
	mad = mad.Div(decimal.NewFromInt(int64(len(h))))

	distance := decimal.NewFromInt(req.Amount).Sub(avg).Abs()
	if distance.IsZero() {
		return f
	}
	if mad.IsZero() {
		f.score = 100
	} else {
		f.score = clampScore(distance.Div(mad).Mul(decimal.NewFromInt(25)))
	}
	if f.score > 0 {
		f.reason = fmt.Sprintf("amount deviates %s from mean %s", distance.StringFixed(0), avg.StringFixed(0))
	}
	return f
}

func (e *RiskEngine) tierFactor(tier domain.RiskTier) factorScore {
	f := factorScore{name: domain.FactorKYCTier, score: e.policy.TierScores[tier]}
	if f.score > 0 {
		f.reason = "account risk tier " + string(tier)
	}
	return f
}

func sameCurrency(h *domain.RiskHistory, c domain.Currency) []domain.ActivitySample {
	out := make([]domain.ActivitySample, 0, len(h.Samples))
	for _, s := range h.Samples {
		if s.Currency == c {
			out = append(out, s)
		}
	}
	return out
}

func mean(samples []domain.ActivitySample) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range samples {
		sum = sum.Add(decimal.NewFromInt(s.Amount))
	}
	return sum.Div(decimal.NewFromInt(int64(len(samples))))
}

func clampScore(d decimal.Decimal) int {
	if d.GreaterThan(hundred) {
		return 100
	}
	if d.IsNegative() {
		return 0
	}
	return int(d.RoundBank(0).IntPart())
}

func toSet(values []string, norm func(string) string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		if n := norm(v); n != "" {
			out[n] = struct{}{}
		}
	}
	return out
}
