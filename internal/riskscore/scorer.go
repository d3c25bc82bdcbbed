// Package riskscore computes a weighted multi-factor risk assessment.
// Each factor is independently normalized to [0,1] severity and
// multiplied by a fixed weight; the weights sum to 1.0.
package riskscore

import (
	"context"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Factor weights. Must sum to 1.0.
const (
	weightAmountAnomaly = 0.25
	weightVelocity      = 0.20
	weightLocation      = 0.15
	weightTimeAnomaly   = 0.10
	weightMerchant      = 0.15
	weightUsagePattern  = 0.15
)

// Severity thresholds for cold transactions without history.
const (
	coldVeryHighAmount = 5000.0
	coldHighAmount     = 2000.0
)

var highRiskIndicators = []string{"UNKNOWN", "OFFSHORE", "SANCTIONED", "HIGH RISK"}

var monitoredCountries = []string{
	"RUSSIA", "CHINA", "IRAN", "NORTH KOREA",
	"MOSCOW", "BEIJING",
}

var highRiskMerchants = []string{
	"CASINO", "GAMBLING", "CRYPTO", "ADULT",
	"UNKNOWN MERCHANT", "CASH ADVANCE", "ATM CASH", "WIRE TRANSFER",
}

// Scorer computes RiskAssessment values. It carries no mutable state
// and is safe for concurrent use.
type Scorer struct{}

func New() *Scorer {
	return &Scorer{}
}

// Assess evaluates the fixed factor set against the transaction. Only
// factors that contribute nonzero severity appear in the output, in
// declaration order. Confidence grows with the number and weight of
// active factors; a factorless assessment has low confidence.
func (s *Scorer) Assess(ctx context.Context, tx *domain.Transaction, hist *domain.HistoryContext) (*domain.RiskAssessment, error) {
	factors := make([]domain.RiskFactor, 0, 6)

	if f, ok := s.amountAnomaly(tx, hist); ok {
		factors = append(factors, f)
	}
	if f, ok := s.velocity(hist); ok {
		factors = append(factors, f)
	}
	if f, ok := s.locationRisk(tx); ok {
		factors = append(factors, f)
	}
	if f, ok := s.timeAnomaly(tx); ok {
		factors = append(factors, f)
	}
	if f, ok := s.merchantRisk(tx); ok {
		factors = append(factors, f)
	}
	if f, ok := s.usagePattern(tx, hist); ok {
		factors = append(factors, f)
	}

	score := 0.0
	for _, f := range factors {
		score += f.Weight * f.Value
	}
	score = domain.ClampScore(score)

	return &domain.RiskAssessment{
		RiskScore:       score,
		RiskLevel:       domain.LevelForScore(score),
		Confidence:      confidence(factors),
		Factors:         factors,
		Recommendations: recommendations(score, factors),
	}, nil
}

func (s *Scorer) amountAnomaly(tx *domain.Transaction, hist *domain.HistoryContext) (domain.RiskFactor, bool) {
	amount := tx.Amount.InexactFloat64()

	if hist == nil || !hist.HasHistory() {
		// Cold transaction: graduated severity on absolute amount.
		switch {
		case amount > coldVeryHighAmount:
			return domain.RiskFactor{
				Name:        "amount_anomaly",
				Weight:      weightAmountAnomaly,
				Value:       0.9,
				Description: fmt.Sprintf("Very high amount $%s with no transaction history", tx.Amount.StringFixed(2)),
			}, true
		case amount > coldHighAmount:
			return domain.RiskFactor{
				Name:        "amount_anomaly",
				Weight:      weightAmountAnomaly,
				Value:       0.6,
				Description: fmt.Sprintf("High amount $%s with no transaction history", tx.Amount.StringFixed(2)),
			}, true
		}
		return domain.RiskFactor{}, false
	}

	recent := hist.Recent
	if len(recent) > 30 {
		recent = recent[:30]
	}

	var sum, max float64
	for _, prev := range recent {
		a := prev.Amount.InexactFloat64()
		sum += a
		if a > max {
			max = a
		}
	}
	if len(recent) == 0 || sum <= 0 {
		return domain.RiskFactor{}, false
	}
	avg := sum / float64(len(recent))

	if amount > avg*3 && amount > max*1.5 {
		value := domain.ClampScore(amount / (avg * 5))
		return domain.RiskFactor{
			Name:        "amount_anomaly",
			Weight:      weightAmountAnomaly,
			Value:       value,
			Description: fmt.Sprintf("Amount $%s is %.1fx higher than average", tx.Amount.StringFixed(2), amount/avg),
		}, true
	}
	return domain.RiskFactor{}, false
}

func (s *Scorer) velocity(hist *domain.HistoryContext) (domain.RiskFactor, bool) {
	if hist == nil || hist.VelocityCount < 3 {
		return domain.RiskFactor{}, false
	}

	value := domain.ClampScore(float64(hist.VelocityCount) / 5)
	return domain.RiskFactor{
		Name:        "velocity_check",
		Weight:      weightVelocity,
		Value:       value,
		Description: fmt.Sprintf("%d transactions in last 5 minutes", hist.VelocityCount),
	}, true
}

func (s *Scorer) locationRisk(tx *domain.Transaction) (domain.RiskFactor, bool) {
	location := strings.ToUpper(tx.Location)

	value := 0.0
	description := ""
	for _, indicator := range highRiskIndicators {
		if strings.Contains(location, indicator) {
			value = 0.9
			description = fmt.Sprintf("Transaction from high-risk location: %s", location)
			break
		}
	}
	for _, country := range monitoredCountries {
		if strings.Contains(location, country) {
			if value < 0.7 {
				value = 0.7
			}
			description = fmt.Sprintf("Transaction from monitored country: %s", location)
			break
		}
	}

	if value == 0 {
		return domain.RiskFactor{}, false
	}
	return domain.RiskFactor{
		Name:        "location_risk",
		Weight:      weightLocation,
		Value:       value,
		Description: description,
	}, true
}

func (s *Scorer) timeAnomaly(tx *domain.Transaction) (domain.RiskFactor, bool) {
	hour := tx.Timestamp.Hour()
	if hour < 2 || hour > 5 {
		return domain.RiskFactor{}, false
	}

	return domain.RiskFactor{
		Name:        "time_anomaly",
		Weight:      weightTimeAnomaly,
		Value:       0.6,
		Description: fmt.Sprintf("Transaction at unusual hour: %02d:00", hour),
	}, true
}

func (s *Scorer) merchantRisk(tx *domain.Transaction) (domain.RiskFactor, bool) {
	merchant := strings.ToUpper(tx.Merchant)

	for _, risky := range highRiskMerchants {
		if strings.Contains(merchant, risky) {
			return domain.RiskFactor{
				Name:        "merchant_risk",
				Weight:      weightMerchant,
				Value:       0.7,
				Description: fmt.Sprintf("High-risk merchant category: %s", merchant),
			}, true
		}
	}
	return domain.RiskFactor{}, false
}

func (s *Scorer) usagePattern(tx *domain.Transaction, hist *domain.HistoryContext) (domain.RiskFactor, bool) {
	if hist == nil || len(hist.Recent) < 5 {
		return domain.RiskFactor{}, false
	}

	recent := hist.Recent
	if len(recent) > 20 {
		recent = recent[:20]
	}
	if len(recent) <= 10 {
		return domain.RiskFactor{}, false
	}

	historicalWords := make(map[string]struct{})
	for _, prev := range recent {
		for _, w := range strings.Fields(strings.ToUpper(prev.Merchant)) {
			historicalWords[w] = struct{}{}
		}
	}

	merchant := strings.ToUpper(tx.Merchant)
	for _, w := range strings.Fields(merchant) {
		if _, seen := historicalWords[w]; seen {
			return domain.RiskFactor{}, false
		}
	}

	return domain.RiskFactor{
		Name:        "card_usage_pattern",
		Weight:      weightUsagePattern,
		Value:       0.5,
		Description: fmt.Sprintf("First transaction with merchant type: %s", merchant),
	}, true
}

func confidence(factors []domain.RiskFactor) float64 {
	if len(factors) == 0 {
		return 0.3
	}

	totalWeight := 0.0
	for _, f := range factors {
		totalWeight += f.Weight
	}
	countBonus := float64(len(factors)) * 0.05
	if countBonus > 0.2 {
		countBonus = 0.2
	}
	return domain.ClampScore(totalWeight + countBonus)
}

func recommendations(score float64, factors []domain.RiskFactor) []string {
	recs := []string{}

	switch {
	case score >= 0.8:
		recs = append(recs,
			"BLOCK transaction immediately",
			"Contact cardholder for verification",
			"Flag account for manual review")
	case score >= 0.6:
		recs = append(recs,
			"Require additional authentication",
			"Monitor account closely")
	case score >= 0.4:
		recs = append(recs,
			"Send SMS verification to cardholder",
			"Log for pattern analysis")
	}

	for _, f := range factors {
		switch f.Name {
		case "velocity_check":
			recs = append(recs, "Implement temporary transaction limits")
		case "location_risk":
			recs = append(recs, "Verify location with cardholder")
		case "amount_anomaly":
			recs = append(recs, "Confirm large purchase authorization")
		}
	}
	return recs
}
