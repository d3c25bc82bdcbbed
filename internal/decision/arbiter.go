// Package decision fuses the three sub-signals into a final verdict
// and derives escalation alerts from it.
package decision

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Fusion weights across the three sub-signals. Fixed and documented;
// they must sum to 1.0.
const (
	ruleWeight = 0.35
	riskWeight = 0.25
	mlWeight   = 0.40
)

// Action thresholds over the fused score.
const (
	monitorThreshold = 0.2
	reviewThreshold  = 0.5
	blockThreshold   = 0.8
)

// Arbiter computes final decisions. Stateless and safe for concurrent
// use.
type Arbiter struct{}

func NewArbiter() *Arbiter {
	return &Arbiter{}
}

// Decide fuses the sub-signals for one transaction. All three signals
// are required; a missing signal is a caller bug, not a degradable
// condition.
func (a *Arbiter) Decide(fraud *domain.FraudSignal, risk *domain.RiskAssessment, ml *domain.MLPrediction) (*domain.FinalDecision, error) {
	if fraud == nil || risk == nil || ml == nil {
		return nil, fmt.Errorf("arbiter requires all three sub-signals")
	}

	score := domain.ClampScore(
		ruleWeight*fraud.RiskScore +
			riskWeight*risk.RiskScore +
			mlWeight*ml.CombinedFraudProbability)

	action := actionForScore(score)

	// Anomaly escalates low-band verdicts by exactly one tier; it
	// never turns an APPROVE directly into a BLOCK.
	if ml.IsAnomaly && (action == domain.ActionApprove || action == domain.ActionMonitor) {
		action = action.Escalate()
	}

	return &domain.FinalDecision{
		FinalRiskScore: score,
		Action:         action,
		Reason:         dominantReason(fraud, risk, ml),
		Confidence:     risk.Confidence,
	}, nil
}

func actionForScore(score float64) domain.Action {
	switch {
	case score >= blockThreshold:
		return domain.ActionBlock
	case score >= reviewThreshold:
		return domain.ActionReview
	case score >= monitorThreshold:
		return domain.ActionMonitor
	default:
		return domain.ActionApprove
	}
}

// dominantReason names whichever sub-score is numerically largest.
func dominantReason(fraud *domain.FraudSignal, risk *domain.RiskAssessment, ml *domain.MLPrediction) string {
	switch {
	case ml.CombinedFraudProbability >= fraud.RiskScore && ml.CombinedFraudProbability >= risk.RiskScore:
		return fmt.Sprintf("model fraud probability %.2f is the dominant signal", ml.CombinedFraudProbability)
	case risk.RiskScore >= fraud.RiskScore:
		return fmt.Sprintf("weighted risk score %.2f is the dominant signal", risk.RiskScore)
	default:
		return fmt.Sprintf("rule analysis score %.2f is the dominant signal (%d factors)", fraud.RiskScore, len(fraud.Factors))
	}
}
