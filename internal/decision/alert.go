package decision

import (
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// AlertGenerator derives escalation alerts from final decisions.
// Alerts are created OPEN and never mutated here; lifecycle
// transitions belong to case management.
type AlertGenerator struct {
	now func() time.Time
}

func NewAlertGenerator() *AlertGenerator {
	return &AlertGenerator{now: time.Now}
}

// Generate returns an alert when the decision warrants one, nil
// otherwise. An alert fires for REVIEW and BLOCK actions, and also
// when any individual sub-signal crossed the critical line even if
// the fused verdict stayed low.
func (g *AlertGenerator) Generate(tx *domain.Transaction, d *domain.FinalDecision, fraud *domain.FraudSignal, risk *domain.RiskAssessment, ml *domain.MLPrediction) *domain.Alert {
	actionable := d.Action == domain.ActionReview || d.Action == domain.ActionBlock
	criticalSignal := fraud.RiskScore >= domain.CriticalThreshold ||
		risk.RiskScore >= domain.CriticalThreshold ||
		ml.CombinedFraudProbability >= domain.CriticalThreshold

	if !actionable && !criticalSignal {
		return nil
	}

	return &domain.Alert{
		ID:             uuid.New().String(),
		TransactionID:  tx.ID,
		Severity:       severityFor(d),
		RiskScore:      d.FinalRiskScore,
		ActionRequired: d.Action,
		Reason:         d.Reason,
		Merchant:       tx.Merchant,
		Amount:         tx.Amount.InexactFloat64(),
		Location:       tx.Location,
		CreatedAt:      g.now().UTC(),
		Status:         domain.StatusOpen,
	}
}

func severityFor(d *domain.FinalDecision) domain.AlertSeverity {
	switch {
	case d.Action == domain.ActionBlock:
		return domain.SeverityCritical
	case d.Action == domain.ActionReview && d.FinalRiskScore >= domain.CriticalThreshold:
		return domain.SeverityCritical
	case d.Action == domain.ActionReview:
		return domain.SeverityHigh
	default:
		// Sub-signal crossed critical while the fused verdict stayed
		// low.
		return domain.SeverityHigh
	}
}
