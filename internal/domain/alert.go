package domain

import "time"

// AlertSeverity grades an alert for triage.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "LOW"
	SeverityMedium   AlertSeverity = "MEDIUM"
	SeverityHigh     AlertSeverity = "HIGH"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// AlertStatus tracks the case-management lifecycle. The engine only
// ever creates alerts in StatusOpen; transitions are owned by the
// external case-management surface.
type AlertStatus string

const (
	StatusOpen          AlertStatus = "OPEN"
	StatusInvestigating AlertStatus = "INVESTIGATING"
	StatusResolved      AlertStatus = "RESOLVED"
	StatusFalsePositive AlertStatus = "FALSE_POSITIVE"
)

// Alert is an escalation record generated from a high-risk decision.
// Merchant, amount and location are denormalized for display.
type Alert struct {
	ID             string        `json:"id"`
	TransactionID  string        `json:"transactionId"`
	Severity       AlertSeverity `json:"severity"`
	RiskScore      float64       `json:"riskScore"`
	ActionRequired Action        `json:"actionRequired"`
	Reason         string        `json:"reason"`
	Merchant       string        `json:"merchant"`
	Amount         float64       `json:"amount"`
	Location       string        `json:"location"`
	CreatedAt      time.Time     `json:"createdAt"`
	Status         AlertStatus   `json:"status"`
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	Severity AlertSeverity
	Status   AlertStatus
	Limit    int
}
