package domain

import "time"

// Action is the arbitrated verdict for a transaction.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionMonitor Action = "MONITOR"
	ActionReview  Action = "REVIEW"
	ActionBlock   Action = "BLOCK"
)

// Escalate returns the action one tier above a. BLOCK does not
// escalate further.
func (a Action) Escalate() Action {
	switch a {
	case ActionApprove:
		return ActionMonitor
	case ActionMonitor:
		return ActionReview
	case ActionReview:
		return ActionBlock
	default:
		return a
	}
}

// Tier returns the ordinal position of the action ladder, APPROVE=0.
func (a Action) Tier() int {
	switch a {
	case ActionApprove:
		return 0
	case ActionMonitor:
		return 1
	case ActionReview:
		return 2
	case ActionBlock:
		return 3
	default:
		return -1
	}
}

// FinalDecision is the arbitrated fusion of the three sub-signals.
type FinalDecision struct {
	FinalRiskScore float64 `json:"finalRiskScore"`
	Action         Action  `json:"action"`
	Reason         string  `json:"reason"`
	Confidence     float64 `json:"confidence"`
}

// ScoreResult is the full output of scoring one transaction.
type ScoreResult struct {
	Transaction   *Transaction    `json:"transaction"`
	Warnings      []string        `json:"validationWarnings,omitempty"`
	FraudAnalysis *FraudSignal    `json:"fraudAnalysis"`
	RiskAnalysis  *RiskAssessment `json:"riskAnalysis"`
	MLPrediction  *MLPrediction   `json:"mlPrediction"`
	FinalDecision *FinalDecision  `json:"finalDecision"`
	Alert         *Alert          `json:"alert,omitempty"`
	ScoredAt      time.Time       `json:"scoredAt"`
}

// BatchItem is the per-index outcome of a batch scoring run: either a
// full result or the errors that prevented one.
type BatchItem struct {
	Index  int          `json:"index"`
	Result *ScoreResult `json:"result,omitempty"`
	Errors []string     `json:"errors,omitempty"`
}

// Failed reports whether this item produced no decision.
func (b *BatchItem) Failed() bool {
	return b.Result == nil
}

// BatchSummary aggregates a batch after all items complete.
type BatchSummary struct {
	Processed      int     `json:"processed"`
	Successful     int     `json:"successful"`
	Failed         int     `json:"failed"`
	ValidationRate float64 `json:"validationRate"` // percent of items that passed validation
}

// BatchResult holds indexed per-item outcomes plus the summary.
type BatchResult struct {
	Results []BatchItem  `json:"results"`
	Summary BatchSummary `json:"summary"`
}

// DecisionRecord is a persisted decision, denormalized for listing and
// dashboard filtering.
type DecisionRecord struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId"`
	FinalScore    float64   `json:"finalScore"`
	Action        Action    `json:"action"`
	Reason        string    `json:"reason"`
	Confidence    float64   `json:"confidence"`
	RiskLevel     RiskLevel `json:"riskLevel"`
	Merchant      string    `json:"merchant"`
	Amount        float64   `json:"amount"`
	Location      string    `json:"location"`
	Detail        []byte    `json:"-"` // full ScoreResult JSON
	CreatedAt     time.Time `json:"createdAt"`
}

// DecisionFilter narrows decision listings.
type DecisionFilter struct {
	RiskLevel RiskLevel
	Action    Action
	Limit     int
	Offset    int
}

// EngineStats summarizes scored traffic for the stats endpoint.
type EngineStats struct {
	TotalTransactions int64               `json:"totalTransactions"`
	FraudRate         float64             `json:"fraudRate"` // percent HIGH or CRITICAL
	RiskDistribution  map[RiskLevel]int64 `json:"riskDistribution"`
	AlertCount        int64               `json:"alertCount"`
}
