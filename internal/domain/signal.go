package domain

// RiskLevel is a discrete band derived from a score in [0,1].
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "MINIMAL"
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// CriticalThreshold is the score at which a single signal is considered
// critical on its own, independent of the arbitrated action.
const CriticalThreshold = 0.8

// LevelForScore maps a score to its risk band. The mapping is fixed:
// [0,0.2) MINIMAL, [0.2,0.4) LOW, [0.4,0.6) MEDIUM, [0.6,0.8) HIGH,
// [0.8,1.0] CRITICAL.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score >= 0.8:
		return RiskCritical
	case score >= 0.6:
		return RiskHigh
	case score >= 0.4:
		return RiskMedium
	case score >= 0.2:
		return RiskLow
	default:
		return RiskMinimal
	}
}

// ClampScore bounds a score to [0,1].
func ClampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// FraudSignal is the output of the rule-based fraud analyzer.
type FraudSignal struct {
	TransactionID string    `json:"transactionId"`
	RiskScore     float64   `json:"riskScore"`
	RiskLevel     RiskLevel `json:"riskLevel"`
	Factors       []string  `json:"factors"`
}

// RiskFactor is one independently weighted contributor to a risk
// assessment. Weight is fixed at scorer construction; Value is the
// severity observed for this transaction.
type RiskFactor struct {
	Name        string  `json:"name"`
	Weight      float64 `json:"weight"`
	Value       float64 `json:"value"`
	Description string  `json:"description"`
}

// RiskAssessment is the output of the weighted risk scorer.
type RiskAssessment struct {
	RiskScore       float64      `json:"riskScore"`
	RiskLevel       RiskLevel    `json:"riskLevel"`
	Confidence      float64      `json:"confidence"`
	Factors         []RiskFactor `json:"factors"`
	Recommendations []string     `json:"recommendations"`
}

// FeatureContribution names one feature's share of an ML prediction.
type FeatureContribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
}

// MLPrediction is the output of the ML predictor.
type MLPrediction struct {
	FraudProbability         float64               `json:"fraudProbability"`
	AnomalyScore             float64               `json:"anomalyScore"`
	IsAnomaly                bool                  `json:"isAnomaly"`
	CombinedFraudProbability float64               `json:"combinedFraudProbability"`
	TopRiskFactors           []FeatureContribution `json:"topRiskFactors,omitempty"`
	ClassifierUsed           bool                  `json:"classifierUsed"`
}
