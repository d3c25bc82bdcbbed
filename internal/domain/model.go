package domain

import "time"

// ModelInfo is a point-in-time read of the active model state.
type ModelInfo struct {
	Trained           bool               `json:"trained"`
	FeatureSchema     []string           `json:"featureSchema"`
	ClassifierPresent bool               `json:"classifierPresent"`
	FeatureImportance map[string]float64 `json:"featureImportance,omitempty"`
	SampleCount       int                `json:"sampleCount"`
	LastTrainedAt     time.Time          `json:"lastTrainedAt,omitzero"`
	Metrics           *TrainingMetrics   `json:"metrics,omitempty"`
}

// ClassMetrics is a per-class evaluation row.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// TrainingMetrics reports the outcome of one training run.
type TrainingMetrics struct {
	Samples           int                     `json:"samples"`
	FeatureCount      int                     `json:"featureCount"`
	ClassifierTrained bool                    `json:"classifierTrained"`
	Accuracy          float64                 `json:"accuracy,omitempty"`
	Report            map[string]ClassMetrics `json:"report,omitempty"` // keyed "fraud"/"legitimate"
}

// TrainingReport is the result surfaced by trainModel.
type TrainingReport struct {
	Trained bool             `json:"trained"`
	Metrics *TrainingMetrics `json:"metrics"`
}
