// Package ml implements the learned half of the scoring pipeline: an
// isolation forest anomaly detector, a logistic regression fraud
// classifier, and the immutable model snapshot that publishes both to
// concurrent readers.
package ml

import (
	"math"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// featureNames pins the feature vector layout. Extract must emit
// values in exactly this order; the trained scaler and models index
// into it positionally.
var featureNames = []string{
	"amount",
	"log_amount",
	"hour",
	"day_of_week",
	"is_weekend",
	"is_night",
	"merchant_length",
	"merchant_words",
	"location_length",
	"is_international",
	"round_amount",
}

// FeatureNames returns the feature schema in vector order.
func FeatureNames() []string {
	names := make([]string, len(featureNames))
	copy(names, featureNames)
	return names
}

// FeatureCount is the fixed width of every feature vector.
func FeatureCount() int { return len(featureNames) }

// Extract engineers the numeric feature vector for one transaction.
func Extract(tx *domain.Transaction) []float64 {
	amount := tx.Amount.InexactFloat64()
	hour := tx.Timestamp.Hour()
	weekday := int(tx.Timestamp.Weekday())

	v := make([]float64, 0, len(featureNames))
	v = append(v, amount)
	v = append(v, math.Log1p(amount))
	v = append(v, float64(hour))
	v = append(v, float64(weekday))
	v = append(v, boolFeature(weekday == 0 || weekday == 6))
	v = append(v, boolFeature(hour >= 22 || hour <= 6))
	v = append(v, float64(len(tx.Merchant)))
	v = append(v, float64(len(strings.Fields(tx.Merchant))))
	v = append(v, float64(len(tx.Location)))
	v = append(v, boolFeature(!isDomestic(tx.Location)))
	v = append(v, boolFeature(tx.Amount.IsInteger()))
	return v
}

// ExtractMatrix builds the feature matrix for a corpus, row per
// transaction in input order.
func ExtractMatrix(txs []*domain.Transaction) [][]float64 {
	matrix := make([][]float64, len(txs))
	for i, tx := range txs {
		matrix[i] = Extract(tx)
	}
	return matrix
}

func isDomestic(location string) bool {
	upper := strings.ToUpper(location)
	return strings.Contains(upper, "US") ||
		strings.Contains(upper, "USA") ||
		strings.Contains(upper, "UNITED STATES")
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
