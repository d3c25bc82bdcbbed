package ml

import (
	"errors"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrNotTrained is returned when a prediction is requested before any
// model has been fitted.
var ErrNotTrained = errors.New("ml: model not trained")

const (
	// neutralProbability stands in for a missing classifier. It is a
	// midpoint deliberately distinct from 0 and 1 so downstream fusion
	// cannot mistake it for confident evidence.
	neutralProbability = 0.5

	// Fusion split between classifier probability and anomaly score.
	// Classifier-heavy: the anomaly score is a coarse density signal
	// while the classifier is trained on labeled outcomes.
	classifierFusionWeight = 0.8
	anomalyFusionWeight    = 0.2

	topFactorCount = 5
)

// Snapshot is one immutable fitted model state. All fields are fixed
// at construction; readers share snapshots freely without locking.
type Snapshot struct {
	scaler     *standardScaler
	forest     *isolationForest
	classifier *logisticModel

	featureNames []string
	samples      int
	trainedAt    time.Time
	metrics      *domain.TrainingMetrics
}

// Predict scores one transaction against this snapshot.
func (s *Snapshot) Predict(tx *domain.Transaction) *domain.MLPrediction {
	raw := Extract(tx)
	scaled := s.scaler.transform(raw)

	anomalyScore := s.forest.score(scaled)
	pred := &domain.MLPrediction{
		AnomalyScore: anomalyScore,
		IsAnomaly:    anomalyScore >= s.forest.threshold,
	}

	if s.classifier != nil {
		pred.ClassifierUsed = true
		pred.FraudProbability = s.classifier.probability(scaled)
		pred.CombinedFraudProbability = domain.ClampScore(
			classifierFusionWeight*pred.FraudProbability + anomalyFusionWeight*anomalyScore)
		pred.TopRiskFactors = s.topByImportance(raw)
	} else {
		pred.FraudProbability = neutralProbability
		pred.CombinedFraudProbability = domain.ClampScore(anomalyScore)
		pred.TopRiskFactors = s.topByDeviation(raw, scaled)
	}
	return pred
}

// topByImportance ranks features by classifier importance times the
// observed magnitude.
func (s *Snapshot) topByImportance(raw []float64) []domain.FeatureContribution {
	importance := s.classifier.importance()
	out := make([]domain.FeatureContribution, len(raw))
	for j, v := range raw {
		out[j] = domain.FeatureContribution{
			Feature:      s.featureNames[j],
			Value:        v,
			Contribution: importance[j] * math.Abs(v),
		}
	}
	return truncateSorted(out)
}

// topByDeviation ranks features by distance from the training mean,
// used when no classifier is present.
func (s *Snapshot) topByDeviation(raw, scaled []float64) []domain.FeatureContribution {
	out := make([]domain.FeatureContribution, len(raw))
	for j, v := range raw {
		out[j] = domain.FeatureContribution{
			Feature:      s.featureNames[j],
			Value:        v,
			Contribution: math.Abs(scaled[j]),
		}
	}
	return truncateSorted(out)
}

func truncateSorted(contributions []domain.FeatureContribution) []domain.FeatureContribution {
	sort.SliceStable(contributions, func(i, j int) bool {
		return contributions[i].Contribution > contributions[j].Contribution
	})
	if len(contributions) > topFactorCount {
		contributions = contributions[:topFactorCount]
	}
	return contributions
}

// Info describes this snapshot.
func (s *Snapshot) Info() *domain.ModelInfo {
	info := &domain.ModelInfo{
		Trained:           true,
		FeatureSchema:     append([]string(nil), s.featureNames...),
		ClassifierPresent: s.classifier != nil,
		SampleCount:       s.samples,
		LastTrainedAt:     s.trainedAt,
		Metrics:           s.metrics,
	}
	if s.classifier != nil {
		importance := s.classifier.importance()
		info.FeatureImportance = make(map[string]float64, len(importance))
		for j, name := range s.featureNames {
			info.FeatureImportance[name] = importance[j]
		}
	}
	return info
}

// Store publishes the active Snapshot. Swaps are atomic: a reader
// observes either the previous snapshot or the new one, never a
// partially constructed state.
type Store struct {
	current atomic.Pointer[Snapshot]
}

func NewStore() *Store {
	return &Store{}
}

// Active returns the current snapshot, or nil before first training.
func (st *Store) Active() *Snapshot {
	return st.current.Load()
}

// Predict scores against the active snapshot.
func (st *Store) Predict(tx *domain.Transaction) (*domain.MLPrediction, error) {
	snap := st.current.Load()
	if snap == nil {
		return nil, ErrNotTrained
	}
	return snap.Predict(tx), nil
}

// Info describes the active snapshot. Before first training it reports
// the pinned feature schema with Trained false.
func (st *Store) Info() *domain.ModelInfo {
	snap := st.current.Load()
	if snap == nil {
		return &domain.ModelInfo{
			Trained:       false,
			FeatureSchema: FeatureNames(),
		}
	}
	return snap.Info()
}

func (st *Store) publish(snap *Snapshot) {
	st.current.Store(snap)
}
