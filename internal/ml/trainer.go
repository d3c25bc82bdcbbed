package ml

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	// trainingSeed makes forest construction and the train/test split
	// reproducible across runs.
	trainingSeed = 42

	minTrainingSamples = 10
	testFraction       = 0.2
	decisionCutoff     = 0.5
)

// Trainer fits model snapshots and publishes them to a Store. A failed
// fit leaves the previously published snapshot untouched.
type Trainer struct {
	store            *Store
	logger           *slog.Logger
	syntheticSamples int
}

func NewTrainer(store *Store, logger *slog.Logger, syntheticSamples int) *Trainer {
	return &Trainer{
		store:            store,
		logger:           logger,
		syntheticSamples: syntheticSamples,
	}
}

// Train fits the anomaly detector over the corpus and, when labels are
// supplied, the fraud classifier over an 80/20 split. With an empty
// corpus a labeled synthetic one is generated so training always has
// data. The new snapshot is published atomically only after every fit
// succeeds.
func (t *Trainer) Train(ctx context.Context, txs []*domain.Transaction, labels []int) (*domain.TrainingReport, error) {
	if len(txs) == 0 {
		t.logger.Info("no training corpus supplied, generating synthetic data",
			"samples", t.syntheticSamples)
		txs, labels = SyntheticCorpus(t.syntheticSamples, trainingSeed)
	}

	if len(txs) < minTrainingSamples {
		return nil, &domain.TrainingError{
			Reason: "insufficient training samples",
		}
	}
	if labels != nil && len(labels) != len(txs) {
		return nil, &domain.TrainingError{
			Reason: "label count does not match corpus size",
		}
	}

	start := time.Now()
	matrix := ExtractMatrix(txs)
	scaler := fitScaler(matrix)
	scaled := scaler.transformMatrix(matrix)

	rng := rand.New(rand.NewSource(trainingSeed))
	forest := fitForest(scaled, rng)

	metrics := &domain.TrainingMetrics{
		Samples:      len(txs),
		FeatureCount: FeatureCount(),
	}

	var classifier *logisticModel
	if labels != nil {
		var err error
		classifier, err = t.fitClassifier(scaled, labels, rng, metrics)
		if err != nil {
			return nil, err
		}
	}

	snap := &Snapshot{
		scaler:       scaler,
		forest:       forest,
		classifier:   classifier,
		featureNames: FeatureNames(),
		samples:      len(txs),
		trainedAt:    time.Now().UTC(),
		metrics:      metrics,
	}
	t.store.publish(snap)

	t.logger.Info("model training completed",
		"samples", metrics.Samples,
		"features", metrics.FeatureCount,
		"classifier", metrics.ClassifierTrained,
		"accuracy", metrics.Accuracy,
		"duration", time.Since(start).String())

	return &domain.TrainingReport{Trained: true, Metrics: metrics}, nil
}

// fitClassifier trains on a stratified 80/20 split and evaluates on
// the held-out fifth.
func (t *Trainer) fitClassifier(scaled [][]float64, labels []int, rng *rand.Rand, metrics *domain.TrainingMetrics) (*logisticModel, error) {
	trainIdx, testIdx := stratifiedSplit(labels, testFraction, rng)
	if len(trainIdx) == 0 || len(testIdx) == 0 {
		return nil, &domain.TrainingError{
			Reason: "corpus too small for a train/test split",
		}
	}

	trainX := make([][]float64, len(trainIdx))
	trainY := make([]int, len(trainIdx))
	for i, idx := range trainIdx {
		trainX[i] = scaled[idx]
		trainY[i] = labels[idx]
	}

	classifier := fitLogistic(trainX, trainY)

	correct := 0
	tp := map[int]int{}
	predicted := map[int]int{}
	actual := map[int]int{}

	for _, idx := range testIdx {
		want := labels[idx]
		got := 0
		if classifier.probability(scaled[idx]) >= decisionCutoff {
			got = 1
		}
		actual[want]++
		predicted[got]++
		if got == want {
			correct++
			tp[want]++
		}
	}

	report := make(map[string]domain.ClassMetrics, 2)
	for class, name := range map[int]string{0: "legitimate", 1: "fraud"} {
		m := domain.ClassMetrics{Support: actual[class]}
		if predicted[class] > 0 {
			m.Precision = float64(tp[class]) / float64(predicted[class])
		}
		if actual[class] > 0 {
			m.Recall = float64(tp[class]) / float64(actual[class])
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		report[name] = m
	}

	metrics.ClassifierTrained = true
	metrics.Accuracy = float64(correct) / float64(len(testIdx))
	metrics.Report = report
	return classifier, nil
}

// stratifiedSplit shuffles each class independently and holds out the
// given fraction of each.
func stratifiedSplit(labels []int, fraction float64, rng *rand.Rand) (train, test []int) {
	byClass := map[int][]int{}
	for i, y := range labels {
		byClass[y] = append(byClass[y], i)
	}

	for _, indices := range byClass {
		rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
		holdout := int(float64(len(indices)) * fraction)
		test = append(test, indices[:holdout]...)
		train = append(train, indices[holdout:]...)
	}
	return train, test
}
