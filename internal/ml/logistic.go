package ml

import "math"

// Logistic regression training parameters. Full-batch gradient descent
// is adequate for the corpus sizes the trainer sees.
const (
	logisticEpochs       = 400
	logisticLearningRate = 0.1
	logisticL2           = 0.001
)

// logisticModel is a binary fraud classifier over scaled features.
type logisticModel struct {
	weights []float64
	bias    float64
}

// fitLogistic trains with inverse-frequency class weights so the
// minority fraud class is not drowned out.
func fitLogistic(matrix [][]float64, labels []int) *logisticModel {
	n := len(matrix)
	width := len(matrix[0])

	positives := 0
	for _, y := range labels {
		if y == 1 {
			positives++
		}
	}
	negatives := n - positives

	// Balanced class weights: n / (2 * class count).
	posWeight, negWeight := 1.0, 1.0
	if positives > 0 && negatives > 0 {
		posWeight = float64(n) / (2 * float64(positives))
		negWeight = float64(n) / (2 * float64(negatives))
	}

	m := &logisticModel{weights: make([]float64, width)}
	gradW := make([]float64, width)

	for epoch := 0; epoch < logisticEpochs; epoch++ {
		for j := range gradW {
			gradW[j] = 0
		}
		gradB := 0.0

		for i, row := range matrix {
			p := m.probability(row)
			err := p - float64(labels[i])
			w := negWeight
			if labels[i] == 1 {
				w = posWeight
			}
			for j, v := range row {
				gradW[j] += w * err * v
			}
			gradB += w * err
		}

		scale := logisticLearningRate / float64(n)
		for j := range m.weights {
			m.weights[j] -= scale * (gradW[j] + logisticL2*m.weights[j])
		}
		m.bias -= scale * gradB
	}
	return m
}

// probability returns P(fraud) for one scaled feature vector.
func (m *logisticModel) probability(row []float64) float64 {
	z := m.bias
	for j, v := range row {
		z += m.weights[j] * v
	}
	return 1 / (1 + math.Exp(-z))
}

// importance returns normalized absolute weights, one per feature.
func (m *logisticModel) importance() []float64 {
	out := make([]float64, len(m.weights))
	total := 0.0
	for _, w := range m.weights {
		total += math.Abs(w)
	}
	if total == 0 {
		return out
	}
	for j, w := range m.weights {
		out[j] = math.Abs(w) / total
	}
	return out
}
