package ml

import "math"

// standardScaler centers each feature to zero mean and unit variance.
// Constant features keep a unit deviation so transform never divides
// by zero.
type standardScaler struct {
	mean []float64
	std  []float64
}

func fitScaler(matrix [][]float64) *standardScaler {
	if len(matrix) == 0 {
		return &standardScaler{}
	}

	width := len(matrix[0])
	mean := make([]float64, width)
	std := make([]float64, width)

	for _, row := range matrix {
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(matrix))
	for j := range mean {
		mean[j] /= n
	}

	for _, row := range matrix {
		for j, v := range row {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / n)
		if std[j] == 0 {
			std[j] = 1
		}
	}

	return &standardScaler{mean: mean, std: std}
}

func (s *standardScaler) transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.mean[j]) / s.std[j]
	}
	return out
}

func (s *standardScaler) transformMatrix(matrix [][]float64) [][]float64 {
	out := make([][]float64, len(matrix))
	for i, row := range matrix {
		out[i] = s.transform(row)
	}
	return out
}
