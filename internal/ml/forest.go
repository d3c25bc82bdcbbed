package ml

import (
	"math"
	"math/rand"
	"sort"
)

// Isolation forest parameters. Anomalous points isolate in fewer
// random splits, so shorter average path lengths mean higher scores.
const (
	forestTrees        = 100
	forestSampleSize   = 256
	forestContaminated = 0.1
)

const eulerGamma = 0.5772156649015329

type isoNode struct {
	feature int
	split   float64
	left    *isoNode
	right   *isoNode
	size    int // leaf only: samples that terminated here
}

type isolationForest struct {
	trees      []*isoNode
	sampleSize int
	threshold  float64
}

// fitForest trains the forest and fixes the anomaly threshold at the
// contamination quantile of the training scores.
func fitForest(matrix [][]float64, rng *rand.Rand) *isolationForest {
	n := len(matrix)
	sampleSize := forestSampleSize
	if sampleSize > n {
		sampleSize = n
	}
	heightLimit := int(math.Ceil(math.Log2(math.Max(2, float64(sampleSize)))))

	f := &isolationForest{
		trees:      make([]*isoNode, 0, forestTrees),
		sampleSize: sampleSize,
	}
	for t := 0; t < forestTrees; t++ {
		sample := make([][]float64, 0, sampleSize)
		for _, idx := range rng.Perm(n)[:sampleSize] {
			sample = append(sample, matrix[idx])
		}
		f.trees = append(f.trees, buildIsoTree(sample, 0, heightLimit, rng))
	}

	scores := make([]float64, n)
	for i, row := range matrix {
		scores[i] = f.score(row)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))

	cut := int(float64(n) * forestContaminated)
	if cut >= n {
		cut = n - 1
	}
	f.threshold = scores[cut]
	return f
}

func buildIsoTree(sample [][]float64, depth, limit int, rng *rand.Rand) *isoNode {
	if depth >= limit || len(sample) <= 1 {
		return &isoNode{feature: -1, size: len(sample)}
	}

	// Choose among features that still have spread in this partition.
	width := len(sample[0])
	splittable := make([]int, 0, width)
	for j := 0; j < width; j++ {
		min, max := sample[0][j], sample[0][j]
		for _, row := range sample[1:] {
			if row[j] < min {
				min = row[j]
			}
			if row[j] > max {
				max = row[j]
			}
		}
		if max > min {
			splittable = append(splittable, j)
		}
	}
	if len(splittable) == 0 {
		return &isoNode{feature: -1, size: len(sample)}
	}

	feature := splittable[rng.Intn(len(splittable))]
	min, max := sample[0][feature], sample[0][feature]
	for _, row := range sample[1:] {
		if row[feature] < min {
			min = row[feature]
		}
		if row[feature] > max {
			max = row[feature]
		}
	}
	split := min + rng.Float64()*(max-min)

	var left, right [][]float64
	for _, row := range sample {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{feature: -1, size: len(sample)}
	}

	return &isoNode{
		feature: feature,
		split:   split,
		left:    buildIsoTree(left, depth+1, limit, rng),
		right:   buildIsoTree(right, depth+1, limit, rng),
	}
}

// score returns the anomaly score in (0,1); higher is more anomalous.
func (f *isolationForest) score(row []float64) float64 {
	total := 0.0
	for _, tree := range f.trees {
		total += pathLength(tree, row, 0)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/avgPathLength(f.sampleSize))
}

func (f *isolationForest) isAnomaly(row []float64) bool {
	return f.score(row) >= f.threshold
}

func pathLength(node *isoNode, row []float64, depth int) float64 {
	if node.feature < 0 {
		return float64(depth) + avgPathLength(node.size)
	}
	if row[node.feature] < node.split {
		return pathLength(node.left, row, depth+1)
	}
	return pathLength(node.right, row, depth+1)
}

// avgPathLength is the expected path length of an unsuccessful binary
// search tree lookup over n points.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}
