package qc

import (
	"errors"
	"fmt"
	"math"
)

// leaf marks a missing child in the exported node arrays.
const leaf = -1

// eulerGamma is the Euler–Mascheroni constant used by the average path length.
const eulerGamma = 0.5772156649015329

// IsolationForest is an exported isolation forest. Each tree is stored as
// parallel node arrays; node 0 is the root.
//
// An observation is an outlier when its anomaly score, relative to Offset,
// is negative:
//
//	score    = -2^(-mean(pathLength) / c(MaxSamples))
//	decision = score - Offset
//
// where pathLength is the depth of the reached leaf plus c(n) for the n
// training samples left in that leaf.
type IsolationForest struct {
	MaxSamples int     `json:"max_samples"`
	Offset     float64 `json:"offset"`
	NFeatures  int     `json:"n_features"`
	Trees      []Tree  `json:"trees"`
}

// Tree is one isolation tree.
type Tree struct {
	ChildrenLeft  []int     `json:"children_left"`
	ChildrenRight []int     `json:"children_right"`
	Feature       []int     `json:"feature"`
	Threshold     []float64 `json:"threshold"`
	NodeSamples   []int     `json:"n_node_samples"`

	// Features maps the tree's feature positions onto input columns when
	// the tree was trained on a feature subset. Empty means identity.
	Features []int `json:"features,omitempty"`
}

// Validate checks array lengths and node references.
func (f *IsolationForest) Validate() error {
	if f.MaxSamples < 2 {
		return errors.New("isolation forest: max_samples must be at least 2")
	}
	if f.NFeatures < 1 {
		return errors.New("isolation forest: n_features must be positive")
	}
	if len(f.Trees) == 0 {
		return errors.New("isolation forest: no trees")
	}
	for i := range f.Trees {
		if err := f.Trees[i].validate(f.NFeatures); err != nil {
			return fmt.Errorf("isolation forest: tree %d: %w", i, err)
		}
	}
	return nil
}

func (t *Tree) validate(nFeatures int) error {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return errors.New("empty tree")
	}
	if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.NodeSamples) != n {
		return errors.New("node arrays differ in length")
	}
	for _, col := range t.Features {
		if col < 0 || col >= nFeatures {
			return fmt.Errorf("feature column %d out of range", col)
		}
	}
	for i := 0; i < n; i++ {
		l, r := t.ChildrenLeft[i], t.ChildrenRight[i]
		if l == leaf && r == leaf {
			continue
		}
		if l <= i || l >= n || r <= i || r >= n {
			return fmt.Errorf("node %d has invalid children %d/%d", i, l, r)
		}
		if _, err := t.column(t.Feature[i], nFeatures); err != nil {
			return fmt.Errorf("node %d: %w", i, err)
		}
	}
	return nil
}

func (t *Tree) column(feature, nFeatures int) (int, error) {
	if len(t.Features) > 0 {
		if feature < 0 || feature >= len(t.Features) {
			return 0, fmt.Errorf("feature %d outside subset of %d", feature, len(t.Features))
		}
		return t.Features[feature], nil
	}
	if feature < 0 || feature >= nFeatures {
		return 0, fmt.Errorf("feature %d out of range", feature)
	}
	return feature, nil
}

// pathLength returns the isolation depth of x in this tree. Child indices
// always increase, so the walk terminates.
func (t *Tree) pathLength(x []float64, nFeatures int) float64 {
	node, depth := 0, 0
	for t.ChildrenLeft[node] != leaf {
		col, _ := t.column(t.Feature[node], nFeatures)
		if x[col] <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
		depth++
	}
	return float64(depth) + averagePathLength(t.NodeSamples[node])
}

// Score returns the anomaly score of one row, in [-1, 0). Lower is more
// anomalous.
func (f *IsolationForest) Score(x []float64) (float64, error) {
	if len(x) != f.NFeatures {
		return 0, fmt.Errorf("isolation forest: row has %d features, want %d", len(x), f.NFeatures)
	}
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("isolation forest: feature %d is not finite", i)
		}
	}
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].pathLength(x, f.NFeatures)
	}
	mean := sum / float64(len(f.Trees))
	return -math.Pow(2, -mean/averagePathLength(f.MaxSamples)), nil
}

// Predict labels each row Inlier or Outlier.
func (f *IsolationForest) Predict(rows [][]float64) ([]int, error) {
	labels := make([]int, len(rows))
	for i, row := range rows {
		score, err := f.Score(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if score-f.Offset < 0 {
			labels[i] = Outlier
		} else {
			labels[i] = Inlier
		}
	}
	return labels, nil
}

// averagePathLength is c(n), the mean path length of an unsuccessful search
// in a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}
