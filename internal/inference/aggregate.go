package inference

import (
	"gonum.org/v1/gonum/floats"

	"github.com/recoeval/reco-eval/internal/pkg/errors"
	"github.com/recoeval/reco-eval/internal/tensor"
)

// MeanPerLabel averages the embeddings of each label. Output rows follow
// the first appearance of each label.
func MeanPerLabel(embeddings *tensor.Matrix, labels []int) (*tensor.Matrix, []int, error) {
	if embeddings.Rows() != len(labels) {
		return nil, nil, errors.ShapeMismatchError("aggregate: label count does not match embedding rows")
	}

	dim := embeddings.Cols()
	pos := make(map[int]int)
	var order []int
	var sums [][]float64
	var counts []float64

	row64 := make([]float64, dim)
	for i, l := range labels {
		p, ok := pos[l]
		if !ok {
			p = len(order)
			pos[l] = p
			order = append(order, l)
			sums = append(sums, make([]float64, dim))
			counts = append(counts, 0)
		}
		for j, v := range embeddings.Row(i) {
			row64[j] = float64(v)
		}
		floats.Add(sums[p], row64)
		counts[p]++
	}

	out := tensor.New(len(order), dim)
	for p, sum := range sums {
		floats.Scale(1/counts[p], sum)
		row := out.Row(p)
		for j, v := range sum {
			row[j] = float32(v)
		}
	}

	return out, order, nil
}
