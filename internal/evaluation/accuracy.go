// Package evaluation scores retrieval results and runs fold evaluations.
package evaluation

import (
	"fmt"
	"math"
	"sort"

	"github.com/recoeval/reco-eval/internal/pkg/errors"
	"github.com/recoeval/reco-eval/internal/tensor"
)

// TopAllAccuracy returns the fraction of queries whose label appears
// anywhere in their candidate list.
func TopAllAccuracy(queryLabels []int, candidates [][]int) (float64, error) {
	if len(queryLabels) == 0 {
		return 0, errors.EmptyInputError("query set")
	}
	if len(candidates) != len(queryLabels) {
		return 0, errors.ShapeMismatchError(fmt.Sprintf(
			"%d query labels but %d candidate lists", len(queryLabels), len(candidates)))
	}

	correct := 0
	for i, want := range queryLabels {
		for _, got := range candidates[i] {
			if got == want {
				correct++
				break
			}
		}
	}
	return float64(correct) / float64(len(queryLabels)), nil
}

// TopKLabels returns, for each row of scores, the gallery labels of its k
// highest-scoring columns, best first. Equal scores rank by lower column
// index and NaN scores rank last.
func TopKLabels(scores *tensor.Matrix, galleryLabels []int, k int) ([][]int, error) {
	if err := checkColumns(scores, galleryLabels); err != nil {
		return nil, err
	}
	if k < 1 || k > scores.Cols() {
		return nil, errors.InvalidKError(k, scores.Cols())
	}

	out := make([][]int, scores.Rows())
	for i := range out {
		cols := topK(scores.Row(i), k)
		labels := make([]int, len(cols))
		for j, c := range cols {
			labels[j] = galleryLabels[c]
		}
		out[i] = labels
	}
	return out, nil
}

// TopKAccuracy returns the fraction of queries whose label is among the
// labels of their k best gallery columns.
func TopKAccuracy(scores *tensor.Matrix, queryLabels, galleryLabels []int, k int) (float64, error) {
	accs, err := TopKAccuracies(scores, queryLabels, galleryLabels, []int{k})
	if err != nil {
		return 0, err
	}
	return accs[k], nil
}

// Accuracy is top-1 accuracy.
func Accuracy(scores *tensor.Matrix, queryLabels, galleryLabels []int) (float64, error) {
	return TopKAccuracy(scores, queryLabels, galleryLabels, 1)
}

// TopKAccuracies computes top-k accuracy for every k in ks while ranking
// each row only once.
func TopKAccuracies(scores *tensor.Matrix, queryLabels, galleryLabels []int, ks []int) (map[int]float64, error) {
	if err := checkShape(scores, queryLabels, galleryLabels); err != nil {
		return nil, err
	}
	if len(ks) == 0 {
		return nil, errors.ValidationError("at least one k is required")
	}

	maxK := 0
	for _, k := range ks {
		if k < 1 || k > scores.Cols() {
			return nil, errors.InvalidKError(k, scores.Cols())
		}
		maxK = max(maxK, k)
	}

	// hitAt[i] is the 1-based rank of the first correct column for query i,
	// or 0 if none is within maxK.
	hitAt := make([]int, len(queryLabels))
	for i, want := range queryLabels {
		for rank, c := range topK(scores.Row(i), maxK) {
			if galleryLabels[c] == want {
				hitAt[i] = rank + 1
				break
			}
		}
	}

	out := make(map[int]float64, len(ks))
	for _, k := range ks {
		correct := 0
		for _, r := range hitAt {
			if r > 0 && r <= k {
				correct++
			}
		}
		out[k] = float64(correct) / float64(len(queryLabels))
	}
	return out, nil
}

func checkColumns(scores *tensor.Matrix, galleryLabels []int) error {
	if scores == nil {
		return errors.EmptyInputError("score matrix")
	}
	if scores.Cols() != len(galleryLabels) {
		return errors.ShapeMismatchError(fmt.Sprintf(
			"score matrix has %d columns but %d gallery labels", scores.Cols(), len(galleryLabels)))
	}
	return nil
}

func checkShape(scores *tensor.Matrix, queryLabels, galleryLabels []int) error {
	if err := checkColumns(scores, galleryLabels); err != nil {
		return err
	}
	if scores.Rows() != len(queryLabels) {
		return errors.ShapeMismatchError(fmt.Sprintf(
			"score matrix has %d rows but %d query labels", scores.Rows(), len(queryLabels)))
	}
	if len(queryLabels) == 0 {
		return errors.EmptyInputError("query set")
	}
	if len(galleryLabels) == 0 {
		return errors.EmptyInputError("gallery")
	}
	return nil
}

// ranksBefore reports whether column a ranks ahead of column b.
func ranksBefore(row []float32, a, b int) bool {
	sa, sb := float64(row[a]), float64(row[b])
	na, nb := math.IsNaN(sa), math.IsNaN(sb)
	switch {
	case na != nb:
		return nb
	case !na && sa != sb:
		return sa > sb
	}
	return a < b
}

// topK returns the indices of the k best columns of row, best first.
func topK(row []float32, k int) []int {
	k = min(k, len(row))
	top := make([]int, 0, k+1)
	for c := range row {
		if len(top) == k && !ranksBefore(row, c, top[k-1]) {
			continue
		}
		pos := sort.Search(len(top), func(i int) bool { return ranksBefore(row, c, top[i]) })
		top = append(top, 0)
		copy(top[pos+1:], top[pos:])
		top[pos] = c
		if len(top) > k {
			top = top[:k]
		}
	}
	return top
}

// rankAll returns every column of row, best first.
func rankAll(row []float32) []int {
	cols := make([]int, len(row))
	for i := range cols {
		cols[i] = i
	}
	sort.SliceStable(cols, func(i, j int) bool { return ranksBefore(row, cols[i], cols[j]) })
	return cols
}
