package evaluation

import (
	"fmt"
	"math"
	"sort"

	"github.com/recoeval/reco-eval/internal/tensor"
)

// NDCG calculates Normalized Discounted Cumulative Gain at K over a
// ranked list of graded relevances.
func NDCG(relevances []int, k int) float64 {
	k = min(k, len(relevances))
	if k <= 0 {
		return 0
	}

	ideal := make([]int, len(relevances))
	copy(ideal, relevances)
	sort.Sort(sort.Reverse(sort.IntSlice(ideal)))

	idcg := dcg(ideal, k)
	if idcg == 0 {
		return 0
	}
	return dcg(relevances, k) / idcg
}

func dcg(relevances []int, k int) float64 {
	sum := 0.0
	for i := 0; i < k; i++ {
		sum += float64(relevances[i]) / math.Log2(float64(i+2))
	}
	return sum
}

// Recall calculates Recall at K
func Recall(relevances []int, k int, threshold int) float64 {
	k = min(k, len(relevances))

	total := 0
	for _, r := range relevances {
		if r >= threshold {
			total++
		}
	}
	if total == 0 {
		return 0
	}

	return float64(countRelevant(relevances[:max(k, 0)], threshold)) / float64(total)
}

// Precision calculates Precision at K
func Precision(relevances []int, k int, threshold int) float64 {
	k = min(k, len(relevances))
	if k <= 0 {
		return 0
	}
	return float64(countRelevant(relevances[:k], threshold)) / float64(k)
}

func countRelevant(relevances []int, threshold int) int {
	n := 0
	for _, r := range relevances {
		if r >= threshold {
			n++
		}
	}
	return n
}

// MRR calculates the reciprocal rank of the first relevant item.
func MRR(relevances []int, threshold int) float64 {
	for i, r := range relevances {
		if r >= threshold {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

// AveragePrecision calculates Average Precision
func AveragePrecision(relevances []int, threshold int) float64 {
	relevant := 0
	sumPrecision := 0.0

	for i, r := range relevances {
		if r >= threshold {
			relevant++
			sumPrecision += float64(relevant) / float64(i+1)
		}
	}

	if relevant == 0 {
		return 0
	}
	return sumPrecision / float64(relevant)
}

// Ranking holds full-ranking metrics averaged over queries. Gallery
// columns with the query's label are relevant (relevance 1).
type Ranking struct {
	MRR       float64         `json:"mrr"`
	MAP       float64         `json:"map"`
	NDCG      map[int]float64 `json:"ndcg"`
	Precision map[int]float64 `json:"precision"`
	Recall    map[int]float64 `json:"recall"`
}

// Flatten returns the metrics keyed "mrr", "map", "ndcg@k",
// "precision@k" and "recall@k".
func (r *Ranking) Flatten() map[string]float64 {
	out := map[string]float64{"mrr": r.MRR, "map": r.MAP}
	for k, v := range r.NDCG {
		out[fmt.Sprintf("ndcg@%d", k)] = v
	}
	for k, v := range r.Precision {
		out[fmt.Sprintf("precision@%d", k)] = v
	}
	for k, v := range r.Recall {
		out[fmt.Sprintf("recall@%d", k)] = v
	}
	return out
}

// RankingMetrics ranks every gallery column for every query and averages
// MRR, average precision and per-k NDCG, precision and recall.
func RankingMetrics(scores *tensor.Matrix, queryLabels, galleryLabels []int, ks []int) (*Ranking, error) {
	if err := checkShape(scores, queryLabels, galleryLabels); err != nil {
		return nil, err
	}
	ks = uniqueKs(ks)

	r := &Ranking{
		NDCG:      make(map[int]float64, len(ks)),
		Precision: make(map[int]float64, len(ks)),
		Recall:    make(map[int]float64, len(ks)),
	}

	relevances := make([]int, len(galleryLabels))
	for i, want := range queryLabels {
		for rank, c := range rankAll(scores.Row(i)) {
			relevances[rank] = 0
			if galleryLabels[c] == want {
				relevances[rank] = 1
			}
		}

		r.MRR += MRR(relevances, 1)
		r.MAP += AveragePrecision(relevances, 1)
		for _, k := range ks {
			r.NDCG[k] += NDCG(relevances, k)
			r.Precision[k] += Precision(relevances, k, 1)
			r.Recall[k] += Recall(relevances, k, 1)
		}
	}

	n := float64(len(queryLabels))
	r.MRR /= n
	r.MAP /= n
	for _, k := range ks {
		r.NDCG[k] /= n
		r.Precision[k] /= n
		r.Recall[k] /= n
	}
	return r, nil
}

// uniqueKs returns ks sorted ascending without duplicates.
func uniqueKs(ks []int) []int {
	out := append([]int(nil), ks...)
	sort.Ints(out)
	n := 0
	for i, k := range out {
		if i == 0 || k != out[n-1] {
			out[n] = k
			n++
		}
	}
	return out[:n]
}
