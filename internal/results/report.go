// Package results persists evaluation reports.
package results

import (
	"sort"
	"strconv"
	"time"

	"github.com/recoeval/reco-eval/internal/split"
)

// Report is the outcome of one evaluation run: one or more folds plus a
// per-metric summary across folds.
type Report struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Settings  Settings        `json:"settings"`
	Folds     []FoldResult    `json:"folds"`
	Summary   []MetricSummary `json:"summary,omitempty"`
	// DurationMs is the wall time of the whole run.
	DurationMs int64 `json:"duration_ms"`
}

// Settings records the configuration a report was produced with.
type Settings struct {
	Dataset     string `json:"dataset,omitempty"`
	LabelKey    string `json:"label_key"`
	ItemKey     string `json:"item_key"`
	NumFolds    int    `json:"num_folds"`
	KFoldSeed   int64  `json:"k_fold_seed"`
	NRefs       int    `json:"n_refs"`
	RandRefSeed int64  `json:"rand_ref_seed"`
	Ks          []int  `json:"ks"`
	Aggregate   string `json:"aggregate"`
	Normalize   bool   `json:"normalize"`
	Backend     string `json:"backend"`
}

// FoldResult holds one fold's split summary and accuracies.
type FoldResult struct {
	Fold  int            `json:"fold"`
	Split *split.Summary `json:"split,omitempty"`
	// TopK maps k to accuracy, keyed by the decimal k.
	TopK map[string]float64 `json:"top_k,omitempty"`
	// Ranking holds full-ranking metrics such as "mrr", "map" and "ndcg@5".
	Ranking    map[string]float64 `json:"ranking,omitempty"`
	Queries    int                `json:"queries"`
	Columns    int                `json:"columns"`
	DurationMs int64              `json:"duration_ms"`
	Error      string             `json:"error,omitempty"`
	Code       string             `json:"code,omitempty"`
}

// Failed reports whether the fold ended in an error.
func (f FoldResult) Failed() bool { return f.Error != "" }

// Accuracy returns the fold's accuracy at k.
func (f FoldResult) Accuracy(k int) (float64, bool) {
	v, ok := f.TopK[strconv.Itoa(k)]
	return v, ok
}

// MetricSummary aggregates one metric across successful folds.
type MetricSummary struct {
	Metric string  `json:"metric"` // "top_1", "top_5", "mrr", ...
	Folds  int     `json:"folds"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Brief is the listing view of a report.
type Brief struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Folds     int             `json:"folds"`
	Failed    int             `json:"failed"`
	Summary   []MetricSummary `json:"summary,omitempty"`
}

// Brief returns the listing view of r.
func (r *Report) Brief() Brief {
	b := Brief{ID: r.ID, CreatedAt: r.CreatedAt, Folds: len(r.Folds), Summary: r.Summary}
	for _, f := range r.Folds {
		if f.Failed() {
			b.Failed++
		}
	}
	return b
}

// sortNewestFirst orders reports by creation time, newest first, then by ID.
func sortNewestFirst(reports []*Report) {
	sort.Slice(reports, func(i, j int) bool {
		if !reports[i].CreatedAt.Equal(reports[j].CreatedAt) {
			return reports[i].CreatedAt.After(reports[j].CreatedAt)
		}
		return reports[i].ID < reports[j].ID
	})
}
