package evaluation

import (
	"math"
	"testing"

	"github.com/recoeval/reco-eval/internal/results"
)

func TestSummarize(t *testing.T) {
	folds := []results.FoldResult{
		{Fold: 0, TopK: map[string]float64{"1": 0.5, "10": 1}, Ranking: map[string]float64{"mrr": 0.6}},
		{Fold: 1, TopK: map[string]float64{"1": 1, "10": 1}, Ranking: map[string]float64{"mrr": 0.8}},
		{Fold: 2, Error: "boom", Code: "MODEL_ERROR"},
	}

	got := Summarize(folds)

	names := make([]string, len(got))
	for i, s := range got {
		names[i] = s.Metric
	}
	want := []string{"top_1", "top_10", "mrr"}
	if len(names) != len(want) {
		t.Fatalf("metrics = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("metrics = %v, want %v", names, want)
		}
	}

	top1 := got[0]
	if top1.Folds != 2 {
		t.Errorf("top_1 folds = %d, want 2 (failed fold skipped)", top1.Folds)
	}
	if !approx(top1.Mean, 0.75) {
		t.Errorf("top_1 mean = %v, want 0.75", top1.Mean)
	}
	if !approx(top1.Std, math.Sqrt(0.125)) {
		t.Errorf("top_1 std = %v, want sample std %v", top1.Std, math.Sqrt(0.125))
	}
	if top1.Min != 0.5 || top1.Max != 1 {
		t.Errorf("top_1 min/max = %v/%v, want 0.5/1", top1.Min, top1.Max)
	}
}

func TestSummarizeSingleFold(t *testing.T) {
	got := Summarize([]results.FoldResult{{TopK: map[string]float64{"1": 0.25}}})
	if len(got) != 1 {
		t.Fatalf("len(Summarize) = %d, want 1", len(got))
	}
	if got[0].Std != 0 {
		t.Errorf("Std = %v, want 0 for one fold", got[0].Std)
	}
	if got[0].Mean != 0.25 {
		t.Errorf("Mean = %v, want 0.25", got[0].Mean)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	if got := Summarize(nil); len(got) != 0 {
		t.Errorf("Summarize(nil) = %v, want empty", got)
	}
}
