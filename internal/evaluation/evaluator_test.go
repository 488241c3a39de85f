package evaluation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/recoeval/reco-eval/internal/bus"
	"github.com/recoeval/reco-eval/internal/dataset"
	"github.com/recoeval/reco-eval/internal/ml"
	"github.com/recoeval/reco-eval/internal/pkg/errors"
	"github.com/recoeval/reco-eval/internal/pkg/logger"
	"github.com/recoeval/reco-eval/internal/results"
	"github.com/recoeval/reco-eval/internal/split"
	"github.com/recoeval/reco-eval/internal/tensor"
)

// fixture builds records and a table model where every item of a label
// points along that label's own axis, so the nearest gallery entry
// always carries the query's label.
func fixture(t *testing.T, perLabel map[string]int) ([]dataset.Record, *ml.TableModel) {
	t.Helper()

	labels := make([]string, 0, len(perLabel))
	for l := range perLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	var records []dataset.Record
	vectors := make(map[string][]float32)
	for axis, l := range labels {
		for i := 0; i < perLabel[l]; i++ {
			item := fmt.Sprintf("%s_%d.jpg", l, i)
			records = append(records, dataset.NewRecord(map[string]string{
				"label": l,
				"image": item,
			}))
			v := make([]float32, len(labels))
			v[axis] = 1 + 0.1*float32(i)
			vectors[item] = v
		}
	}

	model, err := ml.NewTableModel(vectors)
	if err != nil {
		t.Fatalf("NewTableModel() error = %v", err)
	}
	return records, model
}

func uniform(n int, labels ...string) map[string]int {
	out := make(map[string]int, len(labels))
	for _, l := range labels {
		out[l] = n
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	counts map[string]int
}

func subscribeAll(t *testing.T, b bus.Bus) *eventLog {
	t.Helper()
	l := &eventLog{counts: make(map[string]int)}
	for _, topic := range bus.Topics {
		err := b.Subscribe(context.Background(), topic, func(ctx context.Context, e bus.Event) error {
			l.mu.Lock()
			l.counts[e.Type]++
			l.mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	return l
}

func (l *eventLog) count(topic string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[topic]
}

// bruteIndex is an in-memory GalleryIndex that scores by dot product.
type bruteIndex struct {
	mu      sync.Mutex
	data    map[string]*tensor.Matrix
	labels  map[string][]int
	dropped []string
}

func newBruteIndex() *bruteIndex {
	return &bruteIndex{data: make(map[string]*tensor.Matrix), labels: make(map[string][]int)}
}

func (b *bruteIndex) Name() string { return "brute" }

func (b *bruteIndex) IndexGallery(ctx context.Context, collection string, emb *tensor.Matrix, labels []int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[collection] = emb
	b.labels[collection] = labels
	return nil
}

func (b *bruteIndex) CandidateLabels(ctx context.Context, collection string, queries *tensor.Matrix, k int) ([][]int, error) {
	b.mu.Lock()
	emb, labels := b.data[collection], b.labels[collection]
	b.mu.Unlock()
	if emb == nil {
		return nil, errors.NotFoundError("collection " + collection)
	}
	scores, err := tensor.MulTransposed(queries, emb)
	if err != nil {
		return nil, err
	}
	return TopKLabels(scores, labels, k)
}

func (b *bruteIndex) DropCollection(ctx context.Context, collection string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, collection)
	delete(b.labels, collection)
	b.dropped = append(b.dropped, collection)
	return nil
}

func TestNewEvaluatorValidation(t *testing.T) {
	_, model := fixture(t, uniform(2, "a", "b"))

	if _, err := NewEvaluator(nil, Options{NumFolds: 2}); !errors.IsValidation(err) {
		t.Errorf("nil model error = %v, want validation error", err)
	}

	tests := []struct {
		name string
		opts Options
		code string
	}{
		{"bad aggregate", Options{NumFolds: 2, Aggregate: "max"}, errors.CodeValidation},
		{"zero k", Options{NumFolds: 2, Ks: []int{0}}, errors.CodeValidation},
		{"negative n_refs", Options{NumFolds: 2, NRefs: -1}, errors.CodeValidation},
		{"zero folds", Options{}, errors.CodeInvalidFoldConfig},
		{"one fold", Options{NumFolds: 1}, errors.CodeInvalidFoldConfig},
		{"negative folds", Options{NumFolds: -1}, errors.CodeInvalidFoldConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEvaluator(model, tt.opts)
			if !errors.Is(err, tt.code) {
				t.Fatalf("NewEvaluator() error = %v, want code %s", err, tt.code)
			}
			if e != nil {
				t.Error("NewEvaluator() returned an evaluator alongside the error")
			}
		})
	}

	e, err := NewEvaluator(model, Options{NumFolds: 2})
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}
	opts := e.Options()
	if opts.LabelKey != "label" || opts.ItemKey != "image" || opts.NRefs != 1 {
		t.Errorf("defaults not applied: %+v", opts)
	}
	if opts.NumFolds != 2 {
		t.Errorf("NumFolds = %d, want 2", opts.NumFolds)
	}
	if len(opts.Ks) != 1 || opts.Ks[0] != 1 {
		t.Errorf("Ks = %v, want [1]", opts.Ks)
	}
}

func TestRunFoldTwoLabels(t *testing.T) {
	// Two validation labels A and B plus training labels C and D.
	records, model := fixture(t, uniform(3, "A", "B", "C", "D"))

	e, err := NewEvaluator(model, Options{NumFolds: 2, Ks: []int{1, 2}})
	if err != nil {
		t.Fatal(err)
	}

	for fold := 0; fold < 2; fold++ {
		fr, err := e.RunFold(context.Background(), "run", records, fold)
		if err != nil {
			t.Fatalf("RunFold(%d) error = %v", fold, err)
		}
		if fr.Columns != 2 {
			t.Errorf("fold %d columns = %d, want 2", fold, fr.Columns)
		}
		if fr.Queries != 4 {
			t.Errorf("fold %d queries = %d, want 4", fold, fr.Queries)
		}
		if acc, _ := fr.Accuracy(1); acc != 1 {
			t.Errorf("fold %d top-1 = %v, want 1", fold, acc)
		}
		if acc, _ := fr.Accuracy(2); acc != 1 {
			t.Errorf("fold %d top-2 = %v, want 1", fold, acc)
		}
		if fr.Split == nil || fr.Split.ValLabels != 2 {
			t.Errorf("fold %d split summary = %+v", fold, fr.Split)
		}
		if fr.Ranking["mrr"] != 1 {
			t.Errorf("fold %d mrr = %v, want 1", fold, fr.Ranking["mrr"])
		}
	}
}

func TestRunFoldInvalidK(t *testing.T) {
	records, model := fixture(t, uniform(3, "A", "B", "C", "D"))

	e, err := NewEvaluator(model, Options{NumFolds: 2, Ks: []int{3}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.RunFold(context.Background(), "run", records, 0); !errors.Is(err, errors.CodeInvalidK) {
		t.Errorf("RunFold() error = %v, want INVALID_K", err)
	}
}

func TestRunFoldTrainingModel(t *testing.T) {
	records, model := fixture(t, uniform(3, "A", "B", "C", "D"))
	model.SetTraining(true)

	e, err := NewEvaluator(model, Options{NumFolds: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.RunFold(context.Background(), "run", records, 0); !errors.Is(err, errors.CodeInvalidModelState) {
		t.Errorf("RunFold() error = %v, want INVALID_MODEL_STATE", err)
	}
}

func TestCrossValidate(t *testing.T) {
	records, model := fixture(t, uniform(3, "A", "B", "C", "D", "E", "F"))
	store := results.NewMemoryStore()
	b := bus.NewMemoryBus(logger.Discard())
	events := subscribeAll(t, b)

	e, err := NewEvaluator(model,
		Options{Dataset: "faces.csv", NumFolds: 3, Ks: []int{1, 2}, FoldConcurrency: 2},
		WithStore(store),
		WithBus(b),
	)
	if err != nil {
		t.Fatal(err)
	}

	report, err := e.CrossValidate(context.Background(), records)
	if err != nil {
		t.Fatalf("CrossValidate() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if len(report.Folds) != 3 {
		t.Fatalf("len(Folds) = %d, want 3", len(report.Folds))
	}
	for i, f := range report.Folds {
		if f.Fold != i {
			t.Errorf("Folds[%d].Fold = %d", i, f.Fold)
		}
	}
	if report.Settings.Backend != "exact" || report.Settings.Dataset != "faces.csv" {
		t.Errorf("Settings = %+v", report.Settings)
	}
	if len(report.Summary) == 0 || report.Summary[0].Metric != "top_1" {
		t.Fatalf("Summary = %+v, want top_1 first", report.Summary)
	}
	if s := report.Summary[0]; s.Mean != 1 || s.Folds != 3 || s.Std != 0 {
		t.Errorf("top_1 summary = %+v, want mean 1 over 3 folds", s)
	}

	saved, err := store.Get(context.Background(), report.ID)
	if err != nil {
		t.Fatalf("store.Get() error = %v", err)
	}
	if len(saved.Folds) != 3 {
		t.Errorf("saved folds = %d, want 3", len(saved.Folds))
	}

	if got := events.count(bus.TopicFoldStarted); got != 3 {
		t.Errorf("fold started events = %d, want 3", got)
	}
	if got := events.count(bus.TopicFoldCompleted); got != 3 {
		t.Errorf("fold completed events = %d, want 3", got)
	}
	if got := events.count(bus.TopicRunCompleted); got != 1 {
		t.Errorf("run completed events = %d, want 1", got)
	}
	if got := events.count(bus.TopicFoldFailed); got != 0 {
		t.Errorf("fold failed events = %d, want 0", got)
	}
}

func TestCrossValidateDeterministic(t *testing.T) {
	records, model := fixture(t, uniform(4, "A", "B", "C", "D", "E", "F"))
	opts := Options{NumFolds: 3, KFoldSeed: 7, RandRefSeed: 11, NRefs: 2, Ks: []int{1}}

	run := func() *results.Report {
		e, err := NewEvaluator(model, opts)
		if err != nil {
			t.Fatal(err)
		}
		r, err := e.CrossValidate(context.Background(), records)
		if err != nil {
			t.Fatalf("CrossValidate() error = %v", err)
		}
		return r
	}

	a, b := run(), run()
	for i := range a.Folds {
		if a.Folds[i].Split.ValDigest != b.Folds[i].Split.ValDigest {
			t.Errorf("fold %d val digest differs between runs", i)
		}
	}
}

func TestCrossValidateDegenerate(t *testing.T) {
	perLabel := uniform(3, "A", "B", "C", "D")
	perLabel["E"] = 1

	t.Run("strict", func(t *testing.T) {
		records, model := fixture(t, perLabel)
		b := bus.NewMemoryBus(logger.Discard())
		events := subscribeAll(t, b)

		e, err := NewEvaluator(model, Options{NumFolds: 2, Policy: split.PolicyStrict}, WithBus(b))
		if err != nil {
			t.Fatal(err)
		}
		_, err = e.CrossValidate(context.Background(), records)
		if !errors.Is(err, errors.CodeDegenerateLabelSplit) {
			t.Errorf("CrossValidate() error = %v, want DEGENERATE_LABEL_SPLIT", err)
		}
		_ = b.Close()

		if events.count(bus.TopicFoldFailed) == 0 {
			t.Error("no fold failed event")
		}
		if events.count(bus.TopicRunCompleted) != 1 {
			t.Errorf("run completed events = %d, want 1", events.count(bus.TopicRunCompleted))
		}
	})

	t.Run("warn", func(t *testing.T) {
		records, model := fixture(t, perLabel)
		b := bus.NewMemoryBus(logger.Discard())
		events := subscribeAll(t, b)

		e, err := NewEvaluator(model, Options{NumFolds: 2, Policy: split.PolicyWarn}, WithBus(b))
		if err != nil {
			t.Fatal(err)
		}
		report, err := e.CrossValidate(context.Background(), records)
		if err != nil {
			t.Fatalf("CrossValidate() error = %v", err)
		}
		_ = b.Close()

		if got := events.count(bus.TopicSplitDegenerate); got != 1 {
			t.Errorf("degenerate events = %d, want 1", got)
		}

		var degenerate int
		for _, f := range report.Folds {
			degenerate += len(f.Split.Degenerate)
		}
		if degenerate != 1 {
			t.Errorf("degenerate labels across folds = %d, want 1", degenerate)
		}
	})
}

func TestEvaluateMeanAggregation(t *testing.T) {
	records, model := fixture(t, uniform(4, "A", "B", "C", "D", "E", "F"))
	store := results.NewMemoryStore()

	e, err := NewEvaluator(model,
		Options{NumFolds: 3, NRefs: 2, Aggregate: AggregateMean, Normalize: true, Ks: []int{1, 2}},
		WithStore(store),
	)
	if err != nil {
		t.Fatal(err)
	}

	report, err := e.Evaluate(context.Background(), records, 1)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(report.Folds) != 1 || report.Folds[0].Fold != 1 {
		t.Fatalf("Folds = %+v, want fold 1 only", report.Folds)
	}

	fr := report.Folds[0]
	if fr.Columns != 2 {
		t.Errorf("columns = %d, want one per validation label", fr.Columns)
	}
	if fr.Queries != 4 {
		t.Errorf("queries = %d, want 4", fr.Queries)
	}
	if acc, _ := fr.Accuracy(1); acc != 1 {
		t.Errorf("top-1 = %v, want 1", acc)
	}

	if _, err := store.Get(context.Background(), report.ID); err != nil {
		t.Errorf("report not saved: %v", err)
	}
}

func TestEvaluateWithGalleryIndex(t *testing.T) {
	records, model := fixture(t, uniform(3, "A", "B", "C", "D", "E", "F"))
	idx := newBruteIndex()

	exact, err := NewEvaluator(model, Options{NumFolds: 3, Ks: []int{1, 2}})
	if err != nil {
		t.Fatal(err)
	}
	indexed, err := NewEvaluator(model, Options{NumFolds: 3, Ks: []int{1, 2}}, WithGalleryIndex(idx))
	if err != nil {
		t.Fatal(err)
	}

	want, err := exact.Evaluate(context.Background(), records, 0)
	if err != nil {
		t.Fatal(err)
	}
	got, err := indexed.Evaluate(context.Background(), records, 0)
	if err != nil {
		t.Fatalf("Evaluate() with index error = %v", err)
	}

	if got.Settings.Backend != "brute" {
		t.Errorf("Backend = %s, want brute", got.Settings.Backend)
	}
	for k, v := range want.Folds[0].TopK {
		if got.Folds[0].TopK[k] != v {
			t.Errorf("top-%s = %v, exact %v", k, got.Folds[0].TopK[k], v)
		}
	}

	if len(idx.dropped) != 1 || len(idx.data) != 0 {
		t.Errorf("collections not dropped: dropped=%v remaining=%d", idx.dropped, len(idx.data))
	}
}

func TestEvaluateScores(t *testing.T) {
	scores := mustMatrix(t, [][]float32{{0.9, 0.1}, {0.2, 0.8}})

	rep, err := EvaluateScores(scores, []int{0, 1}, []int{0, 1}, []int{1})
	if err != nil {
		t.Fatalf("EvaluateScores() error = %v", err)
	}
	if rep.TopK[1] != 1 || rep.Queries != 2 || rep.Columns != 2 {
		t.Errorf("EvaluateScores() = %+v", rep)
	}
	if rep.Ranking.MRR != 1 {
		t.Errorf("MRR = %v, want 1", rep.Ranking.MRR)
	}

	if _, err := EvaluateScores(scores, []int{0, 1}, []int{0, 1}, []int{5}); !errors.Is(err, errors.CodeInvalidK) {
		t.Errorf("EvaluateScores() error = %v, want INVALID_K", err)
	}
}
