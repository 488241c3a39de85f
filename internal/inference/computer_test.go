package inference

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	apperrors "github.com/recoeval/reco-eval/internal/pkg/errors"
	"github.com/recoeval/reco-eval/internal/tensor"
)

// lookupModel embeds item names through a fixed table.
type lookupModel struct {
	vectors  map[string][]float32
	training bool
	calls    int
}

func (m *lookupModel) Embed(_ context.Context, items []string) (*tensor.Matrix, error) {
	m.calls++
	rows := make([][]float32, len(items))
	for i, it := range items {
		v, ok := m.vectors[it]
		if !ok {
			return nil, errors.New("unknown item " + it)
		}
		rows[i] = v
	}
	return tensor.FromRows(rows)
}

func (m *lookupModel) Training() bool { return m.training }

func newModel() *lookupModel {
	return &lookupModel{vectors: map[string][]float32{
		"g0": {1, 0},
		"g1": {0, 1},
		"g2": {1, 1},
		"q0": {2, 0},
		"q1": {0, 3},
		"q2": {1, 2},
	}}
}

type recorder struct {
	batches int
	queries int
}

func (r *recorder) RecordEmbedBatch(time.Duration, int) { r.batches++ }
func (r *recorder) RecordQueriesScored(n int)          { r.queries += n }

func TestComputeShapeAndScores(t *testing.T) {
	model := newModel()
	rec := &recorder{}
	c := NewComputer(WithMetrics[string](rec))

	gallery := Batches([]string{"g0", "g1", "g2"}, []int{0, 1, 0}, 2)
	query := Batches([]string{"q0", "q1", "q2"}, []int{0, 1, 1}, 2)

	sm, err := c.Compute(context.Background(), model, gallery, query)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}

	if sm.Scores.Rows() != len(sm.QueryLabels) || sm.Scores.Cols() != len(sm.GalleryLabels) {
		t.Fatalf("Shape = (%d, %d), labels %d x %d",
			sm.Scores.Rows(), sm.Scores.Cols(), len(sm.QueryLabels), len(sm.GalleryLabels))
	}

	want := [][]float32{
		{2, 0, 2},
		{0, 3, 3},
		{1, 2, 3},
	}
	for i := range want {
		for j := range want[i] {
			if got := sm.Scores.At(i, j); got != want[i][j] {
				t.Errorf("score(%d, %d) = %v, want %v", i, j, got, want[i][j])
			}
		}
	}

	if rec.batches != 4 {
		t.Errorf("recorded %d embed batches, want 4", rec.batches)
	}
	if rec.queries != 3 {
		t.Errorf("recorded %d queries, want 3", rec.queries)
	}
}

func TestComputeMeanAggregation(t *testing.T) {
	c := NewComputer(WithAggregate[string](MeanPerLabel))

	gallery := Batches([]string{"g0", "g1", "g2"}, []int{5, 7, 5}, 1)
	query := Batches([]string{"q0"}, []int{5}, 1)

	sm, err := c.Compute(context.Background(), newModel(), gallery, query)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}

	if len(sm.GalleryLabels) != 2 || sm.GalleryLabels[0] != 5 || sm.GalleryLabels[1] != 7 {
		t.Fatalf("GalleryLabels = %v, want [5 7]", sm.GalleryLabels)
	}

	// mean(g0, g2) = (1, 0.5); q0 = (2, 0) -> 2. g1 = (0, 1) -> 0.
	if got := sm.Scores.At(0, 0); math.Abs(float64(got)-2) > 1e-6 {
		t.Errorf("score(0, 0) = %v, want 2", got)
	}
	if got := sm.Scores.At(0, 1); got != 0 {
		t.Errorf("score(0, 1) = %v, want 0", got)
	}
}

func TestMeanPerLabel(t *testing.T) {
	emb, _ := tensor.FromRows([][]float32{{1, 2}, {3, 4}, {10, 10}, {5, 6}})

	out, labels, err := MeanPerLabel(emb, []int{1, 1, 0, 1})
	if err != nil {
		t.Fatalf("MeanPerLabel() error = %v", err)
	}

	if len(labels) != 2 || labels[0] != 1 || labels[1] != 0 {
		t.Fatalf("labels = %v, want [1 0]", labels)
	}
	if out.At(0, 0) != 3 || out.At(0, 1) != 4 {
		t.Errorf("mean of label 1 = %v, want [3 4]", out.Row(0))
	}
	if out.At(1, 0) != 10 {
		t.Errorf("mean of label 0 = %v, want [10 10]", out.Row(1))
	}

	if _, _, err := MeanPerLabel(emb, []int{1}); !apperrors.Is(err, apperrors.CodeShapeMismatch) {
		t.Errorf("MeanPerLabel() error = %v, want SHAPE_MISMATCH", err)
	}
}

func TestComputeTrainingModel(t *testing.T) {
	model := newModel()
	model.training = true

	_, err := NewComputer[string]().Compute(context.Background(), model,
		Batches([]string{"g0"}, []int{0}, 1), Batches([]string{"q0"}, []int{0}, 1))

	if !apperrors.Is(err, apperrors.CodeInvalidModelState) {
		t.Errorf("Compute() error = %v, want INVALID_MODEL_STATE", err)
	}
	if model.calls != 0 {
		t.Errorf("model called %d times in training mode", model.calls)
	}
}

func TestComputeShapeMismatch(t *testing.T) {
	tests := []struct {
		name      string
		embed     EmbedFunc[string]
		aggregate AggregateFunc
		gallery   *SliceSource[string]
	}{
		{
			name:    "labels disagree with items",
			gallery: NewSliceSource(Batch[string]{Items: []string{"g0", "g1"}, Labels: []int{0}}),
		},
		{
			name: "embeddings disagree with labels",
			embed: func(ctx context.Context, m Model[string], items []string) (*tensor.Matrix, error) {
				return tensor.New(len(items)+1, 2), nil
			},
			gallery: Batches([]string{"g0"}, []int{0}, 1),
		},
		{
			name: "dimension changes between batches",
			embed: func(ctx context.Context, m Model[string], items []string) (*tensor.Matrix, error) {
				if items[0] == "g1" {
					return tensor.New(1, 3), nil
				}
				return tensor.New(1, 2), nil
			},
			gallery: Batches([]string{"g0", "g1"}, []int{0, 1}, 1),
		},
		{
			name: "embed returns nil matrix",
			embed: func(ctx context.Context, m Model[string], items []string) (*tensor.Matrix, error) {
				return nil, nil
			},
			gallery: Batches([]string{"g0"}, []int{0}, 1),
		},
		{
			name: "aggregate returns nil matrix",
			aggregate: func(emb *tensor.Matrix, labels []int) (*tensor.Matrix, []int, error) {
				return nil, labels, nil
			},
			gallery: Batches([]string{"g0", "g1"}, []int{0, 1}, 1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewComputer(WithEmbedFunc(tt.embed), WithAggregate[string](tt.aggregate))
			_, err := c.Compute(context.Background(), newModel(), tt.gallery, Batches([]string{"q0"}, []int{0}, 1))
			if !apperrors.Is(err, apperrors.CodeShapeMismatch) {
				t.Errorf("Compute() error = %v, want SHAPE_MISMATCH", err)
			}
		})
	}
}

func TestComputeEmptyGallery(t *testing.T) {
	_, err := NewComputer[string]().Compute(context.Background(), newModel(),
		NewSliceSource[string](), Batches([]string{"q0"}, []int{0}, 1))

	if !apperrors.Is(err, apperrors.CodeEmptyInput) {
		t.Errorf("Compute() error = %v, want EMPTY_INPUT", err)
	}
}

func TestComputeNoQueries(t *testing.T) {
	sm, err := NewComputer[string]().Compute(context.Background(), newModel(),
		Batches([]string{"g0", "g1"}, []int{0, 1}, 2), NewSliceSource[string]())
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}

	if sm.Scores.Rows() != 0 || sm.Scores.Cols() != 2 {
		t.Errorf("Shape = (%d, %d), want (0, 2)", sm.Scores.Rows(), sm.Scores.Cols())
	}
}

func TestComputeModelError(t *testing.T) {
	_, err := NewComputer[string]().Compute(context.Background(), newModel(),
		Batches([]string{"missing"}, []int{0}, 1), NewSliceSource[string]())

	if !apperrors.Is(err, apperrors.CodeModelError) {
		t.Errorf("Compute() error = %v, want MODEL_ERROR", err)
	}
}

func TestComputeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewComputer[string]().Compute(ctx, newModel(),
		Batches([]string{"g0"}, []int{0}, 1), NewSliceSource[string]())

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Compute() error = %v, want context.Canceled", err)
	}
}

func TestComputeCustomEmbed(t *testing.T) {
	// Embed func that doubles every vector.
	var double EmbedFunc[string] = func(ctx context.Context, m Model[string], items []string) (*tensor.Matrix, error) {
		emb, err := m.Embed(ctx, items)
		if err != nil {
			return nil, err
		}
		for i, v := range emb.Data() {
			emb.Data()[i] = 2 * v
		}
		return emb, nil
	}

	sm, err := NewComputer(WithEmbedFunc(double)).Compute(context.Background(), newModel(),
		Batches([]string{"g0"}, []int{0}, 1), Batches([]string{"q0"}, []int{0}, 1))
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}

	// (4, 0) . (2, 0) = 8
	if got := sm.Scores.At(0, 0); got != 8 {
		t.Errorf("score = %v, want 8", got)
	}
}

func TestBatches(t *testing.T) {
	src := Batches([]int{1, 2, 3, 4, 5}, []int{0, 0, 1, 1, 2}, 2)
	ctx := context.Background()

	var sizes []int
	for {
		b, err := src.Next(ctx)
		if err != nil {
			break
		}
		sizes = append(sizes, b.Len())
	}

	if len(sizes) != 3 || sizes[0] != 2 || sizes[2] != 1 {
		t.Errorf("batch sizes = %v, want [2 2 1]", sizes)
	}
}

func TestQueriesStreamsBatches(t *testing.T) {
	c := NewComputer[string]()
	src := Batches([]string{"q0", "q1", "q2"}, []int{0, 1, 2}, 2)

	var sizes []int
	err := c.Queries(context.Background(), newModel(), src, func(emb *tensor.Matrix, labels []int) error {
		if emb.Rows() != len(labels) {
			t.Errorf("batch rows %d != labels %d", emb.Rows(), len(labels))
		}
		sizes = append(sizes, len(labels))
		return nil
	})
	if err != nil {
		t.Fatalf("Queries() error = %v", err)
	}
	if len(sizes) != 2 || sizes[0] != 2 || sizes[1] != 1 {
		t.Errorf("batch sizes = %v, want [2 1]", sizes)
	}

	m := newModel()
	m.training = true
	err = c.Queries(context.Background(), m, Batches([]string{"q0"}, []int{0}, 1), func(*tensor.Matrix, []int) error { return nil })
	if !apperrors.Is(err, apperrors.CodeInvalidModelState) {
		t.Errorf("Queries(training) error = %v, want INVALID_MODEL_STATE", err)
	}
}
