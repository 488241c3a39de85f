// Package inference turns gallery and query batches into a query x gallery
// score matrix.
package inference

import (
	"context"
	"io"
	"time"

	"github.com/recoeval/reco-eval/internal/tensor"
)

// Batch is a group of items with their integer labels, aligned by position.
type Batch[T any] struct {
	Items  []T
	Labels []int
}

// Len returns the number of items.
func (b Batch[T]) Len() int {
	return len(b.Items)
}

// BatchSource yields batches in order and returns io.EOF when exhausted.
// Sources are single use.
type BatchSource[T any] interface {
	Next(ctx context.Context) (Batch[T], error)
}

// Model produces embeddings for items, one row per item.
type Model[T any] interface {
	Embed(ctx context.Context, items []T) (*tensor.Matrix, error)
	// Training reports whether the model is in training mode.
	Training() bool
}

// EmbedFunc extracts embeddings for a batch from a model.
type EmbedFunc[T any] func(ctx context.Context, model Model[T], items []T) (*tensor.Matrix, error)

// AggregateFunc reduces gallery embeddings and labels, for example to one
// row per label. The returned matrix and labels must stay aligned.
type AggregateFunc func(embeddings *tensor.Matrix, labels []int) (*tensor.Matrix, []int, error)

// Recorder receives computation measurements.
type Recorder interface {
	RecordEmbedBatch(latency time.Duration, items int)
	RecordQueriesScored(n int)
}

// ScoreMatrix holds query x gallery scores and the labels of its rows
// and columns.
type ScoreMatrix struct {
	Scores        *tensor.Matrix
	QueryLabels   []int
	GalleryLabels []int
}

// SliceSource is an in-memory BatchSource.
type SliceSource[T any] struct {
	batches []Batch[T]
	pos     int
}

// NewSliceSource returns a source yielding batches in order.
func NewSliceSource[T any](batches ...Batch[T]) *SliceSource[T] {
	return &SliceSource[T]{batches: batches}
}

// Batches splits items and labels into batches of at most size.
func Batches[T any](items []T, labels []int, size int) *SliceSource[T] {
	if size < 1 {
		size = 1
	}

	src := &SliceSource[T]{}
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		b := Batch[T]{Items: items[start:end]}
		if start < len(labels) {
			b.Labels = labels[start:min(end, len(labels))]
		}
		src.batches = append(src.batches, b)
	}
	return src
}

// Next implements BatchSource.
func (s *SliceSource[T]) Next(ctx context.Context) (Batch[T], error) {
	if err := ctx.Err(); err != nil {
		return Batch[T]{}, err
	}
	if s.pos >= len(s.batches) {
		return Batch[T]{}, io.EOF
	}
	b := s.batches[s.pos]
	s.pos++
	return b, nil
}
