package inference

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/recoeval/reco-eval/internal/pkg/errors"
	"github.com/recoeval/reco-eval/internal/pkg/logger"
	"github.com/recoeval/reco-eval/internal/tensor"
)

// Computer builds score matrices. A Computer holds no per-call state and
// may be shared; every Compute call owns its accumulators.
type Computer[T any] struct {
	embed     EmbedFunc[T]
	aggregate AggregateFunc
	log       *logger.Logger
	metrics   Recorder
}

// Option configures a Computer.
type Option[T any] func(*Computer[T])

// WithEmbedFunc replaces the default model.Embed call.
func WithEmbedFunc[T any](fn EmbedFunc[T]) Option[T] {
	return func(c *Computer[T]) {
		if fn != nil {
			c.embed = fn
		}
	}
}

// WithAggregate sets the gallery aggregation applied before scoring.
func WithAggregate[T any](fn AggregateFunc) Option[T] {
	return func(c *Computer[T]) {
		c.aggregate = fn
	}
}

// WithLogger sets the logger.
func WithLogger[T any](log *logger.Logger) Option[T] {
	return func(c *Computer[T]) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics sets the measurement recorder.
func WithMetrics[T any](r Recorder) Option[T] {
	return func(c *Computer[T]) {
		c.metrics = r
	}
}

// NewComputer creates a Computer.
func NewComputer[T any](opts ...Option[T]) *Computer[T] {
	c := &Computer[T]{
		embed: defaultEmbed[T],
		log:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultEmbed[T any](ctx context.Context, model Model[T], items []T) (*tensor.Matrix, error) {
	return model.Embed(ctx, items)
}

// Compute consumes the whole gallery, aggregates it once, then scores the
// query source one batch at a time against the gallery.
func (c *Computer[T]) Compute(ctx context.Context, model Model[T], gallery, query BatchSource[T]) (*ScoreMatrix, error) {
	galEmb, galLabels, err := c.Gallery(ctx, model, gallery)
	if err != nil {
		return nil, err
	}

	scores := tensor.New(0, galEmb.Rows())
	var queryLabels []int

	err = c.Queries(ctx, model, query, func(emb *tensor.Matrix, labels []int) error {
		s, err := tensor.MulTransposed(emb, galEmb)
		if err != nil {
			return err
		}
		if err := scores.AppendRows(s); err != nil {
			return err
		}
		queryLabels = append(queryLabels, labels...)
		if c.metrics != nil {
			c.metrics.RecordQueriesScored(len(labels))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.log.Debug("Queries scored", "queries", scores.Rows())

	return &ScoreMatrix{
		Scores:        scores,
		QueryLabels:   queryLabels,
		GalleryLabels: galLabels,
	}, nil
}

// Gallery embeds every gallery batch in arrival order and applies the
// aggregation, if any, once to the full result.
func (c *Computer[T]) Gallery(ctx context.Context, model Model[T], gallery BatchSource[T]) (*tensor.Matrix, []int, error) {
	if model.Training() {
		return nil, nil, errors.InvalidModelStateError()
	}

	galEmb := tensor.New(0, 0)
	var galLabels []int

	err := c.drain(ctx, model, gallery, "gallery", func(emb *tensor.Matrix, labels []int) error {
		if err := galEmb.AppendRows(emb); err != nil {
			return err
		}
		galLabels = append(galLabels, labels...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if galEmb.Rows() == 0 {
		return nil, nil, errors.EmptyInputError("gallery")
	}

	if c.aggregate != nil {
		galEmb, galLabels, err = c.aggregate(galEmb, galLabels)
		if err != nil {
			return nil, nil, fmt.Errorf("aggregating gallery: %w", err)
		}
		if galEmb == nil {
			return nil, nil, errors.ShapeMismatchError("aggregation returned no embeddings")
		}
		if galEmb.Rows() != len(galLabels) {
			return nil, nil, errors.ShapeMismatchError(fmt.Sprintf(
				"aggregation returned %d rows and %d labels", galEmb.Rows(), len(galLabels)))
		}
		if galEmb.Rows() == 0 {
			return nil, nil, errors.EmptyInputError("aggregated gallery")
		}
	}

	c.log.Debug("Gallery embedded",
		"columns", galEmb.Rows(),
		"dim", galEmb.Cols(),
	)

	return galEmb, galLabels, nil
}

// Queries embeds the query source one batch at a time and hands each
// batch's embeddings and labels to fn. Query embeddings are never
// accumulated here.
func (c *Computer[T]) Queries(ctx context.Context, model Model[T], query BatchSource[T], fn func(emb *tensor.Matrix, labels []int) error) error {
	if model.Training() {
		return errors.InvalidModelStateError()
	}
	return c.drain(ctx, model, query, "query", fn)
}

// drain embeds every batch of src in arrival order and hands the result
// to fn.
func (c *Computer[T]) drain(ctx context.Context, model Model[T], src BatchSource[T], name string, fn func(*tensor.Matrix, []int) error) error {
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := src.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s batch %d: %w", name, n, err)
		}

		if len(batch.Items) != len(batch.Labels) {
			return errors.ShapeMismatchError(fmt.Sprintf(
				"%s batch %d has %d items and %d labels", name, n, len(batch.Items), len(batch.Labels)))
		}
		if len(batch.Items) == 0 {
			continue
		}

		start := time.Now()
		emb, err := c.embed(ctx, model, batch.Items)
		if err != nil {
			if _, ok := errors.AsAppError(err); ok || ctx.Err() != nil {
				return fmt.Errorf("embedding %s batch %d: %w", name, n, err)
			}
			return errors.ModelError(fmt.Sprintf("embedding %s batch %d", name, n), err)
		}
		if c.metrics != nil {
			c.metrics.RecordEmbedBatch(time.Since(start), len(batch.Items))
		}

		if emb == nil {
			return errors.ShapeMismatchError(fmt.Sprintf("%s batch %d produced no embeddings", name, n))
		}
		if emb.Rows() != len(batch.Labels) {
			return errors.ShapeMismatchError(fmt.Sprintf(
				"%s batch %d has %d labels and %d embeddings", name, n, len(batch.Labels), emb.Rows()))
		}

		if err := fn(emb, batch.Labels); err != nil {
			return err
		}
	}
}
