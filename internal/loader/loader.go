// Package loader provides a prefetching batch source over an indexed
// dataset view.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/recoeval/reco-eval/internal/inference"
)

// Source is random access to labeled items. dataset.View implements it.
type Source[T any] interface {
	Len() int
	Get(i int) (T, int, error)
}

// Options configures a Loader.
type Options struct {
	BatchSize int
	Workers   int
	// Prefetch bounds how many batches may be loaded ahead of Next.
	Prefetch int
}

// DefaultOptions returns sensible loader defaults.
func DefaultOptions() Options {
	return Options{
		BatchSize: 64,
		Workers:   4,
		Prefetch:  8,
	}
}

type result[T any] struct {
	batch inference.Batch[T]
	err   error
}

// Loader loads batches on a pool of workers and delivers them in index
// order. A Loader is single use; Close releases its workers.
type Loader[T any] struct {
	src    Source[T]
	opts   Options
	g      *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	order  chan chan result[T]
	done   chan struct{}
}

var _ inference.BatchSource[string] = (*Loader[string])(nil)

// New starts loading src. Cancelling ctx stops the workers.
func New[T any](ctx context.Context, src Source[T], opts Options) *Loader[T] {
	def := DefaultOptions()
	if opts.BatchSize < 1 {
		opts.BatchSize = def.BatchSize
	}
	if opts.Workers < 1 {
		opts.Workers = def.Workers
	}
	if opts.Prefetch < 1 {
		opts.Prefetch = def.Prefetch
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	l := &Loader[T]{
		src:    src,
		opts:   opts,
		g:      g,
		ctx:    gctx,
		cancel: cancel,
		order:  make(chan chan result[T], opts.Prefetch),
		done:   make(chan struct{}),
	}

	go l.dispatch()
	return l
}

// NumBatches returns how many batches the loader yields.
func (l *Loader[T]) NumBatches() int {
	n := l.src.Len()
	return (n + l.opts.BatchSize - 1) / l.opts.BatchSize
}

func (l *Loader[T]) dispatch() {
	defer close(l.done)
	defer close(l.order)

	n := l.src.Len()
	for start := 0; start < n; start += l.opts.BatchSize {
		end := min(start+l.opts.BatchSize, n)
		ch := make(chan result[T], 1)

		select {
		case l.order <- ch:
		case <-l.ctx.Done():
			return
		}

		l.g.Go(func() error {
			b, err := l.load(start, end)
			ch <- result[T]{batch: b, err: err}
			return err
		})
	}
}

func (l *Loader[T]) load(start, end int) (inference.Batch[T], error) {
	b := inference.Batch[T]{
		Items:  make([]T, 0, end-start),
		Labels: make([]int, 0, end-start),
	}
	for i := start; i < end; i++ {
		if err := l.ctx.Err(); err != nil {
			return inference.Batch[T]{}, err
		}
		item, label, err := l.src.Get(i)
		if err != nil {
			return inference.Batch[T]{}, fmt.Errorf("loading item %d: %w", i, err)
		}
		b.Items = append(b.Items, item)
		b.Labels = append(b.Labels, label)
	}
	return b, nil
}

// Next returns the next batch in order, or io.EOF after the last one.
func (l *Loader[T]) Next(ctx context.Context) (inference.Batch[T], error) {
	var ch chan result[T]
	var ok bool

	select {
	case ch, ok = <-l.order:
		if !ok {
			if err := l.ctx.Err(); err != nil {
				return inference.Batch[T]{}, err
			}
			return inference.Batch[T]{}, io.EOF
		}
	case <-ctx.Done():
		return inference.Batch[T]{}, ctx.Err()
	}

	select {
	case r := <-ch:
		return r.batch, r.err
	case <-ctx.Done():
		return inference.Batch[T]{}, ctx.Err()
	}
}

// Close stops the workers and waits for them to exit.
func (l *Loader[T]) Close() error {
	l.cancel()
	<-l.done
	if err := l.g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
