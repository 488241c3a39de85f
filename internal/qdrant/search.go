package qdrant

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/errgroup"

	"github.com/recoeval/reco-eval/internal/pkg/errors"
	"github.com/recoeval/reco-eval/internal/tensor"
)

// CandidateLabels implements evaluation.GalleryIndex. Each query row is
// searched separately; rows are answered best first.
func (c *Client) CandidateLabels(ctx context.Context, collection string, queries *tensor.Matrix, k int) ([][]int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, errClosed
	}
	if queries == nil || queries.Rows() == 0 {
		return nil, errors.EmptyInputError("query set")
	}
	if k < 1 {
		return nil, errors.InvalidKError(k, 0)
	}

	full := c.collectionName(collection)
	out := make([][]int, queries.Rows())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.QueryConcurrency)
	for i := range out {
		g.Go(func() error {
			labels, err := c.search(gctx, full, queries.Row(i), k)
			if err != nil {
				return fmt.Errorf("query row %d: %w", i, err)
			}
			out[i] = labels
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) search(ctx context.Context, full string, vector []float32, k int) ([]int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req := &qdrant.QueryPoints{
		CollectionName: full,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	points, err := retry(ctx, c.retryConfig(), func() ([]*qdrant.ScoredPoint, error) {
		return c.api.Query(ctx, req)
	})
	if err != nil {
		return nil, mapError("query", err)
	}
	return labelsFromPoints(points)
}

// labelsFromPoints reads the label payload of each scored point.
func labelsFromPoints(points []*qdrant.ScoredPoint) ([]int, error) {
	labels := make([]int, len(points))
	for i, p := range points {
		v, ok := p.GetPayload()[LabelField]
		if !ok || v == nil {
			return nil, errors.QdrantError(fmt.Sprintf("point %d has no %s payload", i, LabelField), nil)
		}
		switch kind := v.GetKind().(type) {
		case *qdrant.Value_IntegerValue:
			labels[i] = int(kind.IntegerValue)
		case *qdrant.Value_DoubleValue:
			labels[i] = int(kind.DoubleValue)
		default:
			return nil, errors.QdrantError(fmt.Sprintf("point %d has a non-numeric %s payload", i, LabelField), nil)
		}
	}
	return labels, nil
}
