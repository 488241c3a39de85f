package qdrant

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/recoeval/reco-eval/internal/pkg/errors"
)

// EnsureCollection creates a dot-product collection of dimension dim
// unless it already exists.
func (c *Client) EnsureCollection(ctx context.Context, name string, dim int) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return errClosed
	}
	if dim < 1 {
		return errors.ValidationError(fmt.Sprintf("vector dimension must be positive, got %d", dim))
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	full := c.collectionName(name)
	rc := c.retryConfig()

	exists, err := retry(ctx, rc, func() (bool, error) {
		return c.api.CollectionExists(ctx, full)
	})
	if err != nil {
		return mapError("collection exists", err)
	}
	if exists {
		return nil
	}

	err = retryVoid(ctx, rc, func() error {
		return c.api.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: full,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Dot,
				OnDisk:   qdrant.PtrOf(false),
			}),
		})
	})
	if err != nil {
		return mapError("create collection "+full, err)
	}

	c.log.Debug("Created gallery collection", "collection", full, "dim", dim)
	return nil
}

// DropCollection implements evaluation.GalleryIndex. Dropping a
// collection that does not exist is not an error.
func (c *Client) DropCollection(ctx context.Context, name string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return errClosed
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	full := c.collectionName(name)
	err := retryVoid(ctx, c.retryConfig(), func() error {
		return c.api.DeleteCollection(ctx, full)
	})
	if err = mapError("delete collection "+full, err); err != nil && !errors.IsNotFound(err) {
		return err
	}
	return nil
}
