package qdrant

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/recoeval/reco-eval/internal/pkg/errors"
	"github.com/recoeval/reco-eval/internal/tensor"
)

// pointNamespace seeds UUIDv5 point IDs.
var pointNamespace = uuid.MustParse("9a4c3f7e-2b1d-5e8a-9c6f-0d3b7a1e4f52")

// PointID returns the deterministic point UUID of gallery row `row` in
// collection.
func PointID(collection string, row int) string {
	return uuid.NewSHA1(pointNamespace, []byte(collection+"/"+strconv.Itoa(row))).String()
}

// GalleryPoints pairs each embedding row with its label.
func GalleryPoints(collection string, embeddings *tensor.Matrix, labels []int) ([]GalleryPoint, error) {
	if embeddings == nil || embeddings.Rows() == 0 {
		return nil, errors.EmptyInputError("gallery")
	}
	if embeddings.Rows() != len(labels) {
		return nil, errors.ShapeMismatchError(fmt.Sprintf(
			"%d gallery embeddings but %d labels", embeddings.Rows(), len(labels)))
	}

	points := make([]GalleryPoint, embeddings.Rows())
	for i := range points {
		points[i] = GalleryPoint{
			ID:     PointID(collection, i),
			Vector: embeddings.Row(i),
			Label:  labels[i],
		}
	}
	return points, nil
}

// IndexGallery implements evaluation.GalleryIndex: it creates the
// collection and upserts one point per gallery row.
func (c *Client) IndexGallery(ctx context.Context, collection string, embeddings *tensor.Matrix, labels []int) error {
	points, err := GalleryPoints(collection, embeddings, labels)
	if err != nil {
		return err
	}
	if err := c.EnsureCollection(ctx, collection, embeddings.Cols()); err != nil {
		return err
	}
	return c.UpsertGallery(ctx, collection, points)
}

// UpsertGallery upserts points in batches of UpsertBatchSize.
func (c *Client) UpsertGallery(ctx context.Context, collection string, points []GalleryPoint) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return errClosed
	}

	full := c.collectionName(collection)
	size := c.config.UpsertBatchSize
	for start := 0; start < len(points); start += size {
		end := min(start+size, len(points))
		if err := c.upsert(ctx, full, points[start:end]); err != nil {
			return fmt.Errorf("upserting gallery points %d-%d: %w", start, end, err)
		}
	}

	c.log.Debug("Indexed gallery", "collection", full, "points", len(points))
	return nil
}

func (c *Client) upsert(ctx context.Context, full string, points []GalleryPoint) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		structs[i] = toPointStruct(p)
	}

	err := retryVoid(ctx, c.retryConfig(), func() error {
		_, err := c.api.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: full,
			Points:         structs,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	return mapError("upsert", err)
}

func toPointStruct(p GalleryPoint) *qdrant.PointStruct {
	return &qdrant.PointStruct{
		Id:      qdrant.NewID(p.ID),
		Vectors: qdrant.NewVectors(p.Vector...),
		Payload: qdrant.NewValueMap(map[string]any{
			LabelField: int64(p.Label),
		}),
	}
}
