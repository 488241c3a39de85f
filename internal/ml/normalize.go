package ml

import (
	"context"

	"github.com/recoeval/reco-eval/internal/inference"
	"github.com/recoeval/reco-eval/internal/tensor"
)

// NormalizeEmbed embeds items with model and scales every row to unit
// length, turning inner-product scores into cosine similarity.
func NormalizeEmbed[T any](ctx context.Context, model inference.Model[T], items []T) (*tensor.Matrix, error) {
	emb, err := model.Embed(ctx, items)
	if err != nil {
		return nil, err
	}
	emb.NormalizeRows()
	return emb, nil
}
