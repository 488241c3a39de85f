// Package ml provides embedding models for evaluation.
package ml

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/recoeval/reco-eval/internal/inference"
	"github.com/recoeval/reco-eval/internal/pkg/errors"
	"github.com/recoeval/reco-eval/internal/tensor"
)

// TableModel serves precomputed embeddings keyed by item reference.
// It is safe for concurrent use.
type TableModel struct {
	vectors  map[string][]float32
	dim      int
	training atomic.Bool
}

var _ inference.Model[string] = (*TableModel)(nil)

// NewTableModel creates a model from an item -> embedding map.
// All embeddings must have the same dimension.
func NewTableModel(vectors map[string][]float32) (*TableModel, error) {
	m := &TableModel{vectors: make(map[string][]float32, len(vectors)), dim: -1}
	for item, v := range vectors {
		if m.dim == -1 {
			m.dim = len(v)
		}
		if len(v) != m.dim {
			return nil, errors.ShapeMismatchError(
				fmt.Sprintf("item %q has dimension %d, want %d", item, len(v), m.dim))
		}
		cp := make([]float32, len(v))
		copy(cp, v)
		m.vectors[item] = cp
	}
	if m.dim == -1 {
		return nil, errors.EmptyInputError("embedding table")
	}
	return m, nil
}

// ReadTable parses a headerless CSV of `item,v0,v1,...` rows. A first row
// whose second cell is not a number is treated as a header and skipped.
func ReadTable(r io.Reader) (*TableModel, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	vectors := make(map[string][]float32)
	for line := 1; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading embedding row %d: %w", line, err)
		}
		if len(row) < 2 {
			return nil, errors.Newf(errors.CodeValidation, "embedding row %d has no values", line)
		}

		vec := make([]float32, len(row)-1)
		for j, cell := range row[1:] {
			f, err := strconv.ParseFloat(cell, 32)
			if err != nil {
				if line == 1 {
					vec = nil
					break
				}
				return nil, errors.Newf(errors.CodeValidation, "embedding row %d column %d: %v", line, j+1, err)
			}
			vec[j] = float32(f)
		}
		if vec == nil {
			continue
		}
		if _, dup := vectors[row[0]]; dup {
			return nil, errors.Newf(errors.CodeValidation, "duplicate embedding for %q", row[0])
		}
		vectors[row[0]] = vec
	}

	return NewTableModel(vectors)
}

// LoadTable reads an embedding table from path.
func LoadTable(path string) (*TableModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := ReadTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Dim returns the embedding dimension.
func (m *TableModel) Dim() int {
	return m.dim
}

// Len returns the number of items in the table.
func (m *TableModel) Len() int {
	return len(m.vectors)
}

// SetTraining switches the model between training and inference mode.
func (m *TableModel) SetTraining(training bool) {
	m.training.Store(training)
}

// Training implements inference.Model.
func (m *TableModel) Training() bool {
	return m.training.Load()
}

// Embed implements inference.Model.
func (m *TableModel) Embed(ctx context.Context, items []string) (*tensor.Matrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := tensor.New(len(items), m.dim)
	for i, item := range items {
		v, ok := m.vectors[item]
		if !ok {
			return nil, errors.NotFoundError("embedding for " + item)
		}
		copy(out.Row(i), v)
	}
	return out, nil
}
