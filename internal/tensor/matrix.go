// Package tensor provides the dense float32 matrix used for embeddings
// and score matrices.
package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/recoeval/reco-eval/internal/pkg/errors"
)

// Matrix is a dense row-major float32 matrix.
type Matrix struct {
	rows int
	cols int
	data []float32
}

// New returns a zero rows x cols matrix.
func New(rows, cols int) *Matrix {
	return &Matrix{rows: rows, cols: cols, data: make([]float32, rows*cols)}
}

// FromData wraps data as a rows x cols matrix without copying.
func FromData(rows, cols int, data []float32) (*Matrix, error) {
	if rows < 0 || cols < 0 || len(data) != rows*cols {
		return nil, errors.ShapeMismatchError(
			fmt.Sprintf("%d values cannot form a %dx%d matrix", len(data), rows, cols))
	}
	return &Matrix{rows: rows, cols: cols, data: data}, nil
}

// FromRows copies rows into a new matrix. All rows must have equal length.
func FromRows(rows [][]float32) (*Matrix, error) {
	if len(rows) == 0 {
		return New(0, 0), nil
	}

	cols := len(rows[0])
	m := New(len(rows), cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, errors.ShapeMismatchError(
				fmt.Sprintf("row %d has %d values, want %d", i, len(r), cols))
		}
		copy(m.data[i*cols:], r)
	}
	return m, nil
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *Matrix) Cols() int { return m.cols }

// Shape returns (rows, cols).
func (m *Matrix) Shape() (int, int) { return m.rows, m.cols }

// At returns the element at (i, j).
func (m *Matrix) At(i, j int) float32 {
	return m.data[i*m.cols+j]
}

// Set sets the element at (i, j).
func (m *Matrix) Set(i, j int, v float32) {
	m.data[i*m.cols+j] = v
}

// Row returns row i. The slice aliases the matrix.
func (m *Matrix) Row(i int) []float32 {
	return m.data[i*m.cols : (i+1)*m.cols]
}

// Data returns the backing slice in row-major order.
func (m *Matrix) Data() []float32 {
	return m.data
}

// ToRows copies the matrix into a slice of rows.
func (m *Matrix) ToRows() [][]float32 {
	out := make([][]float32, m.rows)
	for i := range out {
		out[i] = make([]float32, m.cols)
		copy(out[i], m.Row(i))
	}
	return out
}

// AppendRows appends the rows of o. An empty matrix adopts o's width.
func (m *Matrix) AppendRows(o *Matrix) error {
	if m.rows == 0 && len(m.data) == 0 {
		m.cols = o.cols
	}
	if o.rows == 0 {
		return nil
	}
	if o.cols != m.cols {
		return errors.ShapeMismatchError(
			fmt.Sprintf("cannot append %d-column rows to a %d-column matrix", o.cols, m.cols))
	}
	m.data = append(m.data, o.data...)
	m.rows += o.rows
	return nil
}

// MulTransposed returns a * bᵀ, the inner product of every row of a with
// every row of b.
func MulTransposed(a, b *Matrix) (*Matrix, error) {
	if a.rows > 0 && b.rows > 0 && a.cols != b.cols {
		return nil, errors.ShapeMismatchError(
			fmt.Sprintf("embedding dimension %d does not match %d", a.cols, b.cols))
	}

	out := New(a.rows, b.rows)
	if a.rows == 0 || b.rows == 0 || a.cols == 0 {
		return out, nil
	}

	blas32.Gemm(
		blas.NoTrans,
		blas.Trans,
		1,
		blas32.General{Rows: a.rows, Cols: a.cols, Stride: a.cols, Data: a.data},
		blas32.General{Rows: b.rows, Cols: b.cols, Stride: b.cols, Data: b.data},
		0,
		blas32.General{Rows: out.rows, Cols: out.cols, Stride: out.cols, Data: out.data},
	)
	return out, nil
}

// NormalizeRows scales every row to unit L2 norm in place. Zero rows are
// left unchanged.
func (m *Matrix) NormalizeRows() {
	if m.cols == 0 {
		return
	}
	for i := 0; i < m.rows; i++ {
		v := blas32.Vector{N: m.cols, Inc: 1, Data: m.Row(i)}
		norm := blas32.Nrm2(v)
		if norm == 0 {
			continue
		}
		blas32.Scal(1/norm, v)
	}
}
