package tensor

import (
	"math"
	"testing"

	"github.com/recoeval/reco-eval/internal/pkg/errors"
)

func TestFromRows(t *testing.T) {
	m, err := FromRows([][]float32{{1, 2, 3}, {4, 5, 6}})
	if err != nil {
		t.Fatalf("FromRows() error = %v", err)
	}

	if r, c := m.Shape(); r != 2 || c != 3 {
		t.Fatalf("Shape() = (%d, %d), want (2, 3)", r, c)
	}
	if m.At(1, 2) != 6 {
		t.Errorf("At(1, 2) = %v, want 6", m.At(1, 2))
	}

	if _, err := FromRows([][]float32{{1, 2}, {3}}); !errors.Is(err, errors.CodeShapeMismatch) {
		t.Errorf("ragged FromRows() error = %v, want SHAPE_MISMATCH", err)
	}
}

func TestFromData(t *testing.T) {
	if _, err := FromData(2, 2, []float32{1, 2, 3}); err == nil {
		t.Error("FromData() expected error for wrong length")
	}

	m, err := FromData(1, 3, []float32{1, 2, 3})
	if err != nil {
		t.Fatalf("FromData() error = %v", err)
	}
	if m.Row(0)[1] != 2 {
		t.Errorf("Row(0)[1] = %v, want 2", m.Row(0)[1])
	}
}

func TestAppendRows(t *testing.T) {
	m := New(0, 0)

	a, _ := FromRows([][]float32{{1, 2}})
	b, _ := FromRows([][]float32{{3, 4}, {5, 6}})

	if err := m.AppendRows(a); err != nil {
		t.Fatalf("AppendRows(a) error = %v", err)
	}
	if err := m.AppendRows(b); err != nil {
		t.Fatalf("AppendRows(b) error = %v", err)
	}

	if m.Rows() != 3 || m.Cols() != 2 {
		t.Fatalf("Shape = (%d, %d), want (3, 2)", m.Rows(), m.Cols())
	}
	if m.At(2, 1) != 6 {
		t.Errorf("At(2, 1) = %v, want 6", m.At(2, 1))
	}

	c, _ := FromRows([][]float32{{1, 2, 3}})
	if err := m.AppendRows(c); !errors.Is(err, errors.CodeShapeMismatch) {
		t.Errorf("AppendRows(c) error = %v, want SHAPE_MISMATCH", err)
	}
}

func TestMulTransposed(t *testing.T) {
	q, _ := FromRows([][]float32{{1, 0}, {0, 2}, {1, 1}})
	g, _ := FromRows([][]float32{{1, 2}, {3, 4}})

	out, err := MulTransposed(q, g)
	if err != nil {
		t.Fatalf("MulTransposed() error = %v", err)
	}

	want := [][]float32{{1, 3}, {4, 8}, {3, 7}}
	if out.Rows() != 3 || out.Cols() != 2 {
		t.Fatalf("Shape = (%d, %d), want (3, 2)", out.Rows(), out.Cols())
	}
	for i := range want {
		for j := range want[i] {
			if out.At(i, j) != want[i][j] {
				t.Errorf("At(%d, %d) = %v, want %v", i, j, out.At(i, j), want[i][j])
			}
		}
	}
}

func TestMulTransposedEmpty(t *testing.T) {
	g, _ := FromRows([][]float32{{1, 2}})

	out, err := MulTransposed(New(0, 2), g)
	if err != nil {
		t.Fatalf("MulTransposed() error = %v", err)
	}
	if out.Rows() != 0 || out.Cols() != 1 {
		t.Errorf("Shape = (%d, %d), want (0, 1)", out.Rows(), out.Cols())
	}
}

func TestMulTransposedMismatch(t *testing.T) {
	a, _ := FromRows([][]float32{{1, 2}})
	b, _ := FromRows([][]float32{{1, 2, 3}})

	if _, err := MulTransposed(a, b); !errors.Is(err, errors.CodeShapeMismatch) {
		t.Errorf("MulTransposed() error = %v, want SHAPE_MISMATCH", err)
	}
}

func TestNormalizeRows(t *testing.T) {
	m, _ := FromRows([][]float32{{3, 4}, {0, 0}})
	m.NormalizeRows()

	if math.Abs(float64(m.At(0, 0))-0.6) > 1e-6 || math.Abs(float64(m.At(0, 1))-0.8) > 1e-6 {
		t.Errorf("row 0 = %v, want [0.6 0.8]", m.Row(0))
	}
	if m.At(1, 0) != 0 || m.At(1, 1) != 0 {
		t.Errorf("zero row changed: %v", m.Row(1))
	}
}
