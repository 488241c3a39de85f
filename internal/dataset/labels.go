package dataset

import (
	"github.com/recoeval/reco-eval/internal/pkg/errors"
)

// LabelIndex maps raw labels to dense integers in [0, Len()).
// It is immutable after construction.
type LabelIndex struct {
	toInt  map[string]int
	labels []string
}

// NewLabelIndex builds an index over the distinct labels of records,
// numbered in first-appearance order.
func NewLabelIndex(records []Record, key string) (*LabelIndex, error) {
	labels, err := Labels(records, key)
	if err != nil {
		return nil, err
	}
	return NewLabelIndexFromLabels(labels)
}

// NewLabelIndexFromLabels builds an index from an explicit label list.
// Duplicates are rejected.
func NewLabelIndexFromLabels(labels []string) (*LabelIndex, error) {
	idx := &LabelIndex{
		toInt:  make(map[string]int, len(labels)),
		labels: make([]string, len(labels)),
	}
	copy(idx.labels, labels)

	for i, l := range labels {
		if _, dup := idx.toInt[l]; dup {
			return nil, errors.Newf(errors.CodeValidation, "duplicate label %q", l)
		}
		idx.toInt[l] = i
	}
	return idx, nil
}

// Index returns the integer assigned to label.
func (x *LabelIndex) Index(label string) (int, bool) {
	i, ok := x.toInt[label]
	return i, ok
}

// Label returns the raw label for i. It panics if i is out of range.
func (x *LabelIndex) Label(i int) string {
	return x.labels[i]
}

// Len returns the number of labels.
func (x *LabelIndex) Len() int {
	return len(x.labels)
}

// Labels returns a copy of the labels in index order.
func (x *LabelIndex) Labels() []string {
	out := make([]string, len(x.labels))
	copy(out, x.labels)
	return out
}
