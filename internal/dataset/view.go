package dataset

import (
	"fmt"

	"github.com/recoeval/reco-eval/internal/pkg/errors"
)

// Transform turns an item reference into a model input.
// Implementations must be pure.
type Transform[T any] func(itemRef string) (T, error)

// View is a read-only labeled view over records. Labels are resolved
// through a LabelIndex at construction; items are transformed on access.
type View[T any] struct {
	items     []string
	labels    []int
	transform Transform[T]
	index     *LabelIndex
}

// NewView creates a view. A nil transform returns the raw item reference,
// which requires T to be string.
func NewView[T any](records []Record, labelKey, itemKey string, index *LabelIndex, transform Transform[T]) (*View[T], error) {
	if index == nil {
		return nil, errors.ValidationError("label index is required")
	}

	if transform == nil {
		var zero T
		if _, ok := any(zero).(string); !ok {
			return nil, errors.Newf(errors.CodeValidation, "nil transform requires a string view, got %T", zero)
		}
		transform = func(ref string) (T, error) {
			return any(ref).(T), nil
		}
	}

	v := &View[T]{
		items:     make([]string, len(records)),
		labels:    make([]int, len(records)),
		transform: transform,
		index:     index,
	}

	for i, r := range records {
		label, ok := r.Field(labelKey)
		if !ok {
			return nil, errors.Newf(errors.CodeValidation, "record %d has no %q field", i, labelKey)
		}
		item, ok := r.Field(itemKey)
		if !ok {
			return nil, errors.Newf(errors.CodeValidation, "record %d has no %q field", i, itemKey)
		}
		id, ok := index.Index(label)
		if !ok {
			return nil, errors.Newf(errors.CodeValidation, "record %d: label %q is not in the index", i, label)
		}
		v.items[i] = item
		v.labels[i] = id
	}

	return v, nil
}

// Len returns the number of records.
func (v *View[T]) Len() int {
	return len(v.items)
}

// Get returns the transformed item and integer label at i.
func (v *View[T]) Get(i int) (T, int, error) {
	var zero T
	if i < 0 || i >= len(v.items) {
		return zero, 0, errors.Newf(errors.CodeValidation, "index %d out of range [0, %d)", i, len(v.items))
	}

	item, err := v.transform(v.items[i])
	if err != nil {
		return zero, 0, fmt.Errorf("transform %q: %w", v.items[i], err)
	}
	return item, v.labels[i], nil
}

// ItemRef returns the untransformed item reference at i.
func (v *View[T]) ItemRef(i int) string {
	return v.items[i]
}

// Label returns the integer label at i without transforming the item.
func (v *View[T]) Label(i int) int {
	return v.labels[i]
}

// Index returns the label index the view was built with.
func (v *View[T]) Index() *LabelIndex {
	return v.index
}
