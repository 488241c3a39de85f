// Package dataset holds labeled records, their label indices and
// read-only views used by the evaluation pipeline.
package dataset

import (
	"sort"

	"github.com/recoeval/reco-eval/internal/pkg/errors"
)

// Record is one sample: a set of named string fields.
// Records are immutable once constructed.
type Record struct {
	fields map[string]string
}

// NewRecord creates a record from fields. The map is copied.
func NewRecord(fields map[string]string) Record {
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Record{fields: cp}
}

// Field returns the value of key.
func (r Record) Field(key string) (string, bool) {
	v, ok := r.fields[key]
	return v, ok
}

// Label returns the value of key or a validation error when absent.
func (r Record) Label(key string) (string, error) {
	v, ok := r.fields[key]
	if !ok {
		return "", errors.Newf(errors.CodeValidation, "record has no %q field", key)
	}
	return v, nil
}

// Keys returns the record's field names, sorted.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r.fields))
	for k := range r.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LabelsOf returns the label of every record, aligned with records.
func LabelsOf(records []Record, key string) ([]string, error) {
	out := make([]string, len(records))
	for i, r := range records {
		v, ok := r.fields[key]
		if !ok {
			return nil, errors.Newf(errors.CodeValidation, "record %d has no %q field", i, key)
		}
		out[i] = v
	}
	return out, nil
}

// Labels returns the distinct labels of records in first-appearance order.
func Labels(records []Record, key string) ([]string, error) {
	all, err := LabelsOf(records, key)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(all))
	var out []string
	for _, l := range all {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out, nil
}

// GroupByLabel returns the record positions of each label, plus the
// labels in first-appearance order.
func GroupByLabel(records []Record, key string) (map[string][]int, []string, error) {
	all, err := LabelsOf(records, key)
	if err != nil {
		return nil, nil, err
	}

	groups := make(map[string][]int)
	var order []string
	for i, l := range all {
		if _, ok := groups[l]; !ok {
			order = append(order, l)
		}
		groups[l] = append(groups[l], i)
	}
	return groups, order, nil
}
