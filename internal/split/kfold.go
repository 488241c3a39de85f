// Package split implements label-disjoint k-fold splitting and the
// gallery/query split of validation records.
package split

import (
	"fmt"
	"sort"

	"github.com/recoeval/reco-eval/internal/dataset"
	"github.com/recoeval/reco-eval/internal/pkg/errors"
)

// FoldConfig configures KFold.
type FoldConfig struct {
	NumFolds int
	ValFold  int
	RNG      RNG
	LabelKey string
}

// Assignment maps every label to its fold.
type Assignment struct {
	fold   map[string]int
	groups [][]string
}

// Fold returns the fold of label.
func (a *Assignment) Fold(label string) (int, bool) {
	f, ok := a.fold[label]
	return f, ok
}

// Labels returns the labels of fold f, in shuffled order.
func (a *Assignment) Labels(f int) []string {
	out := make([]string, len(a.groups[f]))
	copy(out, a.groups[f])
	return out
}

// NumFolds returns the number of folds.
func (a *Assignment) NumFolds() int {
	return len(a.groups)
}

// AssignFolds shuffles the distinct labels and slices them into numFolds
// contiguous groups. The first len(labels)%numFolds groups get one extra
// label. Labels are sorted before shuffling, so the result depends only
// on the label set and the seed.
func AssignFolds(labels []string, numFolds int, rng RNG) (*Assignment, error) {
	if numFolds < 2 {
		return nil, errors.InvalidFoldConfigError(fmt.Sprintf("num_folds must be at least 2, got %d", numFolds))
	}

	uniq := make(map[string]struct{}, len(labels))
	sorted := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := uniq[l]; ok {
			continue
		}
		uniq[l] = struct{}{}
		sorted = append(sorted, l)
	}
	sort.Strings(sorted)

	if len(sorted) < numFolds {
		return nil, errors.InvalidFoldConfigError(
			fmt.Sprintf("%d distinct labels cannot fill %d folds", len(sorted), numFolds))
	}

	perm := rng.Perm(len(sorted))

	a := &Assignment{
		fold:   make(map[string]int, len(sorted)),
		groups: make([][]string, numFolds),
	}

	base, extra := len(sorted)/numFolds, len(sorted)%numFolds
	pos := 0
	for f := 0; f < numFolds; f++ {
		size := base
		if f < extra {
			size++
		}
		for _, p := range perm[pos : pos+size] {
			l := sorted[p]
			a.fold[l] = f
			a.groups[f] = append(a.groups[f], l)
		}
		pos += size
	}

	return a, nil
}

// KFold returns the train and validation records for cfg.ValFold. All
// records of a label land on the same side; each side keeps input order.
func KFold(records []dataset.Record, cfg FoldConfig) (train, val []dataset.Record, err error) {
	if cfg.ValFold < 0 || cfg.ValFold >= cfg.NumFolds {
		return nil, nil, errors.InvalidFoldConfigError(
			fmt.Sprintf("val_fold %d outside [0, %d)", cfg.ValFold, cfg.NumFolds))
	}

	labels, err := dataset.LabelsOf(records, cfg.LabelKey)
	if err != nil {
		return nil, nil, errors.Wrap(errors.CodeInvalidFoldConfig, "reading labels", err)
	}

	assign, err := AssignFolds(labels, cfg.NumFolds, cfg.RNG)
	if err != nil {
		return nil, nil, err
	}

	for i, r := range records {
		if f, _ := assign.Fold(labels[i]); f == cfg.ValFold {
			val = append(val, r)
		} else {
			train = append(train, r)
		}
	}

	return train, val, nil
}
