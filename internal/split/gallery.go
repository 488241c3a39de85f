package split

import (
	"fmt"
	"strings"

	"github.com/recoeval/reco-eval/internal/dataset"
	"github.com/recoeval/reco-eval/internal/pkg/errors"
)

// DegeneratePolicy decides what happens when a label has no query records.
type DegeneratePolicy int

const (
	// PolicyStrict fails the split with DEGENERATE_LABEL_SPLIT.
	PolicyStrict DegeneratePolicy = iota
	// PolicyWarn returns the split and lists the labels in Degenerate.
	PolicyWarn
)

// ParsePolicy parses "error", "strict" or "warn", ignoring case. The empty
// string selects PolicyStrict.
func ParsePolicy(s string) (DegeneratePolicy, error) {
	switch strings.ToLower(s) {
	case "", "error", "strict":
		return PolicyStrict, nil
	case "warn":
		return PolicyWarn, nil
	default:
		return PolicyStrict, errors.Newf(errors.CodeValidation, "unknown degenerate policy %q", s)
	}
}

func (p DegeneratePolicy) String() string {
	if p == PolicyWarn {
		return "warn"
	}
	return "error"
}

// GalleryConfig configures GalleryQuery.
type GalleryConfig struct {
	NRefs    int
	RNG      RNG
	LabelKey string
	Policy   DegeneratePolicy
}

// LabelCount is a label and how many records it has.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// GalleryQuerySplit is the result of GalleryQuery.
type GalleryQuerySplit struct {
	Gallery []dataset.Record
	Query   []dataset.Record
	// Degenerate lists labels with count <= NRefs; all their records are
	// in Gallery and none in Query.
	Degenerate []LabelCount
}

// GalleryQuery puts min(NRefs, count) records of each label in the gallery
// and the rest in the query set. Which records are chosen depends only on
// the seed and the label's own records, not on other labels.
func GalleryQuery(records []dataset.Record, cfg GalleryConfig) (*GalleryQuerySplit, error) {
	if cfg.NRefs < 1 {
		return nil, errors.Newf(errors.CodeValidation, "n_refs must be at least 1, got %d", cfg.NRefs)
	}

	groups, order, err := dataset.GroupByLabel(records, cfg.LabelKey)
	if err != nil {
		return nil, err
	}

	inGallery := make([]bool, len(records))
	out := &GalleryQuerySplit{}

	for _, label := range order {
		members := groups[label]
		perm := cfg.RNG.Derive(label).Perm(len(members))

		n := min(cfg.NRefs, len(members))
		for _, p := range perm[:n] {
			inGallery[members[p]] = true
		}

		if len(members) <= cfg.NRefs {
			out.Degenerate = append(out.Degenerate, LabelCount{Label: label, Count: len(members)})
		}
	}

	if len(out.Degenerate) > 0 && cfg.Policy == PolicyStrict {
		labels := make([]string, len(out.Degenerate))
		for i, d := range out.Degenerate {
			labels[i] = d.Label
		}
		return nil, errors.DegenerateLabelSplitError(labels, cfg.NRefs)
	}

	for i, r := range records {
		if inGallery[i] {
			out.Gallery = append(out.Gallery, r)
		} else {
			out.Query = append(out.Query, r)
		}
	}

	return out, nil
}

// String summarizes the split sizes.
func (s *GalleryQuerySplit) String() string {
	return fmt.Sprintf("gallery=%d query=%d degenerate=%d", len(s.Gallery), len(s.Query), len(s.Degenerate))
}
