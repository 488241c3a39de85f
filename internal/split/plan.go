package split

import (
	"sort"

	"github.com/recoeval/reco-eval/internal/dataset"
	"github.com/recoeval/reco-eval/internal/pkg/hash"
)

// Result holds the three record sets of one fold.
type Result struct {
	Train   []dataset.Record
	Gallery []dataset.Record
	Query   []dataset.Record
	Summary Summary
}

// Summary describes a fold's split.
type Summary struct {
	Fold           int          `json:"fold"`
	NumFolds       int          `json:"num_folds"`
	TrainRecords   int          `json:"train_records"`
	TrainLabels    int          `json:"train_labels"`
	ValRecords     int          `json:"val_records"`
	ValLabels      int          `json:"val_labels"`
	GalleryRecords int          `json:"gallery_records"`
	QueryRecords   int          `json:"query_records"`
	Degenerate     []LabelCount `json:"degenerate,omitempty"`
	// ValDigest fingerprints the validation label set.
	ValDigest string `json:"val_digest"`
}

// Run applies KFold and then GalleryQuery to the validation records.
// gal.LabelKey defaults to fold.LabelKey.
func Run(records []dataset.Record, fold FoldConfig, gal GalleryConfig) (*Result, error) {
	if gal.LabelKey == "" {
		gal.LabelKey = fold.LabelKey
	}

	train, val, err := KFold(records, fold)
	if err != nil {
		return nil, err
	}

	gq, err := GalleryQuery(val, gal)
	if err != nil {
		return nil, err
	}

	trainLabels, err := dataset.Labels(train, fold.LabelKey)
	if err != nil {
		return nil, err
	}
	valLabels, err := dataset.Labels(val, fold.LabelKey)
	if err != nil {
		return nil, err
	}

	return &Result{
		Train:   train,
		Gallery: gq.Gallery,
		Query:   gq.Query,
		Summary: Summary{
			Fold:           fold.ValFold,
			NumFolds:       fold.NumFolds,
			TrainRecords:   len(train),
			TrainLabels:    len(trainLabels),
			ValRecords:     len(val),
			ValLabels:      len(valLabels),
			GalleryRecords: len(gq.Gallery),
			QueryRecords:   len(gq.Query),
			Degenerate:     gq.Degenerate,
			ValDigest:      LabelDigest(valLabels),
		},
	}, nil
}

// LabelDigest returns an order-independent fingerprint of labels.
func LabelDigest(labels []string) string {
	sorted := make([]string, len(labels))
	copy(sorted, labels)
	sort.Strings(sorted)
	return hash.Digest(sorted)
}
