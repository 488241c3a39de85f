package evaluation

import (
	"context"

	"github.com/recoeval/reco-eval/internal/config"
	"github.com/recoeval/reco-eval/internal/loader"
	"github.com/recoeval/reco-eval/internal/pkg/errors"
	"github.com/recoeval/reco-eval/internal/results"
	"github.com/recoeval/reco-eval/internal/split"
	"github.com/recoeval/reco-eval/internal/tensor"
)

// Aggregation modes for gallery embeddings.
const (
	AggregateNone = "none"
	AggregateMean = "mean"
)

// Options configures an Evaluator.
type Options struct {
	Dataset  string
	LabelKey string
	ItemKey  string

	NumFolds    int
	KFoldSeed   int64
	// NRefs is the gallery size per label; zero selects 1.
	NRefs       int
	RandRefSeed int64
	Policy      split.DegeneratePolicy

	Ks        []int
	Aggregate string
	Normalize bool

	Loader loader.Options

	// FoldConcurrency bounds how many folds CrossValidate runs at once.
	FoldConcurrency int
}

// OptionsFromConfig builds Options from the application config.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	policy, err := split.ParsePolicy(cfg.Split.DegeneratePolicy)
	if err != nil {
		return Options{}, err
	}

	return Options{
		Dataset:         cfg.Dataset.Path,
		LabelKey:        cfg.Dataset.LabelKey,
		ItemKey:         cfg.Dataset.ItemKey,
		NumFolds:        cfg.Split.NumFolds,
		KFoldSeed:       cfg.Split.KFoldSeed,
		NRefs:           cfg.Split.NRefs,
		RandRefSeed:     cfg.Split.RandRefSeed,
		Policy:          policy,
		Ks:              append([]int(nil), cfg.Eval.Ks...),
		Aggregate:       cfg.Eval.Aggregate,
		Normalize:       cfg.Eval.Normalize,
		FoldConcurrency: cfg.Eval.FoldConcurrency,
		Loader: loader.Options{
			BatchSize: cfg.Eval.BatchSize,
			Workers:   cfg.Eval.Workers,
			Prefetch:  cfg.Eval.Prefetch,
		},
	}, nil
}

func (o *Options) setDefaults() {
	if o.LabelKey == "" {
		o.LabelKey = "label"
	}
	if o.ItemKey == "" {
		o.ItemKey = "image"
	}
	if o.NRefs == 0 {
		o.NRefs = 1
	}
	if len(o.Ks) == 0 {
		o.Ks = []int{1}
	}
	if o.Aggregate == "" {
		o.Aggregate = AggregateNone
	}
	if o.FoldConcurrency < 1 {
		o.FoldConcurrency = 1
	}
}

func (o *Options) validate() error {
	if o.NumFolds < 2 {
		return errors.Newf(errors.CodeInvalidFoldConfig, "num_folds must be at least 2, got %d", o.NumFolds)
	}
	if o.NRefs < 1 {
		return errors.Newf(errors.CodeValidation, "n_refs must be at least 1, got %d", o.NRefs)
	}
	switch o.Aggregate {
	case AggregateNone, AggregateMean:
	default:
		return errors.Newf(errors.CodeValidation, "unknown aggregation %q", o.Aggregate)
	}
	for _, k := range o.Ks {
		if k < 1 {
			return errors.Newf(errors.CodeValidation, "k must be at least 1, got %d", k)
		}
	}
	return nil
}

// Settings returns the report view of the options.
func (o Options) Settings(backend string) results.Settings {
	return results.Settings{
		Dataset:     o.Dataset,
		LabelKey:    o.LabelKey,
		ItemKey:     o.ItemKey,
		NumFolds:    o.NumFolds,
		KFoldSeed:   o.KFoldSeed,
		NRefs:       o.NRefs,
		RandRefSeed: o.RandRefSeed,
		Ks:          append([]int(nil), o.Ks...),
		Aggregate:   o.Aggregate,
		Normalize:   o.Normalize,
		Backend:     backend,
	}
}

// GalleryIndex serves nearest-neighbour candidates from an external
// vector index instead of a dense score matrix.
type GalleryIndex interface {
	// Name identifies the backend in reports.
	Name() string

	// IndexGallery stores one point per gallery row under collection.
	IndexGallery(ctx context.Context, collection string, embeddings *tensor.Matrix, labels []int) error

	// CandidateLabels returns the labels of the k best points for each
	// query row, best first.
	CandidateLabels(ctx context.Context, collection string, queries *tensor.Matrix, k int) ([][]int, error)

	// DropCollection removes collection.
	DropCollection(ctx context.Context, collection string) error
}

// ScoreReport is the result of scoring a precomputed matrix.
type ScoreReport struct {
	TopK    map[int]float64 `json:"top_k"`
	Ranking *Ranking        `json:"ranking"`
	Queries int             `json:"queries"`
	Columns int             `json:"columns"`
}
