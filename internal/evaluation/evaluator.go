package evaluation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/recoeval/reco-eval/internal/bus"
	"github.com/recoeval/reco-eval/internal/dataset"
	"github.com/recoeval/reco-eval/internal/inference"
	"github.com/recoeval/reco-eval/internal/loader"
	"github.com/recoeval/reco-eval/internal/ml"
	"github.com/recoeval/reco-eval/internal/pkg/errors"
	"github.com/recoeval/reco-eval/internal/pkg/logger"
	"github.com/recoeval/reco-eval/internal/results"
	"github.com/recoeval/reco-eval/internal/split"
	"github.com/recoeval/reco-eval/internal/tensor"
)

const eventSource = "evaluator"

// Evaluator runs folds end to end: split, views, loaders, score matrix,
// accuracy. It is safe to run several folds at once as long as the model
// is safe for concurrent Embed calls.
type Evaluator struct {
	opts      Options
	model     inference.Model[string]
	transform dataset.Transform[string]
	bus       bus.Bus
	recorder  inference.Recorder
	store     results.Store
	index     GalleryIndex
	log       *logger.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithBus publishes fold lifecycle events to b.
func WithBus(b bus.Bus) Option {
	return func(e *Evaluator) { e.bus = b }
}

// WithRecorder records embedding measurements.
func WithRecorder(r inference.Recorder) Option {
	return func(e *Evaluator) { e.recorder = r }
}

// WithStore saves run reports to s.
func WithStore(s results.Store) Option {
	return func(e *Evaluator) { e.store = s }
}

// WithGalleryIndex scores queries through an external vector index.
func WithGalleryIndex(idx GalleryIndex) Option {
	return func(e *Evaluator) { e.index = idx }
}

// WithTransform maps item references to model inputs.
func WithTransform(t dataset.Transform[string]) Option {
	return func(e *Evaluator) { e.transform = t }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(e *Evaluator) { e.log = log }
}

// NewEvaluator creates an evaluator for model.
func NewEvaluator(model inference.Model[string], opts Options, options ...Option) (*Evaluator, error) {
	if model == nil {
		return nil, errors.ValidationError("model is required")
	}
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	e := &Evaluator{
		opts:  opts,
		model: model,
		log:   logger.Discard(),
	}
	for _, o := range options {
		o(e)
	}
	return e, nil
}

// Options returns the evaluator's effective options.
func (e *Evaluator) Options() Options {
	return e.opts
}

func (e *Evaluator) backend() string {
	if e.index != nil {
		return e.index.Name()
	}
	return "exact"
}

// Evaluate runs a single fold and saves it as a one-fold report.
func (e *Evaluator) Evaluate(ctx context.Context, records []dataset.Record, fold int) (*results.Report, error) {
	runID := uuid.NewString()
	start := time.Now()

	fr, err := e.RunFold(ctx, runID, records, fold)
	if err != nil {
		e.publishRun(ctx, runID, 1, 1, "", start)
		return nil, err
	}

	report := e.newReport(runID, start, []results.FoldResult{*fr})
	if err := e.save(ctx, report); err != nil {
		return nil, err
	}
	e.publishRun(ctx, runID, 1, 0, report.ID, start)
	return report, nil
}

// CrossValidate evaluates every fold and summarizes them. Any failing
// fold aborts the run; no partial report is returned.
func (e *Evaluator) CrossValidate(ctx context.Context, records []dataset.Record) (*results.Report, error) {
	runID := uuid.NewString()
	start := time.Now()
	log := e.log.WithRun(runID)

	log.Info("Cross-validation started",
		"folds", e.opts.NumFolds,
		"concurrency", e.opts.FoldConcurrency,
		"backend", e.backend(),
	)

	folds := make([]results.FoldResult, e.opts.NumFolds)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.FoldConcurrency)
	for f := range folds {
		g.Go(func() error {
			fr, err := e.RunFold(gctx, runID, records, f)
			if err != nil {
				return fmt.Errorf("fold %d: %w", f, err)
			}
			folds[f] = *fr
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Cross-validation failed")
		e.publishRun(ctx, runID, len(folds), 1, "", start)
		return nil, err
	}

	report := e.newReport(runID, start, folds)
	if err := e.save(ctx, report); err != nil {
		return nil, err
	}

	log.Info("Cross-validation completed", "duration_ms", report.DurationMs)
	e.publishRun(ctx, runID, len(folds), 0, report.ID, start)
	return report, nil
}

func (e *Evaluator) newReport(runID string, start time.Time, folds []results.FoldResult) *results.Report {
	return &results.Report{
		ID:         runID,
		CreatedAt:  start.UTC(),
		Settings:   e.opts.Settings(e.backend()),
		Folds:      folds,
		Summary:    Summarize(folds),
		DurationMs: time.Since(start).Milliseconds(),
	}
}

func (e *Evaluator) save(ctx context.Context, report *results.Report) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.Save(ctx, report); err != nil {
		return fmt.Errorf("saving report %s: %w", report.ID, err)
	}
	return nil
}

// RunFold evaluates validation fold `fold` of records.
func (e *Evaluator) RunFold(ctx context.Context, runID string, records []dataset.Record, fold int) (*results.FoldResult, error) {
	start := time.Now()
	log := e.log.WithRun(runID).WithFold(fold)

	e.publish(ctx, bus.TopicFoldStarted, runID, bus.FoldPayload{
		RunID:    runID,
		Fold:     fold,
		NumFolds: e.opts.NumFolds,
	})

	fr, err := e.runFold(ctx, runID, records, fold, log)
	if err != nil {
		code := "generic"
		if appErr, ok := errors.AsAppError(err); ok {
			code = appErr.Code
		}
		log.WithError(err).Error("Fold failed", "code", code)
		e.publish(ctx, bus.TopicFoldFailed, runID, bus.FoldPayload{
			RunID:      runID,
			Fold:       fold,
			NumFolds:   e.opts.NumFolds,
			DurationMs: time.Since(start).Milliseconds(),
			Error:      err.Error(),
			Code:       code,
		})
		return nil, err
	}

	fr.DurationMs = time.Since(start).Milliseconds()
	log.Info("Fold completed",
		"queries", fr.Queries,
		"columns", fr.Columns,
		"top_k", fr.TopK,
		"duration_ms", fr.DurationMs,
	)
	e.publish(ctx, bus.TopicFoldCompleted, runID, bus.FoldPayload{
		RunID:      runID,
		Fold:       fold,
		NumFolds:   e.opts.NumFolds,
		Queries:    fr.Queries,
		Columns:    fr.Columns,
		TopK:       fr.TopK,
		DurationMs: fr.DurationMs,
	})
	return fr, nil
}

func (e *Evaluator) runFold(ctx context.Context, runID string, records []dataset.Record, fold int, log *logger.Logger) (*results.FoldResult, error) {
	sp, err := split.Run(records,
		split.FoldConfig{
			NumFolds: e.opts.NumFolds,
			ValFold:  fold,
			RNG:      split.NewRNG(e.opts.KFoldSeed),
			LabelKey: e.opts.LabelKey,
		},
		split.GalleryConfig{
			NRefs:  e.opts.NRefs,
			RNG:    split.NewRNG(e.opts.RandRefSeed),
			Policy: e.opts.Policy,
		},
	)
	if err != nil {
		return nil, err
	}

	if n := len(sp.Summary.Degenerate); n > 0 {
		counts := make(map[string]int, n)
		for _, d := range sp.Summary.Degenerate {
			counts[d.Label] = d.Count
		}
		log.Warn("Labels have no query records",
			"labels", n,
			"n_refs", e.opts.NRefs,
		)
		e.publish(ctx, bus.TopicSplitDegenerate, runID, bus.DegeneratePayload{
			RunID:  runID,
			Fold:   fold,
			NRefs:  e.opts.NRefs,
			Labels: counts,
		})
	}

	trainView, galleryView, queryView, err := e.views(sp)
	if err != nil {
		return nil, err
	}

	log.Debug("Fold split",
		"train", trainView.Len(),
		"gallery", galleryView.Len(),
		"query", queryView.Len(),
		"val_digest", sp.Summary.ValDigest,
	)

	galleryLoader := loader.New[string](ctx, galleryView, e.opts.Loader)
	defer galleryLoader.Close()
	queryLoader := loader.New[string](ctx, queryView, e.opts.Loader)
	defer queryLoader.Close()

	computer := e.computer(log)

	summary := sp.Summary
	fr := &results.FoldResult{Fold: fold, Split: &summary}

	if e.index != nil {
		err = e.scoreWithIndex(ctx, computer, galleryLoader, queryLoader, runID, fold, fr)
	} else {
		err = e.scoreExact(ctx, computer, galleryLoader, queryLoader, fr)
	}
	if err != nil {
		return nil, err
	}
	return fr, nil
}

// views builds the train view over train labels and the gallery and
// query views over a shared validation label index.
func (e *Evaluator) views(sp *split.Result) (train, gallery, query *dataset.View[string], err error) {
	trainIdx, err := dataset.NewLabelIndex(sp.Train, e.opts.LabelKey)
	if err != nil {
		return nil, nil, nil, err
	}

	val := make([]dataset.Record, 0, len(sp.Gallery)+len(sp.Query))
	val = append(val, sp.Gallery...)
	val = append(val, sp.Query...)
	valIdx, err := dataset.NewLabelIndex(val, e.opts.LabelKey)
	if err != nil {
		return nil, nil, nil, err
	}

	if train, err = dataset.NewView(sp.Train, e.opts.LabelKey, e.opts.ItemKey, trainIdx, e.transform); err != nil {
		return nil, nil, nil, fmt.Errorf("train view: %w", err)
	}
	if gallery, err = dataset.NewView(sp.Gallery, e.opts.LabelKey, e.opts.ItemKey, valIdx, e.transform); err != nil {
		return nil, nil, nil, fmt.Errorf("gallery view: %w", err)
	}
	if query, err = dataset.NewView(sp.Query, e.opts.LabelKey, e.opts.ItemKey, valIdx, e.transform); err != nil {
		return nil, nil, nil, fmt.Errorf("query view: %w", err)
	}
	return train, gallery, query, nil
}

func (e *Evaluator) computer(log *logger.Logger) *inference.Computer[string] {
	opts := []inference.Option[string]{inference.WithLogger[string](log)}
	if e.recorder != nil {
		opts = append(opts, inference.WithMetrics[string](e.recorder))
	}
	if e.opts.Aggregate == AggregateMean {
		opts = append(opts, inference.WithAggregate[string](inference.MeanPerLabel))
	}
	if e.opts.Normalize {
		opts = append(opts, inference.WithEmbedFunc[string](ml.NormalizeEmbed[string]))
	}
	return inference.NewComputer(opts...)
}

func (e *Evaluator) scoreExact(ctx context.Context, c *inference.Computer[string], gallery, query inference.BatchSource[string], fr *results.FoldResult) error {
	sm, err := c.Compute(ctx, e.model, gallery, query)
	if err != nil {
		return err
	}

	rep, err := EvaluateScores(sm.Scores, sm.QueryLabels, sm.GalleryLabels, e.opts.Ks)
	if err != nil {
		return err
	}

	fr.TopK = stringKeys(rep.TopK)
	fr.Ranking = rep.Ranking.Flatten()
	fr.Queries = rep.Queries
	fr.Columns = rep.Columns
	return nil
}

func (e *Evaluator) scoreWithIndex(ctx context.Context, c *inference.Computer[string], gallery, query inference.BatchSource[string], runID string, fold int, fr *results.FoldResult) error {
	galEmb, galLabels, err := c.Gallery(ctx, e.model, gallery)
	if err != nil {
		return err
	}

	maxK := 0
	for _, k := range e.opts.Ks {
		if k > galEmb.Rows() {
			return errors.InvalidKError(k, galEmb.Rows())
		}
		maxK = max(maxK, k)
	}

	collection := fmt.Sprintf("%s_%d", runID, fold)
	if err := e.index.IndexGallery(ctx, collection, galEmb, galLabels); err != nil {
		return err
	}
	defer func() {
		// Use a fresh context so cleanup runs after cancellation.
		dropCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := e.index.DropCollection(dropCtx, collection); err != nil {
			e.log.WithError(err).Warn("Failed to drop gallery collection", "collection", collection)
		}
	}()

	var queryLabels []int
	var candidates [][]int
	err = c.Queries(ctx, e.model, query, func(emb *tensor.Matrix, labels []int) error {
		cands, err := e.index.CandidateLabels(ctx, collection, emb, maxK)
		if err != nil {
			return err
		}
		if len(cands) != len(labels) {
			return errors.ShapeMismatchError(fmt.Sprintf(
				"index returned %d candidate lists for %d queries", len(cands), len(labels)))
		}
		candidates = append(candidates, cands...)
		queryLabels = append(queryLabels, labels...)
		if e.recorder != nil {
			e.recorder.RecordQueriesScored(len(labels))
		}
		return nil
	})
	if err != nil {
		return err
	}

	fr.TopK = make(map[string]float64, len(e.opts.Ks))
	for _, k := range e.opts.Ks {
		acc, err := TopAllAccuracy(queryLabels, truncate(candidates, k))
		if err != nil {
			return err
		}
		fr.TopK[strconv.Itoa(k)] = acc
	}
	fr.Queries = len(queryLabels)
	fr.Columns = galEmb.Rows()
	return nil
}

// EvaluateScores computes top-k accuracies and ranking metrics for a
// precomputed score matrix.
func EvaluateScores(scores *tensor.Matrix, queryLabels, galleryLabels []int, ks []int) (*ScoreReport, error) {
	topK, err := TopKAccuracies(scores, queryLabels, galleryLabels, ks)
	if err != nil {
		return nil, err
	}
	ranking, err := RankingMetrics(scores, queryLabels, galleryLabels, ks)
	if err != nil {
		return nil, err
	}
	return &ScoreReport{
		TopK:    topK,
		Ranking: ranking,
		Queries: scores.Rows(),
		Columns: scores.Cols(),
	}, nil
}

func (e *Evaluator) publish(ctx context.Context, topic, runID string, payload any) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, topic, bus.NewEvent(topic, eventSource, runID, payload)); err != nil {
		e.log.WithRun(runID).WithError(err).Warn("Failed to publish event", "topic", topic)
	}
}

func (e *Evaluator) publishRun(ctx context.Context, runID string, folds, failed int, reportID string, start time.Time) {
	e.publish(ctx, bus.TopicRunCompleted, runID, bus.RunPayload{
		RunID:      runID,
		Folds:      folds,
		Failed:     failed,
		ReportID:   reportID,
		DurationMs: time.Since(start).Milliseconds(),
	})
}

func stringKeys(m map[int]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[strconv.Itoa(k)] = v
	}
	return out
}

func truncate(candidates [][]int, k int) [][]int {
	out := make([][]int, len(candidates))
	for i, c := range candidates {
		out[i] = c[:min(k, len(c))]
	}
	return out
}
