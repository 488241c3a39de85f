package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/recoeval/reco-eval/internal/bus"
	"github.com/recoeval/reco-eval/internal/dataset"
	"github.com/recoeval/reco-eval/internal/evaluation"
	"github.com/recoeval/reco-eval/internal/metrics"
	"github.com/recoeval/reco-eval/internal/ml"
	"github.com/recoeval/reco-eval/internal/pkg/errors"
	"github.com/recoeval/reco-eval/internal/pkg/security"
	"github.com/recoeval/reco-eval/internal/qdrant"
	"github.com/recoeval/reco-eval/internal/results"
)

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one validation fold",
		Long: `Evaluate splits the records, embeds the gallery and query sets of the
validation fold and reports top-k accuracy and ranking metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEvaluation(cmd, false)
		},
	}

	addDatasetFlags(cmd)
	addEvalFlags(cmd)
	cmd.Flags().Int("fold", 0, "validation fold")

	return cmd
}

func crossvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crossval",
		Short: "Evaluate every fold and summarise",
		Long: `Crossval evaluates each fold in turn as the validation fold and reports
the mean, standard deviation and range of every metric across folds.
Any failing fold fails the whole run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEvaluation(cmd, true)
		},
	}

	addDatasetFlags(cmd)
	addEvalFlags(cmd)
	cmd.Flags().Int("concurrency", 0, "folds evaluated at once")

	return cmd
}

// services are the collaborators of one evaluation run.
type services struct {
	metrics *metrics.Metrics
	bus     bus.Bus
	store   results.Store
	qdrant  *qdrant.Client
}

func (e *env) openServices(ctx context.Context) (*services, error) {
	s := &services{metrics: metrics.New()}

	inner, err := bus.NewBus(e.cfg.Bus, e.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}
	s.bus = bus.NewInstrumentedBus(inner, s.metrics)
	if err := metrics.NewEventSubscriber(s.metrics, s.bus).SubscribeToEvents(ctx); err != nil {
		s.close(e)
		return nil, fmt.Errorf("failed to subscribe metrics to events: %w", err)
	}

	s.store, err = results.New(e.cfg.Results)
	if err != nil {
		s.close(e)
		return nil, fmt.Errorf("failed to open results store: %w", err)
	}

	if e.cfg.Eval.Backend == "qdrant" {
		qcfg, err := qdrant.ConfigFrom(e.cfg.Qdrant)
		if err != nil {
			s.close(e)
			return nil, fmt.Errorf("invalid Qdrant config: %w", err)
		}
		s.qdrant, err = qdrant.NewClient(qcfg, e.log)
		if err != nil {
			s.close(e)
			return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
		}
		e.log.Info("Scoring through Qdrant", "host", qcfg.Host, "port", qcfg.Port)
	}

	return s, nil
}

func (s *services) close(e *env) {
	if s.qdrant != nil {
		if err := s.qdrant.Close(); err != nil {
			e.log.WithError(err).Warn("Failed to close qdrant client")
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			e.log.WithError(err).Warn("Failed to close results store")
		}
	}
	// Closing the bus drains the metric subscribers.
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			e.log.WithError(err).Warn("Failed to close event bus")
		}
	}
}

func runEvaluation(cmd *cobra.Command, allFolds bool) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	metricsOut, _ := cmd.Flags().GetString("metrics-out")

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	table, err := e.readTable()
	if err != nil {
		return err
	}

	svc, err := e.openServices(ctx)
	if err != nil {
		return err
	}

	model, err := ml.NewModel(e.cfg.Embed, svc.metrics)
	if err != nil {
		svc.close(e)
		return err
	}

	opts, err := evaluation.OptionsFromConfig(e.cfg)
	if err != nil {
		svc.close(e)
		return err
	}

	evalOpts := []evaluation.Option{
		evaluation.WithLogger(e.log),
		evaluation.WithBus(svc.bus),
		evaluation.WithRecorder(svc.metrics),
		evaluation.WithStore(svc.store),
	}
	if svc.qdrant != nil {
		evalOpts = append(evalOpts, evaluation.WithGalleryIndex(svc.qdrant))
	}
	if root := e.cfg.Dataset.ItemRoot; root != "" {
		evalOpts = append(evalOpts, evaluation.WithTransform(itemUnder(root)))
	}

	ev, err := evaluation.NewEvaluator(model, opts, evalOpts...)
	if err != nil {
		svc.close(e)
		return err
	}

	var report *results.Report
	if allFolds {
		report, err = ev.CrossValidate(ctx, table.Records)
	} else {
		report, err = ev.Evaluate(ctx, table.Records, e.cfg.Split.ValFold)
	}
	svc.close(e)
	if err != nil {
		return err
	}

	if metricsOut != "" {
		if err := os.WriteFile(metricsOut, []byte(svc.metrics.PrometheusFormat()), 0o644); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}

	if e.format == "json" {
		return e.writeJSON(report)
	}
	printReport(e, report, allFolds)
	return nil
}

// itemUnder resolves item references relative to root. References that
// would leave root are rejected.
func itemUnder(root string) dataset.Transform[string] {
	return func(ref string) (string, error) {
		path, err := security.ResolveItemRef(root, ref)
		if err != nil {
			return "", errors.Wrap(errors.CodeValidation, "invalid item reference", err)
		}
		return path, nil
	}
}

func printReport(e *env, r *results.Report, summary bool) {
	ks := append([]int(nil), r.Settings.Ks...)
	sort.Ints(ks)

	fmt.Fprintf(e.out, "run %s (%s backend, %d ms)\n\n", r.ID, r.Settings.Backend, r.DurationMs)

	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	header := []string{"fold", "queries", "columns"}
	for _, k := range ks {
		header = append(header, "top_"+strconv.Itoa(k))
	}
	header = append(header, "mrr", "map")
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	for _, f := range r.Folds {
		row := []string{strconv.Itoa(f.Fold), strconv.Itoa(f.Queries), strconv.Itoa(f.Columns)}
		for _, k := range ks {
			acc, _ := f.Accuracy(k)
			row = append(row, formatMetric(acc))
		}
		row = append(row, formatMetric(f.Ranking["mrr"]), formatMetric(f.Ranking["map"]))
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()

	if !summary || len(r.Summary) == 0 {
		return
	}

	fmt.Fprintln(e.out)
	tw = tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "metric\tmean\tstd\tmin\tmax")
	for _, m := range r.Summary {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.Metric,
			formatMetric(m.Mean), formatMetric(m.Std), formatMetric(m.Min), formatMetric(m.Max))
	}
	_ = tw.Flush()
}

func formatMetric(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
