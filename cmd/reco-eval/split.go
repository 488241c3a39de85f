package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/recoeval/reco-eval/internal/dataset"
	"github.com/recoeval/reco-eval/internal/pkg/security"
	"github.com/recoeval/reco-eval/internal/split"
)

func splitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Split a record table into train, gallery and query tables",
		Long: `Split assigns labels to folds, takes the validation fold's records
and divides them into gallery and query sets. The three tables are written
to --out as train.csv, gallery.csv and query.csv with the input's columns.`,
		RunE: runSplit,
	}

	addDatasetFlags(cmd)
	cmd.Flags().Int("fold", 0, "validation fold")
	cmd.Flags().String("out", ".", "output directory")

	return cmd
}

func runSplit(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	outDir, _ := cmd.Flags().GetString("out")

	table, err := e.readTable()
	if err != nil {
		return err
	}

	policy, err := split.ParsePolicy(e.cfg.Split.DegeneratePolicy)
	if err != nil {
		return err
	}

	res, err := split.Run(table.Records,
		split.FoldConfig{
			NumFolds: e.cfg.Split.NumFolds,
			ValFold:  e.cfg.Split.ValFold,
			RNG:      split.NewRNG(e.cfg.Split.KFoldSeed),
			LabelKey: e.cfg.Dataset.LabelKey,
		},
		split.GalleryConfig{
			NRefs:  e.cfg.Split.NRefs,
			RNG:    split.NewRNG(e.cfg.Split.RandRefSeed),
			Policy: policy,
		},
	)
	if err != nil {
		return err
	}
	for _, d := range res.Summary.Degenerate {
		e.log.Warn("Label has no query records", "label", security.SanitizeForLog(d.Label), "count", d.Count, "n_refs", e.cfg.Split.NRefs)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	outputs := []struct {
		name    string
		records []dataset.Record
	}{
		{"train.csv", res.Train},
		{"gallery.csv", res.Gallery},
		{"query.csv", res.Query},
	}
	for _, o := range outputs {
		path := filepath.Join(outDir, o.name)
		if err := dataset.WriteCSVFile(path, table.Header, o.records); err != nil {
			return err
		}
		e.log.Debug("Wrote table", "path", path, "records", len(o.records))
	}

	if e.format == "json" {
		return e.writeJSON(res.Summary)
	}
	printSplitSummary(e, res.Summary)
	return nil
}

func printSplitSummary(e *env, s split.Summary) {
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "fold\t%d of %d\n", s.Fold, s.NumFolds)
	fmt.Fprintf(tw, "train\t%d records\t%d labels\n", s.TrainRecords, s.TrainLabels)
	fmt.Fprintf(tw, "validation\t%d records\t%d labels\n", s.ValRecords, s.ValLabels)
	fmt.Fprintf(tw, "gallery\t%d records\n", s.GalleryRecords)
	fmt.Fprintf(tw, "query\t%d records\n", s.QueryRecords)
	if len(s.Degenerate) > 0 {
		fmt.Fprintf(tw, "degenerate\t%d labels\n", len(s.Degenerate))
	}
	fmt.Fprintf(tw, "val digest\t%s\n", s.ValDigest)
	_ = tw.Flush()
}
