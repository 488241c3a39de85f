// Package main provides the reco-eval command line tool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/recoeval/reco-eval/internal/config"
	"github.com/recoeval/reco-eval/internal/dataset"
	"github.com/recoeval/reco-eval/internal/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reco-eval",
		Short: "reco-eval - open-set recognition evaluation",
		Long: `reco-eval measures how well an embedding model recognises identities
it never saw during training.

Labels are split into k folds. The validation fold is divided into a
gallery (n_refs records per label) and a query set, and every query is
ranked against the gallery by embedding similarity.

Examples:
  reco-eval split --data records.csv --out folds/
  reco-eval evaluate --data records.csv --embeddings emb.csv --fold 2
  reco-eval crossval --data records.csv --embeddings emb.csv -k 1,5,10`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("format", "text", "output format (text, json)")

	rootCmd.AddCommand(
		splitCmd(),
		evaluateCmd(),
		crossvalCmd(),
		versionCmd(),
	)

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "reco-eval %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}

// env is the state shared by the subcommands.
type env struct {
	cfg    *config.Config
	log    *logger.Logger
	format string
	out    io.Writer
}

// setup loads the config, applies flag overrides and builds the logger.
// Logs go to stderr; stdout carries only command output.
func setup(cmd *cobra.Command) (*env, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	format, _ := cmd.Flags().GetString("format")

	switch format {
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid format %q (must be text or json)", format)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}

	return &env{
		cfg:    cfg,
		log:    logger.NewWithWriter(cmd.ErrOrStderr(), level, cfg.Log.Format),
		format: format,
		out:    cmd.OutOrStdout(),
	}, nil
}

// addDatasetFlags registers the flags shared by every command that reads
// the record table and splits it.
func addDatasetFlags(cmd *cobra.Command) {
	cmd.Flags().String("data", "", "labeled record table (CSV with header)")
	cmd.Flags().String("label-key", "", "label column (default from config)")
	cmd.Flags().String("item-key", "", "item reference column (default from config)")
	cmd.Flags().Int("folds", 0, "number of label folds")
	cmd.Flags().Int64("fold-seed", 0, "seed of the label fold shuffle")
	cmd.Flags().Int("n-refs", 0, "gallery records per validation label")
	cmd.Flags().Int64("ref-seed", 0, "seed of the gallery record selection")
	cmd.Flags().String("degenerate", "", "labels without queries: error or warn")
}

// addEvalFlags registers the scoring flags.
func addEvalFlags(cmd *cobra.Command) {
	cmd.Flags().String("embeddings", "", "embedding table CSV (item,v0,v1,...)")
	cmd.Flags().String("embed-url", "", "remote embedding service URL")
	cmd.Flags().IntSliceP("top-k", "k", nil, "accuracy cut-offs, e.g. 1,5,10")
	cmd.Flags().String("aggregate", "", "gallery aggregation: none or mean")
	cmd.Flags().Bool("normalize", false, "L2-normalise embeddings (cosine scores)")
	cmd.Flags().String("backend", "", "scoring backend: exact or qdrant")
	cmd.Flags().String("qdrant", "", "Qdrant URL (overrides config)")
	cmd.Flags().String("results", "", "report store: memory, file or redis")
	cmd.Flags().String("metrics-out", "", "write Prometheus metrics to this file when done")
}

// applyFlags copies explicitly set flags over the loaded config.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if f.Changed(name) {
			*dst, _ = f.GetInt(name)
		}
	}
	seed := func(name string, dst *int64) {
		if f.Changed(name) {
			*dst, _ = f.GetInt64(name)
		}
	}

	str("data", &cfg.Dataset.Path)
	str("label-key", &cfg.Dataset.LabelKey)
	str("item-key", &cfg.Dataset.ItemKey)
	num("folds", &cfg.Split.NumFolds)
	num("fold", &cfg.Split.ValFold)
	seed("fold-seed", &cfg.Split.KFoldSeed)
	num("n-refs", &cfg.Split.NRefs)
	seed("ref-seed", &cfg.Split.RandRefSeed)
	str("degenerate", &cfg.Split.DegeneratePolicy)

	if f.Changed("embeddings") {
		cfg.Embed.TablePath, _ = f.GetString("embeddings")
		cfg.Embed.Source = "table"
	}
	if f.Changed("embed-url") {
		cfg.Embed.URL, _ = f.GetString("embed-url")
		cfg.Embed.Source = "remote"
	}
	if f.Changed("top-k") {
		cfg.Eval.Ks, _ = f.GetIntSlice("top-k")
	}
	str("aggregate", &cfg.Eval.Aggregate)
	if f.Changed("normalize") {
		cfg.Eval.Normalize, _ = f.GetBool("normalize")
	}
	str("backend", &cfg.Eval.Backend)
	str("qdrant", &cfg.Qdrant.URL)
	str("results", &cfg.Results.Type)
	num("concurrency", &cfg.Eval.FoldConcurrency)

	if cfg.Dataset.Path == "" {
		return fmt.Errorf("no record table: set --data or dataset.path")
	}
	return nil
}

// readTable loads the record table and checks it has the label and item
// columns.
func (e *env) readTable() (*dataset.Table, error) {
	table, err := dataset.ReadCSVFile(e.cfg.Dataset.Path)
	if err != nil {
		return nil, err
	}
	if err := table.RequireColumns(e.cfg.Dataset.LabelKey, e.cfg.Dataset.ItemKey); err != nil {
		return nil, err
	}
	e.log.Debug("Loaded record table",
		"path", e.cfg.Dataset.Path,
		"records", len(table.Records),
		"columns", len(table.Header),
	)
	return table, nil
}

func (e *env) writeJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
