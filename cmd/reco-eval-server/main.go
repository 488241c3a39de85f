// Package main provides the reco-eval HTTP server binary.
// The server scores precomputed score matrices and serves stored reports.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/recoeval/reco-eval/internal/config"
	"github.com/recoeval/reco-eval/internal/pkg/logger"
	"github.com/recoeval/reco-eval/internal/pkg/security"
	"github.com/recoeval/reco-eval/internal/server"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "reco-eval-server",
		Short: "reco-eval server - HTTP evaluation service",
		Long: `reco-eval-server exposes retrieval scoring over HTTP.

Endpoints:
  POST /v1/evaluation/score          score a query x gallery matrix
  POST /v1/evaluation/top-all        accuracy of candidate label lists
  GET  /v1/evaluation/reports        list stored reports
  GET  /v1/evaluation/reports/{id}   fetch one report
  GET  /metrics                      Prometheus metrics
  GET  /healthz                      health of the server and its stores

Examples:
  reco-eval-server                          # Start with defaults
  reco-eval-server --port 9000              # Custom port
  reco-eval-server -c reco.yaml --rate-limit 20`,
		RunE:         runServer,
		SilenceUsage: true,
	}

	rootCmd.Flags().StringP("config", "c", "", "config file path")
	rootCmd.Flags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.Flags().String("host", "0.0.0.0", "server host")
	rootCmd.Flags().Int("port", 8090, "HTTP server port")
	rootCmd.Flags().Int("rate-limit", 0, "requests per second per client (0 disables)")
	rootCmd.Flags().String("results", "", "report store: memory, file or redis")
	rootCmd.Flags().String("qdrant", "", "Qdrant URL (overrides config)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("reco-eval-server %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override from flags
	if cmd.Flags().Changed("host") {
		appCfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		appCfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("rate-limit") {
		appCfg.Server.RateLimit, _ = cmd.Flags().GetInt("rate-limit")
	}
	if cmd.Flags().Changed("results") {
		appCfg.Results.Type, _ = cmd.Flags().GetString("results")
	}
	if cmd.Flags().Changed("qdrant") {
		appCfg.Qdrant.URL, _ = cmd.Flags().GetString("qdrant")
	}
	if err := appCfg.Validate(); err != nil {
		return err
	}

	logLevel := appCfg.Log.Level
	if verbose {
		logLevel = "debug"
	}
	log := logger.New(logLevel, appCfg.Log.Format)

	log.Info("Starting reco-eval server",
		"version", version,
		"addr", appCfg.Address(),
		"results", appCfg.Results.Type,
		"bus", appCfg.Bus.Type,
	)
	if appCfg.Results.Type == "redis" {
		log.Info("Using redis report store", "url", security.MaskURL(appCfg.Results.RedisURL))
	}

	srv, err := server.New(server.ConfigFrom(appCfg, version), appCfg, log)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server error", "error", err)
		}
		_ = srv.Stop(context.Background())
		return err
	case sig := <-sigCh:
		log.Info("Shutdown signal received", "signal", sig.String())
	}

	return srv.Stop(context.Background())
}
