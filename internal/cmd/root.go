// Package cmd wires the dispatch CLI.
package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/dispatch/internal/config"
	"github.com/felixgeelhaar/dispatch/internal/log"
	"github.com/felixgeelhaar/dispatch/internal/metrics"
)

var (
	configPath  string
	logLevel    string
	logFormat   string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Delegate code-modification tasks to external AI backends",
	Long: `dispatch hands code-modification tasks to external code-generation CLIs
(claude, aider, or any compatible tool), either one at a time or as
multi-step plans. It enforces per-backend rate fairness with queuing,
retries transient failures with exponential backoff, and threads session
context through sequential plan steps.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg := log.Config{
			Level:       log.ParseLevel(logLevel),
			Format:      log.ParseFormat(logFormat),
			Output:      log.OutputStderr(),
			ServiceName: "dispatch",
		}
		log.SetDefaultLogger(log.New(cfg))

		if metricsAddr != "" {
			serveMetrics(metricsAddr)
		}
	},
}

// serveMetrics exposes the Prometheus endpoint for the lifetime of the
// process. Long plan runs are the intended consumer.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.DefaultLogger().Warn("metrics endpoint stopped",
				"addr", addr,
				"error", err.Error())
		}
	}()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command under a signal-aware context.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// loadConfig resolves the engine config for a command invocation. A path
// given via --config must exist; the default path may be absent.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadOrDefault(config.DefaultPath)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "engine config file (default "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOr("DISPATCH_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", envOr("DISPATCH_LOG_FORMAT", "text"), "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", envOr("DISPATCH_METRICS_ADDR", ""), "serve Prometheus metrics on this address (e.g. :9090)")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
