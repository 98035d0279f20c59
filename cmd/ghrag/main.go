package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github-rag-pipeline/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ghrag",
		Short:         "GitHub repository ingestion and question-answering service",
		Long:          "ghrag fetches GitHub repository and commit metadata, indexes it into Elasticsearch, and answers natural-language questions about the indexed data.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newPipelineCmd())
	root.AddCommand(newServeCmd())
	return root
}

// setupLogging installs the JSON logger at the configured level and
// returns it.
func setupLogging(level string) *slog.Logger {
	logLevel := new(slog.LevelVar)
	switch level {
	case "debug":
		logLevel.Set(slog.LevelDebug)
	case "warn":
		logLevel.Set(slog.LevelWarn)
	case "error":
		logLevel.Set(slog.LevelError)
	default:
		logLevel.Set(slog.LevelInfo)
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := setupLogging(cfg.LogLevel)
	logger.Info("Configuration loaded successfully")
	return cfg, logger, nil
}
