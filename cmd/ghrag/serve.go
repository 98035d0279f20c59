package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github-rag-pipeline/internal/api"
	"github-rag-pipeline/internal/llm"
	"github-rag-pipeline/internal/rag"
	"github-rag-pipeline/internal/search"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the question-answering HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: HTTP_ADDR config)")
	return cmd
}

func runServe(addr string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.RequireGroqAPIKey(); err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.HTTPAddr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	esClient, err := search.NewClient(search.Config{
		Host:     cfg.ESHost,
		Username: cfg.ESUsername,
		Password: cfg.ESPassword,
		APIKey:   cfg.ESAPIKey,
		Index:    cfg.ESIndex,
	}, logger)
	if err != nil {
		return err
	}
	if err := esClient.Ping(ctx); err != nil {
		return err
	}
	logger.Info("Connected to search engine", "host", cfg.ESHost, "index", cfg.ESIndex)

	model, err := llm.NewGroqModel(cfg.GroqAPIKey, cfg.GroqModel)
	if err != nil {
		return fmt.Errorf("creating LLM client: %w", err)
	}
	queries, err := llm.NewQueryGenerator(model, logger)
	if err != nil {
		return err
	}
	answers, err := llm.NewAnswerGenerator(model, logger)
	if err != nil {
		return err
	}

	pipeline := rag.New(esClient, queries, answers, logger)
	server := &http.Server{
		Addr:    addr,
		Handler: api.NewRouter(pipeline, esClient, logger),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}
	return nil
}
