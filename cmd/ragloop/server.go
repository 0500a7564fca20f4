package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/ragloop/internal/api"
	"github.com/kalambet/ragloop/internal/config"
	"github.com/kalambet/ragloop/internal/generate"
	"github.com/kalambet/ragloop/internal/ingest"
	"github.com/kalambet/ragloop/internal/ollama"
	"github.com/kalambet/ragloop/internal/optimize"
	"github.com/kalambet/ragloop/internal/pipeline"
	"github.com/kalambet/ragloop/internal/policy"
	"github.com/kalambet/ragloop/internal/retrieval"
	"github.com/kalambet/ragloop/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ragloop server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "ragloop version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check backend readiness.
	client := ollama.New(cfg.Ollama.BaseURL)
	if !client.IsRunning(ctx) {
		return fmt.Errorf("ollama is not reachable at %s", cfg.Ollama.BaseURL)
	}
	for _, model := range []string{cfg.Ollama.ChatModel, cfg.Ollama.EmbedModel} {
		if !client.HasModel(ctx, model) {
			printWarning("model %s not found, pull it with: ollama pull %s", model, model)
		}
	}

	// Open storage with the configured counter timezone.
	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("resolving timezone %q: %w", cfg.Storage.Timezone, err)
	}
	store, err := storage.Open(cfg.Storage.DataDir, storage.WithTimezone(loc))
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	}()

	// Retrieval stack.
	embedder := retrieval.NewEmbedder(client, cfg.Ollama.EmbedModel)
	index := retrieval.NewSQLiteIndex(store.DB())
	retriever := retrieval.NewRetriever(embedder, index)

	// Pick the serving policy once. It stays fixed for the process
	// lifetime; new artifacts are picked up on restart.
	down, err := store.TodayThumbsDown()
	if err != nil {
		return fmt.Errorf("reading thumbs-down counter: %w", err)
	}
	sel, err := policy.Select(down, cfg.Policy.DownThreshold, policy.DefaultCandidates(cfg.Policy.ArtifactDir), policy.Load)
	if err != nil {
		return fmt.Errorf("selecting serving policy: %w", err)
	}
	logger.Info("serving policy selected",
		"policy", sel.Optimizer, "version", sel.Artifact.Version,
		"thumbs_down_today", down, "threshold", cfg.Policy.DownThreshold)

	generator := generate.New(client, cfg.Ollama.ChatModel, sel.Artifact)
	answerer := pipeline.New(retriever, generator, store, cfg.Retrieval.TopK)
	ingestor := ingest.New(index, embedder, logger)

	// Background optimization.
	var scheduler *optimize.Scheduler
	if cfg.Optimizer.Enabled {
		judge := optimize.NewJudge(client, cfg.Ollama.JudgeModel)
		metric := optimize.HybridMetric(judge, config.Duration(cfg.Optimizer.JudgeDelay, 6*time.Second))
		bootstrap := optimize.NewBootstrap(func(a *policy.Artifact) generate.Generator {
			return generate.New(client, cfg.Ollama.ChatModel, a)
		}, cfg.Optimizer.MaxDemos, logger)

		scheduler = optimize.NewScheduler(store, bootstrap, metric, func() *policy.Artifact {
			return currentStudent(cfg.Policy.ArtifactDir, logger)
		}, optimize.SchedulerConfig{
			Interval:       config.Duration(cfg.Optimizer.Interval, time.Hour),
			MinInterval:    config.Duration(cfg.Optimizer.MinInterval, 24*time.Hour),
			MinNewFeedback: cfg.Optimizer.MinNewFeedback,
			MaxSamples:     cfg.Optimizer.MaxSamples,
			PositiveRatio:  cfg.Optimizer.PositiveRatio,
			ArtifactDir:    cfg.Policy.ArtifactDir,
		}, logger)
		go scheduler.Run(ctx)
	} else {
		logger.Info("optimizer scheduler disabled")
	}

	deps := api.AppDeps{
		QA:         answerer,
		Ledger:     store,
		Ingestor:   ingestor,
		AdminToken: cfg.Server.AdminToken,
		PolicyID:   sel.Optimizer,
	}
	if scheduler != nil {
		deps.Optimizer = scheduler
	}
	handler := api.NewAppHandler(deps)

	// MCP server over stdio.
	mcpSrv := api.NewMCPServer(api.MCPDeps{QA: answerer})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("MCP stdio server error", "error", err)
		}
	}()
	logger.Info("MCP server started (stdio transport)")

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "ragloop listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// currentStudent resolves the policy the next optimization run builds on:
// the best installed artifact if any, else the baseline. Unlike the
// serving snapshot this is re-evaluated on every run.
func currentStudent(artifactDir string, logger *slog.Logger) *policy.Artifact {
	for _, c := range policy.DefaultCandidates(artifactDir) {
		a, err := policy.Load(c.Path)
		if err == nil {
			return a
		}
		if !errors.Is(err, policy.ErrNotFound) {
			logger.Warn("skipping unreadable artifact", "path", c.Path, "error", err)
		}
	}
	return policy.Baseline()
}
