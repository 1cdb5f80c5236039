// Command linearyd is the lineary service entrypoint: it loads config, opens
// the durable store, wires the Continuous Sprint Executor, Webhook Receiver,
// LLM Review Worker pool, AI Feedback Loop, and Learning Insights Aggregator
// onto an HTTP server, and runs until signaled. When -temporal-host-port is
// set, an additional review worker runs as a durable Temporal workflow.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron"

	"github.com/48Nauts-Operator/lineary/internal/api"
	"github.com/48Nauts-Operator/lineary/internal/codehost"
	"github.com/48Nauts-Operator/lineary/internal/config"
	"github.com/48Nauts-Operator/lineary/internal/executor"
	"github.com/48Nauts-Operator/lineary/internal/feedback"
	"github.com/48Nauts-Operator/lineary/internal/insights"
	"github.com/48Nauts-Operator/lineary/internal/llm"
	"github.com/48Nauts-Operator/lineary/internal/review"
	"github.com/48Nauts-Operator/lineary/internal/store"
	"github.com/48Nauts-Operator/lineary/internal/temporal"
	"github.com/48Nauts-Operator/lineary/internal/webhook"
)

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	configPath := flag.String("config", "lineary.toml", "path to config file")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	reviewWorkers := flag.Int("review-workers", 2, "number of concurrent LLM review workers")
	appJWT := flag.String("github-app-jwt", "", "pre-signed RS256 assertion authenticating the GitHub App")
	temporalHostPort := flag.String("temporal-host-port", "", "Temporal server address; when set, an extra review worker runs as a durable Temporal workflow")
	flag.Parse()

	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	bootLogger.Info("lineary starting", "config", *configPath)

	cfgManager, err := config.LoadManager(*configPath)
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := configureLogger(cfg.LogLevel, *dev)
	slog.SetDefault(logger)

	st, err := store.Open(cfg.Database.Path, logger.With("component", "store"))
	if err != nil {
		logger.Error("failed to open store", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	var codehostClient codehost.Client
	if strings.TrimSpace(*appJWT) == "" {
		logger.Warn("no github app jwt provided, using fake code-host client")
		codehostClient = codehost.NewFakeClient()
	} else {
		codehostClient, err = codehost.NewGitHubClient(cfg.Codehost.BaseURL, *appJWT, cfg.Codehost.RateLimitPerSecond, cfg.Codehost.RateLimitBurst, cfg.Codehost.Timeout.Duration)
		if err != nil {
			logger.Error("failed to create github client", "error", err)
			os.Exit(1)
		}
	}

	llmClient := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout.Duration)

	feedbackLoop := &feedback.Loop{
		Store:        st,
		HistoryLimit: cfg.Feedback.HistoryLimit,
		WeightFloor:  cfg.Feedback.WeightFloor,
	}

	exec := &executor.Executor{
		Store:       st,
		Feedback:    feedbackLoop,
		CallbackURL: "/continuous/sprint/%s/task/%s/complete",
	}

	insightsAggregator := &insights.Aggregator{Store: st}

	webhookReceiver := &webhook.Receiver{
		Host:          "github",
		Secrets:       cfg.Webhook.Secrets,
		MaxBodyBytes:  cfg.Webhook.MaxBodyBytes,
		DedupWindow:   cfg.Webhook.DedupWindow.Duration,
		MentionPrefix: cfg.Webhook.MentionPrefix,
		Store:         st,
		Logger:        logger.With("component", "webhook"),
	}

	reviewCfg := review.DefaultConfig()
	reviewCfg.AllowedExtensions = cfg.Codehost.AllowedExtensions
	reviewCfg.MaxChangedFiles = cfg.Codehost.MaxChangedFiles
	reviewCfg.MaxChangedLines = cfg.Codehost.MaxChangedLines
	reviewCfg.MaxFileContentChars = cfg.Codehost.MaxFileContentChars
	reviewCfg.Temperature = cfg.LLM.Temperature
	reviewCfg.MaxCompletionTokens = cfg.LLM.MaxTokens
	reviewCfg.WorkItemMarker = cfg.Webhook.WorkItemMarker
	reviewCfg.MaxAttempts = cfg.Retry.MaxAttempts
	reviewCfg.BaseDelay = cfg.Retry.BaseDelay.Duration
	reviewCfg.MaxDelay = cfg.Retry.MaxDelay.Duration
	reviewCfg.BackoffFactor = cfg.Retry.BackoffFactor

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < *reviewWorkers; i++ {
		workerID := workerName(i)
		worker, err := review.NewWorker(workerID, st, codehostClient, llmClient, reviewCfg, logger.With("component", "review", "worker", workerID))
		if err != nil {
			logger.Error("failed to construct review worker", "worker", workerID, "error", err)
			os.Exit(1)
		}
		go runReviewWorker(ctx, worker, logger)
	}

	if strings.TrimSpace(*temporalHostPort) != "" {
		temporalWorker, err := review.NewWorker("review-worker-temporal", st, codehostClient, llmClient, reviewCfg, logger.With("component", "review", "worker", "temporal"))
		if err != nil {
			logger.Error("failed to construct temporal-backed review worker", "error", err)
			os.Exit(1)
		}
		go func() {
			logger.Info("starting temporal review worker", "host_port", *temporalHostPort)
			if err := temporal.StartWorker(*temporalHostPort, "lineary-review-task-queue", temporalWorker); err != nil {
				logger.Error("temporal worker stopped", "error", err)
			}
		}()
	}

	sweeper := cron.New()
	sweeper.AddFunc("@every 1m", func() {
		if n, err := st.SweepExpiredSuppressions(); err != nil {
			logger.Error("sweeping webhook suppressions failed", "error", err)
		} else if n > 0 {
			logger.Info("swept expired webhook suppressions", "count", n)
		}
	})
	sweeper.AddFunc("@every 5m", func() {
		if n, err := st.ReleaseStuckReviewJobs(10 * time.Minute); err != nil {
			logger.Error("releasing stuck review jobs failed", "error", err)
		} else if n > 0 {
			logger.Info("released stuck review jobs", "count", n)
		}
	})
	sweeper.Start()
	defer sweeper.Stop()

	apiServer := &api.Server{
		Executor: exec,
		Webhooks: map[string]*webhook.Receiver{"github": webhookReceiver},
		Insights: insightsAggregator,
		Feedback: feedbackLoop,
		Store:    st,
		Logger:   logger.With("component", "api"),
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Bind,
		Handler:           apiServer.Routes(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.Duration,
	}

	go func() {
		logger.Info("lineary listening", "bind", cfg.Server.Bind)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received signal, shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	logger.Info("lineary stopped")
}

func workerName(i int) string {
	return fmt.Sprintf("review-worker-%d", i)
}

// runReviewWorker polls ClaimNextReviewJob until ctx is cancelled, sleeping
// briefly between empty polls so idle workers do not spin.
func runReviewWorker(ctx context.Context, w *review.Worker, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed, err := w.ProcessNext(ctx)
		if err != nil {
			logger.Error("review worker failed processing job", "error", err)
		}
		if !processed {
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}
}
