// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"drawing-query/internal/config"
	"drawing-query/internal/domain/ports/adapter"
	aiAdapters "drawing-query/internal/infra/adapters/ai"
	"drawing-query/internal/infra/adapters/reasoning"
	"drawing-query/internal/infra/api"
	"drawing-query/internal/infra/corpus"
	"drawing-query/internal/infra/logging"
	"drawing-query/internal/infra/memstore"
	"drawing-query/internal/infra/metrics"
	"drawing-query/internal/infra/querymem"
	red "drawing-query/internal/infra/redis"
	"drawing-query/internal/infra/sched"
	"drawing-query/internal/infra/scheduler"
	"drawing-query/internal/infra/worker"
	"drawing-query/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, unredacted queries)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Redis (optional) ----
	var (
		indexLocker querymem.IndexLocker
		limiter     aiAdapters.Limiter
	)
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		indexLocker = red.NewLocker(redisClient)
		limiter = red.NewRateLimiter(redisClient)
		logger.Info().Str("url", cfg.Redis.URL).Msg("redis connected")
	} else {
		logger.Info().Msg("redis disabled; single-process index locking only")
	}

	// ---- AI Adapter ----
	ai, err := buildAI(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("ai adapter")
	}
	ai = aiAdapters.NewLimitedAI(ai, cfg.AI.ConcurrentLimit)
	ai = aiAdapters.NewRateLimitedAI(ai, limiter, red.ReasoningKey(cfg.AI.Provider), cfg.Redis.RateLimit, cfg.Redis.RateWindow, logger)
	logger.Info().Str("provider", cfg.AI.Provider).Str("model", cfg.AI.DefaultModel).Msg("AI adapter ready")

	bridge := reasoning.NewBridge(ai, cfg.AI.Provider, cfg.AI.DefaultModel, cfg.AI.PromptTokens, logger)

	// ---- Stores ----
	drawings, err := corpus.NewFSCorpus(cfg.Corpus.Dir)
	if err != nil {
		logger.Fatal().Err(err).Msg("corpus")
	}
	memory, err := querymem.Open(cfg.Cache.Dir, bridge, indexLocker, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("query memory")
	}
	jobs := memstore.NewJobTable()

	// ---- Orchestrator ----
	launcher := worker.NewLauncher(ctx, logger)
	retrier := worker.NewRetrier(worker.RetryPolicy{
		MaxAttempts: cfg.Jobs.MaxAttempts,
		Base:        cfg.Jobs.BackoffBase,
		Cap:         cfg.Jobs.BackoffCap,
	}, aiAdapters.Classify)
	processor := worker.NewQueryJobProcessor(jobs, memory, drawings, bridge, retrier, worker.ProcessorConfig{
		BatchSize:           cfg.Jobs.BatchSize,
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
		SuggestTargets:      cfg.Jobs.SuggestTargets,
	}, logger)
	queryUC := usecase.NewQueryUseCase(jobs, launcher, processor, cfg.Jobs.BatchSize, cfg.Jobs.MessageTail, logger)

	// ---- Job reaper ----
	reaper := scheduler.NewScheduler("job_reaper", cfg.Jobs.ReapInterval, sched.NewJobReaper(jobs, cfg.Jobs.Retention, logger), logger)
	reaper.Start(ctx)

	// ---- HTTP API ----
	auth := api.NewAuthManager(cfg.API.JWTSecret, 24*time.Hour)
	if auth == nil {
		logger.Warn().Msg("api.jwt_secret not set; query API is unauthenticated")
	}
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           api.NewServer(queryUC, auth, logger, cfg.Runtime.Dev).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
	}
	logger.Info().Msg("shutdown requested")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	reaper.Stop()
	cancel()
	if !launcher.Close(cfg.Jobs.ShutdownWait) {
		logger.Warn().Msg("some query jobs did not finish before exit")
	}
}

// buildAI picks the configured provider; the noop provider needs no network.
func buildAI(ctx context.Context, cfg *config.Config) (adapter.AIServiceAdapter, error) {
	byProvider := map[string]adapter.AIServiceAdapter{}
	switch cfg.AI.Provider {
	case aiAdapters.ProviderOpenAI:
		a, err := aiAdapters.NewOpenAIAdapter(cfg.AI.OpenAIKey, cfg.AI.OpenAIBaseURL, cfg.AI.DefaultModel)
		if err != nil {
			return nil, fmt.Errorf("openai adapter: %w", err)
		}
		byProvider[aiAdapters.ProviderOpenAI] = a
	case aiAdapters.ProviderGemini:
		a, err := aiAdapters.NewGeminiAdapter(ctx, cfg.AI.GeminiKey, cfg.AI.DefaultModel, 4096)
		if err != nil {
			return nil, fmt.Errorf("gemini adapter: %w", err)
		}
		byProvider[aiAdapters.ProviderGemini] = a
	default:
		byProvider[aiAdapters.ProviderNoop] = aiAdapters.NewNoopAIAdapter()
	}
	return aiAdapters.NewMultiAIAdapter(cfg.AI.Provider, byProvider, nil), nil
}
