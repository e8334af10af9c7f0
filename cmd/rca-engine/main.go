package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miradorstack/incident-rca/internal/api"
	"github.com/miradorstack/incident-rca/internal/cache"
	"github.com/miradorstack/incident-rca/internal/config"
	"github.com/miradorstack/incident-rca/internal/engine"
	"github.com/miradorstack/incident-rca/internal/metrics"
	"github.com/miradorstack/incident-rca/internal/oracle"
	"github.com/miradorstack/incident-rca/internal/repo"
	"github.com/miradorstack/incident-rca/internal/services"
	"github.com/miradorstack/incident-rca/internal/tracing"
	"github.com/miradorstack/incident-rca/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting incident-rca", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.NewProvider(ctx, cfg.TracingConfig(), logger)
	if err != nil {
		logger.Error("failed to initialise tracing", slog.Any("error", err))
		os.Exit(1)
	}

	cacheProvider := buildCache(ctx, cfg, logger)
	defer cacheProvider.Close()

	ruleEngine, err := engine.NewRuleEngine(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}

	var reasoner oracle.Oracle
	if cfg.Oracle.Enabled {
		reasoner = oracle.NewBounded(oracle.NewAnthropicOracle(cfg.AnthropicConfig()), cfg.BoundedOracleOptions(), logger)
		logger.Info("reasoning oracle enabled", slog.String("provider", cfg.Oracle.Provider))
	}

	deps := engine.Dependencies{
		Timeline:    engine.NewTimelineBuilder(cfg.TimelineOptions(), logger),
		Hypotheses:  engine.NewHypothesisGenerator(ruleEngine, reasoner, cfg.HypothesisOptions(), logger),
		Calibrator:  engine.NewCalibrator(cfg.CalibrationOptions(), logger),
		Graph:       engine.NewCausalGraphBuilder(cfg.Graph.Relevance, logger),
		Recommender: ruleEngine,
	}

	var store engine.FingerprintStore
	if cfg.Store.Endpoint != "" {
		weaviateRepo := repo.NewWeaviateRepo(cfg.WeaviateConfig(), cacheProvider, logger)
		store = weaviateRepo
		if cfg.Similarity.PersistAnalyses {
			deps.Writer = weaviateRepo
		}
	} else {
		logger.Warn("fingerprint store not configured; similarity results will be degraded")
	}
	deps.Similarity = engine.NewSimilarityMatcher(store, cfg.SimilarityOptions(), logger)

	if cfg.Narrative.BaseURL != "" {
		deps.Recommender = repo.NewNarrativeClient(cfg.Narrative.BaseURL, cfg.Narrative.RecommendPath, cfg.Narrative.Timeout, logger)
	}

	pipeline := engine.NewPipeline(logger, deps)
	rcaService := services.NewRCAService(logger, pipeline, cfg.Server.AnalyzeTimeout)

	server, err := api.NewServer(cfg.Server, rcaService)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	var httpServer *http.Server
	if cfg.Server.HTTPAddress != "" {
		httpServer = &http.Server{
			Addr:         cfg.Server.HTTPAddress,
			Handler:      api.NewGateway(rcaService, prometheus.DefaultGatherer, logger),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: cfg.Server.AnalyzeTimeout + 5*time.Second,
		}
		go func() {
			logger.Info("http gateway listening", slog.String("address", cfg.Server.HTTPAddress))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http gateway exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("gRPC server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http gateway shutdown", slog.Any("error", err))
		}
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", slog.Any("error", err))
	}

	logger.Info("incident-rca stopped")
}

// buildCache prefers Valkey when enabled and reachable, otherwise an in-process LRU.
func buildCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) cache.Provider {
	if cfg.Cache.Enabled {
		provider, err := cache.NewValkeyProvider(ctx, cfg.ValkeyConfig())
		if err == nil {
			logger.Info("valkey cache enabled", slog.String("addr", cfg.Cache.Addr))
			return provider
		}
		logger.Warn("valkey cache unavailable, falling back to local cache", slog.Any("error", err))
	}
	if cfg.Cache.LocalSize <= 0 {
		return cache.NoopProvider{}
	}
	provider, err := cache.NewLRUProvider(cfg.Cache.LocalSize, cfg.Cache.FingerprintTTL)
	if err != nil {
		logger.Warn("local cache unavailable", slog.Any("error", err))
		return cache.NoopProvider{}
	}
	return provider
}
