package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"indexator/internal/api"
	"indexator/internal/config"
	"indexator/internal/database"
	"indexator/internal/domain"
	"indexator/internal/export"
	"indexator/internal/logging"
	"indexator/internal/metrics"
	"indexator/internal/queue"
	"indexator/internal/quota"
	"indexator/internal/rebalance"
	"indexator/internal/repository"
	"indexator/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	db, err := initDatabase(cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	snapshots := initSnapshotCache(cfg, redisClient, &logger)
	aggregator := quota.NewAggregator(db, &logger)

	siteIDs := cfg.SiteIDs()
	poller := quota.NewPoller(aggregator, snapshots, siteIDs,
		time.Duration(cfg.Quota.PollIntervalSeconds)*time.Second, &logger)
	go poller.Start(ctx)

	refresher := worker.NewStatsRefresher(db, siteIDs,
		time.Duration(cfg.Queue.RefreshFastSeconds)*time.Second,
		time.Duration(cfg.Queue.RefreshSlowSeconds)*time.Second, &logger)
	go refresher.Start(ctx)

	retry := worker.RetryPolicy{
		MaxAttempts:   cfg.Queue.MaxAttempts,
		InitialDelay:  time.Duration(cfg.Queue.RetryInitialSeconds) * time.Second,
		MaxDelay:      time.Duration(cfg.Queue.RetryMaxSeconds) * time.Second,
		BackoffFactor: 2,
	}
	queueService := queue.NewService(db, aggregator, snapshots, retry,
		cfg.Queue.MaxAttempts, cfg.Queue.FailureThreshold, &logger)

	balancer := rebalance.NewCoordinator(db, aggregator, cfg.Queue.FailureThreshold, &logger)
	exporter := export.NewExporter(db, cfg.Exports.Path)

	httpServer := api.NewHTTPServer(cfg.API, queueService, balancer, exporter, &logger)

	startMetrics(ctx, cfg, &logger)

	return startServer(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("create database directory")
		return err
	}
	if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
		logger.Error().Err(err).Msg("create exports directory")
		return err
	}
	return nil
}

func initDatabase(cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	db.SetIntegrations(cfg.Integrations)
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing with memory cache")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}
	return redisClient
}

func initSnapshotCache(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.SnapshotRepository {
	ttl := time.Duration(cfg.Quota.SnapshotTTLSeconds) * time.Second
	fallback := repository.NewMemorySnapshotRepository(ttl)
	if redisClient == nil {
		return fallback
	}
	primary := repository.NewRedisSnapshotRepository(redisClient, ttl)
	return repository.NewFailoverSnapshotRepository(primary, fallback, logger)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServer(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
