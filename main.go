package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"docconvert/api"
	"docconvert/config"
	"docconvert/converter"
	"docconvert/jobs"
	"docconvert/limiter"
	"docconvert/metrics"
	"docconvert/services"
	"docconvert/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	logger.Info("Starting document conversion service...")

	db, err := services.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	store := services.NewPostgresJobStore(db)
	if err := store.EnsureSchema(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to prepare documents table")
	}
	logger.Info("Connected to database successfully")

	var redisClient *redis.Client
	if cfg.StatusCacheEnabled || cfg.QueueDriver == config.QueueDriverRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		logger.Info("Connected to Redis successfully")
	}

	artifacts, err := newArtifactStore(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize artifact store")
	}

	broker, err := newBroker(cfg, redisClient, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize queue")
	}

	var cache services.StatusCache = services.NoopStatusCache{}
	if cfg.StatusCacheEnabled {
		cache = services.NewRedisStatusCache(redisClient, cfg.RedisPrefix, cfg.StatusCacheTTL, logger)
	}
	rec := metrics.NewRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	var server *http.Server
	if cfg.RunAPI {
		svc := jobs.NewService(store, artifacts, broker, cache, logger)
		lim := limiter.New(cfg.RateLimitCapacity, cfg.RateLimitRefillTokens, cfg.RateLimitRefillInterval)

		router := gin.New()
		router.Use(gin.Recovery(), api.RequestLogger(logger))
		api.NewAPI(svc, lim, rec, api.Options{
			MaxUploadBytes: cfg.MaxUploadBytes,
			TrustForwarded: cfg.RateLimitTrustForwarded,
		}, logger).SetupRoutes(router)

		server = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Fatal("HTTP server failed")
			}
		}()
		logger.WithField("addr", cfg.HTTPAddr).Info("API listening")
	}

	var scheduler *worker.Scheduler
	if cfg.RunWorker {
		gotenberg := services.NewGotenbergService(cfg.GotenbergURL, cfg.GotenbergPDFA)
		registry := converter.DefaultRegistry(cfg, artifacts, services.ExecRunner{}, gotenberg)
		processor := worker.NewProcessor(store, registry, cache, rec, cfg.ConversionTimeout, logger)
		pool := worker.NewPool(broker, processor, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pool.Run(ctx); err != nil {
				logger.WithError(err).Error("Worker pool stopped")
			}
		}()

		scheduler = worker.NewScheduler(logger)
		if err := scheduler.AddRecovery(cfg.RecoverySchedule, broker); err != nil {
			logger.WithError(err).Fatal("Invalid RECOVERY_SCHEDULE")
		}
		if err := scheduler.AddMetricsReport("@every 1m", rec); err != nil {
			logger.WithError(err).Fatal("Failed to schedule metrics report")
		}
		scheduler.Start()

		logger.WithFields(logrus.Fields{
			"workers":   cfg.WorkerCount,
			"queue":     cfg.QueueDriver,
			"gotenberg": cfg.GotenbergURL,
			"pairs":     len(registry.Pairs()),
		}).Info("Service is ready to process conversions")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, stopping...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("HTTP server shutdown incomplete")
		}
	}
	cancel()
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}

	// Wait for in-flight conversions to finish with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("All workers stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout, forcing exit")
	}

	if err := broker.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close queue")
	}
	if redisClient != nil {
		redisClient.Close()
	}
	store.Close()
	logger.Info("Conversion service stopped")
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

func newArtifactStore(cfg *config.Config) (services.ArtifactStore, error) {
	if cfg.StorageDriver == config.StorageDriverS3 {
		return services.NewS3ArtifactStore(cfg)
	}
	return services.NewDiskArtifactStore(cfg.StorageLocation)
}

func newBroker(cfg *config.Config, redisClient *redis.Client, logger logrus.FieldLogger) (services.Broker, error) {
	if cfg.QueueDriver == config.QueueDriverRedis {
		return services.NewRedisQueue(redisClient, cfg, logger), nil
	}
	return services.NewRabbitMQBroker(
		cfg.RabbitMQURL,
		services.TopologyFromConfig(cfg),
		cfg.WorkerCount,
		cfg.PublishTimeout,
		logger,
	)
}
