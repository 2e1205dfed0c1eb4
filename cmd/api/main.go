package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/unwarphq/unwarp/internal/api"
	"github.com/unwarphq/unwarp/internal/config"
	"github.com/unwarphq/unwarp/internal/preview"
	"github.com/unwarphq/unwarp/internal/queue"
	"github.com/unwarphq/unwarp/internal/ratelimit"
	"github.com/unwarphq/unwarp/internal/storage"
	"github.com/unwarphq/unwarp/internal/store"
	"github.com/unwarphq/unwarp/internal/telemetry"
)

const serviceVersion = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:    "unwarp-api",
		ServiceVersion: serviceVersion,
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := preview.Startup(logger); err != nil {
		logger.Fatalf("preview runtime startup failed: %v", err)
	}
	defer preview.Shutdown()

	blobs, err := newObjectStorage(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("object storage setup failed: %v", err)
	}

	records, closeRecords, err := newRecordStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatalf("record store setup failed: %v", err)
	}
	defer closeRecords()

	opts := api.Options{
		Logger:  logger,
		Records: records,
		Storage: blobs,
		Version: serviceVersion,
		API:     cfg.API,
		Preview: cfg.Preview,
	}

	if cfg.API.InlineProcessing {
		logger.Printf("inline processing enabled; requests are rectified in-request")
	} else {
		queueClient := queue.NewClient(cfg.Redis.AsynqOpt(), cfg.Queue.Name, cfg.Queue.MaxRetry, cfg.Queue.TaskTimeout.Std())
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.Printf("queue client close error: %v", err)
			}
		}()
		opts.Queue = queueClient
	}

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(cfg.Redis.Options())
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window.Std(), cfg.RateLimit.KeyPrefix)
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		opts.RateLimiter = limiter
		logger.Printf("rate limiting enabled capacity=%d window=%s", cfg.RateLimit.Capacity, cfg.RateLimit.Window.Std())
	}

	app, err := api.NewServer(opts)
	if err != nil {
		logger.Fatalf("server setup failed: %v", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func newObjectStorage(ctx context.Context, cfg config.StorageConfig, logger *log.Logger) (api.ObjectStorage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "minio":
		client, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Endpoint,
			Access:   cfg.AccessKey,
			Secret:   cfg.SecretKey,
			Bucket:   cfg.Bucket,
			UseSSL:   cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		logger.Printf("object storage backend=minio endpoint=%s bucket=%s", cfg.Endpoint, cfg.Bucket)
		return client, nil
	case "memory":
		logger.Printf("object storage backend=memory; objects do not survive restarts")
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newRecordStore(ctx context.Context, cfg config.DatabaseConfig, logger *log.Logger) (store.RecordStore, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "postgres":
		pg, err := store.NewPostgresRecordStore(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Printf("record store backend=postgres")
		return pg, func() {
			if err := pg.Close(); err != nil {
				logger.Printf("record store close error: %v", err)
			}
		}, nil
	case "memory":
		logger.Printf("record store backend=memory; records do not survive restarts")
		return store.NewMemoryRecordStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown database backend %q", cfg.Backend)
	}
}
