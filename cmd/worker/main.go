package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/unwarphq/unwarp/internal/config"
	"github.com/unwarphq/unwarp/internal/storage"
	"github.com/unwarphq/unwarp/internal/store"
	"github.com/unwarphq/unwarp/internal/telemetry"
	"github.com/unwarphq/unwarp/internal/webhook"
	"github.com/unwarphq/unwarp/internal/worker"
)

const serviceVersion = "0.3.0"

type blobStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:    "unwarp-worker",
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

	blobs, err := newObjectStorage(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("object storage setup failed: %v", err)
	}

	records, closeRecords, err := newRecordStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatalf("record store setup failed: %v", err)
	}
	defer closeRecords()

	hooks := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout.Std(),
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff.Std(),
		MaxBackoff:     cfg.Webhook.MaxBackoff.Std(),
	})

	srv, err := worker.NewServer(logger, cfg.Redis, cfg.Queue, cfg.Worker, blobs, hooks, records)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", srv.MetricsHandler())
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := http.ListenAndServe(cfg.Worker.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Redis.Addr,
	)
	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}

func newObjectStorage(ctx context.Context, cfg config.StorageConfig, logger *log.Logger) (blobStore, error) {
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
