package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/unwarphq/unwarp/internal/config"
	"github.com/unwarphq/unwarp/internal/domain"
	"github.com/unwarphq/unwarp/internal/queue"
	"github.com/unwarphq/unwarp/internal/rectify"
	"github.com/unwarphq/unwarp/internal/store"
	"github.com/unwarphq/unwarp/internal/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	storage       objectStorage
	webhookClient webhookSender
	records       store.RecordStore
	metrics       *metrics
	tracer        trace.Tracer
}

type objectStorage interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger *log.Logger,
	redisCfg config.RedisConfig,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	storage objectStorage,
	webhookClient webhookSender,
	records store.RecordStore,
) (*Server, error) {
	if storage == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if records == nil {
		return nil, fmt.Errorf("record store is required")
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			redisCfg.AsynqOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		storage:       storage,
		webhookClient: webhookClient,
		records:       records,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("unwarp/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessImage, s.handleProcessImage)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleProcessImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.ImageStatusFailed

	payload, err := queue.ParseProcessImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.process_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("image.id", payload.ImageID),
		attribute.String("image.original_key", payload.OriginalKey),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf("Working... image_id=%s original_key=%s", payload.ImageID, payload.OriginalKey)

	s.updateStatus(ctx, payload.ImageID, domain.ImageStatusProcessing)

	original, err := s.storage.ReadObject(ctx, payload.OriginalKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read original failed")
		return fmt.Errorf("read original %s: %w", payload.OriginalKey, err)
	}

	output, err := rectify.Process(ctx, original, payload.CornerPoints)
	if err != nil {
		if rejectedInput(err) {
			s.failImage(ctx, payload, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "input rejected")
			return fmt.Errorf("rectify image: %v: %w", err, asynq.SkipRetry)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "rectification failed")
		return fmt.Errorf("rectify image: %w", err)
	}

	processedKey := fmt.Sprintf("processed/%s.png", payload.ImageID)
	if err := s.storage.WriteObject(ctx, processedKey, output, "image/png"); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write processed failed")
		return fmt.Errorf("write processed object: %w", err)
	}

	elapsed := time.Since(startedAt)
	processingMS := elapsed.Milliseconds()
	if processingMS < 1 {
		processingMS = 1
	}

	record, err := s.records.MarkProcessed(ctx, payload.ImageID, store.ProcessedResult{
		ProcessedKey: processedKey,
		CornerPoints: payload.CornerPoints,
		ProcessingMS: processingMS,
		ProcessedAt:  time.Now().UTC(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark processed failed")
		return fmt.Errorf("mark processed: %w", err)
	}

	s.logger.Printf("Processed image_id=%s output_bytes=%d elapsed_ms=%d", payload.ImageID, len(output), processingMS)
	s.recordUsage(payload.ImageID, output, processingMS)

	if err := s.dispatchWebhook(ctx, payload, webhook.EventImageProcessed, map[string]any{
		"image_id":      record.ID,
		"status":        record.Status,
		"processed_key": record.ProcessedKey,
		"processing_ms": record.ProcessingMS,
		"requested_at":  payload.RequestedAt,
		"processed_at":  record.ProcessedAt,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = domain.ImageStatusSucceeded
	span.SetStatus(codes.Ok, "processed")
	return nil
}

// rejectedInput reports whether the pipeline refused the job's input. Those
// failures are deterministic, so retrying the task cannot help.
func rejectedInput(err error) bool {
	return errors.Is(err, rectify.ErrDecode) ||
		errors.Is(err, rectify.ErrInvalidCorners) ||
		errors.Is(err, rectify.ErrDegenerateGeometry)
}

func (s *Server) failImage(ctx context.Context, payload queue.ProcessImagePayload, cause error) {
	s.updateStatus(ctx, payload.ImageID, domain.ImageStatusFailed)
	// Failure notification is best effort; the task is skipped either way.
	_ = s.dispatchWebhook(ctx, payload, webhook.EventImageFailed, map[string]any{
		"image_id":     payload.ImageID,
		"status":       domain.ImageStatusFailed,
		"requested_at": payload.RequestedAt,
		"failed_at":    time.Now().UTC(),
		"error":        cause.Error(),
	})
}

func (s *Server) updateStatus(ctx context.Context, imageID, status string) {
	if _, err := s.records.UpdateStatus(ctx, imageID, status); err != nil {
		s.logger.Printf("status update failed image_id=%s status=%s err=%v", imageID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ProcessImagePayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed image_id=%s event=%s err=%v", payload.ImageID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordUsage(imageID string, output []byte, computeTimeMS int64) {
	cfg, err := png.DecodeConfig(bytes.NewReader(output))
	if err != nil {
		s.logger.Printf("usage decode failed image_id=%s err=%v", imageID, err)
		return
	}

	usage := domain.ProcessingUsage{
		ImageID:         imageID,
		PixelsProcessed: int64(cfg.Width) * int64(cfg.Height),
		OutputBytes:     int64(len(output)),
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}

	s.logger.Printf(
		"usage image_id=%s pixels=%d output_bytes=%d compute_ms=%d",
		usage.ImageID,
		usage.PixelsProcessed,
		usage.OutputBytes,
		usage.ComputeTimeMS,
	)
	s.metrics.pixelsProcessedTotal.Add(float64(usage.PixelsProcessed))
	s.metrics.outputBytesTotal.Add(float64(usage.OutputBytes))
}
