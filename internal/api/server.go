package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/unwarphq/unwarp/internal/config"
	"github.com/unwarphq/unwarp/internal/domain"
	"github.com/unwarphq/unwarp/internal/id"
	"github.com/unwarphq/unwarp/internal/preview"
	"github.com/unwarphq/unwarp/internal/queue"
	"github.com/unwarphq/unwarp/internal/ratelimit"
	"github.com/unwarphq/unwarp/internal/rectify"
	"github.com/unwarphq/unwarp/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type ObjectStorage interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

type QueueEnqueuer interface {
	EnqueueProcessImage(ctx context.Context, payload queue.ProcessImagePayload) (*asynq.TaskInfo, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

type Options struct {
	Logger      *log.Logger
	Records     store.RecordStore
	Storage     ObjectStorage
	Queue       QueueEnqueuer
	Resizer     preview.Resizer
	RateLimiter RateLimiter
	Version     string
	API         config.APIConfig
	Preview     config.PreviewConfig
}

type Server struct {
	logger           *log.Logger
	records          store.RecordStore
	storage          ObjectStorage
	queueClient      QueueEnqueuer
	resizer          preview.Resizer
	rateLimiter      RateLimiter
	metrics          *metrics
	tracer           trace.Tracer
	version          string
	corsOrigin       string
	clientIDHeader   string
	maxUploadBytes   int64
	inlineProcessing bool
	previewCfg       config.PreviewConfig
	mux              *http.ServeMux
}

func NewServer(opts Options) (*Server, error) {
	if opts.Records == nil {
		return nil, errors.New("record store is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("object storage is required")
	}
	if !opts.API.InlineProcessing && opts.Queue == nil {
		return nil, errors.New("queue client is required unless inline processing is enabled")
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)
	}

	resizer := opts.Resizer
	if resizer == nil {
		resizer = preview.New()
	}

	maxUploadBytes := opts.API.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}

	previewCfg := opts.Preview
	if previewCfg.DefaultWidth <= 0 {
		previewCfg.DefaultWidth = 320
	}
	if previewCfg.MinWidth <= 0 {
		previewCfg.MinWidth = 16
	}
	if previewCfg.MaxWidth < previewCfg.MinWidth {
		previewCfg.MaxWidth = 2048
	}

	clientIDHeader := strings.TrimSpace(opts.API.ClientIDHeader)
	if clientIDHeader == "" {
		clientIDHeader = "X-Client-ID"
	}

	version := strings.TrimSpace(opts.Version)
	if version == "" {
		version = "dev"
	}

	s := &Server{
		logger:           logger,
		records:          opts.Records,
		storage:          opts.Storage,
		queueClient:      opts.Queue,
		resizer:          resizer,
		rateLimiter:      opts.RateLimiter,
		metrics:          newMetrics(),
		tracer:           otel.Tracer("unwarp/api"),
		version:          version,
		corsOrigin:       opts.API.CORSOrigin,
		clientIDHeader:   clientIDHeader,
		maxUploadBytes:   maxUploadBytes,
		inlineProcessing: opts.API.InlineProcessing,
		previewCfg:       previewCfg,
		mux:              http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Handler wraps the route mux in the middleware chain, outermost first:
// metrics, tracing, CORS, rate limiting.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withRateLimit(h)
	h = s.withCORS(h)
	h = s.withTracing(h)
	h = s.metrics.withHTTPMetrics(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/{$}", s.handleBanner)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("POST /api/upload-image", s.handleUploadImage)
	s.mux.HandleFunc("POST /api/process-image", s.handleProcessImage)
	s.mux.HandleFunc("GET /api/images/{id}/original", s.handleOriginal)
	s.mux.HandleFunc("GET /api/images/{id}/processed", s.handleProcessed)
	s.mux.HandleFunc("GET /api/images/{id}/download", s.handleDownload)
	s.mux.HandleFunc("GET /api/images/{id}/preview", s.handlePreview)
	s.mux.HandleFunc("GET /api/images/{id}/info", s.handleInfo)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large", fmt.Sprintf("uploads are limited to %d bytes", s.maxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}

	file, header, err := formImageFile(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing image file", "send the image as multipart field 'file' or 'image'")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload failed", err.Error())
		return
	}

	contentType := resolveUploadContentType(header, data)
	if !allowedUploadType(contentType) {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported content type", "only image/jpeg and image/png uploads are accepted")
		return
	}
	if !rectify.ValidateImage(data) {
		writeError(w, http.StatusBadRequest, "invalid image data", "file does not decode as JPEG or PNG")
		return
	}

	imageID := id.New()
	originalKey := "originals/" + imageID + extensionFor(contentType)
	if err := s.storage.WriteObject(r.Context(), originalKey, data, contentType); err != nil {
		s.logger.Printf("store upload failed image_id=%s err=%v", imageID, err)
		writeError(w, http.StatusInternalServerError, "store upload failed", "")
		return
	}

	now := time.Now().UTC()
	rec := domain.ImageRecord{
		ID:          imageID,
		Filename:    header.Filename,
		ContentType: contentType,
		Status:      domain.ImageStatusUploaded,
		OriginalKey: originalKey,
		UploadedAt:  now,
		UpdatedAt:   now,
	}
	if err := s.records.Create(r.Context(), rec); err != nil {
		s.logger.Printf("create record failed image_id=%s err=%v", imageID, err)
		writeError(w, http.StatusInternalServerError, "create image record failed", "")
		return
	}

	s.logger.Printf("uploaded image_id=%s filename=%s bytes=%d", imageID, header.Filename, len(data))
	writeJSON(w, http.StatusCreated, map[string]any{
		"image_id":     imageID,
		"original_url": fmt.Sprintf("/api/images/%s/original", imageID),
		"message":      "upload accepted",
	})
}

func (s *Server) handleProcessImage(w http.ResponseWriter, r *http.Request) {
	var req domain.ProcessImageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid process request", err.Error())
		return
	}

	rec, ok, err := s.records.Get(r.Context(), req.ImageID)
	if err != nil {
		s.logger.Printf("fetch record failed image_id=%s err=%v", req.ImageID, err)
		writeError(w, http.StatusInternalServerError, "load image record failed", "")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "image not found", "")
		return
	}

	exists, err := s.storage.ObjectExists(r.Context(), rec.OriginalKey)
	if err != nil {
		s.logger.Printf("object check failed image_id=%s err=%v", rec.ID, err)
		writeError(w, http.StatusInternalServerError, "check original object failed", "")
		return
	}
	if !exists {
		writeError(w, http.StatusConflict, "original object is missing", "")
		return
	}

	if s.inlineProcessing || s.queueClient == nil {
		s.processInline(w, r, rec, req)
		return
	}

	payload := queue.ProcessImagePayload{
		ImageID:      rec.ID,
		OriginalKey:  rec.OriginalKey,
		Filename:     rec.Filename,
		CornerPoints: req.CornerPoints,
		WebhookURL:   req.WebhookURL,
		RequestedAt:  time.Now().UTC(),
	}
	taskInfo, err := s.queueClient.EnqueueProcessImage(r.Context(), payload)
	if err != nil {
		s.logger.Printf("enqueue failed image_id=%s err=%v", rec.ID, err)
		writeError(w, http.StatusInternalServerError, "enqueue processing task failed", "")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.records.UpdateStatus(r.Context(), rec.ID, domain.ImageStatusQueued); err != nil {
		s.logger.Printf("status update failed image_id=%s err=%v", rec.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"image_id": rec.ID,
		"status":   domain.ImageStatusQueued,
		"task_id":  taskInfo.ID,
		"info_url": fmt.Sprintf("/api/images/%s/info", rec.ID),
	})
}

// processInline runs the pipeline in-request. Single-process deployments use
// this with memory backends; the response then carries the outcome directly
// and webhooks are not dispatched.
func (s *Server) processInline(w http.ResponseWriter, r *http.Request, rec domain.ImageRecord, req domain.ProcessImageRequest) {
	ctx := r.Context()
	startedAt := time.Now()

	if req.WebhookURL != "" {
		s.logger.Printf("webhook_url ignored in inline mode image_id=%s", rec.ID)
	}

	if _, err := s.records.UpdateStatus(ctx, rec.ID, domain.ImageStatusProcessing); err != nil {
		s.logger.Printf("status update failed image_id=%s err=%v", rec.ID, err)
	}

	original, err := s.storage.ReadObject(ctx, rec.OriginalKey)
	if err != nil {
		s.markFailed(ctx, rec.ID)
		s.logger.Printf("read original failed image_id=%s err=%v", rec.ID, err)
		writeError(w, http.StatusInternalServerError, "load original image failed", "")
		return
	}

	output, err := rectify.Process(ctx, original, req.CornerPoints)
	if err != nil {
		s.markFailed(ctx, rec.ID)
		status := http.StatusInternalServerError
		if errors.Is(err, rectify.ErrDecode) ||
			errors.Is(err, rectify.ErrInvalidCorners) ||
			errors.Is(err, rectify.ErrDegenerateGeometry) {
			status = http.StatusBadRequest
		}
		writeError(w, status, "image processing failed", err.Error())
		return
	}

	processedKey := fmt.Sprintf("processed/%s.png", rec.ID)
	if err := s.storage.WriteObject(ctx, processedKey, output, "image/png"); err != nil {
		s.markFailed(ctx, rec.ID)
		s.logger.Printf("write processed failed image_id=%s err=%v", rec.ID, err)
		writeError(w, http.StatusInternalServerError, "store processed image failed", "")
		return
	}

	processingMS := time.Since(startedAt).Milliseconds()
	if processingMS < 1 {
		processingMS = 1
	}

	record, err := s.records.MarkProcessed(ctx, rec.ID, store.ProcessedResult{
		ProcessedKey: processedKey,
		CornerPoints: req.CornerPoints,
		ProcessingMS: processingMS,
		ProcessedAt:  time.Now().UTC(),
	})
	if err != nil {
		s.logger.Printf("mark processed failed image_id=%s err=%v", rec.ID, err)
		writeError(w, http.StatusInternalServerError, "update image record failed", "")
		return
	}

	s.logger.Printf("processed inline image_id=%s elapsed_ms=%d", record.ID, record.ProcessingMS)
	writeJSON(w, http.StatusOK, map[string]any{
		"image_id":            record.ID,
		"processed_image_url": fmt.Sprintf("/api/images/%s/processed", record.ID),
		"processing_time_ms":  record.ProcessingMS,
		"message":             "image processed successfully",
	})
}

func (s *Server) markFailed(ctx context.Context, imageID string) {
	if _, err := s.records.UpdateStatus(ctx, imageID, domain.ImageStatusFailed); err != nil {
		s.logger.Printf("status update failed image_id=%s err=%v", imageID, err)
	}
}

func formImageFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	file, header, err := r.FormFile("file")
	if err == nil {
		return file, header, nil
	}
	if !errors.Is(err, http.ErrMissingFile) {
		return nil, nil, err
	}
	return r.FormFile("image")
}

// resolveUploadContentType prefers the part's declared type but sniffs the
// bytes when a client sent nothing useful.
func resolveUploadContentType(header *multipart.FileHeader, data []byte) string {
	declared := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if i := strings.Index(declared, ";"); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if declared == "" || declared == "application/octet-stream" {
		return http.DetectContentType(data)
	}
	return declared
}

func allowedUploadType(contentType string) bool {
	return contentType == "image/jpeg" || contentType == "image/png"
}

func extensionFor(contentType string) string {
	if contentType == "image/jpeg" {
		return ".jpg"
	}
	return ".png"
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	body := map[string]string{"error": message}
	if detail != "" {
		body["detail"] = detail
	}
	writeJSON(w, status, body)
}
