package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/unwarphq/unwarp/internal/domain"
	"github.com/unwarphq/unwarp/internal/queue"
	"github.com/unwarphq/unwarp/internal/storage"
	"github.com/unwarphq/unwarp/internal/store"
	"github.com/unwarphq/unwarp/internal/webhook"
	"go.opentelemetry.io/otel"
)

func buildSourcePNG(tb testing.TB, width, height int) []byte {
	tb.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x * 255) / width),
				G: uint8((y * 255) / height),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		tb.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

type captureWebhook struct {
	calls int
	event string
}

func (c *captureWebhook) Send(_ context.Context, _, event string, _ any) error {
	c.calls++
	c.event = event
	return nil
}

func newTestServer(tb testing.TB, blobs objectStorage, hooks webhookSender) (*Server, *store.MemoryRecordStore) {
	tb.Helper()

	records := store.NewMemoryRecordStore()
	return &Server{
		logger:        log.New(io.Discard, "", 0),
		sem:           make(chan struct{}, 1),
		storage:       blobs,
		webhookClient: hooks,
		records:       records,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("unwarp/worker-test"),
	}, records
}

func seedRecord(tb testing.TB, records *store.MemoryRecordStore, id, originalKey string) {
	tb.Helper()

	now := time.Now().UTC()
	if err := records.Create(context.Background(), domain.ImageRecord{
		ID:          id,
		Filename:    "board.png",
		ContentType: "image/png",
		Status:      domain.ImageStatusQueued,
		OriginalKey: originalKey,
		UploadedAt:  now,
		UpdatedAt:   now,
	}); err != nil {
		tb.Fatalf("seed record: %v", err)
	}
}

func TestHandleProcessImageSucceeds(t *testing.T) {
	ctx := context.Background()
	blobs := storage.NewMemory()
	hooks := &captureWebhook{}
	s, records := newTestServer(t, blobs, hooks)

	const originalKey = "originals/img-1.png"
	if err := blobs.WriteObject(ctx, originalKey, buildSourcePNG(t, 200, 160), "image/png"); err != nil {
		t.Fatalf("seed original: %v", err)
	}
	seedRecord(t, records, "img-1", originalKey)

	task, err := queue.NewProcessImageTask(queue.ProcessImagePayload{
		ImageID:     "img-1",
		OriginalKey: originalKey,
		Filename:    "board.png",
		CornerPoints: []domain.CornerPoint{
			{X: 10, Y: 10},
			{X: 190, Y: 12},
			{X: 188, Y: 150},
			{X: 12, Y: 148},
		},
		WebhookURL:  "https://example.com/hooks/unwarp",
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}

	if err := s.handleProcessImage(ctx, task); err != nil {
		t.Fatalf("handleProcessImage returned error: %v", err)
	}

	rec, ok, err := records.Get(ctx, "img-1")
	if err != nil || !ok {
		t.Fatalf("load record: ok=%v err=%v", ok, err)
	}
	if rec.Status != domain.ImageStatusSucceeded {
		t.Fatalf("record status = %q, want %q", rec.Status, domain.ImageStatusSucceeded)
	}
	if rec.ProcessedKey != "processed/img-1.png" {
		t.Fatalf("processed key = %q", rec.ProcessedKey)
	}
	if rec.ProcessingMS < 1 {
		t.Fatalf("processing ms = %d", rec.ProcessingMS)
	}

	processed, err := blobs.ReadObject(ctx, rec.ProcessedKey)
	if err != nil {
		t.Fatalf("read processed object: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(processed))
	if err != nil {
		t.Fatalf("decode processed png: %v", err)
	}
	if got := img.Bounds().Dx(); got != 181 {
		t.Fatalf("processed width = %d, want 181", got)
	}
	if got := img.Bounds().Dy(); got != 139 {
		t.Fatalf("processed height = %d, want 139", got)
	}

	if hooks.calls != 1 || hooks.event != webhook.EventImageProcessed {
		t.Fatalf("webhook calls=%d event=%q", hooks.calls, hooks.event)
	}
}

func TestHandleProcessImageSkipsRetryOnRejectedInput(t *testing.T) {
	ctx := context.Background()
	blobs := storage.NewMemory()
	hooks := &captureWebhook{}
	s, records := newTestServer(t, blobs, hooks)

	const originalKey = "originals/img-2.png"
	if err := blobs.WriteObject(ctx, originalKey, buildSourcePNG(t, 100, 100), "image/png"); err != nil {
		t.Fatalf("seed original: %v", err)
	}
	seedRecord(t, records, "img-2", originalKey)

	task, err := queue.NewProcessImageTask(queue.ProcessImagePayload{
		ImageID:     "img-2",
		OriginalKey: originalKey,
		CornerPoints: []domain.CornerPoint{
			{X: 50, Y: 50},
			{X: 50, Y: 50},
			{X: 50, Y: 50},
			{X: 50, Y: 50},
		},
		WebhookURL:  "https://example.com/hooks/unwarp",
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}

	err = s.handleProcessImage(ctx, task)
	if err == nil {
		t.Fatal("expected error for degenerate corners")
	}
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}

	rec, _, err := records.Get(ctx, "img-2")
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if rec.Status != domain.ImageStatusFailed {
		t.Fatalf("record status = %q, want %q", rec.Status, domain.ImageStatusFailed)
	}
	if hooks.calls != 1 || hooks.event != webhook.EventImageFailed {
		t.Fatalf("webhook calls=%d event=%q", hooks.calls, hooks.event)
	}
}

type flakyStorage struct{}

func (flakyStorage) ReadObject(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection reset")
}

func (flakyStorage) WriteObject(context.Context, string, []byte, string) error {
	return nil
}

func TestHandleProcessImageRetriesStorageErrors(t *testing.T) {
	ctx := context.Background()
	hooks := &captureWebhook{}
	s, records := newTestServer(t, flakyStorage{}, hooks)
	seedRecord(t, records, "img-3", "originals/img-3.png")

	task, err := queue.NewProcessImageTask(queue.ProcessImagePayload{
		ImageID:     "img-3",
		OriginalKey: "originals/img-3.png",
		CornerPoints: []domain.CornerPoint{
			{X: 0, Y: 0},
			{X: 10, Y: 0},
			{X: 10, Y: 10},
			{X: 0, Y: 10},
		},
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}

	err = s.handleProcessImage(ctx, task)
	if err == nil {
		t.Fatal("expected storage error")
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("storage errors must stay retryable, got %v", err)
	}

	rec, _, err := records.Get(ctx, "img-3")
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if rec.Status != domain.ImageStatusProcessing {
		t.Fatalf("record status = %q, want %q", rec.Status, domain.ImageStatusProcessing)
	}
	if hooks.calls != 0 {
		t.Fatalf("webhook should not fire on retryable errors, calls=%d", hooks.calls)
	}
}
