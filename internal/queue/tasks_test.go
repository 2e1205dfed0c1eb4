package queue

import (
	"testing"
	"time"

	"github.com/unwarphq/unwarp/internal/domain"
)

func TestProcessImageTaskRoundTrip(t *testing.T) {
	payload := ProcessImagePayload{
		ImageID:     "img-123",
		OriginalKey: "originals/img-123.jpg",
		Filename:    "whiteboard.jpg",
		CornerPoints: []domain.CornerPoint{
			{X: 100, Y: 50},
			{X: 900, Y: 60},
			{X: 880, Y: 750},
			{X: 90, Y: 740},
		},
		WebhookURL:  "https://example.com/hooks/unwarp",
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewProcessImageTask(payload)
	if err != nil {
		t.Fatalf("NewProcessImageTask returned error: %v", err)
	}
	if task.Type() != TypeProcessImage {
		t.Fatalf("task type = %q, want %q", task.Type(), TypeProcessImage)
	}

	parsed, err := ParseProcessImagePayload(task)
	if err != nil {
		t.Fatalf("ParseProcessImagePayload returned error: %v", err)
	}

	if parsed.ImageID != payload.ImageID {
		t.Fatalf("expected image_id %q, got %q", payload.ImageID, parsed.ImageID)
	}
	if len(parsed.CornerPoints) != 4 {
		t.Fatalf("expected four corner points, got %d", len(parsed.CornerPoints))
	}
	if parsed.CornerPoints[2].X != 880 {
		t.Fatalf("corner round trip mismatch: %+v", parsed.CornerPoints[2])
	}
}
