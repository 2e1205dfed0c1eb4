package domain

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
)

const (
	ImageStatusUploaded   = "uploaded"
	ImageStatusQueued     = "queued"
	ImageStatusProcessing = "processing"
	ImageStatusSucceeded  = "succeeded"
	ImageStatusFailed     = "failed"
)

// CornerPoint is a coordinate in source image pixel space. Callers that
// collect corners on a scaled display rendering must map them back to pixel
// coordinates before submitting; the service applies no display scaling.
type CornerPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ImageRecord tracks one uploaded image through its processing lifecycle:
// uploaded -> queued -> processing -> succeeded | failed.
type ImageRecord struct {
	ID           string
	Filename     string
	ContentType  string
	Status       string
	OriginalKey  string
	ProcessedKey string
	CornerPoints []CornerPoint
	ProcessingMS int64
	UploadedAt   time.Time
	ProcessedAt  *time.Time
	UpdatedAt    time.Time
}

func (r ImageRecord) Processed() bool {
	return r.Status == ImageStatusSucceeded && r.ProcessedKey != ""
}

// ProcessImageRequest asks for a rectification run over a previously uploaded
// image. CornerPoints are ordered top-left, top-right, bottom-right,
// bottom-left; the order is trusted, never inferred.
type ProcessImageRequest struct {
	ImageID      string        `json:"image_id"`
	CornerPoints []CornerPoint `json:"corner_points"`
	WebhookURL   string        `json:"webhook_url,omitempty"`
}

func (r ProcessImageRequest) Validate() error {
	if strings.TrimSpace(r.ImageID) == "" {
		return errors.New("image_id is required")
	}
	if len(r.CornerPoints) != 4 {
		return fmt.Errorf("corner_points must contain exactly 4 points, got %d", len(r.CornerPoints))
	}
	for i, p := range r.CornerPoints {
		if !finite(p.X) || !finite(p.Y) {
			return fmt.Errorf("corner_points[%d] has a non-finite coordinate", i)
		}
	}
	if r.WebhookURL != "" {
		u, err := url.Parse(r.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("webhook_url must be an absolute http(s) URL")
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
