package domain

import "time"

type ProcessingUsage struct {
	ImageID         string
	PixelsProcessed int64
	OutputBytes     int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}
