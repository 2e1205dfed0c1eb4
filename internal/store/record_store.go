package store

import (
	"context"
	"errors"
	"time"

	"github.com/unwarphq/unwarp/internal/domain"
)

var ErrRecordNotFound = errors.New("image record not found")

type RecordStore interface {
	Create(ctx context.Context, rec domain.ImageRecord) error
	Get(ctx context.Context, id string) (domain.ImageRecord, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.ImageRecord, error)
	MarkProcessed(ctx context.Context, id string, result ProcessedResult) (domain.ImageRecord, error)
}

// ProcessedResult carries what one successful rectification run produced.
// MarkProcessed applies it and moves the record to succeeded in one step.
type ProcessedResult struct {
	ProcessedKey string
	CornerPoints []domain.CornerPoint
	ProcessingMS int64
	ProcessedAt  time.Time
}
