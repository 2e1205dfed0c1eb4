package store

import (
	"context"
	"sync"
	"time"

	"github.com/unwarphq/unwarp/internal/domain"
)

type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]domain.ImageRecord
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[string]domain.ImageRecord),
	}
}

func (s *MemoryRecordStore) Create(_ context.Context, rec domain.ImageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (s *MemoryRecordStore) Get(_ context.Context, id string) (domain.ImageRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return domain.ImageRecord{}, false, nil
	}
	return cloneRecord(rec), true, nil
}

func (s *MemoryRecordStore) UpdateStatus(_ context.Context, id, status string) (domain.ImageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return domain.ImageRecord{}, ErrRecordNotFound
	}

	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	s.records[id] = rec
	return cloneRecord(rec), nil
}

func (s *MemoryRecordStore) MarkProcessed(_ context.Context, id string, result ProcessedResult) (domain.ImageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return domain.ImageRecord{}, ErrRecordNotFound
	}

	processedAt := result.ProcessedAt
	rec.Status = domain.ImageStatusSucceeded
	rec.ProcessedKey = result.ProcessedKey
	rec.CornerPoints = append([]domain.CornerPoint(nil), result.CornerPoints...)
	rec.ProcessingMS = result.ProcessingMS
	rec.ProcessedAt = &processedAt
	rec.UpdatedAt = time.Now().UTC()
	s.records[id] = rec
	return cloneRecord(rec), nil
}

// cloneRecord keeps callers from sharing the stored corner slice or
// processed-at pointer.
func cloneRecord(rec domain.ImageRecord) domain.ImageRecord {
	out := rec
	if rec.CornerPoints != nil {
		out.CornerPoints = append([]domain.CornerPoint(nil), rec.CornerPoints...)
	}
	if rec.ProcessedAt != nil {
		at := *rec.ProcessedAt
		out.ProcessedAt = &at
	}
	return out
}
