package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/unwarphq/unwarp/internal/domain"
	_ "github.com/lib/pq"
)

const imageSchemaSQL = `
CREATE TABLE IF NOT EXISTS images (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	content_type TEXT NOT NULL,
	status TEXT NOT NULL,
	original_key TEXT NOT NULL,
	processed_key TEXT NOT NULL DEFAULT '',
	corner_points JSONB,
	processing_ms BIGINT NOT NULL DEFAULT 0,
	uploaded_at TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL
);
`

type PostgresRecordStore struct {
	db *sql.DB
}

func NewPostgresRecordStore(ctx context.Context, dsn string) (*PostgresRecordStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresRecordStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresRecordStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, imageSchemaSQL); err != nil {
		return fmt.Errorf("ensure images schema: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) Close() error {
	return s.db.Close()
}

func (s *PostgresRecordStore) Create(ctx context.Context, rec domain.ImageRecord) error {
	cornersJSON, err := marshalCorners(rec.CornerPoints)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO images (id, filename, content_type, status, original_key, processed_key, corner_points, processing_ms, uploaded_at, processed_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID,
		rec.Filename,
		rec.ContentType,
		rec.Status,
		rec.OriginalKey,
		rec.ProcessedKey,
		cornersJSON,
		rec.ProcessingMS,
		rec.UploadedAt,
		rec.ProcessedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert image record: %w", err)
	}

	return nil
}

func (s *PostgresRecordStore) Get(ctx context.Context, id string) (domain.ImageRecord, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, filename, content_type, status, original_key, processed_key, corner_points, processing_ms, uploaded_at, processed_at, updated_at
		 FROM images
		 WHERE id = $1`,
		id,
	)

	var (
		rec         domain.ImageRecord
		cornersJSON []byte
		processedAt sql.NullTime
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Filename,
		&rec.ContentType,
		&rec.Status,
		&rec.OriginalKey,
		&rec.ProcessedKey,
		&cornersJSON,
		&rec.ProcessingMS,
		&rec.UploadedAt,
		&processedAt,
		&rec.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.ImageRecord{}, false, nil
		}
		return domain.ImageRecord{}, false, fmt.Errorf("query image record: %w", err)
	}

	if len(cornersJSON) > 0 {
		if err := json.Unmarshal(cornersJSON, &rec.CornerPoints); err != nil {
			return domain.ImageRecord{}, false, fmt.Errorf("unmarshal corner points: %w", err)
		}
	}
	if processedAt.Valid {
		at := processedAt.Time
		rec.ProcessedAt = &at
	}

	return rec, true, nil
}

func (s *PostgresRecordStore) UpdateStatus(ctx context.Context, id, status string) (domain.ImageRecord, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE images
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		now,
		id,
	)
	if err != nil {
		return domain.ImageRecord{}, fmt.Errorf("update image status: %w", err)
	}

	rec, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.ImageRecord{}, err
	}
	if !ok {
		return domain.ImageRecord{}, ErrRecordNotFound
	}

	return rec, nil
}

func (s *PostgresRecordStore) MarkProcessed(ctx context.Context, id string, result ProcessedResult) (domain.ImageRecord, error) {
	cornersJSON, err := marshalCorners(result.CornerPoints)
	if err != nil {
		return domain.ImageRecord{}, err
	}

	_, err = s.db.ExecContext(
		ctx,
		`UPDATE images
		 SET status = $1, processed_key = $2, corner_points = $3, processing_ms = $4, processed_at = $5, updated_at = $6
		 WHERE id = $7`,
		domain.ImageStatusSucceeded,
		result.ProcessedKey,
		cornersJSON,
		result.ProcessingMS,
		result.ProcessedAt,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.ImageRecord{}, fmt.Errorf("mark image processed: %w", err)
	}

	rec, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.ImageRecord{}, err
	}
	if !ok {
		return domain.ImageRecord{}, ErrRecordNotFound
	}

	return rec, nil
}

// marshalCorners writes SQL NULL rather than the JSON literal "null" when no
// corners have been recorded yet.
func marshalCorners(points []domain.CornerPoint) ([]byte, error) {
	if len(points) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(points)
	if err != nil {
		return nil, fmt.Errorf("marshal corner points: %w", err)
	}
	return data, nil
}
