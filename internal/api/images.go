package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/unwarphq/unwarp/internal/domain"
	"github.com/unwarphq/unwarp/internal/storage"
)

func (s *Server) handleBanner(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "unwarp-api",
		"message": "perspective rectification service",
		"version": s.version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "unwarp-api",
		"version": s.version,
	})
}

// loadRecord resolves the {id} path value, writing the error response itself
// when the record cannot be served.
func (s *Server) loadRecord(w http.ResponseWriter, r *http.Request) (domain.ImageRecord, bool) {
	imageID := r.PathValue("id")
	rec, ok, err := s.records.Get(r.Context(), imageID)
	if err != nil {
		s.logger.Printf("fetch record failed image_id=%s err=%v", imageID, err)
		writeError(w, http.StatusInternalServerError, "load image record failed", "")
		return domain.ImageRecord{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "image not found", "")
		return domain.ImageRecord{}, false
	}
	return rec, true
}

func (s *Server) serveObject(w http.ResponseWriter, r *http.Request, objectKey, contentType, cacheControl string) {
	data, err := s.storage.ReadObject(r.Context(), objectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, "stored object is missing", "")
			return
		}
		s.logger.Printf("read object failed key=%s err=%v", objectKey, err)
		writeError(w, http.StatusInternalServerError, "load stored object failed", "")
		return
	}

	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleOriginal(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecord(w, r)
	if !ok {
		return
	}
	s.serveObject(w, r, rec.OriginalKey, rec.ContentType, "max-age=3600")
}

func (s *Server) handleProcessed(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecord(w, r)
	if !ok {
		return
	}
	if !rec.Processed() {
		writeError(w, http.StatusNotFound, "image not processed yet", "")
		return
	}
	s.serveObject(w, r, rec.ProcessedKey, "image/png", "max-age=3600")
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecord(w, r)
	if !ok {
		return
	}
	if !rec.Processed() {
		writeError(w, http.StatusNotFound, "image not processed yet", "")
		return
	}

	stem := strings.TrimSuffix(rec.Filename, filepath.Ext(rec.Filename))
	if stem == "" {
		stem = rec.ID
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "corrected_"+stem+".png"))
	s.serveObject(w, r, rec.ProcessedKey, "image/png", "no-cache")
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecord(w, r)
	if !ok {
		return
	}

	width := s.previewCfg.DefaultWidth
	if raw := r.URL.Query().Get("width"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid width", "width must be an integer")
			return
		}
		width = parsed
	}
	width = clampWidth(width, s.previewCfg.MinWidth, s.previewCfg.MaxWidth)

	objectKey := rec.OriginalKey
	if rec.Processed() {
		objectKey = rec.ProcessedKey
	}

	data, err := s.storage.ReadObject(r.Context(), objectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, "stored object is missing", "")
			return
		}
		s.logger.Printf("read object failed key=%s err=%v", objectKey, err)
		writeError(w, http.StatusInternalServerError, "load stored object failed", "")
		return
	}

	out, err := s.resizer.Resize(r.Context(), data, width)
	if err != nil {
		s.logger.Printf("preview resize failed image_id=%s err=%v", rec.ID, err)
		writeError(w, http.StatusInternalServerError, "render preview failed", "")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecord(w, r)
	if !ok {
		return
	}

	resp := map[string]any{
		"image_id":           rec.ID,
		"filename":           rec.Filename,
		"status":             rec.Status,
		"is_processed":       rec.Processed(),
		"upload_time":        rec.UploadedAt,
		"processing_time_ms": rec.ProcessingMS,
		"corner_points":      rec.CornerPoints,
		"original_url":       fmt.Sprintf("/api/images/%s/original", rec.ID),
	}
	if rec.Processed() {
		resp["processed_url"] = fmt.Sprintf("/api/images/%s/processed", rec.ID)
	}
	writeJSON(w, http.StatusOK, resp)
}

func clampWidth(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
