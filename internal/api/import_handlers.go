package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/catalog-importer/internal/importer"
	"github.com/acme/catalog-importer/internal/task"
)

const (
	defaultErrorLimit = 50
	maxErrorLimit     = 500
)

type taskResponse struct {
	TaskID    string    `json:"task_id"`
	Status    string    `json:"status"`
	Processed int64     `json:"processed"`
	Errors    int64     `json:"errors"`
	Total     *int64    `json:"total,omitempty"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toTaskResponse(snap task.Snapshot) taskResponse {
	resp := taskResponse{
		TaskID:    snap.TaskID.String(),
		Status:    string(snap.Status),
		Processed: snap.Processed,
		Errors:    snap.Errors,
		Message:   snap.Message,
		UpdatedAt: snap.UpdatedAt,
	}
	if snap.Total != task.TotalUnknown {
		total := snap.Total
		resp.Total = &total
	}
	return resp
}

// createImport handles POST /v1/imports. The CSV arrives either as the raw
// request body or as the "file" part of a multipart form. The response is
// always immediate: the task is queued and processed in the background.
func (s *Server) createImport(w http.ResponseWriter, r *http.Request) {
	src, cleanup, err := uploadSource(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanup()

	accepted, err := s.coordinator.Accept(r.Context(), src)
	if err != nil {
		if errors.Is(err, importer.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "import queue full")
			return
		}
		s.logger.Error("accept upload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to accept upload")
		return
	}
	snap, err := s.tasks.Snapshot(r.Context(), accepted.ID)
	if err != nil {
		s.logger.Error("snapshot after accept failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"task": toTaskResponse(snap)})
}

// getImport handles GET /v1/imports/{task_id}. This is the pull fallback for
// clients that cannot hold an event stream open.
func (s *Server) getImport(w http.ResponseWriter, r *http.Request) {
	taskID, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.tasks.Snapshot(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.logger.Error("get task failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": toTaskResponse(snap)})
}

// listImportErrors handles GET /v1/imports/{task_id}/errors?limit=. The
// total is exact even when older records have been evicted.
func (s *Server) listImportErrors(w http.ResponseWriter, r *http.Request) {
	taskID, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.tasks.Snapshot(r.Context(), taskID); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.logger.Error("get task failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}

	limit := defaultErrorLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed > maxErrorLimit {
			parsed = maxErrorLimit
		}
		limit = parsed
	}

	records, total := s.errs.List(taskID, limit)
	if records == nil {
		records = []task.ErrorRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"errors": records,
		"total":  total,
	})
}

func parseTaskID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "task_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("task_id is required")
	}
	taskID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid task_id")
	}
	return taskID, nil
}

// uploadSource picks the CSV stream out of the request without buffering it
// in memory. Multipart uploads must carry the CSV in a part named "file".
func uploadSource(r *http.Request) (io.Reader, func(), error) {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "multipart/form-data" {
		return r.Body, func() {}, nil
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, nil, errors.New("malformed multipart body")
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, nil, errors.New(`multipart body is missing a "file" part`)
		}
		if err != nil {
			return nil, nil, errors.New("malformed multipart body")
		}
		if part.FormName() == "file" {
			return part, func() { part.Close() }, nil
		}
		part.Close()
	}
}
