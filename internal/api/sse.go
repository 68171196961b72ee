package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/acme/catalog-importer/internal/task"
)

// streamImportEvents handles GET /v1/imports/{task_id}/events as a
// server-sent event stream. The first event is always the current snapshot;
// the stream closes from the server side once a terminal snapshot has been
// sent. Consecutive identical snapshots are suppressed.
func (s *Server) streamImportEvents(w http.ResponseWriter, r *http.Request) {
	taskID, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, err := s.broadcaster.Subscribe(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.logger.Error("subscribe failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var last *taskResponse
	for {
		select {
		case <-r.Context().Done():
			return
		case snap, open := <-sub.Updates():
			if !open {
				return
			}
			resp := toTaskResponse(snap)
			if last != nil && sameProgress(*last, resp) {
				continue
			}
			data, err := json.Marshal(resp)
			if err != nil {
				s.logger.Error("marshal snapshot failed", zap.Error(err))
				return
			}
			if _, err := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
			last = &resp
		}
	}
}

func sameProgress(a, b taskResponse) bool {
	if a.Status != b.Status || a.Processed != b.Processed || a.Errors != b.Errors {
		return false
	}
	if (a.Total == nil) != (b.Total == nil) {
		return false
	}
	return a.Total == nil || *a.Total == *b.Total
}
