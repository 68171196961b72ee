package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/acme/catalog-importer/internal/webhook"
)

type createWebhookRequest struct {
	URL       string `json:"url"`
	EventType string `json:"event_type"`
	Enabled   *bool  `json:"enabled"`
}

func (s *Server) createWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	req.EventType = strings.TrimSpace(req.EventType)
	if err := validateWebhookURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.EventType == "" {
		writeError(w, http.StatusBadRequest, "event_type is required")
		return
	}

	hook := webhook.Webhook{URL: req.URL, EventType: req.EventType, Enabled: true}
	if req.Enabled != nil {
		hook.Enabled = *req.Enabled
	}
	created, err := s.webhooks.Create(r.Context(), hook)
	if err != nil {
		s.logger.Error("create webhook failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"webhook": created})
}

func (s *Server) getWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := parseWebhookID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hook, err := s.webhooks.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, webhook.ErrNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		s.logger.Error("get webhook failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load webhook")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhook": hook})
}

func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.webhooks.List(r.Context())
	if err != nil {
		s.logger.Error("list webhooks failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": hooks})
}

func (s *Server) updateWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := parseWebhookID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var upd webhook.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if upd.URL != nil {
		trimmed := strings.TrimSpace(*upd.URL)
		if err := validateWebhookURL(trimmed); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		upd.URL = &trimmed
	}
	updated, err := s.webhooks.Update(r.Context(), id, upd)
	if err != nil {
		if errors.Is(err, webhook.ErrNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		s.logger.Error("update webhook failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update webhook")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhook": updated})
}

func (s *Server) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := parseWebhookID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.webhooks.Delete(r.Context(), id); err != nil {
		if errors.Is(err, webhook.ErrNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		s.logger.Error("delete webhook failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete webhook")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// testWebhook fires one synchronous probe delivery and reports the outcome.
func (s *Server) testWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := parseWebhookID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hook, err := s.webhooks.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, webhook.ErrNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		s.logger.Error("get webhook failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load webhook")
		return
	}
	if s.tester == nil {
		writeError(w, http.StatusServiceUnavailable, "webhook delivery is disabled")
		return
	}

	code, err := s.tester.Test(r.Context(), hook)
	result := map[string]any{
		"webhook_id":  hook.ID,
		"delivered":   err == nil && code < 400,
		"status_code": code,
	}
	if err != nil {
		result["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, result)
}

func parseWebhookID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "webhook_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid webhook_id")
	}
	return id, nil
}

func validateWebhookURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("url must be a valid http(s) URL")
	}
	return nil
}
