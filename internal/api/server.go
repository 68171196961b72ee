// Package api exposes the HTTP interface for the import service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/acme/catalog-importer/internal/catalog"
	"github.com/acme/catalog-importer/internal/config"
	"github.com/acme/catalog-importer/internal/importer"
	"github.com/acme/catalog-importer/internal/metrics"
	"github.com/acme/catalog-importer/internal/progress"
	"github.com/acme/catalog-importer/internal/task"
	"github.com/acme/catalog-importer/internal/webhook"
)

// Server wires HTTP handlers to the import coordinator and stores.
type Server struct {
	router      chi.Router
	coordinator *importer.Coordinator
	tasks       task.Store
	errs        *task.ErrorSink
	broadcaster *progress.Broadcaster
	catalog     catalog.Store
	webhooks    webhook.Registry
	notifier    importer.EventNotifier
	tester      WebhookTester
	logger      *zap.Logger
	cfg         config.Config
}

// WebhookTester performs a single synchronous probe delivery to one webhook.
type WebhookTester interface {
	Test(ctx context.Context, hook webhook.Webhook) (int, error)
}

// Options carries the Server dependencies.
type Options struct {
	Coordinator *importer.Coordinator
	Tasks       task.Store
	Errors      *task.ErrorSink
	Broadcaster *progress.Broadcaster
	Catalog     catalog.Store
	Webhooks    webhook.Registry
	Notifier    importer.EventNotifier
	Tester      WebhookTester
	HTTPMetrics *metrics.Metrics
	Registry    *prometheus.Registry
	Logger      *zap.Logger
	Config      config.Config
}

// NewServer constructs a Server with middleware and routes. The progress
// stream route stays outside the timeout middleware: http.TimeoutHandler
// buffers its writes, which would break server-sent events.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		coordinator: opts.Coordinator,
		tasks:       opts.Tasks,
		errs:        opts.Errors,
		broadcaster: opts.Broadcaster,
		catalog:     opts.Catalog,
		webhooks:    opts.Webhooks,
		notifier:    opts.Notifier,
		tester:      opts.Tester,
		logger:      logger,
		cfg:         opts.Config,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if opts.HTTPMetrics != nil {
		r.Use(opts.HTTPMetrics.Middleware)
	}
	if opts.Config.Auth.Enabled {
		r.Use(apiKeyMiddleware(opts.Config.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if opts.Registry != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(opts.Registry))
	}

	timeout := opts.Config.Server.RequestTimeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/imports/{task_id}/events", s.streamImportEvents)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(timeout))

			r.Route("/imports", func(r chi.Router) {
				r.Post("/", s.createImport)
				r.Get("/{task_id}", s.getImport)
				r.Get("/{task_id}/errors", s.listImportErrors)
			})
			r.Route("/products", func(r chi.Router) {
				r.Post("/", s.createProduct)
				r.Get("/", s.listProducts)
				r.Delete("/", s.deleteAllProducts)
				r.Route("/{product_id}", func(r chi.Router) {
					r.Get("/", s.getProduct)
					r.Patch("/", s.updateProduct)
					r.Delete("/", s.deleteProduct)
				})
			})
			r.Route("/webhooks", func(r chi.Router) {
				r.Post("/", s.createWebhook)
				r.Get("/", s.listWebhooks)
				r.Route("/{webhook_id}", func(r chi.Router) {
					r.Get("/", s.getWebhook)
					r.Patch("/", s.updateWebhook)
					r.Delete("/", s.deleteWebhook)
					r.Post("/test", s.testWebhook)
				})
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) notify(event string, payload map[string]any) {
	if s.notifier != nil {
		s.notifier.Notify(event, payload)
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
