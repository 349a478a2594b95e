package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterOption customizes the router.
type RouterOption func(*routerOptions)

type routerOptions struct {
	instrument     func(http.Handler) http.Handler
	metricsHandler http.Handler
}

// WithMetrics instruments every route with mw and serves h on /metrics.
func WithMetrics(mw func(http.Handler) http.Handler, h http.Handler) RouterOption {
	return func(o *routerOptions) {
		o.instrument = mw
		o.metricsHandler = h
	}
}

// NewRouter creates and configures the chi router
func NewRouter(h *Handler, logger *slog.Logger, opts ...RouterOption) *chi.Mux {
	var o routerOptions
	for _, opt := range opts {
		opt(&o)
	}

	r := chi.NewRouter()

	// Middleware for all routes
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(LogRequest(logger))
	if o.instrument != nil {
		r.Use(o.instrument)
	}
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
	})

	// API routes
	r.Post("/upload-url", h.handleUploadURL)
	r.Post("/confirm-upload", h.handleConfirmUpload)
	r.Route("/images", func(r chi.Router) {
		r.Get("/", h.handleListImages)
		r.Get("/{owner_id}/{item_id}", h.handleGetImage)
		r.Delete("/{owner_id}/{item_id}", h.handleDeleteImage)
	})

	// Health check endpoint
	r.Get("/health", h.handleHealth)

	if o.metricsHandler != nil {
		r.Handle("/metrics", o.metricsHandler)
	}

	return r
}

// LogRequest logs each request with its status and duration, at Error for
// 5xx, Warn for 4xx and Info otherwise.
func LogRequest(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds()) / 1000,
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			}

			switch {
			case status >= 500:
				logger.Error("request", attrs...)
			case status >= 400:
				logger.Warn("request", attrs...)
			default:
				logger.Info("request", attrs...)
			}
		})
	}
}
