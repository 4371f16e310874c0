package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/l0p7/planetcast/internal/api"
	"github.com/l0p7/planetcast/internal/metrics"
)

// Routes is the handler surface the router mounts.
type Routes interface {
	Combined(http.ResponseWriter, *http.Request)
	History(http.ResponseWriter, *http.Request)
	Store(http.ResponseWriter, *http.Request)
	Health(http.ResponseWriter, *http.Request)
}

type RouterOptions struct {
	Routes            Routes
	Metrics           *metrics.Recorder
	CorrelationHeader string
	Logger            *slog.Logger
}

// NewRouter mounts the API routes behind correlation, panic recovery and
// request instrumentation middleware.
func NewRouter(opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(api.Correlation(opts.CorrelationHeader))
	r.Use(chimw.Recoverer)
	r.Use(instrument(opts.Metrics, logger.With(slog.String("agent", "http"))))

	if opts.Routes == nil {
		r.HandleFunc("/*", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "handlers unavailable", http.StatusServiceUnavailable)
		})
		return r
	}
	r.Get("/combined", opts.Routes.Combined)
	r.Get("/history", opts.Routes.History)
	r.Post("/store", opts.Routes.Store)
	r.Get("/healthz", opts.Routes.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}
	return r
}

// instrument records every request under its route pattern, so ids in the
// path never blow up label cardinality.
func instrument(rec *metrics.Recorder, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			elapsed := time.Since(start)
			rec.ObserveRequest(route, r.Method, status, elapsed)
			logger.Debug("request served",
				slog.String("route", route),
				slog.String("method", r.Method),
				slog.Int("status", status),
				slog.Duration("duration", elapsed),
				slog.String("correlation_id", api.CorrelationID(r.Context())),
			)
		})
	}
}
