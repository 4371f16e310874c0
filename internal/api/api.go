// Package api implements the HTTP handlers for combining, paging history
// and storing opaque JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/l0p7/planetcast/internal/history"
)

const (
	msgInternal      = "Internal server error"
	msgInvalidQuery  = "Invalid query parameters"
	msgInvalidCursor = "Invalid lastEvaluatedKey format"
	msgBodyRequired  = "Request body is required"
	msgInvalidBody   = "Invalid request body"
	msgStored        = "Data stored successfully"
)

type Combiner interface {
	Run(ctx context.Context) (history.Record, error)
}

type HistoryReader interface {
	Query(ctx context.Context, pageSize int, ascending bool, cursor *history.Cursor) (history.Page, error)
}

type BlobWriter interface {
	AppendOpaque(ctx context.Context, payload json.RawMessage) (history.Blob, error)
}

type Options struct {
	Combiner        Combiner
	History         HistoryReader
	Blobs           BlobWriter
	DefaultPageSize int
	MaxPageSize     int
	// MaxBodyBytes bounds POST /store bodies; zero means 1 MiB.
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Handler serves the API routes. Mounting is left to the server package.
type Handler struct {
	combiner        Combiner
	history         HistoryReader
	blobs           BlobWriter
	defaultPageSize int
	maxPageSize     int
	maxBodyBytes    int64
	validate        *validator.Validate
	logger          *slog.Logger
}

func New(opts Options) (*Handler, error) {
	if opts.Combiner == nil || opts.History == nil || opts.Blobs == nil {
		return nil, errors.New("api: combiner, history and blob store required")
	}
	maxPage := opts.MaxPageSize
	if maxPage <= 0 {
		maxPage = 100
	}
	defPage := opts.DefaultPageSize
	if defPage <= 0 {
		defPage = 10
	}
	if defPage > maxPage {
		return nil, errors.New("api: default page size exceeds maximum")
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		combiner:        opts.Combiner,
		history:         opts.History,
		blobs:           opts.Blobs,
		defaultPageSize: defPage,
		maxPageSize:     maxPage,
		maxBodyBytes:    maxBody,
		validate:        newValidator(),
		logger:          logger.With(slog.String("agent", "api")),
	}, nil
}

// Combined runs one combine and responds with the stored record.
func (h *Handler) Combined(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r, "combined")
	record, err := h.combiner.Run(r.Context())
	if err != nil {
		logger.Error("failed to process request", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) requestLogger(r *http.Request, handler string) *slog.Logger {
	logger := h.logger.With(slog.String("handler", handler))
	if id := CorrelationID(r.Context()); id != "" {
		logger = logger.With(slog.String("correlation_id", id))
	}
	return logger
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]any{"error": message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("response encode failed", slog.Any("error", err))
	}
}
