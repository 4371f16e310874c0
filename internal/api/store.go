package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// Store persists an arbitrary JSON object.
func (h *Handler) Store(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r, "store")
	logger.Info("received store request", slog.String("path", r.URL.Path), slog.String("method", r.Method))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn("request body too large", slog.Int64("limit", tooLarge.Limit))
			h.writeError(w, http.StatusRequestEntityTooLarge, msgInvalidBody)
			return
		}
		logger.Error("failed to read request body", slog.Any("error", err))
		h.writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if len(body) == 0 {
		logger.Warn("request body is missing")
		h.writeError(w, http.StatusBadRequest, msgBodyRequired)
		return
	}

	// Only JSON objects are accepted; arrays, scalars and null are not.
	var object map[string]any
	if err := json.Unmarshal(body, &object); err != nil || object == nil {
		logger.Warn("invalid request body", slog.Any("error", err))
		h.writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	blob, err := h.blobs.AppendOpaque(r.Context(), body)
	if err != nil {
		logger.Error("failed to store item", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	logger.Debug("blob stored", slog.String("id", blob.ID))
	h.writeJSON(w, http.StatusCreated, map[string]string{"message": msgStored})
}
