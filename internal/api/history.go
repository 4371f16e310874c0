package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/l0p7/planetcast/internal/history"
)

const (
	sortAscending  = "ASC"
	sortDescending = "DESC"
)

type historyParams struct {
	PageSize         string `json:"pageSize" validate:"omitempty,number"`
	Sort             string `json:"sort" validate:"omitempty,oneof=ASC DESC"`
	LastEvaluatedKey string `json:"lastEvaluatedKey"`
}

var historyParamNames = []string{"pageSize", "sort", "lastEvaluatedKey"}

// FieldError is one entry of a 400 details list.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type historyResponse struct {
	Items            []history.Record `json:"items"`
	LastEvaluatedKey string           `json:"lastEvaluatedKey,omitempty"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// History pages through stored records.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r, "history")

	params, pageSize, details := h.parseHistoryParams(r.URL.Query())
	if len(details) > 0 {
		logger.Error("invalid query parameters", slog.Any("details", details))
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   msgInvalidQuery,
			"details": details,
		})
		return
	}
	ascending := params.Sort == sortAscending
	logger.Debug("processing request", slog.Int("pageSize", pageSize), slog.String("sort", params.Sort))

	var cursor *history.Cursor
	if params.LastEvaluatedKey != "" {
		decoded, err := history.DecodeCursor(params.LastEvaluatedKey)
		if err != nil {
			logger.Error("invalid lastEvaluatedKey", slog.Any("error", err))
			h.writeError(w, http.StatusBadRequest, msgInvalidCursor)
			return
		}
		cursor = decoded
	}

	page, err := h.history.Query(r.Context(), pageSize, ascending, cursor)
	if err != nil {
		logger.Error("failed to process request", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	resp := historyResponse{Items: page.Items}
	if resp.Items == nil {
		resp.Items = []history.Record{}
	}
	if page.Next != nil {
		resp.LastEvaluatedKey = history.EncodeCursor(*page.Next)
	}
	logger.Info("retrieved history items", slog.Int("count", len(page.Items)))
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) parseHistoryParams(query url.Values) (historyParams, int, []FieldError) {
	var details []FieldError
	for name := range query {
		if !slices.Contains(historyParamNames, name) {
			details = append(details, FieldError{Field: name, Message: fmt.Sprintf("Unrecognized key: %q", name)})
		}
	}
	slices.SortFunc(details, func(a, b FieldError) int { return strings.Compare(a.Field, b.Field) })

	params := historyParams{
		PageSize:         query.Get("pageSize"),
		Sort:             query.Get("sort"),
		LastEvaluatedKey: query.Get("lastEvaluatedKey"),
	}
	if err := h.validate.Struct(params); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return params, 0, append(details, FieldError{Message: err.Error()})
		}
		for _, fe := range verrs {
			details = append(details, FieldError{Field: fe.Field(), Message: h.fieldMessage(fe)})
		}
	}
	if params.Sort == "" {
		params.Sort = sortDescending
	}

	pageSize := h.defaultPageSize
	if params.PageSize != "" && !hasField(details, "pageSize") {
		n, err := strconv.Atoi(params.PageSize)
		if err != nil || h.validate.Var(n, fmt.Sprintf("min=1,max=%d", h.maxPageSize)) != nil {
			details = append(details, FieldError{Field: "pageSize", Message: h.pageSizeRangeMessage()})
		} else {
			pageSize = n
		}
	}
	return params, pageSize, details
}

func (h *Handler) fieldMessage(fe validator.FieldError) string {
	switch fe.Field() {
	case "pageSize":
		return "Page size must be a number"
	case "sort":
		return fmt.Sprintf("Invalid enum value. Expected 'ASC' | 'DESC', received '%v'", fe.Value())
	default:
		return fe.Error()
	}
}

func (h *Handler) pageSizeRangeMessage() string {
	return fmt.Sprintf("Page size must be between 1 and %d", h.maxPageSize)
}

func hasField(details []FieldError, field string) bool {
	return slices.ContainsFunc(details, func(d FieldError) bool { return d.Field == field })
}
