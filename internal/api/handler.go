// Package api exposes the generation gateway over HTTP. Generation is
// synchronous: the POST handler holds the connection until the request
// reaches a terminal state.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/imagemux/imagemux"
	"github.com/imagemux/imagemux/internal/httputil"
	"github.com/imagemux/imagemux/internal/repository"
	muxerrors "github.com/imagemux/imagemux/pkg/errors"
	"github.com/imagemux/imagemux/pkg/types"
)

// maxRequestBodyBytes caps inbound JSON payloads.
const maxRequestBodyBytes int64 = 1 * 1024 * 1024

// Handler serves the generation endpoints.
type Handler struct {
	client *imagemux.Client
	logger *slog.Logger
}

// NewHandler creates an API handler around a client.
func NewHandler(client *imagemux.Client, logger *slog.Logger) *Handler {
	return &Handler{client: client, logger: logger}
}

// RegisterRoutes attaches the generation endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/generations", h.CreateGeneration)
	mux.HandleFunc("GET /v1/generations/{id}", h.GetGeneration)
	mux.HandleFunc("GET /v1/generations", h.ListGenerations)
	mux.HandleFunc("DELETE /v1/generations/{id}", h.CancelGeneration)
	mux.HandleFunc("GET /healthz", h.Health)
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Kind: kind, Message: message}})
}

// statusForKind maps the error taxonomy onto HTTP statuses.
func statusForKind(kind muxerrors.Kind) int {
	switch kind {
	case muxerrors.KindValidation:
		return http.StatusBadRequest
	case muxerrors.KindPIIDetected, muxerrors.KindContentViolation:
		return http.StatusUnprocessableEntity
	case muxerrors.KindBudgetExceeded:
		return http.StatusPaymentRequired
	case muxerrors.KindNoEligibleProvider:
		return http.StatusServiceUnavailable
	case muxerrors.KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	case muxerrors.KindCancelled:
		return http.StatusConflict
	case muxerrors.KindProviderTimeout, muxerrors.KindProviderTransient, muxerrors.KindProviderRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CreateGeneration runs a generation request to completion and returns
// the terminal record. Non-completed terminal states carry both the
// record and the error classification.
func (h *Handler) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.ReadBody(r.Body, maxRequestBodyBytes)
	if err != nil {
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "validation_error", "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "validation_error", "failed to read request body")
		return
	}

	var req types.GenerationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid JSON payload")
		return
	}
	if req.Provider == "" {
		req.AutoSelect = true
	}

	record, genErr := h.client.Generate(r.Context(), &req)
	if genErr != nil {
		kind := muxerrors.KindOf(genErr)
		status := statusForKind(kind)
		if record == nil {
			writeError(w, status, string(kind), genErr.Error())
			return
		}
		h.logger.Info("generation ended without completion",
			"request_id", record.ID,
			"status", string(record.Status),
			"kind", string(kind),
		)
		writeJSON(w, status, struct {
			Record *imagemux.Record `json:"record"`
			Error  errorBody        `json:"error"`
		}{record, errorBody{Kind: string(kind), Message: genErr.Error()}})
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// GetGeneration returns the stored record for one request.
func (h *Handler) GetGeneration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, err := h.client.GetRecord(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no record for id "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// ListGenerations returns records matching the query filters.
func (h *Handler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.ListFilter{
		DepartmentID: q.Get("department_id"),
		UserID:       q.Get("user_id"),
		Status:       types.Status(q.Get("status")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "validation_error", "invalid limit")
			return
		}
		filter.Limit = limit
	}

	records, err := h.client.ListRecords(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if records == nil {
		records = []*imagemux.Record{}
	}
	writeJSON(w, http.StatusOK, struct {
		Records []*imagemux.Record `json:"records"`
	}{records})
}

// CancelGeneration requests cancellation of an in-flight generation.
func (h *Handler) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if h.client.Cancel(id) {
		writeJSON(w, http.StatusAccepted, struct {
			ID        string `json:"id"`
			Cancelled bool   `json:"cancelled"`
		}{id, true})
		return
	}

	// Not in flight: distinguish unknown from already terminal.
	if _, err := h.client.GetRecord(r.Context(), id); err == nil {
		writeError(w, http.StatusConflict, "cancelled", "request already terminal")
		return
	}
	writeError(w, http.StatusNotFound, "not_found", "no in-flight request with id "+id)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{"ok"})
}
