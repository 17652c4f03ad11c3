package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/medspa-sms-coordinator/internal/escalation"
	"github.com/wolfman30/medspa-sms-coordinator/pkg/logging"
)

type complicationReporter interface {
	Report(ctx context.Context, r escalation.Report) (*escalation.Escalation, error)
}

type escalationReader interface {
	Get(ctx context.Context, id uuid.UUID) (*escalation.Escalation, error)
}

// ComplicationHandler accepts complication reports and serves stored escalations.
type ComplicationHandler struct {
	reporter complicationReporter
	store    escalationReader
	logger   *logging.Logger
}

// NewComplicationHandler builds the handler. store may be nil when
// escalations are not persisted.
func NewComplicationHandler(reporter complicationReporter, store escalationReader, logger *logging.Logger) *ComplicationHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ComplicationHandler{reporter: reporter, store: store, logger: logger}
}

type complicationAck struct {
	ID       uuid.UUID           `json:"id"`
	Priority escalation.Priority `json:"priority"`
}

// Create handles POST /admin/complications. Only the escalation id and
// priority are returned; the record itself is read through Get.
func (h *ComplicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req escalation.Report
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}
	e, err := h.reporter.Report(r.Context(), req)
	if err != nil {
		if errors.Is(err, escalation.ErrInvalidReport) {
			jsonError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("complication report failed", "error", err, "patient_id", req.PatientID)
		jsonError(w, http.StatusInternalServerError, "failed to record complication")
		return
	}
	writeJSON(w, http.StatusCreated, complicationAck{ID: e.ID, Priority: e.Priority})
}

// Get handles GET /admin/escalations/{id}.
func (h *ComplicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		jsonError(w, http.StatusServiceUnavailable, "escalation store not configured")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid escalation id")
		return
	}
	e, err := h.store.Get(r.Context(), id)
	if errors.Is(err, escalation.ErrNotFound) {
		jsonError(w, http.StatusNotFound, "escalation not found")
		return
	}
	if err != nil {
		h.logger.Error("load escalation failed", "error", err, "escalation_id", id.String())
		jsonError(w, http.StatusInternalServerError, "failed to load escalation")
		return
	}
	writeJSON(w, http.StatusOK, e)
}
