package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/medspa-sms-coordinator/internal/compliance"
	"github.com/wolfman30/medspa-sms-coordinator/internal/http/middleware"
	"github.com/wolfman30/medspa-sms-coordinator/internal/messaging"
	"github.com/wolfman30/medspa-sms-coordinator/internal/reschedule"
	"github.com/wolfman30/medspa-sms-coordinator/pkg/logging"
)

type conversationAdmin interface {
	Get(ctx context.Context, phone string) *reschedule.Conversation
	Cancel(ctx context.Context, phone string) bool
	Status(ctx context.Context, phone string) (reschedule.Status, bool)
}

type auditQuerier interface {
	QueryEvents(ctx context.Context, filter compliance.AuditFilter) ([]compliance.AuditEvent, error)
}

// AdminHandler serves the staff-facing conversation and audit endpoints.
type AdminHandler struct {
	conversations conversationAdmin
	audit         auditQuerier
	logger        *logging.Logger
}

func NewAdminHandler(conversations conversationAdmin, audit auditQuerier, logger *logging.Logger) *AdminHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{conversations: conversations, audit: audit, logger: logger}
}

func phoneParam(r *http.Request) string {
	return messaging.NormalizeE164(chi.URLParam(r, "phone"))
}

// GetConversation returns the pending conversation for a phone number.
// GET /admin/conversations/{phone}
func (h *AdminHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	phone := phoneParam(r)
	if phone == "" {
		jsonError(w, http.StatusBadRequest, "invalid phone number")
		return
	}
	conv := h.conversations.Get(r.Context(), phone)
	if conv == nil {
		jsonError(w, http.StatusNotFound, "no active conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// CancelConversation cancels a pending conversation.
// POST /admin/conversations/{phone}/cancel
func (h *AdminHandler) CancelConversation(w http.ResponseWriter, r *http.Request) {
	phone := phoneParam(r)
	if phone == "" {
		jsonError(w, http.StatusBadRequest, "invalid phone number")
		return
	}
	if !h.conversations.Cancel(r.Context(), phone) {
		jsonError(w, http.StatusNotFound, "no active conversation")
		return
	}
	h.logger.Info("conversation cancelled by admin",
		"phone", messaging.MaskPhone(phone),
		"admin", middleware.AdminSubject(r.Context()),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(reschedule.StatusCancelled)})
}

// ConversationStatus reports the last known status, including terminal ones.
// GET /admin/conversations/{phone}/status
func (h *AdminHandler) ConversationStatus(w http.ResponseWriter, r *http.Request) {
	phone := phoneParam(r)
	if phone == "" {
		jsonError(w, http.StatusBadRequest, "invalid phone number")
		return
	}
	status, ok := h.conversations.Status(r.Context(), phone)
	if !ok {
		jsonError(w, http.StatusNotFound, "no conversation on record")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"phone": phone, "status": string(status)})
}

// ListAuditEvents queries the compliance audit trail.
// GET /admin/audit?phone=&patient_id=&event_type=&since=&until=&limit=&offset=
func (h *AdminHandler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		jsonError(w, http.StatusServiceUnavailable, "audit trail not configured")
		return
	}
	q := r.URL.Query()
	filter := compliance.AuditFilter{
		PatientID: q.Get("patient_id"),
		EventType: compliance.AuditEventType(q.Get("event_type")),
	}
	if raw := q.Get("phone"); raw != "" {
		filter.Phone = messaging.NormalizeE164(raw)
		if filter.Phone == "" {
			jsonError(w, http.StatusBadRequest, "invalid phone number")
			return
		}
	}
	var err error
	if filter.StartTime, err = parseTimeParam(q.Get("since")); err != nil {
		jsonError(w, http.StatusBadRequest, "since must be RFC3339")
		return
	}
	if filter.EndTime, err = parseTimeParam(q.Get("until")); err != nil {
		jsonError(w, http.StatusBadRequest, "until must be RFC3339")
		return
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	events, err := h.audit.QueryEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("audit query failed", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to query audit events")
		return
	}
	if events == nil {
		events = []compliance.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
