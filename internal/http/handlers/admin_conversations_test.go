package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-sms-coordinator/internal/compliance"
	"github.com/wolfman30/medspa-sms-coordinator/internal/reschedule"
	"github.com/wolfman30/medspa-sms-coordinator/pkg/logging"
)

type stubConversations struct {
	conv      *reschedule.Conversation
	status    reschedule.Status
	cancelled []string
}

func (s *stubConversations) Get(_ context.Context, phone string) *reschedule.Conversation {
	if s.conv != nil && s.conv.Phone == phone {
		return s.conv
	}
	return nil
}

func (s *stubConversations) Cancel(_ context.Context, phone string) bool {
	if s.conv == nil || s.conv.Phone != phone {
		return false
	}
	s.cancelled = append(s.cancelled, phone)
	return true
}

func (s *stubConversations) Status(_ context.Context, phone string) (reschedule.Status, bool) {
	if s.status == "" || s.conv == nil || s.conv.Phone != phone {
		return "", false
	}
	return s.status, true
}

type stubAudit struct {
	filter compliance.AuditFilter
	events []compliance.AuditEvent
	err    error
}

func (s *stubAudit) QueryEvents(_ context.Context, f compliance.AuditFilter) ([]compliance.AuditEvent, error) {
	s.filter = f
	return s.events, s.err
}

func adminRouter(h *AdminHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/admin/conversations/{phone}", h.GetConversation)
	r.Post("/admin/conversations/{phone}/cancel", h.CancelConversation)
	r.Get("/admin/conversations/{phone}/status", h.ConversationStatus)
	r.Get("/admin/audit", h.ListAuditEvents)
	return r
}

func pendingConversation() *reschedule.Conversation {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return &reschedule.Conversation{
		ID:        uuid.New(),
		Phone:     "+15551234567",
		Status:    reschedule.StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}
}

func TestAdminGetConversation(t *testing.T) {
	convs := &stubConversations{conv: pendingConversation()}
	router := adminRouter(NewAdminHandler(convs, nil, logging.Discard()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/conversations/5551234567", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"pending_selection"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/conversations/5550000000", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/conversations/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminCancelConversation(t *testing.T) {
	convs := &stubConversations{conv: pendingConversation()}
	router := adminRouter(NewAdminHandler(convs, nil, logging.Discard()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/conversations/+15551234567/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"+15551234567"}, convs.cancelled)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/conversations/5550000000/cancel", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminConversationStatus(t *testing.T) {
	convs := &stubConversations{conv: pendingConversation(), status: reschedule.StatusExpired}
	router := adminRouter(NewAdminHandler(convs, nil, logging.Discard()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/conversations/5551234567/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"expired"`)

	convs.status = ""
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/conversations/5551234567/status", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminListAuditEvents(t *testing.T) {
	audit := &stubAudit{events: []compliance.AuditEvent{{ID: "a-1", EventType: compliance.EventOptOutStandard}}}
	router := adminRouter(NewAdminHandler(&stubConversations{}, audit, logging.Discard()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/admin/audit?phone=5551234567&event_type=compliance.optout_standard&since=2026-03-01T00:00:00Z&limit=9999", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "+15551234567", audit.filter.Phone)
	assert.Equal(t, compliance.EventOptOutStandard, audit.filter.EventType)
	assert.Equal(t, 100, audit.filter.Limit)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), audit.filter.StartTime)
	assert.Contains(t, rec.Body.String(), `"count":1`)
}

func TestAdminListAuditEventsErrors(t *testing.T) {
	audit := &stubAudit{}
	router := adminRouter(NewAdminHandler(&stubConversations{}, audit, logging.Discard()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/audit?since=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/audit", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"events":[]`)

	audit.err = errors.New("db down")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/audit", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	router = adminRouter(NewAdminHandler(&stubConversations{}, nil, logging.Discard()))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/audit", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
