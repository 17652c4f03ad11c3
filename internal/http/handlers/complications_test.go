package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-sms-coordinator/internal/escalation"
	"github.com/wolfman30/medspa-sms-coordinator/internal/treatment"
	"github.com/wolfman30/medspa-sms-coordinator/pkg/logging"
)

type stubReporter struct {
	got escalation.Report
	err error
}

func (s *stubReporter) Report(_ context.Context, r escalation.Report) (*escalation.Escalation, error) {
	s.got = r
	if s.err != nil {
		return nil, s.err
	}
	return &escalation.Escalation{
		ID:          uuid.New(),
		PatientID:   r.PatientID,
		Description: r.Description,
		Priority:    escalation.PriorityHigh,
		Category:    treatment.CategoryNeurotoxin,
	}, nil
}

type stubEscalationStore struct {
	e   *escalation.Escalation
	err error
}

func (s *stubEscalationStore) Get(_ context.Context, id uuid.UUID) (*escalation.Escalation, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.e == nil || s.e.ID != id {
		return nil, escalation.ErrNotFound
	}
	return s.e, nil
}

func TestComplicationCreate(t *testing.T) {
	reporter := &stubReporter{}
	h := NewComplicationHandler(reporter, nil, logging.Discard())

	req := httptest.NewRequest(http.MethodPost, "/admin/complications",
		strings.NewReader(`{"patient_id":"pat-1","patient_phone":"+15551234567","description":"eyelid drooping"}`))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "api", reporter.got.Source)
	assert.Equal(t, "pat-1", reporter.got.PatientID)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body, 2)
	assert.Equal(t, "high", body["priority"])
	assert.NotEmpty(t, body["id"])
	assert.NotContains(t, rec.Body.String(), "pat-1")
	assert.NotContains(t, rec.Body.String(), "eyelid")
}

func TestComplicationCreateValidation(t *testing.T) {
	h := NewComplicationHandler(&stubReporter{err: escalation.ErrInvalidReport}, nil, logging.Discard())

	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/admin/complications", strings.NewReader(`{"patient_id":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/admin/complications", strings.NewReader(`{"unknown":1}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestComplicationCreateFailure(t *testing.T) {
	h := NewComplicationHandler(&stubReporter{err: errors.New("boom")}, nil, logging.Discard())
	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/admin/complications", strings.NewReader(`{"patient_id":"p","description":"d"}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestEscalationGet(t *testing.T) {
	stored := &escalation.Escalation{ID: uuid.New(), PatientID: "pat-1", Priority: escalation.PriorityMedium}
	h := NewComplicationHandler(&stubReporter{}, &stubEscalationStore{e: stored}, logging.Discard())
	r := chi.NewRouter()
	r.Get("/admin/escalations/{id}", h.Get)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/escalations/"+stored.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"priority":"medium"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/escalations/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/escalations/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEscalationGetWithoutStore(t *testing.T) {
	h := NewComplicationHandler(&stubReporter{}, nil, logging.Discard())
	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/admin/escalations/x", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
