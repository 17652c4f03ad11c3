package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wolfman30/medspa-sms-coordinator/internal/messaging/telnyxclient"
	"github.com/wolfman30/medspa-sms-coordinator/internal/smsflow"
	"github.com/wolfman30/medspa-sms-coordinator/pkg/logging"
)

const webhookSecret = "whsec_test"

type stubFlow struct {
	from, body string
	calls      int
	out        *smsflow.Outcome
	err        error
}

func (s *stubFlow) HandleInbound(_ context.Context, from, body string) (*smsflow.Outcome, error) {
	s.calls++
	s.from, s.body = from, body
	return s.out, s.err
}

type stubProcessedTracker struct {
	mu       sync.Mutex
	seen     map[string]bool
	claimErr error
	claimed  []string
}

func (s *stubProcessedTracker) Claim(_ context.Context, _, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return false, s.claimErr
	}
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	if s.seen[eventID] {
		return false, nil
	}
	s.seen[eventID] = true
	s.claimed = append(s.claimed, eventID)
	return true, nil
}

func inboundPayload(eventType, text string) []byte {
	return []byte(`{"data":{"id":"evt-1","event_type":"` + eventType + `","occurred_at":"2026-03-02T15:00:00Z",` +
		`"payload":{"id":"msg-1","text":"` + text + `","from":{"phone_number":"+15551234567"},"to":[{"phone_number":"+15559998888"}]}}}`)
}

func newWebhookHandler(t *testing.T, flow *stubFlow, processed *stubProcessedTracker) *TelnyxWebhookHandler {
	t.Helper()
	client, err := telnyxclient.New(telnyxclient.Config{APIKey: "key", WebhookSecret: webhookSecret, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("telnyx client: %v", err)
	}
	cfg := TelnyxWebhookConfig{Verifier: client, Flow: flow, Logger: logging.Discard()}
	if processed != nil {
		cfg.Processed = processed
	}
	return NewTelnyxWebhookHandler(cfg)
}

func signedRequest(body []byte, secret string) *http.Request {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/telnyx/messages", bytes.NewReader(body))
	req.Header.Set("Telnyx-Timestamp", ts)
	req.Header.Set("Telnyx-Signature", telnyxclient.Sign(secret, ts, body))
	return req
}

func TestTelnyxInboundRoutesToFlow(t *testing.T) {
	flow := &stubFlow{out: &smsflow.Outcome{Action: smsflow.ActionOffered}}
	processed := &stubProcessedTracker{}
	handler := newWebhookHandler(t, flow, processed)

	rec := httptest.NewRecorder()
	handler.HandleMessages(rec, signedRequest(inboundPayload("message.received", "reschedule please"), webhookSecret))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if flow.from != "+15551234567" || flow.body != "reschedule please" {
		t.Fatalf("unexpected flow input %q %q", flow.from, flow.body)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"slots_offered"`)) {
		t.Fatalf("expected action in body, got %s", rec.Body.String())
	}
	if len(processed.claimed) != 1 || processed.claimed[0] != "evt-1" {
		t.Fatalf("expected event claimed, got %v", processed.claimed)
	}
}

func TestTelnyxInboundRejectsBadSignature(t *testing.T) {
	flow := &stubFlow{}
	handler := newWebhookHandler(t, flow, nil)

	rec := httptest.NewRecorder()
	handler.HandleMessages(rec, signedRequest(inboundPayload("message.received", "STOP"), "wrong-secret"))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if flow.calls != 0 {
		t.Fatalf("flow should not run on bad signature")
	}
}

func TestTelnyxInboundSkipsDuplicates(t *testing.T) {
	flow := &stubFlow{}
	processed := &stubProcessedTracker{seen: map[string]bool{"evt-1": true}}
	handler := newWebhookHandler(t, flow, processed)

	rec := httptest.NewRecorder()
	handler.HandleMessages(rec, signedRequest(inboundPayload("message.received", "1"), webhookSecret))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if flow.calls != 0 {
		t.Fatalf("duplicate delivery should not reach the flow")
	}
}

func TestTelnyxInboundConcurrentRetriesRunFlowOnce(t *testing.T) {
	flow := &countingFlow{}
	client, err := telnyxclient.New(telnyxclient.Config{APIKey: "key", WebhookSecret: webhookSecret, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("telnyx client: %v", err)
	}
	handler := NewTelnyxWebhookHandler(TelnyxWebhookConfig{
		Verifier:  client,
		Flow:      flow,
		Processed: &stubProcessedTracker{},
		Logger:    logging.Discard(),
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			handler.HandleMessages(rec, signedRequest(inboundPayload("message.received", "2"), webhookSecret))
		}()
	}
	wg.Wait()
	if n := atomic.LoadInt32(&flow.calls); n != 1 {
		t.Fatalf("expected the flow to run once, ran %d times", n)
	}
}

type countingFlow struct {
	calls int32
}

func (c *countingFlow) HandleInbound(context.Context, string, string) (*smsflow.Outcome, error) {
	atomic.AddInt32(&c.calls, 1)
	time.Sleep(10 * time.Millisecond)
	return &smsflow.Outcome{Action: smsflow.ActionConfirmed}, nil
}

func TestTelnyxInboundProcessedClaimFailure(t *testing.T) {
	handler := newWebhookHandler(t, &stubFlow{}, &stubProcessedTracker{claimErr: errors.New("db down")})

	rec := httptest.NewRecorder()
	handler.HandleMessages(rec, signedRequest(inboundPayload("message.received", "1"), webhookSecret))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestTelnyxIgnoresOtherEvents(t *testing.T) {
	flow := &stubFlow{}
	handler := newWebhookHandler(t, flow, nil)

	rec := httptest.NewRecorder()
	handler.HandleMessages(rec, signedRequest(inboundPayload("message.finalized", ""), webhookSecret))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if flow.calls != 0 {
		t.Fatalf("flow should not run for delivery events")
	}
}

func TestTelnyxInvalidSenderIsBadRequest(t *testing.T) {
	handler := newWebhookHandler(t, &stubFlow{err: smsflow.ErrInvalidSender}, nil)

	rec := httptest.NewRecorder()
	handler.HandleMessages(rec, signedRequest(inboundPayload("message.received", "hi"), webhookSecret))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTelnyxFlowFailureStillAcknowledges(t *testing.T) {
	processed := &stubProcessedTracker{}
	flow := &stubFlow{out: &smsflow.Outcome{Action: smsflow.ActionFailed}, err: errors.New("commit failed")}
	handler := newWebhookHandler(t, flow, processed)

	rec := httptest.NewRecorder()
	handler.HandleMessages(rec, signedRequest(inboundPayload("message.received", "2"), webhookSecret))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(processed.claimed) != 1 {
		t.Fatalf("expected failed event to stay claimed so retries do not re-reply")
	}
}

func TestTelnyxMalformedPayload(t *testing.T) {
	handler := newWebhookHandler(t, &stubFlow{}, nil)

	rec := httptest.NewRecorder()
	handler.HandleMessages(rec, signedRequest([]byte(`{"data":{}}`), webhookSecret))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTelnyxUnconfigured(t *testing.T) {
	handler := NewTelnyxWebhookHandler(TelnyxWebhookConfig{})
	rec := httptest.NewRecorder()
	handler.HandleMessages(rec, httptest.NewRequest(http.MethodPost, "/webhooks/telnyx/messages", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
