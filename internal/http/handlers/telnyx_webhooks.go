package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/wolfman30/medspa-sms-coordinator/internal/events"
	"github.com/wolfman30/medspa-sms-coordinator/internal/messaging"
	"github.com/wolfman30/medspa-sms-coordinator/internal/messaging/telnyxclient"
	"github.com/wolfman30/medspa-sms-coordinator/internal/observability/metrics"
	"github.com/wolfman30/medspa-sms-coordinator/internal/smsflow"
	"github.com/wolfman30/medspa-sms-coordinator/pkg/logging"
)

const maxWebhookBody = 1 << 20

type signatureVerifier interface {
	VerifyWebhookSignature(timestamp, signature string, payload []byte) error
}

type inboundRouter interface {
	HandleInbound(ctx context.Context, from, body string) (*smsflow.Outcome, error)
}

// TelnyxWebhookConfig wires the inbound SMS webhook.
type TelnyxWebhookConfig struct {
	Verifier signatureVerifier
	Flow     inboundRouter
	// Processed deduplicates retried deliveries. Optional.
	Processed events.Tracker
	Metrics   *metrics.MessagingMetrics
	Logger    *logging.Logger
}

// TelnyxWebhookHandler accepts Telnyx messaging webhooks.
type TelnyxWebhookHandler struct {
	verifier  signatureVerifier
	flow      inboundRouter
	processed events.Tracker
	metrics   *metrics.MessagingMetrics
	logger    *logging.Logger
}

func NewTelnyxWebhookHandler(cfg TelnyxWebhookConfig) *TelnyxWebhookHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &TelnyxWebhookHandler{
		verifier:  cfg.Verifier,
		flow:      cfg.Flow,
		processed: cfg.Processed,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.WithComponent("telnyx_webhook"),
	}
}

// HandleMessages processes message.received events. Other event types are
// acknowledged with 204 and ignored.
func (h *TelnyxWebhookHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil || h.flow == nil {
		http.Error(w, "telnyx webhook not configured", http.StatusServiceUnavailable)
		return
	}
	start := time.Now()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.verifier.VerifyWebhookSignature(r.Header.Get("Telnyx-Timestamp"), r.Header.Get("Telnyx-Signature"), body); err != nil {
		h.logger.Warn("invalid telnyx webhook signature", "error", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	msg, err := telnyxclient.ParseInboundWebhook(body)
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if msg.EventType != telnyxclient.EventMessageReceived {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	// Claim before handling so concurrent provider retries cannot both run
	// the flow.
	if h.processed != nil && msg.EventID != "" {
		first, err := h.processed.Claim(r.Context(), "telnyx", msg.EventID)
		if err != nil {
			h.logger.Error("processed claim failed", "error", err)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		if !first {
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	out, err := h.flow.HandleInbound(r.Context(), msg.From, msg.Text)
	if errors.Is(err, smsflow.ErrInvalidSender) {
		h.logger.Warn("inbound message with unusable sender", "event_id", msg.EventID)
		http.Error(w, "invalid sender", http.StatusBadRequest)
		return
	}
	if err != nil {
		// The patient already received the failure reply; a provider retry
		// would only repeat it.
		h.logger.Error("inbound message handling failed", "error", err,
			"event_id", msg.EventID, "phone", messaging.MaskPhone(msg.From))
	}

	if h.metrics != nil {
		h.metrics.ObserveWebhookLatency(msg.EventType, time.Since(start).Seconds())
	}
	action := smsflow.ActionFailed
	if out != nil {
		action = out.Action
	}
	writeJSON(w, http.StatusOK, map[string]string{"action": string(action)})
}
