package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "medspa"

// MessagingMetrics exposes counters/histograms for the SMS webhook and outbound sends.
type MessagingMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "inbound_total",
			Help:      "Total inbound SMS handled, by resulting action",
		}, []string{"action"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Total outbound SMS sends",
		}, []string{"status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of inbound SMS webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
	}
	reg = registerer(reg)
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.webhookLatency)
	return m
}

func (m *MessagingMetrics) ObserveInbound(action string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(action).Inc()
}

func (m *MessagingMetrics) ObserveOutbound(status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status).Inc()
}

func (m *MessagingMetrics) ObserveWebhookLatency(eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(eventType).Observe(seconds)
}

// RescheduleMetrics tracks the reschedule conversation lifecycle.
type RescheduleMetrics struct {
	conversations *prometheus.CounterVec
	active        prometheus.Gauge
}

func NewRescheduleMetrics(reg prometheus.Registerer) *RescheduleMetrics {
	m := &RescheduleMetrics{
		conversations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reschedule",
			Name:      "conversations_total",
			Help:      "Reschedule conversations by lifecycle outcome",
		}, []string{"outcome"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reschedule",
			Name:      "active_conversations",
			Help:      "Conversations currently awaiting a slot selection in this process",
		}),
	}
	reg = registerer(reg)
	reg.MustRegister(m.conversations, m.active)
	return m
}

// ObserveOutcome counts a lifecycle event (started, confirmed, cancelled, expired).
func (m *RescheduleMetrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.conversations.WithLabelValues(outcome).Inc()
}

func (m *RescheduleMetrics) IncActive() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *RescheduleMetrics) DecActive() {
	if m == nil {
		return
	}
	m.active.Dec()
}

// ComplianceMetrics counts opt-out classifications.
type ComplianceMetrics struct {
	optOuts *prometheus.CounterVec
}

func NewComplianceMetrics(reg prometheus.Registerer) *ComplianceMetrics {
	m := &ComplianceMetrics{
		optOuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compliance",
			Name:      "optout_total",
			Help:      "Detected opt-out messages by type and confidence",
		}, []string{"type", "confidence"}),
	}
	reg = registerer(reg)
	reg.MustRegister(m.optOuts)
	return m
}

func (m *ComplianceMetrics) ObserveOptOut(optOutType, confidence string) {
	if m == nil {
		return
	}
	m.optOuts.WithLabelValues(optOutType, confidence).Inc()
}

// EscalationMetrics counts complication alerts.
type EscalationMetrics struct {
	alerts       *prometheus.CounterVec
	notifyErrors *prometheus.CounterVec
}

func NewEscalationMetrics(reg prometheus.Registerer) *EscalationMetrics {
	m := &EscalationMetrics{
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "alerts_total",
			Help:      "Complication escalations by priority and service category",
		}, []string{"priority", "category"}),
		notifyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "notify_errors_total",
			Help:      "Failed escalation notifications by channel",
		}, []string{"channel"}),
	}
	reg = registerer(reg)
	reg.MustRegister(m.alerts, m.notifyErrors)
	return m
}

func (m *EscalationMetrics) ObserveAlert(priority, category string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(priority, category).Inc()
}

func (m *EscalationMetrics) ObserveNotifyError(channel string) {
	if m == nil {
		return
	}
	m.notifyErrors.WithLabelValues(channel).Inc()
}

func registerer(reg prometheus.Registerer) prometheus.Registerer {
	if reg == nil {
		return prometheus.DefaultRegisterer
	}
	return reg
}
