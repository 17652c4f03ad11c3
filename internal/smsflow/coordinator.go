// Package smsflow routes inbound patient SMS through opt-out handling and the
// reschedule conversation.
package smsflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medspa-sms-coordinator/internal/bookings"
	"github.com/wolfman30/medspa-sms-coordinator/internal/messaging"
	"github.com/wolfman30/medspa-sms-coordinator/internal/messaging/compliance"
	"github.com/wolfman30/medspa-sms-coordinator/internal/messaging/intent"
	"github.com/wolfman30/medspa-sms-coordinator/internal/notify"
	"github.com/wolfman30/medspa-sms-coordinator/internal/observability/metrics"
	"github.com/wolfman30/medspa-sms-coordinator/internal/reschedule"
	"github.com/wolfman30/medspa-sms-coordinator/internal/scheduling"
	"github.com/wolfman30/medspa-sms-coordinator/pkg/logging"
)

var tracer = otel.Tracer("medspa.internal.smsflow")

// ErrInvalidSender is returned when the inbound number cannot be normalized.
var ErrInvalidSender = errors.New("smsflow: invalid sender number")

// Action names what the coordinator did with a message.
type Action string

const (
	ActionOptOut           Action = "opt_out"
	ActionHelp             Action = "help"
	ActionOptOutReview     Action = "opt_out_review"
	ActionOffered          Action = "slots_offered"
	ActionConfirmed        Action = "confirmed"
	ActionSlotTaken        Action = "slot_taken"
	ActionInvalidSelection Action = "invalid_selection"
	ActionNoConversation   Action = "no_conversation"
	ActionNoAppointment    Action = "no_appointment"
	ActionNoSlots          Action = "no_slots"
	ActionDeclined         Action = "declined"
	ActionCallback         Action = "callback_requested"
	ActionReminder         Action = "reminder"
	ActionUnknown          Action = "unknown"
	ActionFailed           Action = "failed"
)

// Outcome reports how one inbound message was handled.
type Outcome struct {
	Action       Action                   `json:"action"`
	Reply        string                   `json:"reply,omitempty"`
	Conversation *reschedule.Conversation `json:"conversation,omitempty"`
}

// Conversations is the registry surface the coordinator drives.
type Conversations interface {
	Start(ctx context.Context, phone string, appt reschedule.Appointment, slots []reschedule.OfferedSlot, timeout time.Duration) (*reschedule.Conversation, error)
	Get(ctx context.Context, phone string) *reschedule.Conversation
	ResolveSlot(ctx context.Context, phone string, index int) *reschedule.OfferedSlot
	Confirm(ctx context.Context, phone string) bool
	Cancel(ctx context.Context, phone string) bool
}

// Bookings finds and commits reschedule slots.
type Bookings interface {
	NextAppointment(ctx context.Context, phone string, now time.Time) (*bookings.Appointment, error)
	Appointment(ctx context.Context, id string) (*bookings.Appointment, error)
	CandidateSlots(ctx context.Context, appt *bookings.Appointment, now time.Time, limit int) ([]scheduling.Slot, error)
	Commit(ctx context.Context, appt *bookings.Appointment, start, end time.Time) error
}

// Auditor records compliance-relevant events.
type Auditor interface {
	LogOptOut(ctx context.Context, phone, message, optOutType, matched, confidence string, requiresReview bool) error
	LogHelpSent(ctx context.Context, phone string) error
	LogRescheduleConfirmed(ctx context.Context, phone, conversationID, patientID, appointmentID string, newStart time.Time) error
}

// Config wires the coordinator.
type Config struct {
	Conversations Conversations
	Bookings      Bookings
	Sender        notify.SMSSender
	Auditor       Auditor
	Detector      *compliance.Detector
	Templates     Templates
	// MaxSlots is how many options to offer, clamped to 1..5. Default 3.
	MaxSlots int
	// Timeout overrides the registry's selection window when set.
	Timeout           time.Duration
	Now               func() time.Time
	MessagingMetrics  *metrics.MessagingMetrics
	ComplianceMetrics *metrics.ComplianceMetrics
}

// Coordinator handles inbound patient SMS.
type Coordinator struct {
	cfg    Config
	tpl    Templates
	logger *logging.Logger
}

// NewCoordinator builds a Coordinator. Conversations and Bookings are required.
func NewCoordinator(cfg Config, logger *logging.Logger) *Coordinator {
	if cfg.Conversations == nil || cfg.Bookings == nil {
		panic("smsflow: conversations and bookings are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Detector == nil {
		cfg.Detector = compliance.NewDetector()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.MaxSlots = ClampSlots(cfg.MaxSlots)
	return &Coordinator{
		cfg:    cfg,
		tpl:    cfg.Templates.withDefaults(),
		logger: logger.WithComponent("smsflow"),
	}
}

// ClampSlots bounds an offer size to what a conversation can hold.
func ClampSlots(n int) int {
	switch {
	case n <= 0:
		return 3
	case n > reschedule.MaxSlots:
		return reschedule.MaxSlots
	default:
		return n
	}
}

// HandleInbound processes one message from a patient and sends the reply.
// Opt-out handling always runs before conversation handling.
func (c *Coordinator) HandleInbound(ctx context.Context, from, body string) (*Outcome, error) {
	phone := messaging.NormalizeE164(from)
	if phone == "" {
		return nil, ErrInvalidSender
	}
	ctx, span := tracer.Start(ctx, "smsflow.handle_inbound")
	defer span.End()

	out, err := c.route(ctx, phone, body)
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.String("medspa.sms.action", string(out.Action)))
	c.cfg.MessagingMetrics.ObserveInbound(string(out.Action))
	c.reply(ctx, phone, out)

	c.logger.Info("inbound sms handled",
		"phone", messaging.MaskPhone(phone),
		"action", out.Action,
	)
	return out, err
}

func (c *Coordinator) route(ctx context.Context, phone, body string) (*Outcome, error) {
	res := c.cfg.Detector.Classify(body)
	if res.Detected && res.Type == compliance.OptOutStandard {
		return c.optOut(ctx, phone, body, res), nil
	}
	if c.cfg.Detector.IsHelp(body) {
		if c.cfg.Auditor != nil {
			if err := c.cfg.Auditor.LogHelpSent(ctx, phone); err != nil {
				c.logger.Error("failed to audit help reply", "error", err)
			}
		}
		return &Outcome{Action: ActionHelp, Reply: c.tpl.HelpAck}, nil
	}
	if res.Detected && res.Type == compliance.OptOutInformal {
		return c.optOut(ctx, phone, body, res), nil
	}

	in := intent.Parse(body)
	switch in.Kind {
	case intent.KindReschedule:
		return c.offer(ctx, phone)
	case intent.KindSlotSelection:
		return c.selectSlot(ctx, phone, in.Selection)
	case intent.KindDecline:
		if c.cfg.Conversations.Cancel(ctx, phone) {
			return &Outcome{Action: ActionDeclined, Reply: c.tpl.declined()}, nil
		}
		return &Outcome{Action: ActionUnknown, Reply: c.tpl.fallback()}, nil
	case intent.KindCallRequest:
		return &Outcome{Action: ActionCallback, Reply: c.tpl.callback()}, nil
	default:
		if conv := c.cfg.Conversations.Get(ctx, phone); conv != nil {
			return &Outcome{Action: ActionReminder, Reply: c.tpl.pendingReminder(conv), Conversation: conv}, nil
		}
		return &Outcome{Action: ActionUnknown, Reply: c.tpl.fallback()}, nil
	}
}

func (c *Coordinator) optOut(ctx context.Context, phone, body string, res compliance.Result) *Outcome {
	cancelled := c.cfg.Conversations.Cancel(ctx, phone)
	c.cfg.ComplianceMetrics.ObserveOptOut(string(res.Type), string(res.Confidence))
	if c.cfg.Auditor != nil {
		if err := c.cfg.Auditor.LogOptOut(ctx, phone, body, string(res.Type), res.MatchedPattern, string(res.Confidence), res.RequiresHumanReview); err != nil {
			c.logger.Error("failed to audit opt-out", "error", err, "type", res.Type)
		}
	}
	c.logger.Info("opt-out detected",
		"phone", messaging.MaskPhone(phone),
		"type", res.Type,
		"matched", res.MatchedPattern,
		"confidence", res.Confidence,
		"conversation_cancelled", cancelled,
	)
	if res.Type == compliance.OptOutStandard {
		return &Outcome{Action: ActionOptOut, Reply: c.tpl.StopAck}
	}
	return &Outcome{Action: ActionOptOutReview, Reply: c.tpl.softOptOut()}
}

func (c *Coordinator) offer(ctx context.Context, phone string) (*Outcome, error) {
	now := c.cfg.Now()
	appt, err := c.cfg.Bookings.NextAppointment(ctx, phone, now)
	if err != nil {
		return c.failed(fmt.Errorf("smsflow: next appointment: %w", err))
	}
	if appt == nil {
		return &Outcome{Action: ActionNoAppointment, Reply: c.tpl.noAppointment()}, nil
	}

	slots, err := c.cfg.Bookings.CandidateSlots(ctx, appt, now, c.cfg.MaxSlots)
	if err != nil {
		return c.failed(fmt.Errorf("smsflow: candidate slots: %w", err))
	}
	if len(slots) == 0 {
		c.logger.Warn("no reschedule slots available", "appointment_id", appt.ID)
		return &Outcome{Action: ActionNoSlots, Reply: c.tpl.noSlots()}, nil
	}

	offered := make([]reschedule.OfferedSlot, 0, len(slots))
	for _, s := range slots {
		offered = append(offered, reschedule.OfferedSlot{
			Start:        s.Start,
			End:          s.End,
			ProviderID:   s.PractitionerID,
			ProviderName: appt.PractitionerName,
			RoomID:       s.RoomID,
		})
	}
	conv, err := c.cfg.Conversations.Start(ctx, phone, reschedule.Appointment{
		ID:            appt.ID,
		PatientID:     appt.PatientID,
		PatientName:   appt.PatientName,
		OriginalStart: appt.Start,
		ServiceName:   appt.ServiceName,
		ProviderID:    appt.PractitionerID,
		ProviderName:  appt.PractitionerName,
	}, offered, c.cfg.Timeout)
	if err != nil {
		return c.failed(fmt.Errorf("smsflow: start conversation: %w", err))
	}
	return &Outcome{Action: ActionOffered, Reply: c.tpl.offer(conv), Conversation: conv}, nil
}

func (c *Coordinator) selectSlot(ctx context.Context, phone string, index int) (*Outcome, error) {
	conv := c.cfg.Conversations.Get(ctx, phone)
	if conv == nil {
		return &Outcome{Action: ActionNoConversation, Reply: c.tpl.noConversation()}, nil
	}
	slot := c.cfg.Conversations.ResolveSlot(ctx, phone, index)
	if slot == nil {
		return &Outcome{Action: ActionInvalidSelection, Reply: c.tpl.invalidSelection(conv), Conversation: conv}, nil
	}

	appt, err := c.cfg.Bookings.Appointment(ctx, conv.Appointment.ID)
	if err != nil {
		return c.failed(fmt.Errorf("smsflow: load appointment: %w", err))
	}
	if err := c.cfg.Bookings.Commit(ctx, appt, slot.Start, slot.End); err != nil {
		if errors.Is(err, bookings.ErrSlotUnavailable) {
			return &Outcome{Action: ActionSlotTaken, Reply: c.tpl.slotTaken(), Conversation: conv}, nil
		}
		return c.failed(fmt.Errorf("smsflow: commit reschedule: %w", err))
	}

	if !c.cfg.Conversations.Confirm(ctx, phone) {
		// The appointment already moved; the conversation closed underneath us.
		c.logger.Warn("conversation closed before confirm",
			"conversation_id", conv.ID.String(),
			"appointment_id", appt.ID,
		)
	}
	if c.cfg.Auditor != nil {
		if err := c.cfg.Auditor.LogRescheduleConfirmed(ctx, phone, conv.ID.String(), conv.Appointment.PatientID, appt.ID, slot.Start); err != nil {
			c.logger.Error("failed to audit reschedule", "error", err)
		}
	}
	conv.Status = reschedule.StatusConfirmed
	return &Outcome{Action: ActionConfirmed, Reply: c.tpl.confirmed(slot), Conversation: conv}, nil
}

func (c *Coordinator) failed(err error) (*Outcome, error) {
	c.logger.Error("inbound sms handling failed", "error", err)
	return &Outcome{Action: ActionFailed, Reply: c.tpl.failure()}, err
}

func (c *Coordinator) reply(ctx context.Context, phone string, out *Outcome) {
	if c.cfg.Sender == nil || strings.TrimSpace(out.Reply) == "" {
		return
	}
	if err := c.cfg.Sender.SendSMS(ctx, phone, out.Reply); err != nil {
		c.cfg.MessagingMetrics.ObserveOutbound("failed")
		c.logger.Error("failed to send sms reply", "error", err, "action", out.Action)
		return
	}
	c.cfg.MessagingMetrics.ObserveOutbound("sent")
}
