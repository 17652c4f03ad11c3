package smsflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-sms-coordinator/internal/bookings"
	"github.com/wolfman30/medspa-sms-coordinator/internal/observability/metrics"
	"github.com/wolfman30/medspa-sms-coordinator/internal/reschedule"
	"github.com/wolfman30/medspa-sms-coordinator/internal/scheduling"
	"github.com/wolfman30/medspa-sms-coordinator/pkg/logging"
)

const patientPhone = "+15551234567"

var flowNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeBookings struct {
	appt       *bookings.Appointment
	slots      []scheduling.Slot
	nextErr    error
	commitErr  error
	committed  [][2]time.Time
	slotsLimit int
}

func (f *fakeBookings) NextAppointment(context.Context, string, time.Time) (*bookings.Appointment, error) {
	return f.appt, f.nextErr
}

func (f *fakeBookings) Appointment(_ context.Context, id string) (*bookings.Appointment, error) {
	if f.appt == nil || f.appt.ID != id {
		return nil, bookings.ErrNotFound
	}
	return f.appt, nil
}

func (f *fakeBookings) CandidateSlots(_ context.Context, _ *bookings.Appointment, _ time.Time, limit int) ([]scheduling.Slot, error) {
	f.slotsLimit = limit
	if len(f.slots) > limit {
		return f.slots[:limit], nil
	}
	return f.slots, nil
}

func (f *fakeBookings) Commit(_ context.Context, _ *bookings.Appointment, start, end time.Time) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, [2]time.Time{start, end})
	return nil
}

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) SendSMS(_ context.Context, _, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, body)
	return nil
}

type auditCall struct {
	kind           string
	optOutType     string
	requiresReview bool
	appointmentID  string
}

type fakeAuditor struct {
	calls []auditCall
}

func (f *fakeAuditor) LogOptOut(_ context.Context, _, _, optOutType, _, _ string, requiresReview bool) error {
	f.calls = append(f.calls, auditCall{kind: "optout", optOutType: optOutType, requiresReview: requiresReview})
	return nil
}

func (f *fakeAuditor) LogHelpSent(context.Context, string) error {
	f.calls = append(f.calls, auditCall{kind: "help"})
	return nil
}

func (f *fakeAuditor) LogRescheduleConfirmed(_ context.Context, _, _, _, appointmentID string, _ time.Time) error {
	f.calls = append(f.calls, auditCall{kind: "reschedule", appointmentID: appointmentID})
	return nil
}

type flow struct {
	coord    *Coordinator
	registry *reschedule.Registry
	bookings *fakeBookings
	sender   *fakeSender
	auditor  *fakeAuditor
	reg      *prometheus.Registry
}

func newFlow(t *testing.T) *flow {
	t.Helper()
	now := func() time.Time { return flowNow }
	registry := reschedule.NewRegistry(reschedule.NewMemoryStore(now), reschedule.Config{Now: now}, logging.Discard())
	t.Cleanup(registry.Close)

	tomorrow := flowNow.AddDate(0, 0, 1)
	f := &flow{
		registry: registry,
		bookings: &fakeBookings{
			appt: &bookings.Appointment{
				ID:               "appt-1",
				PatientID:        "pat-1",
				PatientName:      "Ana Diaz",
				PatientPhone:     patientPhone,
				PractitionerID:   "dr-a",
				PractitionerName: "Dr. A",
				ServiceName:      "Botox",
				Start:            tomorrow.Add(2 * time.Hour),
				End:              tomorrow.Add(3 * time.Hour),
				Status:           "booked",
			},
			slots: []scheduling.Slot{
				{Start: tomorrow.Add(1 * time.Hour), End: tomorrow.Add(2 * time.Hour), PractitionerID: "dr-a"},
				{Start: tomorrow.Add(4 * time.Hour), End: tomorrow.Add(5 * time.Hour), PractitionerID: "dr-a"},
				{Start: tomorrow.Add(6 * time.Hour), End: tomorrow.Add(7 * time.Hour), PractitionerID: "dr-a"},
				{Start: tomorrow.Add(8 * time.Hour), End: tomorrow.Add(9 * time.Hour), PractitionerID: "dr-a"},
			},
		},
		sender:  &fakeSender{},
		auditor: &fakeAuditor{},
		reg:     prometheus.NewRegistry(),
	}
	f.coord = NewCoordinator(Config{
		Conversations:     registry,
		Bookings:          f.bookings,
		Sender:            f.sender,
		Auditor:           f.auditor,
		Templates:         Templates{ClinicName: "Glow Med Spa", ClinicPhone: "+15550001111"},
		Now:               now,
		MessagingMetrics:  metrics.NewMessagingMetrics(f.reg),
		ComplianceMetrics: metrics.NewComplianceMetrics(f.reg),
	}, logging.Discard())
	return f
}

func (f *flow) send(t *testing.T, body string) *Outcome {
	t.Helper()
	out, err := f.coord.HandleInbound(context.Background(), patientPhone, body)
	require.NoError(t, err)
	return out
}

func TestRescheduleRequestOffersSlots(t *testing.T) {
	f := newFlow(t)

	out := f.send(t, "Can I reschedule my appointment?")
	assert.Equal(t, ActionOffered, out.Action)
	require.NotNil(t, out.Conversation)
	assert.Len(t, out.Conversation.Slots, 3, "default offer size")
	assert.Equal(t, 3, f.bookings.slotsLimit)
	assert.Contains(t, out.Reply, "1) ")
	assert.Contains(t, out.Reply, "3) ")
	assert.Contains(t, out.Reply, "with Dr. A")
	assert.Contains(t, out.Reply, "10 minutes")
	require.Len(t, f.sender.sent, 1)

	conv := f.registry.Get(context.Background(), patientPhone)
	require.NotNil(t, conv)
	assert.Equal(t, "appt-1", conv.Appointment.ID)
	assert.Equal(t, reschedule.StatusPending, conv.Status)
}

func TestSlotSelectionCommitsAndConfirms(t *testing.T) {
	f := newFlow(t)
	f.send(t, "I need to reschedule")

	out := f.send(t, "2")
	assert.Equal(t, ActionConfirmed, out.Action)
	require.Len(t, f.bookings.committed, 1)
	assert.Equal(t, f.bookings.slots[1].Start, f.bookings.committed[0][0])
	assert.Contains(t, out.Reply, "You're all set")

	status, ok := f.registry.Status(context.Background(), patientPhone)
	require.True(t, ok)
	assert.Equal(t, reschedule.StatusConfirmed, status)
	assert.Nil(t, f.registry.Get(context.Background(), patientPhone))
	assert.Equal(t, "reschedule", f.auditor.calls[len(f.auditor.calls)-1].kind)
}

func TestSlotTakenKeepsConversationPending(t *testing.T) {
	f := newFlow(t)
	f.send(t, "reschedule please")
	f.bookings.commitErr = bookings.ErrSlotUnavailable

	out := f.send(t, "1")
	assert.Equal(t, ActionSlotTaken, out.Action)
	assert.Contains(t, out.Reply, "just booked")
	conv := f.registry.Get(context.Background(), patientPhone)
	require.NotNil(t, conv)
	assert.Equal(t, reschedule.StatusPending, conv.Status)
}

func TestInvalidAndOrphanSelections(t *testing.T) {
	f := newFlow(t)

	out := f.send(t, "2")
	assert.Equal(t, ActionNoConversation, out.Action)

	f.send(t, "reschedule")
	out = f.send(t, "5")
	assert.Equal(t, ActionInvalidSelection, out.Action)
	assert.Contains(t, out.Reply, "between 1 and 3")
	assert.Empty(t, f.bookings.committed)
}

func TestStandardOptOutCancelsConversation(t *testing.T) {
	f := newFlow(t)
	f.send(t, "reschedule")

	out := f.send(t, "STOP")
	assert.Equal(t, ActionOptOut, out.Action)
	assert.Equal(t, defaultStopAck, out.Reply)
	assert.Nil(t, f.registry.Get(context.Background(), patientPhone))
	status, ok := f.registry.Status(context.Background(), patientPhone)
	require.True(t, ok)
	assert.Equal(t, reschedule.StatusCancelled, status)

	last := f.auditor.calls[len(f.auditor.calls)-1]
	assert.Equal(t, "standard", last.optOutType)
	assert.False(t, last.requiresReview)
	assert.Equal(t, float64(1), counterTotal(t, f.reg, "medspa_compliance_optout_total"))
}

func TestOptOutWinsOverSlotSelection(t *testing.T) {
	f := newFlow(t)
	f.send(t, "reschedule")

	out := f.send(t, "stop 2")
	assert.Equal(t, ActionOptOut, out.Action)
	assert.Empty(t, f.bookings.committed)
}

func TestInformalOptOutNeedsReview(t *testing.T) {
	f := newFlow(t)
	f.send(t, "reschedule")

	out := f.send(t, "please remove me from this list")
	assert.Equal(t, ActionOptOutReview, out.Action)
	assert.Contains(t, out.Reply, "Glow Med Spa")
	assert.Nil(t, f.registry.Get(context.Background(), patientPhone))
	last := f.auditor.calls[len(f.auditor.calls)-1]
	assert.Equal(t, "informal", last.optOutType)
	assert.True(t, last.requiresReview)
}

func TestHelpReply(t *testing.T) {
	f := newFlow(t)
	out := f.send(t, "HELP")
	assert.Equal(t, ActionHelp, out.Action)
	assert.Contains(t, out.Reply, "+15550001111")
	assert.Equal(t, "help", f.auditor.calls[0].kind)
}

func TestDeclineCancelsPendingConversation(t *testing.T) {
	f := newFlow(t)
	f.send(t, "reschedule")

	out := f.send(t, "nevermind")
	assert.Equal(t, ActionDeclined, out.Action)
	assert.Nil(t, f.registry.Get(context.Background(), patientPhone))

	out = f.send(t, "nope")
	assert.Equal(t, ActionUnknown, out.Action)
}

func TestUnknownMessageRemindsPendingPatient(t *testing.T) {
	f := newFlow(t)
	out := f.send(t, "what time is it")
	assert.Equal(t, ActionUnknown, out.Action)

	f.send(t, "reschedule")
	out = f.send(t, "hmm which is best?")
	assert.Equal(t, ActionReminder, out.Action)
	assert.Contains(t, out.Reply, "between 1 and 3")
}

func TestCallRequest(t *testing.T) {
	f := newFlow(t)
	out := f.send(t, "can you call me back")
	assert.Equal(t, ActionCallback, out.Action)
}

func TestNoAppointmentOrSlots(t *testing.T) {
	f := newFlow(t)
	f.bookings.slots = nil
	out := f.send(t, "reschedule")
	assert.Equal(t, ActionNoSlots, out.Action)
	assert.Nil(t, f.registry.Get(context.Background(), patientPhone))

	f.bookings.appt = nil
	out = f.send(t, "reschedule")
	assert.Equal(t, ActionNoAppointment, out.Action)
}

func TestBookingFailureRepliesAndReturnsError(t *testing.T) {
	f := newFlow(t)
	f.bookings.nextErr = errors.New("db down")

	out, err := f.coord.HandleInbound(context.Background(), patientPhone, "reschedule")
	require.Error(t, err)
	assert.Equal(t, ActionFailed, out.Action)
	require.Len(t, f.sender.sent, 1)
	assert.Contains(t, f.sender.sent[0], "something went wrong")
}

func TestSendFailureIsNotFatal(t *testing.T) {
	f := newFlow(t)
	f.sender.err = errors.New("carrier down")

	out := f.send(t, "reschedule")
	assert.Equal(t, ActionOffered, out.Action)
}

func TestInvalidSender(t *testing.T) {
	f := newFlow(t)
	_, err := f.coord.HandleInbound(context.Background(), "not a phone", "reschedule")
	assert.ErrorIs(t, err, ErrInvalidSender)
}

func TestClampSlots(t *testing.T) {
	assert.Equal(t, 3, ClampSlots(0))
	assert.Equal(t, 1, ClampSlots(1))
	assert.Equal(t, 5, ClampSlots(9))
}

func TestHoldWindow(t *testing.T) {
	assert.Equal(t, "10 minutes", holdWindow(10*time.Minute))
	assert.Equal(t, "1 hour", holdWindow(time.Hour))
	assert.Equal(t, "a short time", holdWindow(0))
}

func counterTotal(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
