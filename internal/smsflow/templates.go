package smsflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/medspa-sms-coordinator/internal/reschedule"
)

const (
	defaultStopAck = "You have been unsubscribed and will not receive further messages. Reply START to resubscribe."
	defaultHelpAck = "Reply RESCHEDULE to move your appointment or STOP to opt out. Msg&data rates may apply."
)

// Templates holds the reply copy. Empty fields fall back to defaults.
type Templates struct {
	ClinicName  string
	ClinicPhone string
	StopAck     string
	HelpAck     string
	Location    *time.Location
}

func (t Templates) withDefaults() Templates {
	if t.StopAck == "" {
		t.StopAck = defaultStopAck
	}
	if t.HelpAck == "" {
		t.HelpAck = defaultHelpAck
		if t.ClinicPhone != "" {
			t.HelpAck = fmt.Sprintf("Reply RESCHEDULE to move your appointment or STOP to opt out. Questions? Call %s. Msg&data rates may apply.", t.ClinicPhone)
		}
	}
	if t.Location == nil {
		t.Location = time.UTC
	}
	return t
}

func (t Templates) clinic() string {
	if t.ClinicName != "" {
		return t.ClinicName
	}
	return "the clinic"
}

func (t Templates) callLine() string {
	if t.ClinicPhone != "" {
		return " or call us at " + t.ClinicPhone
	}
	return ""
}

func (t Templates) when(ts time.Time) string {
	return ts.In(t.Location).Format("Mon Jan 2 at 3:04 PM")
}

func (t Templates) softOptOut() string {
	return fmt.Sprintf("Understood. We've paused scheduling messages. A team member from %s will confirm your preferences. Reply STOP to opt out of all texts.", t.clinic())
}

func (t Templates) offer(conv *reschedule.Conversation) string {
	var b strings.Builder
	service := conv.Appointment.ServiceName
	if service == "" {
		service = "appointment"
	}
	fmt.Fprintf(&b, "Here are openings to move your %s on %s:\n", service, t.when(conv.Appointment.OriginalStart))
	for _, s := range conv.Slots {
		fmt.Fprintf(&b, "%d) %s", s.Index, t.when(s.Start))
		if s.ProviderName != "" {
			fmt.Fprintf(&b, " with %s", s.ProviderName)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Reply with a number to choose. These hold for %s.", holdWindow(conv.ExpiresAt.Sub(conv.CreatedAt)))
	return b.String()
}

func (t Templates) confirmed(slot *reschedule.OfferedSlot) string {
	return fmt.Sprintf("You're all set for %s. See you then! Reply RESCHEDULE if you need to change it again.", t.when(slot.Start))
}

func (t Templates) slotTaken() string {
	return "Sorry, that time was just booked. Please reply with another option from the list."
}

func (t Templates) invalidSelection(conv *reschedule.Conversation) string {
	return fmt.Sprintf("Please reply with a number between 1 and %d to pick a time.", len(conv.Slots))
}

func (t Templates) noConversation() string {
	return "We don't have any open times waiting on you. Reply RESCHEDULE to see new options."
}

func (t Templates) noAppointment() string {
	return fmt.Sprintf("We couldn't find an upcoming appointment for this number. Please reply with your name%s.", t.callLine())
}

func (t Templates) noSlots() string {
	return fmt.Sprintf("We don't have any matching openings this week. A team member will reach out%s.", t.callLine())
}

func (t Templates) declined() string {
	return "No problem, your original appointment stays as booked."
}

func (t Templates) callback() string {
	return fmt.Sprintf("Thanks! Someone from %s will call you shortly.", t.clinic())
}

func (t Templates) pendingReminder(conv *reschedule.Conversation) string {
	return fmt.Sprintf("Reply with a number between 1 and %d to choose a new time, or NO to keep your current appointment.", len(conv.Slots))
}

func (t Templates) fallback() string {
	return fmt.Sprintf("Thanks for your message. Reply RESCHEDULE to move an appointment%s.", t.callLine())
}

func (t Templates) failure() string {
	return fmt.Sprintf("Sorry, something went wrong on our end. Please try again shortly%s.", t.callLine())
}

func holdWindow(d time.Duration) string {
	if d <= 0 {
		return "a short time"
	}
	if d >= time.Hour {
		h := int(d.Round(time.Hour) / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	m := int(d.Round(time.Minute) / time.Minute)
	if m <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}
