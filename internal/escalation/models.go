// Package escalation turns patient complication reports into prioritized staff alerts.
package escalation

import (
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/medspa-sms-coordinator/internal/notify"
	"github.com/wolfman30/medspa-sms-coordinator/internal/treatment"
)

// Priority ranks how urgently staff must respond.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Report is a complication described by or on behalf of a patient.
type Report struct {
	PatientID    string `json:"patient_id"`
	PatientName  string `json:"patient_name,omitempty"`
	PatientPhone string `json:"patient_phone,omitempty"`
	Description  string `json:"description"`
	// Source is where the report came from, e.g. "sms" or "staff".
	Source string `json:"source,omitempty"`
}

// Escalation is the persisted outcome of a Report.
type Escalation struct {
	ID           uuid.UUID          `json:"id"`
	PatientID    string             `json:"patient_id"`
	PatientName  string             `json:"patient_name,omitempty"`
	PatientPhone string             `json:"-"`
	Description  string             `json:"-"`
	Source       string             `json:"source,omitempty"`
	Priority     Priority           `json:"priority"`
	Category     treatment.Category `json:"category"`
	Treatment    *treatment.Record  `json:"treatment,omitempty"`
	Period       treatment.Period   `json:"period"`
	// LookupFailed is set when the treatment history could not be read.
	LookupFailed bool              `json:"lookup_failed,omitempty"`
	Deliveries   []notify.Delivery `json:"deliveries,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// DaysSince returns the days since treatment, or nil without one.
func (e *Escalation) DaysSince() *int {
	if e == nil || e.Treatment == nil {
		return nil
	}
	d := e.Treatment.DaysSince
	return &d
}

// Event is the message published for downstream alerting.
type Event struct {
	EscalationID   string             `json:"escalation_id"`
	PatientID      string             `json:"patient_id"`
	Priority       Priority           `json:"priority"`
	Category       treatment.Category `json:"category"`
	AppointmentID  string             `json:"appointment_id,omitempty"`
	PractitionerID string             `json:"practitioner_id,omitempty"`
	DaysSince      *int               `json:"days_since,omitempty"`
	Critical       bool               `json:"critical"`
	Monitoring     bool               `json:"monitoring"`
	CreatedAt      time.Time          `json:"created_at"`
}

func (e *Escalation) event() Event {
	ev := Event{
		EscalationID: e.ID.String(),
		PatientID:    e.PatientID,
		Priority:     e.Priority,
		Category:     e.Category,
		DaysSince:    e.DaysSince(),
		Critical:     e.Period.Critical,
		Monitoring:   e.Period.Monitoring,
		CreatedAt:    e.CreatedAt,
	}
	if e.Treatment != nil {
		ev.AppointmentID = e.Treatment.AppointmentID
		ev.PractitionerID = e.Treatment.PractitionerID
	}
	return ev
}
