// Package scheduling detects practitioner and room conflicts between bookings
// and finds open slots for a practitioner.
package scheduling

import (
	"strings"
	"time"
)

// BookingStatus mirrors the appointment status column.
type BookingStatus string

const (
	StatusBooked     BookingStatus = "booked"
	StatusConfirmed  BookingStatus = "confirmed"
	StatusInProgress BookingStatus = "in_progress"
	StatusCompleted  BookingStatus = "completed"
	StatusCancelled  BookingStatus = "cancelled"
)

// Booking is an existing appointment as the conflict checker sees it.
type Booking struct {
	ID                   string        `json:"id"`
	PatientID            string        `json:"patient_id,omitempty"`
	PatientName          string        `json:"patient_name,omitempty"`
	PractitionerID       string        `json:"practitioner_id"`
	RoomID               string        `json:"room_id,omitempty"`
	Start                time.Time     `json:"start_time"`
	End                  time.Time     `json:"end_time"`
	Status               BookingStatus `json:"status"`
	PostTreatmentMinutes int           `json:"post_treatment_minutes,omitempty"`
}

// Proposal is a booking being considered.
type Proposal struct {
	PractitionerID       string
	RoomID               string
	Start                time.Time
	End                  time.Time
	PostTreatmentMinutes int
}

// EffectiveEnd is the end time extended by the post-treatment buffer.
func (b Booking) EffectiveEnd() time.Time {
	return extend(b.End, b.PostTreatmentMinutes)
}

// IsCancelled reports whether the booking no longer holds its time.
func (b Booking) IsCancelled() bool {
	s := strings.ToLower(strings.TrimSpace(string(b.Status)))
	return s == string(StatusCancelled) || s == "canceled"
}

// EffectiveEnd is the end time extended by the post-treatment buffer.
func (p Proposal) EffectiveEnd() time.Time {
	return extend(p.End, p.PostTreatmentMinutes)
}

func extend(end time.Time, bufferMinutes int) time.Time {
	if bufferMinutes <= 0 {
		return end
	}
	return end.Add(time.Duration(bufferMinutes) * time.Minute)
}

// StaggerLookup returns the overlap allowance configured for a practitioner.
type StaggerLookup interface {
	StaggerAllowance(practitionerID string) time.Duration
}

// StaggerTable maps practitioner IDs to their stagger allowance.
type StaggerTable map[string]time.Duration

// StaggerAllowance implements StaggerLookup.
func (t StaggerTable) StaggerAllowance(practitionerID string) time.Duration {
	if t == nil {
		return 0
	}
	return t[practitionerID]
}
