package reschedule

import (
	"time"

	"github.com/google/uuid"
)

// Status is the state of a reschedule conversation.
type Status string

const (
	StatusPending   Status = "pending_selection"
	StatusConfirmed Status = "confirmed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusExpired || s == StatusCancelled
}

// removes reports whether entering s deletes the active record.
func (s Status) removes() bool {
	return s == StatusExpired || s == StatusCancelled
}

// MaxSlots is the most options a single conversation may offer.
const MaxSlots = 5

// OfferedSlot is one option presented to the patient. Index is what they reply with.
type OfferedSlot struct {
	Index        int       `json:"index"`
	Start        time.Time `json:"start_time"`
	End          time.Time `json:"end_time"`
	ProviderID   string    `json:"provider_id"`
	ProviderName string    `json:"provider_name"`
	RoomID       string    `json:"room_id,omitempty"`
}

// Appointment is the immutable snapshot of the appointment being moved.
type Appointment struct {
	ID            string    `json:"appointment_id"`
	PatientID     string    `json:"patient_id"`
	PatientName   string    `json:"patient_name"`
	OriginalStart time.Time `json:"original_start_time"`
	ServiceName   string    `json:"service_name"`
	ProviderID    string    `json:"provider_id"`
	ProviderName  string    `json:"provider_name"`
}

// Conversation is a single negotiation with one phone number.
type Conversation struct {
	ID          uuid.UUID     `json:"id"`
	Phone       string        `json:"phone_number"`
	Appointment Appointment   `json:"appointment"`
	Slots       []OfferedSlot `json:"offered_slots"`
	Status      Status        `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// Slot returns the offered slot with the given index, or nil.
func (c *Conversation) Slot(index int) *OfferedSlot {
	if c == nil {
		return nil
	}
	for i := range c.Slots {
		if c.Slots[i].Index == index {
			s := c.Slots[i]
			return &s
		}
	}
	return nil
}

func (c *Conversation) clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Slots = append([]OfferedSlot(nil), c.Slots...)
	return &out
}
