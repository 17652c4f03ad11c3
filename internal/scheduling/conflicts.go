package scheduling

import (
	"fmt"
	"strings"
	"time"
)

// Availability is the answer to "can this proposal be booked?".
type Availability struct {
	Available bool
	Conflicts []Booking
	Message   string
}

// Resolver finds bookings that collide with a proposal. It is stateless apart
// from the stagger allowances and safe for concurrent use.
type Resolver struct {
	stagger StaggerLookup
}

// NewResolver creates a resolver. A nil lookup means no practitioner may stagger.
func NewResolver(stagger StaggerLookup) *Resolver {
	if stagger == nil {
		stagger = StaggerTable(nil)
	}
	return &Resolver{stagger: stagger}
}

// Overlaps reports whether [s1,e1) and [s2,e2) share an instant. Touching endpoints do not overlap.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// FindConflicts returns the existing bookings that collide with p. Cancelled
// bookings and the booking with ID excludeID are ignored. A booking is returned
// at most once even if it violates both the practitioner and room rules.
func (r *Resolver) FindConflicts(p Proposal, existing []Booking, excludeID string) []Booking {
	var conflicts []Booking
	seen := make(map[string]struct{})
	for _, b := range existing {
		if b.IsCancelled() {
			continue
		}
		if excludeID != "" && b.ID == excludeID {
			continue
		}
		if !Overlaps(p.Start, p.EffectiveEnd(), b.Start, b.EffectiveEnd()) {
			continue
		}
		if !r.practitionerConflict(p, b) && !roomConflict(p, b) {
			continue
		}
		if b.ID != "" {
			if _, dup := seen[b.ID]; dup {
				continue
			}
			seen[b.ID] = struct{}{}
		}
		conflicts = append(conflicts, b)
	}
	return conflicts
}

// IsAvailable checks both rules and explains any conflict.
func (r *Resolver) IsAvailable(p Proposal, existing []Booking, excludeID string) Availability {
	conflicts := r.FindConflicts(p, existing, excludeID)
	if len(conflicts) == 0 {
		return Availability{Available: true, Message: "Time slot is available"}
	}
	var rooms []Booking
	for _, b := range conflicts {
		if roomConflict(p, b) {
			rooms = append(rooms, b)
		}
	}
	if strings.TrimSpace(p.RoomID) != "" && len(rooms) > 0 {
		return Availability{Conflicts: conflicts, Message: roomMessage(p.RoomID, rooms)}
	}
	return Availability{Conflicts: conflicts, Message: "Time conflict with " + describe(conflicts)}
}

// IsRoomAvailable checks only whether the room is free for the proposal's interval.
func (r *Resolver) IsRoomAvailable(p Proposal, existing []Booking, excludeID string) Availability {
	if strings.TrimSpace(p.RoomID) == "" {
		return Availability{Available: true, Message: "No room requested"}
	}
	var conflicts []Booking
	for _, b := range r.FindConflicts(p, existing, excludeID) {
		if roomConflict(p, b) {
			conflicts = append(conflicts, b)
		}
	}
	if len(conflicts) == 0 {
		return Availability{Available: true, Message: "Room is available"}
	}
	return Availability{Conflicts: conflicts, Message: roomMessage(p.RoomID, conflicts)}
}

// practitionerConflict applies the same-practitioner rule with the stagger exception.
// A missing room on either side is treated as a conflict.
func (r *Resolver) practitionerConflict(p Proposal, b Booking) bool {
	if p.PractitionerID == "" || p.PractitionerID != b.PractitionerID {
		return false
	}
	if r.stagger.StaggerAllowance(p.PractitionerID) <= 0 {
		return true
	}
	pr, br := strings.TrimSpace(p.RoomID), strings.TrimSpace(b.RoomID)
	if pr == "" || br == "" || pr == br {
		return true
	}
	return false
}

func roomConflict(p Proposal, b Booking) bool {
	pr, br := strings.TrimSpace(p.RoomID), strings.TrimSpace(b.RoomID)
	return pr != "" && pr == br
}

func roomMessage(roomID string, conflicts []Booking) string {
	return fmt.Sprintf("Room conflict: room %s is already booked for %s", roomID, describe(conflicts))
}

func describe(conflicts []Booking) string {
	parts := make([]string, 0, len(conflicts))
	for _, b := range conflicts {
		name := strings.TrimSpace(b.PatientName)
		if name == "" {
			name = "another patient"
		}
		parts = append(parts, fmt.Sprintf("%s at %s-%s", name, b.Start.Format("Jan 2 3:04 PM"), b.End.Format("3:04 PM")))
	}
	return strings.Join(parts, "; ")
}
