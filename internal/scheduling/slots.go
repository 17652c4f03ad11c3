package scheduling

import (
	"time"
)

// ClinicHours is the daily window slots are generated in, in the clinic's location.
type ClinicHours struct {
	OpenHour   int
	CloseHour  int
	ClosedDays []time.Weekday
	Location   *time.Location
}

func (h ClinicHours) closed(day time.Weekday) bool {
	for _, d := range h.ClosedDays {
		if d == day {
			return true
		}
	}
	return false
}

// Slot is one open interval a practitioner could take.
type Slot struct {
	Start          time.Time
	End            time.Time
	PractitionerID string
	RoomID         string
}

// SlotQuery describes the appointment being moved.
type SlotQuery struct {
	PractitionerID       string
	RoomID               string
	Duration             time.Duration
	PostTreatmentMinutes int
	// From is the earliest allowed start; nothing before it is offered.
	From      time.Time
	Days      int
	Limit     int
	ExcludeID string
	// MinGap spreads the offered slots apart so the patient sees real choices.
	MinGap time.Duration
}

// SlotFinder walks clinic hours and keeps the slots the Resolver accepts.
type SlotFinder struct {
	resolver *Resolver
	hours    ClinicHours
	step     time.Duration
}

// NewSlotFinder creates a finder. step defaults to 30 minutes.
func NewSlotFinder(resolver *Resolver, hours ClinicHours, step time.Duration) *SlotFinder {
	if resolver == nil {
		resolver = NewResolver(nil)
	}
	if step <= 0 {
		step = 30 * time.Minute
	}
	if hours.Location == nil {
		hours.Location = time.UTC
	}
	if hours.CloseHour <= hours.OpenHour {
		hours.OpenHour, hours.CloseHour = 9, 17
	}
	return &SlotFinder{resolver: resolver, hours: hours, step: step}
}

// Candidates returns up to q.Limit open slots in chronological order.
func (f *SlotFinder) Candidates(q SlotQuery, existing []Booking) []Slot {
	if q.Duration <= 0 || q.Limit <= 0 {
		return nil
	}
	days := q.Days
	if days <= 0 {
		days = 7
	}
	loc := f.hours.Location
	from := q.From.In(loc)
	firstDay := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)

	var slots []Slot
	for d := 0; d < days && len(slots) < q.Limit; d++ {
		day := firstDay.AddDate(0, 0, d)
		if f.hours.closed(day.Weekday()) {
			continue
		}
		open := time.Date(day.Year(), day.Month(), day.Day(), f.hours.OpenHour, 0, 0, 0, loc)
		closeAt := time.Date(day.Year(), day.Month(), day.Day(), f.hours.CloseHour, 0, 0, 0, loc)
		for start := open; !start.Add(q.Duration).After(closeAt); start = start.Add(f.step) {
			if start.Before(from) {
				continue
			}
			if n := len(slots); n > 0 && q.MinGap > 0 && start.Sub(slots[n-1].Start) < q.MinGap {
				continue
			}
			p := Proposal{
				PractitionerID:       q.PractitionerID,
				RoomID:               q.RoomID,
				Start:                start,
				End:                  start.Add(q.Duration),
				PostTreatmentMinutes: q.PostTreatmentMinutes,
			}
			if !f.resolver.IsAvailable(p, existing, q.ExcludeID).Available {
				continue
			}
			slots = append(slots, Slot{Start: p.Start, End: p.End, PractitionerID: q.PractitionerID, RoomID: q.RoomID})
			if len(slots) >= q.Limit {
				break
			}
		}
	}
	return slots
}
