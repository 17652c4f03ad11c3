package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medspa-sms-coordinator/internal/scheduling"
	"github.com/wolfman30/medspa-sms-coordinator/pkg/logging"
)

var bookingsTracer = otel.Tracer("medspa.internal.bookings")

// ErrSlotUnavailable is returned when a slot was taken after it was offered.
var ErrSlotUnavailable = errors.New("bookings: slot no longer available")

// Store is the subset of Repository the Service needs.
type Store interface {
	UpcomingForPhone(ctx context.Context, phone string, now time.Time) (*Appointment, error)
	AppointmentByID(ctx context.Context, id string) (*Appointment, error)
	BookingsInRange(ctx context.Context, practitionerID, roomID string, from, to time.Time) ([]scheduling.Booking, error)
	StaggerAllowances(ctx context.Context) (scheduling.StaggerTable, error)
	Reschedule(ctx context.Context, appointmentID string, start, end time.Time) error
	WithScheduleLock(ctx context.Context, practitionerID, roomID string, fn func(Store) error) error
}

// ServiceConfig controls slot generation.
type ServiceConfig struct {
	Hours      scheduling.ClinicHours
	Step       time.Duration
	SearchDays int
	// MinGap spreads offered slots apart.
	MinGap time.Duration
	// LeadTime keeps offers from starting too soon after the request.
	LeadTime time.Duration
}

// Service finds reschedule candidates and commits a chosen slot, checking
// conflicts against the live appointment book both times.
type Service struct {
	store  Store
	cfg    ServiceConfig
	logger *logging.Logger
}

// NewService constructs a bookings service.
func NewService(store Store, cfg ServiceConfig, logger *logging.Logger) *Service {
	if store == nil {
		panic("bookings: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.SearchDays <= 0 {
		cfg.SearchDays = 7
	}
	if cfg.Step <= 0 {
		cfg.Step = 30 * time.Minute
	}
	if cfg.LeadTime <= 0 {
		cfg.LeadTime = 2 * time.Hour
	}
	return &Service{store: store, cfg: cfg, logger: logger}
}

// NextAppointment returns the patient's next upcoming appointment, or nil.
func (s *Service) NextAppointment(ctx context.Context, phone string, now time.Time) (*Appointment, error) {
	return s.store.UpcomingForPhone(ctx, phone, now)
}

// Appointment loads an appointment by ID.
func (s *Service) Appointment(ctx context.Context, id string) (*Appointment, error) {
	return s.store.AppointmentByID(ctx, id)
}

// CandidateSlots returns up to limit open slots with the same practitioner,
// room and duration as appt.
func (s *Service) CandidateSlots(ctx context.Context, appt *Appointment, now time.Time, limit int) ([]scheduling.Slot, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.candidate_slots")
	defer span.End()
	span.SetAttributes(
		attribute.String("medspa.appointment_id", appt.ID),
		attribute.String("medspa.practitioner_id", appt.PractitionerID),
	)

	from := now.Add(s.cfg.LeadTime)
	to := from.AddDate(0, 0, s.cfg.SearchDays+1)
	resolver, existing, err := snapshot(ctx, s.store, appt, from, to)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	finder := scheduling.NewSlotFinder(resolver, s.cfg.Hours, s.cfg.Step)
	slots := finder.Candidates(scheduling.SlotQuery{
		PractitionerID:       appt.PractitionerID,
		RoomID:               appt.RoomID,
		Duration:             appt.Duration(),
		PostTreatmentMinutes: appt.PostTreatmentMinutes,
		From:                 from,
		Days:                 s.cfg.SearchDays,
		Limit:                limit,
		ExcludeID:            appt.ID,
		MinGap:               s.cfg.MinGap,
	}, existing)
	span.SetAttributes(attribute.Int("medspa.slots", len(slots)))
	return slots, nil
}

// Commit moves appt to [start, end) after re-checking for conflicts. The
// check and the update run under the schedule lock so two patients cannot
// both take the same slot.
func (s *Service) Commit(ctx context.Context, appt *Appointment, start, end time.Time) error {
	ctx, span := bookingsTracer.Start(ctx, "bookings.commit_reschedule")
	defer span.End()
	span.SetAttributes(attribute.String("medspa.appointment_id", appt.ID))

	buffer := time.Duration(appt.PostTreatmentMinutes) * time.Minute
	err := s.store.WithScheduleLock(ctx, appt.PractitionerID, appt.RoomID, func(tx Store) error {
		resolver, existing, err := snapshot(ctx, tx, appt, start.Add(-24*time.Hour), end.Add(buffer+24*time.Hour))
		if err != nil {
			return err
		}
		availability := resolver.IsAvailable(scheduling.Proposal{
			PractitionerID:       appt.PractitionerID,
			RoomID:               appt.RoomID,
			Start:                start,
			End:                  end,
			PostTreatmentMinutes: appt.PostTreatmentMinutes,
		}, existing, appt.ID)
		if !availability.Available {
			s.logger.Warn("reschedule slot taken before commit",
				"appointment_id", appt.ID,
				"start", start,
				"reason", availability.Message,
			)
			return ErrSlotUnavailable
		}
		return tx.Reschedule(ctx, appt.ID, start, end)
	})
	if err != nil {
		if !errors.Is(err, ErrSlotUnavailable) {
			span.RecordError(err)
		}
		return err
	}
	s.logger.Info("appointment rescheduled",
		"appointment_id", appt.ID,
		"practitioner_id", appt.PractitionerID,
		"previous_start", appt.Start,
		"start", start,
	)
	return nil
}

func snapshot(ctx context.Context, store Store, appt *Appointment, from, to time.Time) (*scheduling.Resolver, []scheduling.Booking, error) {
	stagger, err := store.StaggerAllowances(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("bookings: load stagger: %w", err)
	}
	existing, err := store.BookingsInRange(ctx, appt.PractitionerID, appt.RoomID, from, to)
	if err != nil {
		return nil, nil, fmt.Errorf("bookings: load schedule: %w", err)
	}
	return scheduling.NewResolver(stagger), existing, nil
}
