package escalation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/medspa-sms-coordinator/internal/notify"
	"github.com/wolfman30/medspa-sms-coordinator/internal/observability/metrics"
	"github.com/wolfman30/medspa-sms-coordinator/internal/treatment"
	"github.com/wolfman30/medspa-sms-coordinator/pkg/logging"
)

var tracer = otel.Tracer("medspa.internal.escalation")

// ErrInvalidReport is returned when a report lacks a patient or description.
var ErrInvalidReport = errors.New("escalation: patient_id and description are required")

// TreatmentFinder resolves a patient's most recent treatment.
type TreatmentFinder interface {
	FindMostRecentTreatment(ctx context.Context, patientID string, opts *treatment.Options) (*treatment.Record, error)
}

// Store persists escalations.
type Store interface {
	Create(ctx context.Context, e *Escalation) error
}

// Publisher hands escalations to downstream alerting.
type Publisher interface {
	Publish(ctx context.Context, e *Escalation) error
}

// Notifier delivers alerts to staff.
type Notifier interface {
	Notify(ctx context.Context, recipients []notify.Recipient, alert notify.Alert) ([]notify.Delivery, error)
}

// Auditor records escalations in the compliance trail.
type Auditor interface {
	LogEscalation(ctx context.Context, escalationID, patientID, priority, category string, daysSince *int, recipients []string) error
}

// Config wires optional collaborators. Only Treatments is required.
type Config struct {
	Treatments      TreatmentFinder
	Store           Store
	Publisher       Publisher
	Notifier        Notifier
	Auditor         Auditor
	Metrics         *metrics.EscalationMetrics
	MedicalDirector notify.Recipient
	ClinicName      string
	Now             func() time.Time
}

// Service creates escalations from complication reports.
type Service struct {
	cfg    Config
	logger *logging.Logger
}

// NewService creates an escalation service.
func NewService(cfg Config, logger *logging.Logger) *Service {
	if cfg.Treatments == nil {
		panic("escalation: treatment finder required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MedicalDirector.Role == "" {
		cfg.MedicalDirector.Role = "medical_director"
	}
	return &Service{cfg: cfg, logger: logger.WithComponent("escalation")}
}

// Report prioritizes a complication report, alerts staff and records it.
// Delivery, persistence and publishing failures are logged; the escalation is
// still returned so the caller can acknowledge the patient.
func (s *Service) Report(ctx context.Context, r Report) (*Escalation, error) {
	ctx, span := tracer.Start(ctx, "escalation.report")
	defer span.End()

	r.PatientID = strings.TrimSpace(r.PatientID)
	r.Description = strings.TrimSpace(r.Description)
	if r.PatientID == "" || r.Description == "" {
		span.SetStatus(codes.Error, "invalid report")
		return nil, ErrInvalidReport
	}

	e := &Escalation{
		ID:           uuid.New(),
		PatientID:    r.PatientID,
		PatientName:  r.PatientName,
		PatientPhone: r.PatientPhone,
		Description:  r.Description,
		Source:       r.Source,
		Category:     treatment.CategoryGeneral,
		CreatedAt:    s.cfg.Now().UTC(),
	}

	rec, err := s.cfg.Treatments.FindMostRecentTreatment(ctx, r.PatientID, nil)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("treatment lookup failed, escalating without history",
			"escalation_id", e.ID, "patient_id", r.PatientID, "error", err)
		e.LookupFailed = true
	}
	if rec != nil {
		e.Treatment = rec
		e.Category = rec.ServiceCategory
		e.Period = treatment.ClassifyPeriod(rec)
		if e.PatientName == "" {
			e.PatientName = rec.PatientName
		}
	}
	e.Priority = prioritize(e)

	span.SetAttributes(
		attribute.String("medspa.escalation.id", e.ID.String()),
		attribute.String("medspa.escalation.priority", string(e.Priority)),
		attribute.String("medspa.escalation.category", string(e.Category)),
		attribute.Bool("medspa.escalation.lookup_failed", e.LookupFailed),
	)

	recipients := s.recipients(e)
	if s.cfg.Notifier != nil && len(recipients) > 0 {
		deliveries, err := s.cfg.Notifier.Notify(ctx, recipients, renderAlert(e, s.cfg.ClinicName))
		e.Deliveries = deliveries
		if err != nil {
			span.RecordError(err)
			s.logger.Error("escalation alert delivery incomplete", "escalation_id", e.ID, "error", err)
		}
		for _, d := range deliveries {
			if d.Error != "" {
				s.cfg.Metrics.ObserveNotifyError(d.Channel)
			}
		}
	}
	if len(recipients) == 0 {
		s.logger.Warn("escalation has no reachable recipients", "escalation_id", e.ID)
	}

	if s.cfg.Store != nil {
		if err := s.cfg.Store.Create(ctx, e); err != nil {
			span.RecordError(err)
			s.logger.Error("failed to persist escalation", "escalation_id", e.ID, "error", err)
		}
	}
	if s.cfg.Publisher != nil {
		if err := s.cfg.Publisher.Publish(ctx, e); err != nil {
			span.RecordError(err)
			s.logger.Error("failed to publish escalation", "escalation_id", e.ID, "error", err)
		}
	}
	if s.cfg.Auditor != nil {
		roles := make([]string, 0, len(recipients))
		for _, rc := range recipients {
			roles = append(roles, rc.Role)
		}
		if err := s.cfg.Auditor.LogEscalation(ctx, e.ID.String(), e.PatientID, string(e.Priority), string(e.Category), e.DaysSince(), roles); err != nil {
			s.logger.Error("failed to audit escalation", "escalation_id", e.ID, "error", err)
		}
	}

	s.cfg.Metrics.ObserveAlert(string(e.Priority), string(e.Category))
	s.logger.Info("escalation created",
		"escalation_id", e.ID,
		"patient_id", e.PatientID,
		"priority", e.Priority,
		"category", e.Category,
		"deliveries", len(e.Deliveries),
	)
	return e, nil
}

// prioritize maps the treatment period onto a priority. A failed lookup is
// treated as medium so the report still reaches the medical director.
func prioritize(e *Escalation) Priority {
	switch {
	case e.Period.Critical:
		return PriorityHigh
	case e.Period.Monitoring:
		return PriorityMedium
	case e.LookupFailed:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

func (s *Service) recipients(e *Escalation) []notify.Recipient {
	var out []notify.Recipient
	practitionerReachable := false
	if t := e.Treatment; t != nil && (t.PractitionerPhone != "" || t.PractitionerEmail != "") {
		out = append(out, notify.Recipient{
			Role:  "practitioner",
			Name:  t.PractitionerName,
			Phone: t.PractitionerPhone,
			Email: t.PractitionerEmail,
		})
		practitionerReachable = true
	}
	director := s.cfg.MedicalDirector
	directorReachable := director.Phone != "" || director.Email != ""
	if directorReachable && (e.Priority == PriorityHigh || e.LookupFailed || !practitionerReachable) {
		out = append(out, director)
	}
	return out
}
