// Package treatment answers "what was this patient last treated with, by whom,
// and how long ago?" for complication routing.
package treatment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/medspa-sms-coordinator/pkg/logging"
)

const (
	// CriticalDays is the window in which most complications manifest.
	CriticalDays = 3
	// MonitoringDays is the window in which a complication is still attributed to the treatment.
	MonitoringDays = 14
	// UnknownProvider substitutes for a practitioner that cannot be joined.
	UnknownProvider = "Unknown Provider"
)

// DefaultStatuses are the appointment states that count as "treated".
var DefaultStatuses = []string{"completed", "in_progress"}

// Appointment is the slice of an appointment row the lookup needs.
type Appointment struct {
	ID             string
	PatientID      string
	PatientName    string
	PractitionerID string
	ServiceName    string
	Start          time.Time
	End            time.Time
	Status         string
}

// Practitioner is the contact card used for escalation.
type Practitioner struct {
	ID    string
	Name  string
	Phone string
	Email string
}

// Source reads appointments and practitioners. Practitioner returns nil, nil
// when the id is unknown.
type Source interface {
	PatientAppointments(ctx context.Context, patientID string, statuses []string, since time.Time) ([]Appointment, error)
	Practitioner(ctx context.Context, id string) (*Practitioner, error)
}

// Record describes one qualifying treatment. It is derived on every query and never stored.
type Record struct {
	AppointmentID     string    `json:"appointment_id"`
	ServiceName       string    `json:"service_name"`
	ServiceCategory   Category  `json:"service_category"`
	PractitionerID    string    `json:"practitioner_id"`
	PractitionerName  string    `json:"practitioner_name"`
	PractitionerPhone string    `json:"practitioner_phone,omitempty"`
	PractitionerEmail string    `json:"practitioner_email,omitempty"`
	Date              time.Time `json:"date"`
	DaysSince         int       `json:"days_since"`
	PatientID         string    `json:"patient_id"`
	PatientName       string    `json:"patient_name"`
}

// Period says which safety windows a treatment falls in. Critical implies Monitoring.
type Period struct {
	Critical   bool `json:"critical"`
	Monitoring bool `json:"monitoring"`
}

// ClassifyPeriod places a record in the safety-monitoring windows.
func ClassifyPeriod(r *Record) Period {
	if r == nil || r.DaysSince < 0 {
		return Period{}
	}
	return Period{
		Critical:   r.DaysSince <= CriticalDays,
		Monitoring: r.DaysSince <= MonitoringDays,
	}
}

// Options narrows a single query. Zero values fall back to the Lookup defaults.
type Options struct {
	LookbackDays int
	Statuses     []string
}

// Config holds the lookup defaults.
type Config struct {
	MostRecentDays int
	AllRecentDays  int
	Statuses       []string
	Now            func() time.Time
}

// Lookup runs treatment queries against a Source.
type Lookup struct {
	source Source
	cfg    Config
	logger *logging.Logger
}

// NewLookup creates a Lookup. Defaults: 14 days for the most recent treatment,
// 30 days for all recent treatments, completed and in-progress statuses.
func NewLookup(source Source, cfg Config, logger *logging.Logger) *Lookup {
	if source == nil {
		panic("treatment: source required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.MostRecentDays <= 0 {
		cfg.MostRecentDays = 14
	}
	if cfg.AllRecentDays <= 0 {
		cfg.AllRecentDays = 30
	}
	if len(cfg.Statuses) == 0 {
		cfg.Statuses = DefaultStatuses
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Lookup{source: source, cfg: cfg, logger: logger}
}

// FindMostRecentTreatment returns the latest qualifying treatment, or nil when none qualifies.
func (l *Lookup) FindMostRecentTreatment(ctx context.Context, patientID string, opts *Options) (*Record, error) {
	records, err := l.find(ctx, patientID, opts, l.cfg.MostRecentDays, 1)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &records[0], nil
}

// FindAllRecentTreatments returns every qualifying treatment, newest first.
func (l *Lookup) FindAllRecentTreatments(ctx context.Context, patientID string, opts *Options) ([]Record, error) {
	return l.find(ctx, patientID, opts, l.cfg.AllRecentDays, 0)
}

func (l *Lookup) find(ctx context.Context, patientID string, opts *Options, defaultDays, limit int) ([]Record, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, nil
	}
	days := defaultDays
	statuses := l.cfg.Statuses
	if opts != nil {
		if opts.LookbackDays > 0 {
			days = opts.LookbackDays
		}
		if len(opts.Statuses) > 0 {
			statuses = opts.Statuses
		}
	}

	now := l.cfg.Now()
	since := now.AddDate(0, 0, -days)
	appts, err := l.source.PatientAppointments(ctx, patientID, statuses, since)
	if err != nil {
		return nil, fmt.Errorf("treatment: load appointments: %w", err)
	}

	allowed := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		allowed[strings.ToLower(s)] = struct{}{}
	}
	qualifying := make([]Appointment, 0, len(appts))
	for _, a := range appts {
		if a.PatientID != "" && a.PatientID != patientID {
			continue
		}
		if _, ok := allowed[strings.ToLower(a.Status)]; !ok {
			continue
		}
		// In-progress treatments usually end in the future and still count;
		// appointments that have not started do not.
		if a.End.Before(since) || a.Start.After(now) {
			continue
		}
		qualifying = append(qualifying, a)
	}
	sort.SliceStable(qualifying, func(i, j int) bool {
		return qualifying[i].End.After(qualifying[j].End)
	})
	if limit > 0 && len(qualifying) > limit {
		qualifying = qualifying[:limit]
	}

	records := make([]Record, 0, len(qualifying))
	cache := make(map[string]*Practitioner)
	for _, a := range qualifying {
		records = append(records, l.toRecord(ctx, a, now, cache))
	}
	return records, nil
}

// daysSince floors elapsed whole days, clamped to 0 for a treatment still running.
func daysSince(now, end time.Time) int {
	if end.After(now) {
		return 0
	}
	return int(now.Sub(end) / (24 * time.Hour))
}

func (l *Lookup) toRecord(ctx context.Context, a Appointment, now time.Time, cache map[string]*Practitioner) Record {
	rec := Record{
		AppointmentID:    a.ID,
		ServiceName:      a.ServiceName,
		ServiceCategory:  CategorizeService(a.ServiceName),
		PractitionerID:   a.PractitionerID,
		PractitionerName: UnknownProvider,
		Date:             a.End,
		DaysSince:        daysSince(now, a.End),
		PatientID:        a.PatientID,
		PatientName:      a.PatientName,
	}

	p, cached := cache[a.PractitionerID]
	if !cached && a.PractitionerID != "" {
		var err error
		p, err = l.source.Practitioner(ctx, a.PractitionerID)
		if err != nil {
			l.logger.Warn("treatment: practitioner lookup failed", "practitioner_id", a.PractitionerID, "error", err)
			p = nil
		}
		cache[a.PractitionerID] = p
	}
	if p == nil {
		l.logger.Warn("treatment: practitioner missing, using placeholder",
			"appointment_id", a.ID, "practitioner_id", a.PractitionerID)
		return rec
	}
	if name := strings.TrimSpace(p.Name); name != "" {
		rec.PractitionerName = name
	}
	rec.PractitionerPhone = p.Phone
	rec.PractitionerEmail = p.Email
	return rec
}
