package escalation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfman30/medspa-sms-coordinator/internal/treatment"
)

// ErrNotFound is returned when an escalation does not exist.
var ErrNotFound = errors.New("escalation: not found")

// SQLStore persists escalations to PostgreSQL.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store on an open database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Create inserts an escalation row.
func (s *SQLStore) Create(ctx context.Context, e *Escalation) error {
	var appointmentID, practitionerID sql.NullString
	var daysSince sql.NullInt64
	if e.Treatment != nil {
		appointmentID = sql.NullString{String: e.Treatment.AppointmentID, Valid: e.Treatment.AppointmentID != ""}
		practitionerID = sql.NullString{String: e.Treatment.PractitionerID, Valid: e.Treatment.PractitionerID != ""}
		daysSince = sql.NullInt64{Int64: int64(e.Treatment.DaysSince), Valid: true}
	}
	deliveries, err := json.Marshal(e.Deliveries)
	if err != nil {
		return fmt.Errorf("escalation: marshal deliveries: %w", err)
	}

	query := `
		INSERT INTO escalations (
			id, patient_id, priority, category, appointment_id, practitioner_id,
			days_since, description, source, deliveries, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.db.ExecContext(ctx, query,
		e.ID.String(),
		e.PatientID,
		string(e.Priority),
		string(e.Category),
		appointmentID,
		practitionerID,
		daysSince,
		e.Description,
		e.Source,
		deliveries,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("escalation: insert: %w", err)
	}
	return nil
}

// Get loads an escalation by ID.
func (s *SQLStore) Get(ctx context.Context, id uuid.UUID) (*Escalation, error) {
	query := `
		SELECT id, patient_id, priority, category, appointment_id, practitioner_id,
		       days_since, description, source, deliveries, created_at
		FROM escalations
		WHERE id = $1
	`
	var (
		e              Escalation
		rawID          string
		priority       string
		category       string
		appointmentID  sql.NullString
		practitionerID sql.NullString
		daysSince      sql.NullInt64
		source         sql.NullString
		deliveries     []byte
	)
	err := s.db.QueryRowContext(ctx, query, id.String()).Scan(
		&rawID, &e.PatientID, &priority, &category, &appointmentID, &practitionerID,
		&daysSince, &e.Description, &source, &deliveries, &e.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("escalation: get: %w", err)
	}
	e.ID, err = uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("escalation: parse id: %w", err)
	}
	e.Priority = Priority(priority)
	e.Category = treatment.Category(category)
	e.Source = source.String
	if appointmentID.Valid || daysSince.Valid {
		e.Treatment = &treatment.Record{
			AppointmentID:   appointmentID.String,
			PractitionerID:  practitionerID.String,
			ServiceCategory: e.Category,
			DaysSince:       int(daysSince.Int64),
			PatientID:       e.PatientID,
		}
		e.Period = treatment.ClassifyPeriod(e.Treatment)
	}
	if len(deliveries) > 0 {
		if err := json.Unmarshal(deliveries, &e.Deliveries); err != nil {
			return nil, fmt.Errorf("escalation: decode deliveries: %w", err)
		}
	}
	return &e, nil
}
