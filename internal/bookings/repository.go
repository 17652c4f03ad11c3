// Package bookings reads and writes the clinic's appointment book in Postgres.
package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/medspa-sms-coordinator/internal/scheduling"
	"github.com/wolfman30/medspa-sms-coordinator/internal/treatment"
)

// ErrNotFound is returned when an appointment cannot be updated.
var ErrNotFound = errors.New("bookings: appointment not found")

// DB abstracts the pgx query interface for testing. *pgxpool.Pool and
// pgx.Tx both satisfy it.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// exclusionViolation is raised by the room overlap constraint.
const exclusionViolation = "23P01"

// Appointment is a joined appointment row with patient and practitioner names.
type Appointment struct {
	ID                   string
	PatientID            string
	PatientName          string
	PatientPhone         string
	PractitionerID       string
	PractitionerName     string
	RoomID               string
	ServiceName          string
	Start                time.Time
	End                  time.Time
	Status               string
	PostTreatmentMinutes int
}

// Duration is the booked length without the post-treatment buffer.
func (a Appointment) Duration() time.Duration {
	return a.End.Sub(a.Start)
}

// Repository provides persistence helpers for appointments and practitioners.
type Repository struct {
	db DB
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting mocks for tests.
func NewRepositoryWithDB(db DB) *Repository {
	return &Repository{db: db}
}

const appointmentColumns = `
	a.id, a.patient_id, p.name, p.phone, a.practitioner_id, COALESCE(pr.name, ''),
	COALESCE(a.room_id, ''), a.service_name, a.start_time, a.end_time, a.status,
	COALESCE(a.post_treatment_minutes, 0)`

const appointmentJoins = `
	FROM appointments a
	JOIN patients p ON p.id = a.patient_id
	LEFT JOIN practitioners pr ON pr.id = a.practitioner_id`

// PatientAppointments implements treatment.Source.
func (r *Repository) PatientAppointments(ctx context.Context, patientID string, statuses []string, since time.Time) ([]treatment.Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.patient_id, p.name, a.practitioner_id, a.service_name, a.start_time, a.end_time, a.status
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		WHERE a.patient_id = $1 AND a.status = ANY($2) AND a.end_time >= $3
		ORDER BY a.end_time DESC`, patientID, statuses, since)
	if err != nil {
		return nil, fmt.Errorf("bookings: patient appointments: %w", err)
	}
	defer rows.Close()

	var out []treatment.Appointment
	for rows.Next() {
		var a treatment.Appointment
		if err := rows.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.PractitionerID, &a.ServiceName, &a.Start, &a.End, &a.Status); err != nil {
			return nil, fmt.Errorf("bookings: scan patient appointment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: patient appointments: %w", err)
	}
	return out, nil
}

// Practitioner implements treatment.Source; unknown ids return nil, nil.
func (r *Repository) Practitioner(ctx context.Context, id string) (*treatment.Practitioner, error) {
	var p treatment.Practitioner
	err := r.db.QueryRow(ctx, `
		SELECT id, name, COALESCE(phone, ''), COALESCE(email, '')
		FROM practitioners WHERE id = $1`, id).Scan(&p.ID, &p.Name, &p.Phone, &p.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bookings: load practitioner: %w", err)
	}
	return &p, nil
}

// UpcomingForPhone returns the patient's next booked appointment, or nil.
func (r *Repository) UpcomingForPhone(ctx context.Context, phone string, now time.Time) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `SELECT`+appointmentColumns+appointmentJoins+`
		WHERE p.phone = $1 AND a.status IN ('booked', 'confirmed') AND a.start_time > $2
		ORDER BY a.start_time ASC
		LIMIT 1`, phone, now)
	a, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bookings: upcoming for phone: %w", err)
	}
	return a, nil
}

// AppointmentByID loads one appointment. It returns ErrNotFound when absent.
func (r *Repository) AppointmentByID(ctx context.Context, id string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `SELECT`+appointmentColumns+appointmentJoins+`
		WHERE a.id = $1`, id)
	a, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("bookings: appointment by id: %w", err)
	}
	return a, nil
}

// BookingsInRange returns active bookings for the practitioner or the room
// whose interval, including the post-treatment buffer, touches [from, to).
func (r *Repository) BookingsInRange(ctx context.Context, practitionerID, roomID string, from, to time.Time) ([]scheduling.Booking, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.patient_id, p.name, a.practitioner_id, COALESCE(a.room_id, ''),
			a.start_time, a.end_time, a.status, COALESCE(a.post_treatment_minutes, 0)
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		WHERE (a.practitioner_id = $1 OR ($2 <> '' AND a.room_id = $2))
			AND a.status NOT IN ('cancelled', 'canceled')
			AND a.start_time < $4
			AND a.end_time + make_interval(mins => COALESCE(a.post_treatment_minutes, 0)) > $3
		ORDER BY a.start_time ASC`, practitionerID, roomID, from, to)
	if err != nil {
		return nil, fmt.Errorf("bookings: bookings in range: %w", err)
	}
	defer rows.Close()

	var out []scheduling.Booking
	for rows.Next() {
		var b scheduling.Booking
		var status string
		if err := rows.Scan(&b.ID, &b.PatientID, &b.PatientName, &b.PractitionerID, &b.RoomID,
			&b.Start, &b.End, &status, &b.PostTreatmentMinutes); err != nil {
			return nil, fmt.Errorf("bookings: scan booking: %w", err)
		}
		b.Status = scheduling.BookingStatus(status)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: bookings in range: %w", err)
	}
	return out, nil
}

// StaggerAllowances loads every practitioner's positive stagger allowance.
func (r *Repository) StaggerAllowances(ctx context.Context) (scheduling.StaggerTable, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, stagger_minutes FROM practitioners WHERE stagger_minutes > 0`)
	if err != nil {
		return nil, fmt.Errorf("bookings: stagger allowances: %w", err)
	}
	defer rows.Close()

	table := scheduling.StaggerTable{}
	for rows.Next() {
		var id string
		var minutes int
		if err := rows.Scan(&id, &minutes); err != nil {
			return nil, fmt.Errorf("bookings: scan stagger: %w", err)
		}
		table[id] = time.Duration(minutes) * time.Minute
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: stagger allowances: %w", err)
	}
	return table, nil
}

// Reschedule moves an active appointment to a new interval.
func (r *Repository) Reschedule(ctx context.Context, appointmentID string, start, end time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET start_time = $2, end_time = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ('booked', 'confirmed')`, appointmentID, start, end)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
			return ErrSlotUnavailable
		}
		return fmt.Errorf("bookings: reschedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// WithScheduleLock runs fn inside a transaction that holds advisory locks on
// the practitioner's schedule and, when roomID is set, the room's. Callers
// touching the same practitioner or room are serialized until fn returns and
// the transaction commits. fn must use the Store it is given.
func (r *Repository) WithScheduleLock(ctx context.Context, practitionerID, roomID string, fn func(Store) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("bookings: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Practitioner before room, always, so two lockers cannot deadlock.
	keys := []string{"practitioner:" + practitionerID}
	if roomID != "" {
		keys = append(keys, "room:"+roomID)
	}
	for _, key := range keys {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return fmt.Errorf("bookings: schedule lock: %w", err)
		}
	}

	if err := fn(&Repository{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("bookings: commit tx: %w", err)
	}
	return nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	if err := row.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.PatientPhone, &a.PractitionerID, &a.PractitionerName,
		&a.RoomID, &a.ServiceName, &a.Start, &a.End, &a.Status, &a.PostTreatmentMinutes); err != nil {
		return nil, err
	}
	return &a, nil
}
