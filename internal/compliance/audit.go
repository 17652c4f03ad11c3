// Package compliance keeps the immutable audit trail for opt-outs and safety escalations.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEventType represents the type of compliance event.
type AuditEventType string

const (
	// EventOptOutStandard is logged when a carrier keyword unsubscribes a number.
	EventOptOutStandard AuditEventType = "compliance.optout_standard"
	// EventOptOutReview is logged when an informal phrase needs a human to confirm.
	EventOptOutReview AuditEventType = "compliance.optout_review"
	// EventHelpSent is logged when the HELP auto-reply goes out.
	EventHelpSent AuditEventType = "compliance.help_sent"
	// EventRescheduleConfirmed is logged when a patient moves an appointment by SMS.
	EventRescheduleConfirmed AuditEventType = "scheduling.reschedule_confirmed"
	// EventEscalationCreated is logged for every complication report.
	EventEscalationCreated AuditEventType = "safety.escalation_created"
)

// AuditEvent represents an immutable compliance audit record.
type AuditEvent struct {
	ID             string          `json:"id"`
	EventType      AuditEventType  `json:"event_type"`
	Phone          string          `json:"phone,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	PatientID      string          `json:"patient_id,omitempty"`
	Message        string          `json:"message,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AuditDetails contains event-specific details.
type AuditDetails struct {
	// Opt-out classification
	OptOutType     string `json:"optout_type,omitempty"`
	MatchedPattern string `json:"matched_pattern,omitempty"`
	Confidence     string `json:"confidence,omitempty"`
	RequiresReview bool   `json:"requires_review,omitempty"`

	// Reschedule
	AppointmentID string    `json:"appointment_id,omitempty"`
	NewStart      time.Time `json:"new_start,omitempty"`

	// Escalation
	EscalationID string   `json:"escalation_id,omitempty"`
	Priority     string   `json:"priority,omitempty"`
	Category     string   `json:"category,omitempty"`
	DaysSince    *int     `json:"days_since,omitempty"`
	Recipients   []string `json:"recipients,omitempty"`
}

// AuditService handles compliance audit logging.
type AuditService struct {
	db *sql.DB
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEvent records a compliance audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO compliance_audit_events (
			id, event_type, phone, conversation_id, patient_id,
			message, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		nullString(event.Phone),
		nullString(event.ConversationID),
		nullString(event.PatientID),
		nullString(event.Message),
		event.Details,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}

	return nil
}

// LogOptOut records an opt-out classification. Standard keywords are final;
// informal phrases are queued for review.
func (s *AuditService) LogOptOut(ctx context.Context, phone, message, optOutType, matched, confidence string, requiresReview bool) error {
	details := AuditDetails{
		OptOutType:     optOutType,
		MatchedPattern: matched,
		Confidence:     confidence,
		RequiresReview: requiresReview,
	}
	detailsJSON, _ := json.Marshal(details)

	eventType := EventOptOutStandard
	if requiresReview {
		eventType = EventOptOutReview
	}
	return s.LogEvent(ctx, AuditEvent{
		EventType: eventType,
		Phone:     phone,
		Message:   message,
		Details:   detailsJSON,
	})
}

// LogHelpSent records that the HELP reply was delivered.
func (s *AuditService) LogHelpSent(ctx context.Context, phone string) error {
	return s.LogEvent(ctx, AuditEvent{
		EventType: EventHelpSent,
		Phone:     phone,
	})
}

// LogRescheduleConfirmed records an SMS-driven appointment move.
func (s *AuditService) LogRescheduleConfirmed(ctx context.Context, phone, conversationID, patientID, appointmentID string, newStart time.Time) error {
	details := AuditDetails{
		AppointmentID: appointmentID,
		NewStart:      newStart,
	}
	detailsJSON, _ := json.Marshal(details)

	return s.LogEvent(ctx, AuditEvent{
		EventType:      EventRescheduleConfirmed,
		Phone:          phone,
		ConversationID: conversationID,
		PatientID:      patientID,
		Details:        detailsJSON,
	})
}

// LogEscalation records a complication escalation. The patient's description
// is not copied into the audit trail.
func (s *AuditService) LogEscalation(ctx context.Context, escalationID, patientID, priority, category string, daysSince *int, recipients []string) error {
	details := AuditDetails{
		EscalationID: escalationID,
		Priority:     priority,
		Category:     category,
		DaysSince:    daysSince,
		Recipients:   recipients,
	}
	detailsJSON, _ := json.Marshal(details)

	return s.LogEvent(ctx, AuditEvent{
		EventType: EventEscalationCreated,
		PatientID: patientID,
		Message:   "[REDACTED]",
		Details:   detailsJSON,
	})
}

// QueryEvents retrieves audit events with filters.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, phone, conversation_id, patient_id,
			   message, details, created_at
		FROM compliance_audit_events
		WHERE 1 = 1
	`
	var args []interface{}
	argIdx := 1

	if filter.Phone != "" {
		query += fmt.Sprintf(" AND phone = $%d", argIdx)
		args = append(args, filter.Phone)
		argIdx++
	}
	if filter.PatientID != "" {
		query += fmt.Sprintf(" AND patient_id = $%d", argIdx)
		args = append(args, filter.PatientID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var phone, convID, patientID, msg sql.NullString
		err := rows.Scan(
			&e.ID, &e.EventType, &phone, &convID, &patientID,
			&msg, &e.Details, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.Phone = phone.String
		e.ConversationID = convID.String
		e.PatientID = patientID.String
		e.Message = msg.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: failed to read audit events: %w", err)
	}

	return events, nil
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	Phone     string
	PatientID string
	EventType AuditEventType
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
