package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-sms-coordinator/internal/notify"
	"github.com/wolfman30/medspa-sms-coordinator/internal/treatment"
)

func sampleEscalation() *Escalation {
	rec := &treatment.Record{
		AppointmentID:   "appt-1",
		PractitionerID:  "pr-1",
		ServiceCategory: treatment.CategoryFiller,
		DaysSince:       2,
		PatientID:       "pat-1",
	}
	return &Escalation{
		ID:          uuid.MustParse("0b7d6a4e-1c39-4a41-9d1f-3a8e8b2f6c11"),
		PatientID:   "pat-1",
		Description: "blanching near the injection site",
		Source:      "sms",
		Priority:    PriorityHigh,
		Category:    treatment.CategoryFiller,
		Treatment:   rec,
		Period:      treatment.ClassifyPeriod(rec),
		Deliveries:  []notify.Delivery{{Role: "practitioner", Channel: "sms", To: "+15550001111"}},
		CreatedAt:   time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestSQLStoreCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db)
	e := sampleEscalation()

	mock.ExpectExec("INSERT INTO escalations").
		WithArgs(e.ID.String(), "pat-1", "high", "filler", "appt-1", "pr-1", int64(2),
			e.Description, "sms", sqlmock.AnyArg(), e.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Create(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreCreateWithoutTreatment(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e := sampleEscalation()
	e.Treatment = nil
	e.Priority = PriorityLow

	mock.ExpectExec("INSERT INTO escalations").
		WithArgs(e.ID.String(), "pat-1", "low", "filler", nil, nil, nil,
			e.Description, "sms", sqlmock.AnyArg(), e.CreatedAt).
		WillReturnError(errors.New("connection reset"))

	err = NewSQLStore(db).Create(context.Background(), e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escalation: insert")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e := sampleEscalation()
	deliveries, _ := json.Marshal(e.Deliveries)
	columns := []string{"id", "patient_id", "priority", "category", "appointment_id", "practitioner_id",
		"days_since", "description", "source", "deliveries", "created_at"}

	mock.ExpectQuery("SELECT (.+) FROM escalations").
		WithArgs(e.ID.String()).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			e.ID.String(), "pat-1", "high", "filler", "appt-1", "pr-1",
			int64(2), e.Description, "sms", deliveries, e.CreatedAt,
		))

	got, err := NewSQLStore(db).Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, got.Priority)
	require.NotNil(t, got.Treatment)
	assert.Equal(t, "appt-1", got.Treatment.AppointmentID)
	assert.True(t, got.Period.Critical)
	assert.Equal(t, e.Deliveries, got.Deliveries)

	mock.ExpectQuery("SELECT (.+) FROM escalations").
		WithArgs(e.ID.String()).
		WillReturnRows(sqlmock.NewRows(columns))
	_, err = NewSQLStore(db).Get(context.Background(), e.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type fakeSQS struct {
	input *sqs.SendMessageInput
	err   error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func TestSQSPublisherPublish(t *testing.T) {
	fake := &fakeSQS{}
	pub := NewSQSPublisher(fake, "https://sqs.us-east-1.amazonaws.com/123/escalations")
	e := sampleEscalation()

	require.NoError(t, pub.Publish(context.Background(), e))
	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/123/escalations", aws.ToString(fake.input.QueueUrl))
	assert.Equal(t, "high", aws.ToString(fake.input.MessageAttributes["priority"].StringValue))

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(fake.input.MessageBody)), &ev))
	assert.Equal(t, e.ID.String(), ev.EscalationID)
	assert.Equal(t, "appt-1", ev.AppointmentID)
	require.NotNil(t, ev.DaysSince)
	assert.Equal(t, 2, *ev.DaysSince)
	assert.True(t, ev.Critical)
	assert.NotContains(t, aws.ToString(fake.input.MessageBody), "blanching", "description stays out of the queue")

	fake.err = errors.New("throttled")
	assert.Error(t, pub.Publish(context.Background(), e))
}

func TestNewSQSPublisherPanicsWithoutQueue(t *testing.T) {
	assert.Panics(t, func() { NewSQSPublisher(&fakeSQS{}, "") })
	assert.Panics(t, func() { NewSQSPublisher(nil, "q") })
}
