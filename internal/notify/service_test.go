package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEmailSender struct {
	sent   []EmailMessage
	failOn string // fail if To matches this
}

func (m *mockEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	if m.failOn != "" && msg.To == m.failOn {
		return errors.New("mock email error")
	}
	m.sent = append(m.sent, msg)
	return nil
}

type mockSMSSender struct {
	sent   []struct{ to, body string }
	failOn string
}

func (m *mockSMSSender) SendSMS(ctx context.Context, to, body string) error {
	if m.failOn != "" && to == m.failOn {
		return errors.New("mock SMS error")
	}
	m.sent = append(m.sent, struct{ to, body string }{to, body})
	return nil
}

func TestNotifyFansOutToAllChannels(t *testing.T) {
	email := &mockEmailSender{}
	sms := &mockSMSSender{}
	svc := NewService(email, sms, nil)

	deliveries, err := svc.Notify(context.Background(), []Recipient{
		{Role: "practitioner", Name: "Dr. Lee", Phone: "+15550001111", Email: "lee@clinic.test"},
		{Role: "medical_director", Name: "Dr. Kim", Email: "kim@clinic.test"},
	}, Alert{Subject: "Complication report", Body: "long body", SMS: "short", Urgent: true, Tags: map[string]string{"priority": "high"}})

	require.NoError(t, err)
	assert.Len(t, deliveries, 3)
	require.Len(t, sms.sent, 1)
	assert.Equal(t, "short", sms.sent[0].body)
	require.Len(t, email.sent, 2)
	assert.Equal(t, "Dr. Kim", email.sent[1].ToName)
	assert.Equal(t, "long body", email.sent[0].Body)
	assert.True(t, email.sent[0].Urgent)
	assert.Equal(t, "high", email.sent[0].Tags["priority"])
}

func TestNotifyContinuesPastFailures(t *testing.T) {
	email := &mockEmailSender{failOn: "lee@clinic.test"}
	sms := &mockSMSSender{failOn: "+15550001111"}
	svc := NewService(email, sms, nil)

	deliveries, err := svc.Notify(context.Background(), []Recipient{
		{Role: "practitioner", Phone: "+15550001111", Email: "lee@clinic.test"},
		{Role: "medical_director", Phone: "+15550002222", Email: "kim@clinic.test"},
	}, Alert{Subject: "s", Body: "b"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sms to practitioner")
	assert.Contains(t, err.Error(), "email to practitioner")
	require.Len(t, deliveries, 4)
	assert.NotEmpty(t, deliveries[0].Error)
	assert.Empty(t, deliveries[2].Error)
	assert.Len(t, sms.sent, 1)
	assert.Equal(t, "b", sms.sent[0].body, "falls back to body")
	assert.Len(t, email.sent, 1)
}

func TestNotifyWithoutSenders(t *testing.T) {
	svc := NewService(nil, nil, nil)
	deliveries, err := svc.Notify(context.Background(), []Recipient{{Role: "practitioner", Phone: "+15550001111", Email: "x@y.z"}}, Alert{Body: "b"})
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}
