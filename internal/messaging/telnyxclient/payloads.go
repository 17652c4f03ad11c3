package telnyxclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventMessageReceived is the webhook event type for inbound SMS.
const EventMessageReceived = "message.received"

// SendMessageRequest describes an outbound SMS payload.
type SendMessageRequest struct {
	From               string
	To                 string
	Body               string
	MessagingProfileID string
}

func (r SendMessageRequest) validate() error {
	if strings.TrimSpace(r.From) == "" || strings.TrimSpace(r.To) == "" {
		return errors.New("telnyxclient: from and to numbers required")
	}
	if strings.TrimSpace(r.Body) == "" {
		return errors.New("telnyxclient: body required")
	}
	return nil
}

// MessageResponse represents the Telnyx message resource.
type MessageResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Direction string    `json:"direction"`
	Parts     int       `json:"parts"`
}

// InboundMessage is the flattened form of a message.received webhook.
type InboundMessage struct {
	EventID    string
	EventType  string
	MessageID  string
	From       string
	To         string
	Text       string
	OccurredAt time.Time
}

type webhookEnvelope struct {
	Data struct {
		ID         string    `json:"id"`
		EventType  string    `json:"event_type"`
		OccurredAt time.Time `json:"occurred_at"`
		Payload    struct {
			ID   string `json:"id"`
			Text string `json:"text"`
			From struct {
				PhoneNumber string `json:"phone_number"`
			} `json:"from"`
			To []struct {
				PhoneNumber string `json:"phone_number"`
			} `json:"to"`
		} `json:"payload"`
	} `json:"data"`
}

// ParseInboundWebhook decodes a Telnyx webhook body.
func ParseInboundWebhook(body []byte) (*InboundMessage, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("telnyxclient: decode webhook: %w", err)
	}
	msg := &InboundMessage{
		EventID:    env.Data.ID,
		EventType:  env.Data.EventType,
		MessageID:  env.Data.Payload.ID,
		From:       env.Data.Payload.From.PhoneNumber,
		Text:       env.Data.Payload.Text,
		OccurredAt: env.Data.OccurredAt,
	}
	if len(env.Data.Payload.To) > 0 {
		msg.To = env.Data.Payload.To[0].PhoneNumber
	}
	if msg.EventType == "" {
		return nil, errors.New("telnyxclient: webhook missing event_type")
	}
	return msg, nil
}
