package telnyxclient

import (
	"context"
	"fmt"
)

// Messenger is the part of Client used by Sender.
type Messenger interface {
	SendMessage(ctx context.Context, req SendMessageRequest) (*MessageResponse, error)
}

// Sender sends plain SMS from a fixed clinic number.
type Sender struct {
	client    Messenger
	from      string
	profileID string
}

// NewSender binds a messenger to the clinic's sending number.
func NewSender(client Messenger, from, profileID string) *Sender {
	return &Sender{client: client, from: from, profileID: profileID}
}

// SendSMS sends body to the given number.
func (s *Sender) SendSMS(ctx context.Context, to, body string) error {
	_, err := s.client.SendMessage(ctx, SendMessageRequest{
		From:               s.from,
		To:                 to,
		Body:               body,
		MessagingProfileID: s.profileID,
	})
	if err != nil {
		return fmt.Errorf("telnyxclient: send sms: %w", err)
	}
	return nil
}
