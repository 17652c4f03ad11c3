package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/medspa-sms-coordinator/pkg/logging"
)

// SMSSender sends SMS messages to staff and patients.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Recipient is a person to reach on every channel they have an address for.
type Recipient struct {
	Role  string
	Name  string
	Phone string
	Email string
}

// Alert is one notification rendered for both channels.
type Alert struct {
	Subject string
	Body    string
	HTML    string
	// SMS is the short form; Body is used when empty.
	SMS    string
	Urgent bool
	Tags   map[string]string
}

// Delivery records one attempted send.
type Delivery struct {
	Role    string `json:"role"`
	Channel string `json:"channel"`
	To      string `json:"to"`
	Error   string `json:"error,omitempty"`
}

// Service fans a single alert out to staff over SMS and email.
type Service struct {
	email  EmailSender
	sms    SMSSender
	logger *logging.Logger
}

// NewService creates a notification service. Either sender may be nil.
func NewService(email EmailSender, sms SMSSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:  email,
		sms:    sms,
		logger: logger,
	}
}

// Notify sends alert to every recipient. A failed channel does not stop the
// others; all failures are joined into the returned error.
func (s *Service) Notify(ctx context.Context, recipients []Recipient, alert Alert) ([]Delivery, error) {
	smsBody := alert.SMS
	if smsBody == "" {
		smsBody = alert.Body
	}

	var deliveries []Delivery
	var errs []error
	for _, r := range recipients {
		if phone := strings.TrimSpace(r.Phone); phone != "" && s.sms != nil {
			d := Delivery{Role: r.Role, Channel: "sms", To: phone}
			if err := s.sms.SendSMS(ctx, phone, smsBody); err != nil {
				s.logger.Error("notify: failed to send SMS", "error", err, "role", r.Role)
				d.Error = err.Error()
				errs = append(errs, fmt.Errorf("notify: sms to %s: %w", r.Role, err))
			}
			deliveries = append(deliveries, d)
		}
		if addr := strings.TrimSpace(r.Email); addr != "" && s.email != nil {
			d := Delivery{Role: r.Role, Channel: "email", To: addr}
			err := s.email.Send(ctx, EmailMessage{
				To:      addr,
				ToName:  r.Name,
				Subject: alert.Subject,
				Body:    alert.Body,
				HTML:    alert.HTML,
				Urgent:  alert.Urgent,
				Tags:    alert.Tags,
			})
			if err != nil {
				s.logger.Error("notify: failed to send email", "error", err, "role", r.Role)
				d.Error = err.Error()
				errs = append(errs, fmt.Errorf("notify: email to %s: %w", r.Role, err))
			}
			deliveries = append(deliveries, d)
		}
	}
	return deliveries, errors.Join(errs...)
}
