// Package mail exposes the mail-sending capability behind a narrow
// interface. The rest of the system never sees SMTP details, only which
// recipients the transport refused.
package mail

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"net/textproto"

	"golang.org/x/time/rate"
)

// Message is one outgoing email fanned out to every audience address.
type Message struct {
	From    string
	To      []string
	Subject string
	HTML    string
}

// Rejection is one recipient the transport refused, with its reason.
type Rejection struct {
	Recipient string
	Reason    string
}

// Sender delivers a message. Rejections report per-recipient refusals; a
// non-nil error means the attempt failed structurally before any
// per-recipient outcome existed.
type Sender interface {
	Send(ctx context.Context, msg Message) ([]Rejection, error)
}

// SMTPConfig carries the transport endpoint and credentials plus the
// outbound throttle most providers require.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	SendRPS  float64
	Burst    int
}

// SMTPSender sends one SMTP transaction per recipient so a refusal of one
// address never blocks the rest of the audience.
type SMTPSender struct {
	cfg      SMTPConfig
	auth     smtp.Auth
	throttle *rate.Limiter
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.SendRPS <= 0 {
		cfg.SendRPS = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &SMTPSender{
		cfg:      cfg,
		auth:     smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host),
		throttle: rate.NewLimiter(rate.Limit(cfg.SendRPS), cfg.Burst),
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) ([]Rejection, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var rejections []Rejection
	for _, recipient := range msg.To {
		if err := s.throttle.Wait(ctx); err != nil {
			return nil, err
		}

		body := buildMIME(msg.From, recipient, msg.Subject, msg.HTML)
		if err := smtp.SendMail(addr, s.auth, msg.From, []string{recipient}, body); err != nil {
			if !recipientRefusal(err) {
				return nil, fmt.Errorf("smtp %s: %w", addr, err)
			}
			rejections = append(rejections, Rejection{Recipient: recipient, Reason: err.Error()})
		}
	}

	return rejections, nil
}

// recipientRefusal reports whether the server answered inside the SMTP
// transaction with a reply code. Dial, TLS and handshake faults never
// carry one; those fail the whole attempt instead of blaming recipients.
func recipientRefusal(err error) bool {
	var reply *textproto.Error
	return errors.As(err, &reply)
}

func buildMIME(from, to, subject, html string) []byte {
	headers := "From: " + from + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=\"UTF-8\"\r\n" +
		"\r\n"
	return []byte(headers + html)
}
