package mail

import (
	"context"
	"errors"
	"fmt"

	gomail "github.com/wneessen/go-mail"

	"github.com/nkiryanov/mycontacts/internal/logger"
)

const (
	defaultSMTPPort = 465
	defaultFromName = "Support Service"
)

type SMTPConfig struct {
	Host     string
	Port     int // 465 if not set. Implicit TLS on 465, STARTTLS otherwise
	Username string
	Password string
	From     string
	FromName string
}

type SMTPSender struct {
	client   *gomail.Client
	from     string
	fromName string
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("smtp host and from address must be set")
	}
	if cfg.Port == 0 {
		cfg.Port = defaultSMTPPort
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(cfg.Username),
		gomail.WithPassword(cfg.Password),
	}
	if cfg.Port == defaultSMTPPort {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("can't create smtp client. Err: %w", err)
	}

	return &SMTPSender{client: client, from: cfg.From, fromName: cfg.FromName}, nil
}

func (s *SMTPSender) Send(ctx context.Context, email Email) error {
	msg, err := s.message(email)
	if err != nil {
		return err
	}

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send failed. Err: %w", err)
	}
	return nil
}

func (s *SMTPSender) message(email Email) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.from); err != nil {
		return nil, fmt.Errorf("invalid from address. Err: %w", err)
	}
	if err := msg.To(email.To); err != nil {
		return nil, fmt.Errorf("invalid recipient address. Err: %w", err)
	}
	msg.Subject(email.Subject)
	msg.SetBodyString(gomail.TypeTextHTML, email.HTML)

	return msg, nil
}

// LogSender writes emails to log instead of sending
// Used when no smtp server configured
type LogSender struct {
	Logger logger.Logger
}

func (s LogSender) Send(ctx context.Context, email Email) error {
	s.Logger.Info("Email not sent, smtp is not configured", "subject", email.Subject, "body", email.HTML)
	return nil
}
