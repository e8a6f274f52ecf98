// Package mailer sends the weekly report over SMTP.
package mailer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/joshdurbin/strava-weekly/internal/apperr"
	"github.com/joshdurbin/strava-weekly/internal/config"
	"github.com/joshdurbin/strava-weekly/internal/logging"
	"github.com/wneessen/go-mail"
)

const sendTimeout = 30 * time.Second

// Security is how the connection to the SMTP server is protected
type Security int

const (
	// SecurityNone sends in the clear
	SecurityNone Security = iota
	// SecuritySTARTTLS upgrades a plain connection and refuses to continue without TLS
	SecuritySTARTTLS
	// SecurityImplicitTLS connects over TLS from the first byte
	SecurityImplicitTLS
)

func (s Security) String() string {
	switch s {
	case SecuritySTARTTLS:
		return "starttls"
	case SecurityImplicitTLS:
		return "tls"
	default:
		return "none"
	}
}

// SecurityForPort picks the transport security by the submission port convention
func SecurityForPort(port int) Security {
	switch port {
	case 587:
		return SecuritySTARTTLS
	case 465:
		return SecurityImplicitTLS
	default:
		return SecurityNone
	}
}

// SMTPSender delivers plain-text mail with PLAIN authentication
type SMTPSender struct {
	cfg config.SMTP
}

// NewSMTPSender creates a sender. Settings are checked on Send, not here.
func NewSMTPSender(cfg config.SMTP) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send validates the settings, then delivers one UTF-8 text/plain message.
// Missing settings fail before any connection is made.
func (s *SMTPSender) Send(ctx context.Context, subject, body string) error {
	log := logging.Logger

	if err := config.Validate(s.cfg); err != nil {
		return err
	}
	port, err := strconv.Atoi(s.cfg.Port)
	if err != nil {
		return apperr.NewInvalidConfigError("SMTP_PORT", err)
	}

	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return apperr.NewInvalidConfigError("FROM_EMAIL", err)
	}
	if err := msg.To(s.cfg.To); err != nil {
		return apperr.NewInvalidConfigError("TO_EMAIL", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	security := SecurityForPort(port)
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithUsername(s.cfg.User),
		mail.WithPassword(s.cfg.Password),
		mail.WithTimeout(sendTimeout),
	}
	switch security {
	case SecuritySTARTTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory), mail.WithSMTPAuth(mail.SMTPAuthPlain))
	case SecurityImplicitTLS:
		opts = append(opts, mail.WithSSL(), mail.WithSMTPAuth(mail.SMTPAuthPlain))
	default:
		// SMTPAuthPlain refuses a cleartext connection to anything but localhost
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS), mail.WithSMTPAuth(mail.SMTPAuthPlainNoEnc))
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}

	log.Debug().
		Str("host", s.cfg.Host).
		Int("port", port).
		Str("security", security.String()).
		Msg("sending mail")

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return apperr.WrapUpstream(fmt.Sprintf("smtp send via %s:%d", s.cfg.Host, port), err)
	}
	return nil
}
