package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const smtpTimeout = 30 * time.Second

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTP struct {
	cfg SMTPConfig
	log zerolog.Logger
}

func NewSMTP(c SMTPConfig, log zerolog.Logger) *SMTP {
	return &SMTP{cfg: c, log: log}
}

// Send delivers one message. Auth is only attempted after STARTTLS, except on
// the local relay ports 25 and 1025.
func (s *SMTP) Send(ctx context.Context, m Message) error {
	if strings.ContainsAny(m.To, "\r\n") || strings.ContainsAny(m.Subject, "\r\n") {
		return errors.New("header injection in mail message")
	}
	ctx, cancel := context.WithTimeout(ctx, smtpTimeout)
	defer cancel()
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	dialer := net.Dialer{Timeout: smtpTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrap(err, "connecting to SMTP server")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "creating SMTP client")
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return errors.Wrap(err, "STARTTLS")
		}
	} else if s.cfg.Port != 25 && s.cfg.Port != 1025 {
		return fmt.Errorf("STARTTLS not available on port %d", s.cfg.Port)
	}
	if s.cfg.Username != "" && s.cfg.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return errors.Wrap(err, "SMTP authentication")
		}
	}
	if err := client.Mail(s.cfg.From); err != nil {
		return errors.Wrap(err, "SMTP MAIL command")
	}
	if err := client.Rcpt(m.To); err != nil {
		return errors.Wrap(err, "SMTP RCPT command")
	}
	wc, err := client.Data()
	if err != nil {
		return errors.Wrap(err, "SMTP DATA command")
	}
	if _, err := wc.Write([]byte(s.buildMessage(m))); err != nil {
		wc.Close()
		return errors.Wrap(err, "writing email body")
	}
	if err := wc.Close(); err != nil {
		return errors.Wrap(err, "closing email body")
	}
	if err := client.Quit(); err != nil {
		s.log.Warn().Err(err).Msg("smtp QUIT command failed")
	}
	return nil
}
func (s *SMTP) buildMessage(m Message) string {
	return fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nDate: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=\"utf-8\"\r\n\r\n%s",
		s.cfg.From, m.To, mime.QEncoding.Encode("utf-8", m.Subject), time.Now().UTC().Format(time.RFC1123Z), m.HTML)
}
