package mail

import (
	"bytes"
	"context"
	"html/template"
	"net/url"
	"pastebin/svc/util"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Message struct {
	To      string
	Subject string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, m Message) error
}

var confirmTmpl = template.Must(template.New("confirm").Parse(`<!DOCTYPE html>
<html><body>
<p>Hello {{.Username}},</p>
<p>Confirm your email address by opening the link below. It expires in {{.Hours}} hours.</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
<p>If you did not create an account you can ignore this message.</p>
</body></html>`))

// ConfirmationLink builds {base}/api/users/confirm-email?email=..&token=..
func ConfirmationLink(base, email, token string) string {
	q := url.Values{}
	q.Set("email", email)
	q.Set("token", token)
	return base + "/api/users/confirm-email?" + q.Encode()
}
func Confirmation(to, username, link string, ttl time.Duration) (Message, error) {
	var buf bytes.Buffer
	err := confirmTmpl.Execute(&buf, struct {
		Username string
		Link     string
		Hours    int
	}{username, link, int(ttl.Hours())})
	if err != nil {
		return Message{}, errors.Wrap(err, "render confirmation mail")
	}
	return Message{To: to, Subject: "Confirm your email", HTML: buf.String()}, nil
}

// LogSender stands in for SMTP in development. It never logs the body since
// that holds the confirmation token.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log}
}
func (s *LogSender) Send(_ context.Context, m Message) error {
	s.log.Info().Str("to", util.RedactEmail(m.To)).Str("subject", m.Subject).Msg("mail not sent, no SMTP host configured")
	return nil
}
