package service

import (
	"bytes"
	"context"
	"html/template"
	"log/slog"

	"github.com/iliyamo/theatre-auth/internal/logger"
	"github.com/iliyamo/theatre-auth/internal/model"
	"github.com/iliyamo/theatre-auth/internal/queue"
)

var (
	confirmationTmpl = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html>
<body>
<p>Hello, {{.Name}}!</p>
<p>Please confirm your email address to activate your account:</p>
<p><a href="{{.Link}}">Confirm email</a></p>
<p>If you did not sign up, ignore this message.</p>
</body>
</html>`))

	resetTmpl = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
<body>
<p>Hello, {{.Name}}!</p>
<p>A password reset was requested for your account. Follow the link to choose a new password:</p>
<p><a href="{{.Link}}">Reset password</a></p>
<p>If you did not request it, ignore this message.</p>
</body>
</html>`))
)

type emailData struct {
	Name string
	Link string
}

func displayName(u *model.User) string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Login
}

func render(t *template.Template, u *model.User, link string) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, emailData{Name: displayName(u), Link: link}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func confirmationEmail(u *model.User, link string) (queue.EmailMessage, error) {
	html, err := render(confirmationTmpl, u, link)
	if err != nil {
		return queue.EmailMessage{}, err
	}
	return queue.EmailMessage{Kind: "confirmation", To: u.Email, Subject: "Confirm your email", HTML: html}, nil
}

func resetEmail(u *model.User, link string) (queue.EmailMessage, error) {
	html, err := render(resetTmpl, u, link)
	if err != nil {
		return queue.EmailMessage{}, err
	}
	return queue.EmailMessage{Kind: "reset_password", To: u.Email, Subject: "Reset your password", HTML: html}, nil
}

// LogMailer only logs emails.  Used with MAIL_TRANSPORT=log.
type LogMailer struct{ log *slog.Logger }

func NewLogMailer(log *slog.Logger) *LogMailer { return &LogMailer{log: logger.Resolve(log)} }

func (m *LogMailer) Send(_ context.Context, msg queue.EmailMessage) error {
	m.log.Info("email", "kind", msg.Kind, "to", msg.To, "subject", msg.Subject)
	return nil
}

// LogEvents only logs domain events.  Used when no broker is configured.
type LogEvents struct{ log *slog.Logger }

func NewLogEvents(log *slog.Logger) *LogEvents { return &LogEvents{log: logger.Resolve(log)} }

func (e *LogEvents) UserRegistered(_ context.Context, ev queue.UserRegisteredEvent) error {
	e.log.Info("user registered event", "user_id", ev.UserID)
	return nil
}
