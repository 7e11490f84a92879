// Package mail renders user notifications and sends them in background.
package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

const (
	TemplateSignup          = "email_signup.html"
	TemplatePasswordReset   = "send_email_reset.html"
	TemplatePasswordChanged = "info_email_reset_success.html"
)

// Rendered email ready to be sent
type Email struct {
	To      string
	Subject string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, email Email) error
}

// Values available in templates
// Host is service base url with trailing slash
type templateData struct {
	Username string
	Host     string
	Token    string
}

func render(name string, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("can't render email template %s. Err: %w", name, err)
	}
	return buf.String(), nil
}

// Recipient of the notification
type Recipient struct {
	Email    string
	Username string
}

type enqueuer interface {
	Enqueue(email Email) error
}

// Mailer renders notifications and passes them to queue
type Mailer struct {
	queue enqueuer
}

func NewMailer(queue enqueuer) *Mailer {
	return &Mailer{queue: queue}
}

func (m *Mailer) SendConfirmation(to Recipient, host string, token string) error {
	return m.send(to, "Email address confirmation", TemplateSignup, templateData{Username: to.Username, Host: host, Token: token})
}

func (m *Mailer) SendPasswordReset(to Recipient, host string, token string) error {
	return m.send(to, "Password reset", TemplatePasswordReset, templateData{Username: to.Username, Host: host, Token: token})
}

func (m *Mailer) SendPasswordChanged(to Recipient, host string) error {
	return m.send(to, "Password changed", TemplatePasswordChanged, templateData{Username: to.Username, Host: host})
}

func (m *Mailer) send(to Recipient, subject string, tmpl string, data templateData) error {
	body, err := render(tmpl, data)
	if err != nil {
		return err
	}

	return m.queue.Enqueue(Email{To: to.Email, Subject: subject, HTML: body})
}
