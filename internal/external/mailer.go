package external

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"

	"boxoffice/internal/models"

	"gopkg.in/gomail.v2"
)

type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer sends the ticket e-mail of one order with every group document attached.
type Mailer struct {
	cfg  MailConfig
	body *template.Template
}

func NewMailer(cfg MailConfig) *Mailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Mailer{
		cfg: cfg,
		body: template.Must(template.New("mail").Funcs(template.FuncMap{
			"money": FormatAmount,
		}).Parse(mailTemplate)),
	}
}

func (m *Mailer) SendTickets(ctx context.Context, n models.TicketNotification) error {
	if n.To == "" {
		return fmt.Errorf("no recipient for order %s", n.OrderID)
	}

	var html bytes.Buffer
	if err := m.body.Execute(&html, n); err != nil {
		return fmt.Errorf("failed to render mail body: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", n.To)
	msg.SetHeader("Subject", "Your tickets for order "+n.OrderID)
	msg.SetBody("text/html", html.String())

	for _, a := range n.Attachments {
		attach(msg, a.Document)
		attach(msg, a.Code)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	d := gomail.NewDialer(m.cfg.Host, m.cfg.Port, m.cfg.Username, m.cfg.Password)
	if err := d.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send tickets to %s: %w", n.To, err)
	}
	return nil
}

func attach(msg *gomail.Message, a *models.Artifact) {
	if a == nil || len(a.Content) == 0 {
		return
	}
	content := a.Content
	msg.Attach(a.FileName,
		gomail.Rename(a.FileName),
		gomail.SetHeader(map[string][]string{"Content-Type": {a.ContentType}}),
		gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := io.Copy(w, bytes.NewReader(content))
			return err
		}))
}

const mailTemplate = `<p>Hello {{if .Name}}{{.Name}}{{else}}there{{end}},</p>
<p>Your payment for order <strong>{{.OrderID}}</strong> is confirmed.</p>
<ul>
{{range .Attachments}}<li>{{.ShopName}}, {{.EventDate.Format "02 Jan 2006"}}: ticket {{.TicketNo}} ({{money .Total}} {{$.Currency}}){{if .Document}}{{if .Document.Ref}} <a href="{{.Document.Ref}}">view</a>{{end}}{{end}}</li>
{{end}}</ul>
<p>Show the attached code at the entrance.</p>`
