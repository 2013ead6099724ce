package utils

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log"
	"time"

	"github.com/mailgun/mailgun-go/v3"
	"gopkg.in/gomail.v2"
)

//go:embed email_template/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "email_template/*.html"))

// EmailData represents the data format for emails
type EmailData struct {
	Title       string
	ContentData interface{}
	EmailTo     string
	Template    string
}

// MailConfig holds the mailgun and SMTP credentials
type MailConfig struct {
	MailgunDomain     string
	MailgunPrivateKey string
	MailFrom          string
	SMTPUser          string
	SMTPPass          string
}

// Mailer sends templated email through mailgun, falling back to SMTP
type Mailer struct {
	cfg MailConfig
	mg  mailgun.Mailgun
}

// NewMailer ...
func NewMailer(cfg MailConfig) *Mailer {
	m := &Mailer{cfg: cfg}
	if cfg.MailgunDomain != "" && cfg.MailgunPrivateKey != "" {
		m.mg = mailgun.NewMailgun(cfg.MailgunDomain, cfg.MailgunPrivateKey)
	}
	return m
}

// RenderEmail executes the named template with data
func RenderEmail(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SendEmail ...
func (m *Mailer) SendEmail(ctx context.Context, data EmailData) error {
	if data.EmailTo == "" {
		return errors.New("email recipient not set")
	}
	body, err := RenderEmail(data.Template, data.ContentData)
	if err != nil {
		return err
	}

	if m.mg != nil {
		err = m.sendMailgun(ctx, data, body)
		if err == nil {
			return nil
		}
		log.Printf("mailgun_send_err: %v", err)
	}

	if m.cfg.SMTPUser == "" {
		if err != nil {
			return err
		}
		return errors.New("no mail transport configured")
	}
	return m.sendGoMail(data, body)
}

func (m *Mailer) sendMailgun(ctx context.Context, data EmailData, body string) error {
	message := m.mg.NewMessage(
		fmt.Sprintf("Crowdfund <%s>", m.cfg.MailFrom),
		data.Title,
		"Sent from Crowdfund",
		data.EmailTo,
	)
	message.SetHtml(body)

	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	_, _, err := m.mg.Send(ctx, message)
	return err
}

func (m *Mailer) sendGoMail(data EmailData, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.MailFrom)
	msg.SetHeader("To", data.EmailTo)
	msg.SetHeader("Subject", data.Title)
	msg.SetBody("text/html", body)

	d := gomail.NewDialer("smtp.gmail.com", 587, m.cfg.SMTPUser, m.cfg.SMTPPass)
	d.TLSConfig = &tls.Config{ServerName: "smtp.gmail.com"}

	return d.DialAndSend(msg)
}
