package builtin

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/ashbert/nestor/internal/ai/tools"
)

const (
	DefaultSMTPHost = "smtp.gmail.com"
	DefaultSMTPPort = 587
)

// Mailer delivers a plain-text message.
type Mailer interface {
	Send(ctx context.Context, to string, subject string, body string) error
}

type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	// Password is an app password, never the account password.
	Password string
	// From defaults to Username.
	From string
}

// SMTPMailer sends through an authenticated submission server (STARTTLS when offered).
type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now  func() time.Time
}

func NewSMTPMailer(opts SMTPOptions) (*SMTPMailer, error) {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = DefaultSMTPHost
	}
	port := opts.Port
	if port <= 0 {
		port = DefaultSMTPPort
	}
	user := strings.TrimSpace(opts.Username)
	if user == "" || opts.Password == "" {
		return nil, errors.New("missing smtp credentials")
	}
	from := strings.TrimSpace(opts.From)
	if from == "" {
		from = user
	}
	if _, err := mail.ParseAddress(from); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	return &SMTPMailer{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		from: from,
		auth: smtp.PlainAuth("", user, opts.Password, host),
		send: smtp.SendMail,
		now:  time.Now,
	}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, to string, subject string, body string) error {
	msg, err := buildMessage(m.from, to, subject, body, m.now())
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- m.send(m.addr, m.auth, m.from, []string{to}, msg) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildMessage(from, to, subject, body string, now time.Time) ([]byte, error) {
	if _, err := mail.ParseAddress(to); err != nil {
		return nil, tools.InvalidArgs("invalid recipient %q", to)
	}
	if strings.ContainsAny(subject, "\r\n") {
		return nil, tools.InvalidArgs("subject must be a single line")
	}
	var sb strings.Builder
	sb.WriteString("From: " + from + "\r\n")
	sb.WriteString("To: " + to + "\r\n")
	sb.WriteString("Subject: " + mimeHeader(subject) + "\r\n")
	sb.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	sb.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	sb.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	return []byte(sb.String()), nil
}

func mimeHeader(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.QEncoding.Encode("utf-8", s)
		}
	}
	return s
}

type sendEmailTool struct {
	mailer Mailer
}

func (t *sendEmailTool) Name() string { return "send_email" }

func (t *sendEmailTool) Description() string {
	return "Send a plain-text email from the household account to any address."
}

func (t *sendEmailTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"to":      prop("string", "Recipient email address."),
		"subject": prop("string", "Email subject line."),
		"body":    prop("string", "Plain text email body."),
	}, "to", "subject", "body")
}

func (t *sendEmailTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	var in struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := tools.DecodeArgs(args, &in); err != nil {
		return "", err
	}
	to := strings.TrimSpace(in.To)
	if to == "" {
		return "", tools.InvalidArgs("to is required")
	}
	if err := t.mailer.Send(ctx, to, in.Subject, in.Body); err != nil {
		return "", err
	}
	return fmt.Sprintf("Email sent to %s (subject: %q).", to, in.Subject), nil
}
