// Package mail builds HTML messages with attachments and sends them over SMTP.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// Attachment is one file part.
type Attachment struct {
	Filename    string
	ContentType string // default text/plain
	Content     []byte
}

// Message is an HTML email. Bcc recipients receive it without appearing in headers.
type Message struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	HTML        string
	Charset     string // default utf-8
	Subtype     string // multipart subtype; only mixed is supported
	Date        time.Time
	Attachments []Attachment
}

// Recipients returns To, Cc and Bcc in that order.
func (m *Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	return append(out, m.Bcc...)
}

// Msg converts the message for delivery.
func (m *Message) Msg() (*gomail.Msg, error) {
	if m.Subtype != "" && !strings.EqualFold(m.Subtype, "mixed") {
		return nil, fmt.Errorf("unsupported multipart subtype %q", m.Subtype)
	}
	charset := m.Charset
	if charset == "" {
		charset = "utf-8"
	}
	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}

	msg := gomail.NewMsg(gomail.WithCharset(gomail.Charset(charset)))
	if m.From != "" {
		if err := msg.From(m.From); err != nil {
			return nil, fmt.Errorf("from: %w", err)
		}
	}
	for _, set := range []struct {
		name  string
		addrs []string
		fn    func(...string) error
	}{
		{"to", m.To, msg.To},
		{"cc", m.Cc, msg.Cc},
		{"bcc", m.Bcc, msg.Bcc},
	} {
		if len(set.addrs) == 0 {
			continue
		}
		if err := set.fn(set.addrs...); err != nil {
			return nil, fmt.Errorf("%s: %w", set.name, err)
		}
	}
	msg.Subject(m.Subject)
	msg.SetDateWithValue(date)
	msg.SetBodyString(gomail.TypeTextHTML, m.HTML)

	for _, a := range m.Attachments {
		ct := a.ContentType
		if ct == "" {
			ct = "text/plain"
		}
		if !strings.Contains(ct, "charset=") && strings.HasPrefix(ct, "text/") {
			ct += "; charset=" + charset
		}
		err := msg.AttachReader(a.Filename, bytes.NewReader(a.Content),
			gomail.WithFileContentType(gomail.ContentType(ct)))
		if err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.Filename, err)
		}
	}
	return msg, nil
}

// Bytes renders the message as RFC 5322 text.
func (m *Message) Bytes() ([]byte, error) {
	msg, err := m.Msg()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ── Sending ────────────────────────────────────────────────

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, m *Message) error
}

// SMTPConfig locates the relay. From is the default envelope sender.
type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	From     string        `yaml:"from"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SMTPSender sends through an SMTP relay. Deliver defaults to
// DialAndSendWithContext on the configured client.
type SMTPSender struct {
	Config  SMTPConfig
	Deliver func(ctx context.Context, c *gomail.Client, msg *gomail.Msg) error
}

func (s *SMTPSender) client() (*gomail.Client, error) {
	port := s.Config.Port
	if port == 0 {
		port = 25
	}
	opts := []gomail.Option{
		gomail.WithPort(port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if s.Config.Timeout > 0 {
		opts = append(opts, gomail.WithTimeout(s.Config.Timeout))
	}
	if s.Config.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.Config.Username),
			gomail.WithPassword(s.Config.Password),
		)
	}
	return gomail.NewClient(s.Config.Host, opts...)
}

func (s *SMTPSender) Send(ctx context.Context, m *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.From == "" {
		m.From = s.Config.From
	}
	if m.From == "" {
		return fmt.Errorf("send mail: no sender address")
	}
	if len(m.Recipients()) == 0 {
		return fmt.Errorf("send mail: no recipients")
	}
	msg, err := m.Msg()
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}
	c, err := s.client()
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	deliver := s.Deliver
	if deliver == nil {
		deliver = func(ctx context.Context, c *gomail.Client, msg *gomail.Msg) error {
			return c.DialAndSendWithContext(ctx, msg)
		}
	}
	if err := deliver(ctx, c, msg); err != nil {
		return fmt.Errorf("send mail via %s: %w", c.ServerAddr(), err)
	}
	return nil
}

// SplitAddresses parses a comma or semicolon separated address list.
func SplitAddresses(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
