package mail_test

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	netmail "net/mail"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"

	"saasloader/internal/mail"
)

func TestMessageBytes(t *testing.T) {
	m := &mail.Message{
		From:    "etl@example.com",
		To:      []string{"a@example.com", "b@example.com"},
		Cc:      []string{"c@example.com"},
		Bcc:     []string{"hidden@example.com"},
		Subject: "Daily report",
		HTML:    "<p>See attached</p>",
		Attachments: []mail.Attachment{
			{Filename: "report.csv", Content: []byte("id,name\n1,Ann\n")},
		},
	}
	raw, err := m.Bytes()
	require.NoError(t, err)

	msg, err := netmail.ReadMessage(strings.NewReader(string(raw)))
	require.NoError(t, err)
	to, err := msg.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 2)
	assert.Equal(t, "a@example.com", to[0].Address)
	assert.Equal(t, "b@example.com", to[1].Address)
	assert.Contains(t, msg.Header.Get("Cc"), "c@example.com")
	assert.Equal(t, "Daily report", msg.Header.Get("Subject"))
	assert.Empty(t, msg.Header.Get("Bcc"))
	assert.NotContains(t, string(raw), "hidden@example.com")

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", mediaType)

	mr := multipart.NewReader(msg.Body, params["boundary"])
	html, err := mr.NextPart()
	require.NoError(t, err)
	b, _ := io.ReadAll(html)
	assert.Contains(t, html.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(b), "<p>See attached</p>")

	att, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "report.csv", att.FileName())
	b, _ = io.ReadAll(att)
	assert.Contains(t, string(b), "aWQsbmFtZQ")
}

func TestMessageRejectsUnknownSubtype(t *testing.T) {
	_, err := (&mail.Message{From: "a@example.com", Subtype: "related"}).Bytes()
	assert.ErrorContains(t, err, `unsupported multipart subtype "related"`)
}

func TestSMTPSenderSend(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	s := &mail.SMTPSender{
		Config: mail.SMTPConfig{Host: "relay.local", Port: 587, Username: "u", Password: "p", From: "etl@example.com"},
		Deliver: func(_ context.Context, c *gomail.Client, msg *gomail.Msg) error {
			gotAddr = c.ServerAddr()
			var err error
			if gotFrom, err = msg.GetSender(false); err != nil {
				return err
			}
			gotTo, err = msg.GetRecipients()
			return err
		},
	}
	err := s.Send(context.Background(), &mail.Message{To: []string{"a@example.com"}, Bcc: []string{"b@example.com"}, Subject: "x"})
	require.NoError(t, err)
	assert.Equal(t, "relay.local:587", gotAddr)
	assert.Equal(t, "etl@example.com", gotFrom)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, gotTo)
}

func TestSMTPSenderHonoursContext(t *testing.T) {
	called := false
	s := &mail.SMTPSender{
		Config: mail.SMTPConfig{Host: "relay.local", From: "etl@example.com"},
		Deliver: func(context.Context, *gomail.Client, *gomail.Msg) error {
			called = true
			return nil
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, &mail.Message{To: []string{"a@example.com"}}), context.Canceled)
	assert.False(t, called)
}

func TestSMTPSenderValidates(t *testing.T) {
	s := &mail.SMTPSender{
		Config:  mail.SMTPConfig{Host: "relay.local"},
		Deliver: func(context.Context, *gomail.Client, *gomail.Msg) error { return nil },
	}
	assert.Error(t, s.Send(context.Background(), &mail.Message{To: []string{"a@example.com"}}))
	assert.Error(t, s.Send(context.Background(), &mail.Message{From: "x@example.com"}))
}

func TestSplitAddresses(t *testing.T) {
	assert.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com"}, mail.SplitAddresses(" a@x.com, b@x.com;c@x.com ,"))
	assert.Nil(t, mail.SplitAddresses(""))
}
