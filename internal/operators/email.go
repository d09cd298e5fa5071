package operators

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"saasloader/internal/mail"
)

// ── S3 files → email attachment ────────────────────────────

type emailParams struct {
	AWSConnID           string      `yaml:"aws_conn_id"`
	Bucket              string      `yaml:"s3_bucket"`
	Prefix              string      `yaml:"s3_key"`
	Filename            string      `yaml:"filename"`
	AttachmentExtension string      `yaml:"attachment_extension"`
	To                  addressList `yaml:"to"`
	Cc                  addressList `yaml:"cc"`
	Bcc                 addressList `yaml:"bcc"`
	Subject             string      `yaml:"subject"`
	HTMLContent         string      `yaml:"html_content"`
	MIMESubtype         string      `yaml:"mime_subtype"`
	MIMECharset         string      `yaml:"mime_charset"`
}

type emailS3File struct{ p emailParams }

func init() {
	define("email_s3_file",
		"Concatenate the files under an S3 prefix, header file first, and email them as one attachment",
		emailParams{
			AWSConnID:           "aws_default",
			AttachmentExtension: ".csv",
			MIMESubtype:         "mixed",
			MIMECharset:         "us-ascii",
		},
		func(p *emailParams) (Operator, error) {
			if err := required("s3_bucket", p.Bucket, "s3_key", p.Prefix, "filename", p.Filename, "subject", p.Subject); err != nil {
				return nil, err
			}
			if len(p.To) == 0 {
				return nil, fmt.Errorf("to is required")
			}
			if !strings.EqualFold(p.MIMESubtype, "mixed") {
				return nil, fmt.Errorf("mime_subtype %q is not supported, use mixed", p.MIMESubtype)
			}
			return &emailS3File{p: *p}, nil
		})
}

// assemble reads every key under the prefix. The first key whose name
// contains "header" leads; the others follow in listing order.
func assemble(ctx context.Context, store ObjectStore, bucket, prefix string) ([]byte, int, error) {
	keys, err := store.ListKeys(ctx, bucket, prefix)
	if err != nil {
		return nil, 0, err
	}
	var header, body bytes.Buffer
	haveHeader := false
	for _, key := range keys {
		data, err := store.ReadKey(ctx, bucket, key)
		if err != nil {
			return nil, 0, err
		}
		if !haveHeader && strings.Contains(key, "header") {
			header.Write(data)
			haveHeader = true
			continue
		}
		body.Write(data)
	}
	return append(header.Bytes(), body.Bytes()...), len(keys), nil
}

func (o *emailS3File) Run(ctx context.Context, env *Env) (*Result, error) {
	if env.Mailer == nil {
		return nil, fmt.Errorf("no mailer configured")
	}
	store, err := env.Resources.ObjectStore(ctx, o.p.AWSConnID)
	if err != nil {
		return nil, fmt.Errorf("open object store %s: %w", o.p.AWSConnID, err)
	}
	contents, files, err := assemble(ctx, store, o.p.Bucket, o.p.Prefix)
	if err != nil {
		return nil, err
	}

	msg := &mail.Message{
		To:      o.p.To,
		Cc:      o.p.Cc,
		Bcc:     o.p.Bcc,
		Subject: o.p.Subject,
		HTML:    o.p.HTMLContent,
		Charset: o.p.MIMECharset,
		Subtype: o.p.MIMESubtype,
		Date:    env.now(),
		Attachments: []mail.Attachment{{
			Filename:    o.p.Filename + o.p.AttachmentExtension,
			ContentType: "text/plain",
			Content:     contents,
		}},
	}
	if err := env.Mailer.Send(ctx, msg); err != nil {
		return nil, err
	}
	env.logger().Info("email sent", "files", files, "bytes", len(contents), "recipients", len(msg.Recipients()))
	return &Result{RowsRead: files}, nil
}
