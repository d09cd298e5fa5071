// Package objectstore reads and writes S3 objects: SQL scripts, delimited
// files, unload output and email attachments.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"saasloader/internal/domain"
)

// Store wraps an S3 client and the credentials it signs with.
type Store struct {
	client *s3.Client
	creds  aws.CredentialsProvider
	logger *slog.Logger
}

// LoadConfig builds the AWS configuration a connection describes.
// Login/Password are the access key pair (optional; the default credential
// chain is used otherwise), Extra["region"] and Extra["session_token"] are
// honoured. region overrides the connection's region when set.
func LoadConfig(ctx context.Context, conn *domain.Connection, region string) (aws.Config, error) {
	if region == "" {
		region = conn.ExtraValue("region", "us-east-1")
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if conn.Login != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(conn.Login, conn.Password, conn.Extra["session_token"]),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// New builds a Store from a connection. Host is a custom endpoint (MinIO,
// LocalStack); see LoadConfig for the rest.
func New(ctx context.Context, conn *domain.Connection, logger *slog.Logger) (*Store, error) {
	cfg, err := LoadConfig(ctx, conn, "")
	if err != nil {
		return nil, err
	}

	var s3Opts []func(*s3.Options)
	if conn.Host != "" {
		endpoint := conn.Host
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		})
	}
	return NewFromClient(s3.NewFromConfig(cfg, s3Opts...), cfg.Credentials, logger), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *s3.Client, creds aws.CredentialsProvider, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, creds: creds, logger: logger}
}

// ParseURI splits s3://bucket/key into bucket and key.
func ParseURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("parse %q: %w", uri, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// ReadKey downloads an object.
func (s *Store) ReadKey(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	s.logger.Debug("read s3 object", "bucket", bucket, "key", key, "bytes", len(data))
	return data, nil
}

// ReadString downloads the object at an s3:// URI as text.
func (s *Store) ReadString(ctx context.Context, uri string) (string, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	data, err := s.ReadKey(ctx, bucket, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ListKeys returns every key under prefix, in listing order.
func (s *Store) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return keys, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// PutObject uploads body to bucket/key.
func (s *Store) PutObject(ctx context.Context, bucket, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}
	s.logger.Info("object uploaded", "bucket", bucket, "key", key)
	return nil
}

// Credentials resolves the credentials the store signs with, for embedding
// in warehouse UNLOAD statements.
func (s *Store) Credentials(ctx context.Context) (aws.Credentials, error) {
	if s.creds == nil {
		return aws.Credentials{}, fmt.Errorf("no credentials provider configured")
	}
	return s.creds.Retrieve(ctx)
}
