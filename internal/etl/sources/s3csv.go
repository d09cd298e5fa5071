package sources

import (
	"bytes"
	"context"
	"fmt"

	"saasloader/internal/etl"
)

// ── S3 CSV Source ──────────────────────────────────────────
// Reads a delimited object from S3.

// ObjectReader downloads S3 objects.
type ObjectReader interface {
	ReadKey(ctx context.Context, bucket, key string) ([]byte, error)
}

// ObjectStoreProvider opens object stores by connection ID.
type ObjectStoreProvider interface {
	OpenObjectStore(ctx context.Context, connID string) (ObjectReader, error)
}

var objectStoreProvider ObjectStoreProvider

// SetObjectStoreProvider is called by the runner at startup.
func SetObjectStoreProvider(p ObjectStoreProvider) { objectStoreProvider = p }

type s3CSVSource struct{}

func init() { etl.RegisterSource(&s3CSVSource{}) }

func (s *s3CSVSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "s3_csv",
		Label: "S3 Delimited File",
		ConfigFields: []etl.ConfigField{
			{Key: "connection_id", Label: "AWS Connection", Type: "string", Default: "aws_default"},
			{Key: "bucket", Label: "Bucket", Type: "string", Required: true},
			{Key: "key", Label: "Key", Type: "string", Required: true},
			{Key: "delimiter", Label: "Delimiter", Type: "string", Default: ","},
			{Key: "has_header", Label: "Has Header", Type: "select", Options: []string{"true", "false"}, Default: "true"},
		},
	}
}

func readS3CSV(ctx context.Context, cfg etl.SourceConfig) ([]string, [][]string, error) {
	bucket := cfgString(cfg, "bucket", "")
	key := cfgString(cfg, "key", "")
	if bucket == "" || key == "" {
		return nil, nil, fmt.Errorf("bucket and key are required")
	}
	if objectStoreProvider == nil {
		return nil, nil, fmt.Errorf("object store provider not initialized")
	}
	store, err := objectStoreProvider.OpenObjectStore(ctx, cfgString(cfg, "connection_id", "aws_default"))
	if err != nil {
		return nil, nil, err
	}
	data, err := store.ReadKey(ctx, bucket, key)
	if err != nil {
		return nil, nil, err
	}
	return readDelimited(bytes.NewReader(data), cfgString(cfg, "delimiter", ","), cfgBool(cfg, "has_header", true))
}

func (s *s3CSVSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	headers, _, err := readS3CSV(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return headerSchema(headers), nil
}

func (s *s3CSVSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		headers, rows, err := readS3CSV(ctx, cfg)
		if err != nil {
			errCh <- err
			return
		}
		emit(out, ctx.Done(), rowsToRecords(headers, rows))
	}()

	return out, errCh
}
