package objectstore_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saasloader/internal/objectstore"
)

// fakeS3 serves path-style GetObject and ListObjectsV2 from a map.
func fakeS3(t *testing.T, bucket string, objects map[string]string, order []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/"+bucket)
		if r.URL.Query().Get("list-type") == "2" {
			prefix := r.URL.Query().Get("prefix")
			var sb strings.Builder
			sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
			fmt.Fprintf(&sb, "<Name>%s</Name><Prefix>%s</Prefix><IsTruncated>false</IsTruncated>", bucket, prefix)
			for _, k := range order {
				if strings.HasPrefix(k, prefix) {
					fmt.Fprintf(&sb, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, len(objects[k]))
				}
			}
			sb.WriteString("</ListBucketResult>")
			w.Header().Set("Content-Type", "application/xml")
			w.Write([]byte(sb.String()))
			return
		}
		body, ok := objects[strings.TrimPrefix(path, "/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
			return
		}
		w.Write([]byte(body))
	}))
}

func newStore(url string) *objectstore.Store {
	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(url),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider("AKID", "SECRET", "TOKEN"),
	})
	return objectstore.NewFromClient(client, credentials.NewStaticCredentialsProvider("AKID", "SECRET", "TOKEN"), nil)
}

func TestParseURI(t *testing.T) {
	bucket, key, err := objectstore.ParseURI("s3://my-bucket/sql/query.sql")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "sql/query.sql", key)

	_, _, err = objectstore.ParseURI("https://example.com/x")
	assert.Error(t, err)
}

func TestStore_ReadKeyAndList(t *testing.T) {
	objects := map[string]string{
		"exports/header_000": "id,name\n",
		"exports/query_000":  "1,a\n",
		"other/file":         "x",
	}
	srv := fakeS3(t, "bkt", objects, []string{"exports/header_000", "exports/query_000", "other/file"})
	defer srv.Close()

	store := newStore(srv.URL)
	ctx := context.Background()

	data, err := store.ReadKey(ctx, "bkt", "exports/query_000")
	require.NoError(t, err)
	assert.Equal(t, "1,a\n", string(data))

	text, err := store.ReadString(ctx, "s3://bkt/other/file")
	require.NoError(t, err)
	assert.Equal(t, "x", text)

	keys, err := store.ListKeys(ctx, "bkt", "exports/")
	require.NoError(t, err)
	assert.Equal(t, []string{"exports/header_000", "exports/query_000"}, keys)

	_, err = store.ReadKey(ctx, "bkt", "nope")
	assert.Error(t, err)
}

func TestStore_Credentials(t *testing.T) {
	store := newStore("http://unused")
	creds, err := store.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKID", creds.AccessKeyID)
	assert.Equal(t, "TOKEN", creds.SessionToken)
}
