package cloud_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saasloader/internal/cloud"
	"saasloader/internal/domain"
)

func awsConn(endpoint string) *domain.Connection {
	return &domain.Connection{
		Type:     "aws",
		Host:     endpoint,
		Login:    "AKID",
		Password: "SECRET",
		Extra:    map[string]string{"region": "us-west-2"},
	}
}

// fakeLambda echoes the request payload back inside {"echo": ...}. The
// function named "broken" reports an unhandled error.
func fakeLambda(t *testing.T, calls *[]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/2015-03-31/functions/"), "/invocations")
		*calls = append(*calls, r.Method+" "+name)
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		if name == "broken" {
			w.Header().Set("X-Amz-Function-Error", "Unhandled")
			w.Write([]byte(`{"errorMessage":"division by zero"}`))
			return
		}
		w.Write([]byte(`{"echo":` + string(body) + `}`))
	}))
}

func TestInvokerInvoke(t *testing.T) {
	var calls []string
	srv := fakeLambda(t, &calls)
	defer srv.Close()

	inv, err := cloud.NewInvoker(context.Background(), awsConn(srv.URL), "", nil)
	require.NoError(t, err)

	out, err := inv.Invoke(context.Background(), "scorer", []byte(`{"input":[[1,"a"]]}`))
	srv.Close()
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":{"input":[[1,"a"]]}}`, string(out))
	assert.Equal(t, []string{"POST scorer"}, calls)
}

func TestInvokerReportsFunctionError(t *testing.T) {
	var calls []string
	srv := fakeLambda(t, &calls)
	defer srv.Close()

	inv, err := cloud.NewInvoker(context.Background(), awsConn(srv.URL), "eu-west-1", nil)
	require.NoError(t, err)

	_, err = inv.Invoke(context.Background(), "broken", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unhandled")
	assert.Contains(t, err.Error(), "division by zero")
}
