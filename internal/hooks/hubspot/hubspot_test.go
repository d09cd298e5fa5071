package hubspot_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saasloader/internal/domain"
	"saasloader/internal/hooks/hubspot"
)

type recorder struct {
	mu          sync.Mutex
	batches     [][]map[string]any
	singles     map[string]map[string]any
	batchStatus int
}

func (rec *recorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.URL.Query().Get("hapikey"))
		rec.mu.Lock()
		defer rec.mu.Unlock()
		switch {
		case r.URL.Path == "/contact/batch/":
			var batch []map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
			rec.batches = append(rec.batches, batch)
			w.WriteHeader(rec.batchStatus)
		case strings.HasPrefix(r.URL.Path, "/contact/createOrUpdate/email/"):
			email := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/contact/createOrUpdate/email/"), "/")
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			rec.singles[email] = body
			if email == "bad@example.com" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Write([]byte(`{"vid":1}`))
		default:
			http.NotFound(w, r)
		}
	}
}

func client(t *testing.T, h http.Handler) *hubspot.Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := hubspot.New(&domain.Connection{ID: "hs", Host: srv.URL, Extra: map[string]string{"api_key": "k"}})
	require.NoError(t, err)
	return c
}

func contacts(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"email": fmt.Sprintf("c%d@example.com", i), "firstname": "C", "score": i}
	}
	return out
}

func TestUpsertContactsBatches(t *testing.T) {
	rec := &recorder{singles: map[string]map[string]any{}, batchStatus: http.StatusAccepted}
	c := client(t, rec.handler(t))

	stats, err := c.UpsertContacts(context.Background(), contacts(250))
	require.NoError(t, err)
	assert.Equal(t, hubspot.UpsertStats{Batches: 3, Upserted: 250}, stats)
	require.Len(t, rec.batches, 3)
	assert.Len(t, rec.batches[0], 100)
	assert.Len(t, rec.batches[2], 50)

	first := rec.batches[0][0]
	assert.Equal(t, "c0@example.com", first["email"])
	props := first["properties"].([]any)
	require.Len(t, props, 2)
	assert.Equal(t, "firstname", props[0].(map[string]any)["property"])
	assert.Equal(t, "score", props[1].(map[string]any)["property"])
	assert.Empty(t, rec.singles)
}

func TestUpsertContactsFallsBackPerContact(t *testing.T) {
	rec := &recorder{singles: map[string]map[string]any{}, batchStatus: http.StatusBadRequest}
	c := client(t, rec.handler(t))

	records := contacts(2)
	records = append(records, map[string]any{"email": "bad@example.com", "firstname": "B"})
	stats, err := c.UpsertContacts(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Fallbacks)
	assert.Equal(t, 2, stats.Upserted)
	assert.Equal(t, 1, stats.Failed)

	// each fallback call carries only its own contact's properties
	body := rec.singles["c1@example.com"]
	require.NotNil(t, body)
	props := body["properties"].([]any)
	require.Len(t, props, 2)
	assert.EqualValues(t, 1, props[1].(map[string]any)["value"])
	assert.NotContains(t, body, "email")
}

func TestUpsertContactsSkipsMissingEmail(t *testing.T) {
	rec := &recorder{singles: map[string]map[string]any{}, batchStatus: http.StatusAccepted}
	c := client(t, rec.handler(t))

	stats, err := c.UpsertContacts(context.Background(), []map[string]any{{"firstname": "nobody"}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Empty(t, rec.batches)
}

func TestDeleteContacts(t *testing.T) {
	c := client(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		if r.URL.Path == "/contact/vid/2" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"vid":1,"deleted":true}`))
	}))

	n, err := c.DeleteContacts(context.Background(), []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := hubspot.New(&domain.Connection{ID: "hs"})
	assert.Error(t, err)
}
