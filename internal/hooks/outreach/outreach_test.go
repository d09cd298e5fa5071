package outreach_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saasloader/internal/domain"
	"saasloader/internal/hooks/outreach"
)

func TestFlatten(t *testing.T) {
	rec := outreach.Flatten(map[string]any{
		"id":         json.Number("7"),
		"attributes": map[string]any{"name": "Ann", "title": "CTO"},
		"relationships": map[string]any{
			"owner":     map[string]any{"data": map[string]any{"type": "user", "id": json.Number("3")}},
			"sequences": map[string]any{"data": []any{map[string]any{"type": "sequence", "id": json.Number("11")}, map[string]any{"type": "sequence", "id": json.Number("12")}}},
			"account":   map[string]any{"data": nil},
			"stage":     map[string]any{"data": map[string]any{"id": json.Number("1")}},
		},
	})
	assert.Equal(t, map[string]any{
		"id": json.Number("7"), "name": "Ann", "title": "CTO",
		"user": json.Number("3"), "sequence": json.Number("11"),
	}, rec)
}

func TestFlattenSharedTypeIsDeterministic(t *testing.T) {
	item := map[string]any{
		"id": json.Number("7"),
		"relationships": map[string]any{
			"creator": map[string]any{"data": map[string]any{"type": "user", "id": json.Number("1")}},
			"owner":   map[string]any{"data": map[string]any{"type": "user", "id": json.Number("2")}},
			"updater": map[string]any{"data": map[string]any{"type": "user", "id": json.Number("3")}},
		},
	}
	for range 20 {
		assert.Equal(t, json.Number("3"), outreach.Flatten(item)["user"])
	}
}

func TestRetrieveAllFollowsNextOffset(t *testing.T) {
	var offsets []string
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prospects", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.api+json", r.Header.Get("Accept"))
		assert.Equal(t, ">2020-01-01", r.URL.Query().Get("filter[updatedAt]"))
		assert.Equal(t, "2", r.URL.Query().Get("page[limit]"))

		off := r.URL.Query().Get("page[offset]")
		offsets = append(offsets, off)
		resp := map[string]any{}
		switch off {
		case "0":
			resp["data"] = []any{map[string]any{"id": 1}, map[string]any{"id": 2}}
			resp["links"] = map[string]any{"next": fmt.Sprintf("%s/prospects?page%%5Boffset%%5D=2", srvURL)}
		case "2":
			resp["data"] = []any{map[string]any{"id": 3}}
			resp["links"] = map[string]any{}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()
	srvURL = srv.URL

	c, err := outreach.New(&domain.Connection{ID: "or", Host: srv.URL, Extra: map[string]string{"client_id": "cid"}})
	require.NoError(t, err)
	c.SetAccessToken("tok")

	recs, err := c.RetrieveAll(context.Background(), "prospects", outreach.Query{
		FilterField: "updatedAt", FilterStatement: ">2020-01-01", PageLimit: 2,
	})
	require.NoError(t, err)
	assert.Len(t, recs, 3)
	assert.Equal(t, []string{"0", "2"}, offsets)
}

func TestRetrieveAllStopsOnEmptyData(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c, err := outreach.New(&domain.Connection{ID: "or", Host: srv.URL, Login: "cid"})
	require.NoError(t, err)
	recs, err := c.RetrieveAll(context.Background(), "accounts", outreach.Query{})
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, 1, calls)
}
