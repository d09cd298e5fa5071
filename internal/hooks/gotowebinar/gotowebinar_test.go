package gotowebinar_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saasloader/internal/domain"
	"saasloader/internal/hooks/gotowebinar"
)

func server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	reply := func(v any) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "tok-1", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(v)
		}
	}
	mux.HandleFunc("/organizers/org1/webinars", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2020-01-01T00:00:00Z", r.URL.Query().Get("fromTime"))
		assert.Equal(t, "2020-02-01T00:00:00Z", r.URL.Query().Get("toTime"))
		reply(map[string]any{"_embedded": map[string]any{"webinars": []any{
			map[string]any{"webinarKey": "w1", "subject": "Intro"},
		}}})(w, r)
	})
	mux.HandleFunc("/organizers/org1/webinars/w1/sessions", reply(map[string]any{
		"_embedded": map[string]any{"sessionInfoResources": []any{map[string]any{"sessionKey": "s1"}}},
	}))
	mux.HandleFunc("/organizers/org1/webinars/w1/registrants", reply([]any{
		map[string]any{"registrantKey": "r1"}, map[string]any{"registrantKey": "r2"},
	}))
	mux.HandleFunc("/organizers/org1/webinars/w1/sessions/s1/attendees", reply([]any{
		map[string]any{"registrantKey": "r1"}, "garbage",
	}))
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		user, _, _ := r.BasicAuth()
		assert.Equal(t, "ck", user)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-2", "refresh_token": "ref-2", "expires_in": 3600,
			"account_key": "acc", "firstName": "Ada",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T) *gotowebinar.Client {
	srv := server(t)
	c, err := gotowebinar.New(&domain.Connection{
		ID:   "g2w",
		Host: srv.URL,
		Extra: map[string]string{
			"org_key": "org1", "consumer_key": "ck", "consumer_secret": "cs",
			"token_url": srv.URL + "/token",
		},
	})
	require.NoError(t, err)
	c.SetAccessToken("tok-1")
	return c
}

func TestNewRequiresOrgKey(t *testing.T) {
	_, err := gotowebinar.New(&domain.Connection{ID: "g2w"})
	assert.Error(t, err)
}

func TestFetches(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	webinars, err := c.GetWebinars(ctx, "2020-01-01T00:00:00Z", "2020-02-01T00:00:00Z")
	require.NoError(t, err)
	require.Len(t, webinars, 1)
	assert.Equal(t, "Intro", webinars[0]["subject"])

	sessions, err := c.GetSessions(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	registrants, err := c.GetRegistrants(ctx, "w1")
	require.NoError(t, err)
	assert.Len(t, registrants, 2)

	attendees, err := c.GetAttendees(ctx, "w1", "s1")
	require.NoError(t, err)
	assert.Len(t, attendees, 2)
}

func TestRefresherExchangesToken(t *testing.T) {
	c := newClient(t)
	tok, err := c.Refresher().Refresh(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok.AccessToken)
	assert.Equal(t, "acc", tok.Extra["account_key"])
	assert.Equal(t, "Ada", tok.Extra["firstName"])
}
