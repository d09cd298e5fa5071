package youcanbookme_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saasloader/internal/domain"
	"saasloader/internal/hooks/youcanbookme"
)

func TestRetrieveProfilesAndBooking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "me", user)
		assert.Equal(t, "pw", pass)
		assert.Equal(t, "id,title", r.URL.Query().Get("fields"))
		switch r.URL.Path {
		case "/acc1/profiles":
			w.Write([]byte(`[{"id":"p1","title":"Demo"},{"id":"p2","title":"Call"}]`))
		case "/acc1/profiles/p1/bookings/b9":
			w.Write([]byte(`{"id":"b9","title":"Demo"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := youcanbookme.New(&domain.Connection{
		ID: "ycbm", Host: srv.URL,
		Extra: map[string]string{"username": "me", "password": "pw", "account_id": "acc1"},
	})
	require.NoError(t, err)

	profiles, err := c.RetrieveProfiles(context.Background(), []string{"id", "title"})
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "Call", profiles[1]["title"])

	b, err := c.RetrieveBooking(context.Background(), []string{"id", "title"}, "p1", "b9")
	require.NoError(t, err)
	assert.Equal(t, "b9", b["id"])
}

func TestNewNeedsAccount(t *testing.T) {
	_, err := youcanbookme.New(&domain.Connection{ID: "ycbm", Login: "me"})
	assert.Error(t, err)
}
