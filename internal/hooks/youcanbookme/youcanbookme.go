// Package youcanbookme reads booking profiles from the YouCanBookMe v1 API.
package youcanbookme

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"saasloader/internal/domain"
	"saasloader/internal/hooks/httpx"
)

const DefaultBaseURL = "https://api.youcanbook.me/v1/"

type Client struct {
	AccountID string
	http      *httpx.Client
}

// New reads username, password and account_id from the connection extras,
// falling back to Login/Password.
func New(conn *domain.Connection, opts ...httpx.Option) (*Client, error) {
	user := conn.ExtraValue("username", conn.Login)
	pass := conn.ExtraValue("password", conn.Password)
	account := conn.ExtraValue("account_id", "")
	if user == "" || account == "" {
		return nil, fmt.Errorf("youcanbookme connection %q needs username and account_id", conn.ID)
	}
	base := conn.Host
	if base == "" {
		base = DefaultBaseURL
	}
	opts = append(opts, httpx.WithAuth(httpx.Basic(user, pass)))
	return &Client{AccountID: account, http: httpx.New(base, opts...)}, nil
}

func fieldsQuery(fields []string) url.Values {
	if len(fields) == 0 {
		return nil
	}
	return url.Values{"fields": {strings.Join(fields, ",")}}
}

// RetrieveProfiles lists the account's profiles with the requested fields.
func (c *Client) RetrieveProfiles(ctx context.Context, fields []string) ([]map[string]any, error) {
	var resp []any
	if err := c.http.Get(ctx, url.PathEscape(c.AccountID)+"/profiles", fieldsQuery(fields), &resp); err != nil {
		return nil, fmt.Errorf("retrieve profiles: %w", err)
	}
	return httpx.Maps(resp), nil
}

// RetrieveBooking returns one booking of a profile.
func (c *Client) RetrieveBooking(ctx context.Context, fields []string, profileID, bookingID string) (map[string]any, error) {
	path := fmt.Sprintf("%s/profiles/%s/bookings/%s",
		url.PathEscape(c.AccountID), url.PathEscape(profileID), url.PathEscape(bookingID))
	var resp map[string]any
	if err := c.http.Get(ctx, path, fieldsQuery(fields), &resp); err != nil {
		return nil, fmt.Errorf("retrieve booking: %w", err)
	}
	return resp, nil
}
