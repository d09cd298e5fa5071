// Package gotowebinar reads webinars, sessions, registrants and attendees
// from the GoToWebinar v2 REST API.
package gotowebinar

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"saasloader/internal/domain"
	"saasloader/internal/hooks/httpx"
	"saasloader/internal/oauth"
)

const (
	DefaultBaseURL  = "https://api.getgo.com/G2W/rest/v2/"
	DefaultTokenURL = "https://api.getgo.com/oauth/v2/token"
)

// CredentialColumns maps oauth_credentials columns to refresh response fields.
var CredentialColumns = map[string]string{
	"version":      "version",
	"account_key":  "account_key",
	"account_type": "account_type",
	"email":        "email",
	"firstname":    "firstName",
	"lastname":     "lastName",
}

// Client is bound to one organizer. Call SetAccessToken after refreshing.
type Client struct {
	OrgKey         string
	ConsumerKey    string
	ConsumerSecret string
	TokenURL       string

	http  *httpx.Client
	token string
}

// New reads org_key, consumer_key and consumer_secret from the connection
// extras. Host overrides the API base URL; extra token_url the token endpoint.
func New(conn *domain.Connection, opts ...httpx.Option) (*Client, error) {
	c := &Client{
		OrgKey:         conn.ExtraValue("org_key", ""),
		ConsumerKey:    conn.ExtraValue("consumer_key", conn.Login),
		ConsumerSecret: conn.ExtraValue("consumer_secret", conn.Password),
		TokenURL:       conn.ExtraValue("token_url", DefaultTokenURL),
	}
	if c.OrgKey == "" || c.ConsumerKey == "" {
		return nil, fmt.Errorf("gotowebinar connection %q needs org_key and consumer_key", conn.ID)
	}
	base := conn.Host
	if base == "" {
		base = DefaultBaseURL
	}
	// The API takes the raw token, without a Bearer prefix.
	opts = append(opts, httpx.WithAuth(func(r *http.Request) {
		if c.token != "" {
			r.Header.Set("Authorization", c.token)
		}
	}))
	c.http = httpx.New(base, opts...)
	return c, nil
}

// SetAccessToken sets the token used by subsequent calls.
func (c *Client) SetAccessToken(token string) { c.token = token }

// Refresher returns the refresh_token grant for this consumer, with the
// consumer credentials sent as a basic auth header.
func (c *Client) Refresher() *oauth.OAuth2Refresher {
	keys := make([]string, 0, len(CredentialColumns))
	for _, k := range CredentialColumns {
		keys = append(keys, k)
	}
	return &oauth.OAuth2Refresher{
		Config: oauth2.Config{
			ClientID:     c.ConsumerKey,
			ClientSecret: c.ConsumerSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: c.TokenURL, AuthStyle: oauth2.AuthStyleInHeader},
		},
		HTTPClient: c.http.HTTP,
		ExtraKeys:  keys,
	}
}

func (c *Client) organizerPath(parts ...string) string {
	p := "organizers/" + url.PathEscape(c.OrgKey)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// GetWebinars lists webinars with a time in [from, to] (ISO8601 UTC).
func (c *Client) GetWebinars(ctx context.Context, from, to string) ([]map[string]any, error) {
	var resp map[string]any
	q := url.Values{"fromTime": {from}, "toTime": {to}}
	if err := c.http.Get(ctx, c.organizerPath("webinars"), q, &resp); err != nil {
		return nil, fmt.Errorf("get webinars: %w", err)
	}
	return httpx.Maps(httpx.Path(resp, "_embedded", "webinars")), nil
}

// GetSessions lists the sessions of a webinar.
func (c *Client) GetSessions(ctx context.Context, webinarKey string) ([]map[string]any, error) {
	var resp map[string]any
	if err := c.http.Get(ctx, c.organizerPath("webinars", url.PathEscape(webinarKey), "sessions"), nil, &resp); err != nil {
		return nil, fmt.Errorf("get sessions: %w", err)
	}
	return httpx.Maps(httpx.Path(resp, "_embedded", "sessionInfoResources")), nil
}

// GetRegistrants lists the registrants of a webinar.
func (c *Client) GetRegistrants(ctx context.Context, webinarKey string) ([]map[string]any, error) {
	var resp []any
	if err := c.http.Get(ctx, c.organizerPath("webinars", url.PathEscape(webinarKey), "registrants"), nil, &resp); err != nil {
		return nil, fmt.Errorf("get registrants: %w", err)
	}
	return httpx.Maps(resp), nil
}

// GetAttendees lists the attendees of one session. Items are returned as
// decoded; non-object items are the caller's to report.
func (c *Client) GetAttendees(ctx context.Context, webinarKey, sessionKey string) ([]any, error) {
	var resp []any
	path := c.organizerPath("webinars", url.PathEscape(webinarKey), "sessions", url.PathEscape(sessionKey), "attendees")
	if err := c.http.Get(ctx, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("get attendees: %w", err)
	}
	return resp, nil
}
