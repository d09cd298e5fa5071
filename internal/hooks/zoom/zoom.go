// Package zoom is a client for the Zoom v2 REST API (users, webinars,
// registrants and webinar participant reports).
package zoom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"saasloader/internal/domain"
	"saasloader/internal/hooks/httpx"
)

const (
	DefaultBaseURL = "https://api.zoom.us/v2/"
	PageSize       = 300
	tokenLifetime  = 5000 * time.Second
)

// Codes Zoom returns when a participant report is unavailable.
var terminalCodes = map[int]bool{403: true, 3001: true}

// webinarKeys are the fields kept by RetrieveWebinar.
var webinarKeys = []string{"uuid", "id", "host_id", "topic", "type", "start_time", "duration", "timezone", "created_at", "join_url"}

// Client is a Zoom API handle. Create one per operator run.
type Client struct {
	http *httpx.Client
}

// New signs an API token from the connection's api_key/secret (Extra, or
// Login/Password) and returns a client.
func New(conn *domain.Connection, opts ...httpx.Option) (*Client, error) {
	key := conn.ExtraValue("api_key", conn.Login)
	secret := conn.ExtraValue("secret", conn.Password)
	if key == "" || secret == "" {
		return nil, fmt.Errorf("zoom connection %q needs api_key and secret", conn.ID)
	}
	token, err := SignToken(key, secret, time.Now())
	if err != nil {
		return nil, err
	}

	base := conn.Host
	if base == "" {
		base = DefaultBaseURL
	}
	opts = append(opts, httpx.WithAuth(httpx.QueryParam("access_token", token)))
	return &Client{http: httpx.New(base, opts...)}, nil
}

// SignToken builds the HS256 JWT Zoom accepts as access_token.
func SignToken(key, secret string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": key,
		"exp": now.Add(tokenLifetime).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign zoom token: %w", err)
	}
	return signed, nil
}

// ListUsers returns every user of the account.
func (c *Client) ListUsers(ctx context.Context) ([]map[string]any, error) {
	return c.listPaged(ctx, "users", "users", false)
}

// ListWebinars returns every webinar hosted by userID.
func (c *Client) ListWebinars(ctx context.Context, userID string) ([]map[string]any, error) {
	return c.listPaged(ctx, "users/"+url.PathEscape(userID)+"/webinars", "webinars", false)
}

// ListRegistrants returns the registrants of a webinar.
func (c *Client) ListRegistrants(ctx context.Context, webinarID string) ([]map[string]any, error) {
	return c.listPaged(ctx, "webinars/"+url.PathEscape(webinarID)+"/registrants", "registrants", false)
}

// ListParticipants returns the participant report of a past webinar. A
// report that is unavailable (codes 403/3001) ends the listing without error.
func (c *Client) ListParticipants(ctx context.Context, webinarID string) ([]map[string]any, error) {
	return c.listPaged(ctx, "report/webinars/"+url.PathEscape(webinarID)+"/participants", "participants", true)
}

// RetrieveWebinar returns one webinar restricted to its descriptive fields.
func (c *Client) RetrieveWebinar(ctx context.Context, webinarID string) (map[string]any, error) {
	var resp map[string]any
	if err := c.http.Get(ctx, "webinars/"+url.PathEscape(webinarID), nil, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(webinarKeys))
	for _, k := range webinarKeys {
		if v, ok := resp[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// listPaged walks page_number until it reaches page_count.
func (c *Client) listPaged(ctx context.Context, path, key string, stopOnTerminal bool) ([]map[string]any, error) {
	fetch := func(ctx context.Context, page int) ([]map[string]any, int, bool, error) {
		q := url.Values{
			"page_size":   {strconv.Itoa(PageSize)},
			"page_number": {strconv.Itoa(page)},
		}
		var resp map[string]any
		if err := c.http.Get(ctx, path, q, &resp); err != nil {
			if stopOnTerminal && terminalCodes[errorCode(err)] {
				return nil, page, false, nil
			}
			return nil, page, false, err
		}

		items := httpx.Maps(resp[key])
		pageCount := httpx.Int(resp["page_count"])
		more := pageCount != 0 && page < pageCount && len(items) > 0
		if stopOnTerminal && terminalCodes[httpx.Int(resp["code"])] {
			more = false
		}
		return items, page + 1, more, nil
	}
	return httpx.Paginate(ctx, 1, fetch)
}

// errorCode extracts Zoom's error code from an API error, falling back to the HTTP status.
func errorCode(err error) int {
	var apiErr *httpx.APIError
	if !errors.As(err, &apiErr) {
		return 0
	}
	var body struct {
		Code int `json:"code"`
	}
	if json.Unmarshal(apiErr.Body, &body) == nil && body.Code != 0 {
		return body.Code
	}
	return apiErr.Status
}
