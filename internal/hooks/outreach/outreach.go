// Package outreach reads JSON:API resources from Outreach.io.
package outreach

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"saasloader/internal/domain"
	"saasloader/internal/hooks/httpx"
	"saasloader/internal/oauth"
)

const (
	DefaultBaseURL  = "https://api.outreach.io/api/v2/"
	DefaultTokenURL = "https://api.outreach.io/oauth/token"
	DefaultPageSize = 100
)

// CredentialColumns maps oauth_credentials columns to refresh response fields.
var CredentialColumns = map[string]string{
	"token_type": "token_type",
	"scope":      "scope",
}

// Query narrows a RetrieveAll call.
type Query struct {
	FilterField     string // filter[<field>]
	FilterStatement string
	Sort            string
	PageLimit       int
	PageOffset      int
}

type Client struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	TokenURL     string

	http  *httpx.Client
	token string
}

// New reads client_id, client_secret and redirect_uri from the connection extras.
func New(conn *domain.Connection, opts ...httpx.Option) (*Client, error) {
	c := &Client{
		ClientID:     conn.ExtraValue("client_id", conn.Login),
		ClientSecret: conn.ExtraValue("client_secret", conn.Password),
		RedirectURI:  conn.ExtraValue("redirect_uri", ""),
		TokenURL:     conn.ExtraValue("token_url", DefaultTokenURL),
	}
	if c.ClientID == "" {
		return nil, fmt.Errorf("outreach connection %q needs client_id", conn.ID)
	}
	base := conn.Host
	if base == "" {
		base = DefaultBaseURL
	}
	opts = append(opts,
		httpx.WithHeader("Accept", "application/vnd.api+json"),
		httpx.WithAuth(func(r *http.Request) {
			if c.token != "" {
				r.Header.Set("Authorization", "Bearer "+c.token)
			}
		}),
	)
	c.http = httpx.New(base, opts...)
	return c, nil
}

func (c *Client) SetAccessToken(token string) { c.token = token }

// Refresher posts the refresh grant with the client credentials in the body.
func (c *Client) Refresher() *oauth.JSONRefresher {
	return &oauth.JSONRefresher{
		TokenURL:     c.TokenURL,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURI:  c.RedirectURI,
		HTTP:         c.http,
	}
}

// RetrieveAll pages through a resource and returns flattened records: id,
// every attribute, and for each relationship the first related id keyed by
// its type.
func (c *Client) RetrieveAll(ctx context.Context, resource string, q Query) ([]map[string]any, error) {
	limit := q.PageLimit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	params := url.Values{"page[limit]": {strconv.Itoa(limit)}}
	if q.FilterField != "" {
		params.Set("filter["+q.FilterField+"]", q.FilterStatement)
	}
	if q.Sort != "" {
		params.Set("sort", q.Sort)
	}

	fetch := func(ctx context.Context, offset string) ([]map[string]any, string, bool, error) {
		page := url.Values{}
		for k, v := range params {
			page[k] = v
		}
		page.Set("page[offset]", offset)

		var resp map[string]any
		if err := c.http.Get(ctx, resource, page, &resp); err != nil {
			return nil, offset, false, fmt.Errorf("retrieve %s: %w", resource, err)
		}
		data := httpx.Maps(resp["data"])
		if len(data) == 0 {
			return nil, offset, false, nil
		}
		records := make([]map[string]any, 0, len(data))
		for _, item := range data {
			records = append(records, Flatten(item))
		}
		next := nextOffset(httpx.String(httpx.Path(resp, "links", "next")), offset)
		return records, next, true, nil
	}
	return httpx.Paginate(ctx, strconv.Itoa(q.PageOffset), fetch)
}

// Flatten turns one JSON:API resource object into a flat record. When two
// relationships point at the same type, the one whose name sorts last wins.
func Flatten(item map[string]any) map[string]any {
	rec := map[string]any{"id": item["id"]}
	for k, v := range httpx.Map(item["attributes"]) {
		rec[k] = v
	}
	rels := httpx.Map(item["relationships"])
	for _, name := range slices.Sorted(maps.Keys(rels)) {
		rel := rels[name]
		var ref map[string]any
		switch d := httpx.Map(rel)["data"].(type) {
		case []any:
			if len(d) > 0 {
				ref = httpx.Map(d[0])
			}
		case map[string]any:
			ref = d
		}
		if typ := httpx.String(ref["type"]); typ != "" {
			rec[typ] = ref["id"]
		}
	}
	return rec
}

// nextOffset reads page[offset] from the next link, or returns current.
func nextOffset(link, current string) string {
	if link == "" {
		return current
	}
	u, err := url.Parse(link)
	if err != nil {
		return current
	}
	if off := u.Query().Get("page[offset]"); off != "" {
		return off
	}
	return current
}
