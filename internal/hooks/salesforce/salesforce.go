// Package salesforce upserts records into Salesforce objects through the
// sObject collections API, authenticating with the OAuth2 password grant.
package salesforce

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"saasloader/internal/domain"
	"saasloader/internal/hooks/httpx"
)

const (
	DefaultLoginURL   = "https://login.salesforce.com"
	DefaultAPIVersion = "v58.0"
	CollectionSize    = 200
)

type Client struct {
	config     oauth2.Config
	username   string
	password   string
	apiVersion string
	opts       []httpx.Option

	api *httpx.Client
}

// New reads client_id, client_secret, security_token and api_version from
// the connection extras; Login/Password are the user credentials and Host
// the login URL.
func New(conn *domain.Connection, opts ...httpx.Option) (*Client, error) {
	if conn.Login == "" || conn.ExtraValue("client_id", "") == "" {
		return nil, fmt.Errorf("salesforce connection %q needs login and client_id", conn.ID)
	}
	loginURL := conn.Host
	if loginURL == "" {
		loginURL = DefaultLoginURL
	}
	return &Client{
		config: oauth2.Config{
			ClientID:     conn.ExtraValue("client_id", ""),
			ClientSecret: conn.ExtraValue("client_secret", ""),
			Endpoint: oauth2.Endpoint{
				TokenURL:  strings.TrimRight(loginURL, "/") + "/services/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		username:   conn.Login,
		password:   conn.Password + conn.ExtraValue("security_token", ""),
		apiVersion: conn.ExtraValue("api_version", DefaultAPIVersion),
		opts:       opts,
	}, nil
}

// Login performs the password grant and binds the client to the returned
// instance URL.
func (c *Client) Login(ctx context.Context) error {
	probe := httpx.New("", c.opts...)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, probe.HTTP)

	tok, err := c.config.PasswordCredentialsToken(ctx, c.username, c.password)
	if err != nil {
		return fmt.Errorf("salesforce login: %w", err)
	}
	instance, _ := tok.Extra("instance_url").(string)
	if instance == "" {
		return fmt.Errorf("salesforce login: token response has no instance_url")
	}
	base := strings.TrimRight(instance, "/") + "/services/data/" + c.apiVersion + "/"
	opts := append([]httpx.Option{}, c.opts...)
	opts = append(opts, httpx.WithAuth(httpx.Bearer(tok.AccessToken)))
	c.api = httpx.New(base, opts...)
	return nil
}

// UpsertResult is the outcome for one record, in input order.
type UpsertResult struct {
	ID      string
	Success bool
	Created bool
	Errors  []string
}

// Upsert writes records keyed by externalIDField in collections of
// CollectionSize. Rejected records are reported in the results; only
// transport or authentication failures return an error.
func (c *Client) Upsert(ctx context.Context, object, externalIDField string, records []map[string]any) ([]UpsertResult, error) {
	if c.api == nil {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}
	path := "composite/sobjects/" + url.PathEscape(object) + "/" + url.PathEscape(externalIDField)

	results := make([]UpsertResult, 0, len(records))
	for start := 0; start < len(records); start += CollectionSize {
		end := min(start+CollectionSize, len(records))
		chunk := make([]map[string]any, 0, end-start)
		for _, rec := range records[start:end] {
			body := make(map[string]any, len(rec)+1)
			for k, v := range rec {
				body[k] = v
			}
			body["attributes"] = map[string]any{"type": object}
			chunk = append(chunk, body)
		}

		var resp []any
		_, err := c.api.Do(ctx, httpx.Request{
			Method: http.MethodPatch,
			Path:   path,
			JSON:   map[string]any{"allOrNone": false, "records": chunk},
		}, &resp)
		if err != nil {
			return results, fmt.Errorf("upsert %s records %d-%d: %w", object, start+1, end, err)
		}
		for _, item := range httpx.Maps(resp) {
			r := UpsertResult{ID: httpx.String(item["id"])}
			r.Success, _ = item["success"].(bool)
			r.Created, _ = item["created"].(bool)
			for _, e := range httpx.Maps(item["errors"]) {
				r.Errors = append(r.Errors, fmt.Sprintf("%s: %s", httpx.String(e["statusCode"]), httpx.String(e["message"])))
			}
			results = append(results, r)
		}
	}
	return results, nil
}
