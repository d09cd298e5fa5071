// Package hubspot upserts and deletes contacts through the HubSpot contacts v1 API.
package hubspot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"saasloader/internal/domain"
	"saasloader/internal/hooks/httpx"
)

const (
	DefaultBaseURL = "https://api.hubapi.com/contacts/v1/"
	BatchSize      = 100
)

type Client struct {
	http *httpx.Client
}

// New authenticates with extra "api_key" (sent as hapikey) or, when set,
// extra "access_token" as a bearer token.
func New(conn *domain.Connection, opts ...httpx.Option) (*Client, error) {
	base := conn.Host
	if base == "" {
		base = DefaultBaseURL
	}
	switch {
	case conn.ExtraValue("access_token", "") != "":
		opts = append(opts, httpx.WithAuth(httpx.Bearer(conn.ExtraValue("access_token", ""))))
	case conn.ExtraValue("api_key", conn.Password) != "":
		opts = append(opts, httpx.WithAuth(httpx.QueryParam("hapikey", conn.ExtraValue("api_key", conn.Password))))
	default:
		return nil, fmt.Errorf("hubspot connection %q needs api_key or access_token", conn.ID)
	}
	return &Client{http: httpx.New(base, opts...)}, nil
}

type property struct {
	Property string `json:"property"`
	Value    any    `json:"value"`
}

type contact struct {
	Email      string     `json:"email,omitempty"`
	Properties []property `json:"properties"`
}

// UpsertStats summarizes an UpsertContacts call.
type UpsertStats struct {
	Batches   int
	Fallbacks int // batches retried one contact at a time
	Upserted  int
	Failed    int
}

// toContact moves "email" out of the record and turns the remaining fields
// into properties, ordered by name.
func toContact(rec map[string]any) (contact, bool) {
	email := httpx.String(rec["email"])
	if email == "" {
		return contact{}, false
	}
	keys := make([]string, 0, len(rec))
	for k := range rec {
		if k != "email" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	c := contact{Email: email, Properties: make([]property, 0, len(keys))}
	for _, k := range keys {
		c.Properties = append(c.Properties, property{Property: k, Value: rec[k]})
	}
	return c, true
}

// UpsertContacts posts contacts in batches of BatchSize. A batch that is not
// accepted with 202 is retried contact by contact through createOrUpdate;
// individual failures are logged and counted, not returned.
func (c *Client) UpsertContacts(ctx context.Context, records []map[string]any) (UpsertStats, error) {
	log := c.http.Logger
	var stats UpsertStats

	contacts := make([]contact, 0, len(records))
	for _, rec := range records {
		ct, ok := toContact(rec)
		if !ok {
			log.Error("contact without email skipped", "record", rec)
			stats.Failed++
			continue
		}
		contacts = append(contacts, ct)
	}

	log.Info("batch upserting contacts", "contacts", len(contacts))
	for start := 0; start < len(contacts); start += BatchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		end := min(start+BatchSize, len(contacts))
		batch := contacts[start:end]
		stats.Batches++
		log.Info("posting contacts", "from", start+1, "to", end)

		status, err := c.http.Do(ctx, httpx.Request{Method: http.MethodPost, Path: "contact/batch/", JSON: batch}, nil)
		if err == nil && status == http.StatusAccepted {
			stats.Upserted += len(batch)
			continue
		}
		if status == 0 && err != nil {
			return stats, fmt.Errorf("post contact batch: %w", err)
		}

		log.Info("batch upsert failed, switching to individual upsert", "status", status)
		stats.Fallbacks++
		for _, ct := range batch {
			path := "contact/createOrUpdate/email/" + url.PathEscape(ct.Email) + "/"
			body := contact{Properties: ct.Properties}
			status, err := c.http.Do(ctx, httpx.Request{Method: http.MethodPost, Path: path, JSON: body}, nil)
			if err == nil && status == http.StatusOK {
				stats.Upserted++
				continue
			}
			if status == 0 && err != nil {
				return stats, fmt.Errorf("upsert contact %s: %w", ct.Email, err)
			}
			log.Error("contact upsert failed", "email", ct.Email, "status", status, "error", err)
			stats.Failed++
		}
	}
	log.Info("upsert contacts completed", "upserted", stats.Upserted, "failed", stats.Failed)
	return stats, nil
}

// DeleteContacts deletes contacts by vid and returns how many were deleted.
// Failures are logged.
func (c *Client) DeleteContacts(ctx context.Context, ids []string) (int, error) {
	deleted := 0
	for _, id := range ids {
		var resp map[string]any
		status, err := c.http.Do(ctx, httpx.Request{Method: http.MethodDelete, Path: "contact/vid/" + url.PathEscape(id)}, &resp)
		if status == 0 && err != nil {
			return deleted, fmt.Errorf("delete contact %s: %w", id, err)
		}
		if ok, _ := resp["deleted"].(bool); err != nil || !ok {
			c.http.Logger.Error("contact delete failed", "vid", id, "status", status, "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}
