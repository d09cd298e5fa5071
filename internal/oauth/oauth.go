// Package oauth keeps provider refresh tokens in a warehouse table and trades
// them for fresh access tokens before each run.
package oauth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"saasloader/internal/domain"
	"saasloader/internal/hooks/httpx"
)

// ErrNotFound is returned when the credential table has no row for a key.
var ErrNotFound = errors.New("oauth credentials not found")

// Token is the result of a refresh exchange.
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
	Expiry       time.Time
	Extra        map[string]any
}

// Refresher exchanges a refresh token for a new Token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
}

// ── Credential table ───────────────────────────────────────

// CredentialTable reads and updates one row per account in a table such as
// gotowebinar.oauth_credentials, keyed by KeyColumn.
type CredentialTable struct {
	DB        *sql.DB
	Driver    domain.DatabaseDriver
	Table     string
	KeyColumn string
	Now       func() time.Time
}

func (t *CredentialTable) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Load returns the stored tokens for key.
func (t *CredentialTable) Load(ctx context.Context, key string) (*Token, error) {
	q := fmt.Sprintf("select refresh_token, access_token, expires_at from %s where %s = %s",
		t.Table, t.KeyColumn, t.Driver.Placeholder(1))

	var refresh, access sql.NullString
	var expires any
	err := t.DB.QueryRowContext(ctx, q, key).Scan(&refresh, &access, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s=%s: %w", t.Table, t.KeyColumn, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return &Token{
		RefreshToken: refresh.String,
		AccessToken:  access.String,
		Expiry:       parseTime(expires),
	}, nil
}

// Save writes a refreshed token. extraColumns maps a column name to the
// token extra it is filled from.
func (t *CredentialTable) Save(ctx context.Context, key string, tok *Token, extraColumns map[string]string) error {
	now := t.now().UTC()
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = now.Add(time.Duration(tok.ExpiresIn) * time.Second)
	}

	sets := []string{"access_token", "refresh_token", "expires_in", "expires_at", "updated_at"}
	args := []any{tok.AccessToken, tok.RefreshToken, tok.ExpiresIn, expiresAt.UTC(), now}

	cols := make([]string, 0, len(extraColumns))
	for c := range extraColumns {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	for _, c := range cols {
		sets = append(sets, c)
		args = append(args, extraString(tok.Extra[extraColumns[c]]))
	}

	assigns := make([]string, len(sets))
	for i, c := range sets {
		assigns[i] = c + " = " + t.Driver.Placeholder(i+1)
	}
	args = append(args, key)
	q := fmt.Sprintf("update %s set %s where %s = %s",
		t.Table, strings.Join(assigns, ", "), t.KeyColumn, t.Driver.Placeholder(len(args)))

	res, err := t.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s %s=%s: %w", t.Table, t.KeyColumn, key, ErrNotFound)
	}
	return nil
}

// Refresh loads the refresh token for key, exchanges it and persists the
// result. The new access token is returned.
func Refresh(ctx context.Context, table *CredentialTable, r Refresher, key string, extraColumns map[string]string) (*Token, error) {
	stored, err := table.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if stored.RefreshToken == "" {
		return nil, fmt.Errorf("%s %s=%s has no refresh token", table.Table, table.KeyColumn, key)
	}
	tok, err := r.Refresh(ctx, stored.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh %s: %w", key, err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = stored.RefreshToken
	}
	if err := table.Save(ctx, key, tok, extraColumns); err != nil {
		return nil, err
	}
	return tok, nil
}

// ── Refreshers ─────────────────────────────────────────────

// OAuth2Refresher performs a standard refresh_token grant. ExtraKeys lists
// the non-standard response fields copied into Token.Extra.
type OAuth2Refresher struct {
	Config     oauth2.Config
	HTTPClient *http.Client
	ExtraKeys  []string
}

func (r *OAuth2Refresher) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	if r.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.HTTPClient)
	}
	tok, err := r.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, err
	}
	out := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		Extra:        map[string]any{},
	}
	if !tok.Expiry.IsZero() {
		out.ExpiresIn = int(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	for _, k := range r.ExtraKeys {
		if v := tok.Extra(k); v != nil {
			out.Extra[k] = v
		}
	}
	return out, nil
}

// JSONRefresher posts the grant as a JSON body carrying the client
// credentials and redirect URI.
type JSONRefresher struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	HTTP         *httpx.Client
}

func (r *JSONRefresher) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	client := r.HTTP
	if client == nil {
		client = httpx.New("")
	}
	body := map[string]string{
		"client_id":     r.ClientID,
		"client_secret": r.ClientSecret,
		"redirect_uri":  r.RedirectURI,
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}
	var resp map[string]any
	if _, err := client.Do(ctx, httpx.Request{Method: http.MethodPost, Path: r.TokenURL, JSON: body}, &resp); err != nil {
		return nil, err
	}

	tok := &Token{
		AccessToken:  httpx.String(resp["access_token"]),
		RefreshToken: httpx.String(resp["refresh_token"]),
		TokenType:    httpx.String(resp["token_type"]),
		ExpiresIn:    httpx.Int(resp["expires_in"]),
		Extra:        resp,
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}
	if tok.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return tok, nil
}

// ── Helpers ────────────────────────────────────────────────

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case []byte:
		return parseTime(string(t))
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}

func extraString(v any) any {
	if v == nil {
		return nil
	}
	return httpx.String(v)
}
