// Package httpx is the shared HTTP plumbing for the provider hooks: base URL
// resolution, authentication, client-side rate limiting, JSON decoding and
// typed API errors.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

// Auth decorates an outgoing request with credentials.
type Auth func(*http.Request)

// Bearer sets "Authorization: Bearer <token>".
func Bearer(token string) Auth {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

// Basic sets HTTP basic auth.
func Basic(user, pass string) Auth {
	return func(r *http.Request) { r.SetBasicAuth(user, pass) }
}

// Header sets a fixed header, e.g. API key headers.
func Header(name, value string) Auth {
	return func(r *http.Request) { r.Header.Set(name, value) }
}

// QueryParam adds a query parameter, e.g. "hapikey" or "access_token".
func QueryParam(name, value string) Auth {
	return func(r *http.Request) {
		q := r.URL.Query()
		q.Set(name, value)
		r.URL.RawQuery = q.Encode()
	}
}

// Client is a small JSON-over-HTTP client bound to one API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Limiter *rate.Limiter
	Auth    []Auth
	Headers map[string]string
	Logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAuth appends an authentication decorator.
func WithAuth(a Auth) Option { return func(c *Client) { c.Auth = append(c.Auth, a) } }

// WithRateLimit allows rps requests per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.Limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.HTTP = h } }

// WithHeader sets a default header on every request.
func WithHeader(k, v string) Option { return func(c *Client) { c.Headers[k] = v } }

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.Logger = l } }

// New creates a Client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: DefaultTimeout},
		Headers: map[string]string{},
	}
	for _, o := range opts {
		o(c)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Request describes one call. Exactly one of JSON, Form or Body may be set.
type Request struct {
	Method      string
	Path        string // relative to BaseURL, or absolute
	Query       url.Values
	Header      map[string]string
	JSON        any
	Form        url.Values
	Body        io.Reader
	ContentType string
}

// APIError is returned for responses with status >= 400.
type APIError struct {
	Status int
	Method string
	URL    string
	Body   []byte
}

func (e *APIError) Error() string {
	body := string(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.URL, e.Status, body)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// URL resolves path against the base URL.
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") || c.BaseURL == "" {
		return path
	}
	if path == "" {
		return c.BaseURL
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// Do performs the request and decodes the response into out. out may be nil
// (body discarded) or *[]byte (raw body); anything else is JSON-decoded with
// numbers kept as json.Number. The status code is returned even on error.
func (c *Client) Do(ctx context.Context, r Request, out any) (int, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	body, contentType, err := encodeBody(r)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(r.Path), body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if len(r.Query) > 0 {
		q := req.URL.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		req.URL.RawQuery = q.Encode()
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range r.Header {
		req.Header.Set(k, v)
	}
	for _, a := range c.Auth {
		a(req)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	c.Logger.Debug("http request", "method", method, "path", req.URL.Path,
		"status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode >= 400 {
		return resp.StatusCode, &APIError{Status: resp.StatusCode, Method: method, URL: req.URL.Path, Body: data}
	}

	switch o := out.(type) {
	case nil:
	case *[]byte:
		*o = data
	default:
		if len(bytes.TrimSpace(data)) == 0 {
			return resp.StatusCode, nil
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", req.URL.Path, err)
		}
	}
	return resp.StatusCode, nil
}

// Get is a convenience for GET requests with query parameters.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	_, err := c.Do(ctx, Request{Path: path, Query: query}, out)
	return err
}

func encodeBody(r Request) (io.Reader, string, error) {
	switch {
	case r.JSON != nil:
		b, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("encode body: %w", err)
		}
		return bytes.NewReader(b), "application/json", nil
	case r.Form != nil:
		return strings.NewReader(r.Form.Encode()), "application/x-www-form-urlencoded", nil
	case r.Body != nil:
		return r.Body, r.ContentType, nil
	}
	return nil, "", nil
}
