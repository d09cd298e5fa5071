package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"saasloader/internal/etl"
	"saasloader/internal/hooks/httpx"
)

// ── HTTP Source ─────────────────────────────────────────────
// Fetches data from a JSON REST endpoint. data_path is a jq query selecting
// the rows, e.g. ".data.items[]" or ".results".

type httpSource struct{}

func init() { etl.RegisterSource(&httpSource{}) }

func (s *httpSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "http",
		Label: "HTTP API",
		ConfigFields: []etl.ConfigField{
			{Key: "url", Label: "URL", Type: "string", Required: true, Help: "Full URL to fetch"},
			{Key: "method", Label: "Method", Type: "select", Options: []string{"GET", "POST"}, Default: "GET"},
			{Key: "headers", Label: "Headers", Type: "map", Help: "Request headers"},
			{Key: "bearer_token", Label: "Bearer Token", Type: "password"},
			{Key: "body", Label: "Body", Type: "textarea", Help: "Request body (for POST)"},
			{Key: "data_path", Label: "Data Path", Type: "string", Help: "jq query selecting the rows (e.g. '.data.items')"},
		},
	}
}

func (s *httpSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	records, err := fetchHTTP(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return inferSchema(records), nil
}

func (s *httpSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		records, err := fetchHTTP(ctx, cfg)
		if err != nil {
			errCh <- err
			return
		}
		emit(out, ctx.Done(), records)
	}()

	return out, errCh
}

func fetchHTTP(ctx context.Context, cfg etl.SourceConfig) ([]etl.Record, error) {
	url := cfgString(cfg, "url", "")
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}

	var opts []httpx.Option
	if tok := cfgString(cfg, "bearer_token", ""); tok != "" {
		opts = append(opts, httpx.WithAuth(httpx.Bearer(tok)))
	}
	client := httpx.New("", opts...)

	req := httpx.Request{Method: strings.ToUpper(cfgString(cfg, "method", http.MethodGet)), Path: url}
	if body := cfgString(cfg, "body", ""); body != "" {
		req.Body = strings.NewReader(body)
		req.ContentType = "application/json"
	}
	if headers, ok := cfg["headers"].(map[string]any); ok {
		req.Header = make(map[string]string, len(headers))
		for k, v := range headers {
			req.Header[k] = fmt.Sprint(v)
		}
	}

	var data []byte
	if _, err := client.Do(ctx, req, &data); err != nil {
		return nil, err
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return selectRows(raw, cfgString(cfg, "data_path", ""))
}

// selectRows applies a jq query and turns its outputs into records. A query
// yielding a single array is treated as the row list.
func selectRows(raw any, query string) ([]etl.Record, error) {
	if query == "" {
		return toRecords(raw), nil
	}
	code, err := etl.CompileJQ(query)
	if err != nil {
		return nil, err
	}
	outs := etl.RunJQ(code, raw)
	if len(outs) == 1 {
		return toRecords(outs[0]), nil
	}
	return toRecords(outs), nil
}
