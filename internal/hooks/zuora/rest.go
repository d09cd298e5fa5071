// Package zuora talks to Zuora through its REST API (objects, ZOQL queries,
// bill runs, AQuA exports) and its SOAP API (ZOQL queries).
package zuora

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"saasloader/internal/domain"
	"saasloader/internal/hooks/httpx"
)

var restEndpoints = map[string]string{
	"production": "https://rest.zuora.com/v1/",
	"sandbox":    "https://rest.apisandbox.zuora.com/v1/",
}

// DefaultPollInterval is the wait between bill run and AQuA status checks.
const DefaultPollInterval = 5 * time.Second

// Querier runs a ZOQL query to completion.
type Querier interface {
	Query(ctx context.Context, zoql string) ([]map[string]any, error)
}

// RESTClient is a Zuora REST API client.
type RESTClient struct {
	PollInterval time.Duration
	http         *httpx.Client
}

// NewREST authenticates with the connection's Login/Password as access key
// headers. Extra "endpoint" selects production (default), sandbox or a URL;
// Host overrides both.
func NewREST(conn *domain.Connection, opts ...httpx.Option) (*RESTClient, error) {
	if conn.Login == "" {
		return nil, fmt.Errorf("zuora connection %q needs a login", conn.ID)
	}
	base := conn.Host
	if base == "" {
		endpoint := conn.ExtraValue("endpoint", "production")
		base = restEndpoints[endpoint]
		if base == "" {
			base = endpoint
		}
	}
	opts = append(opts,
		httpx.WithAuth(httpx.Header("apiAccessKeyId", conn.Login)),
		httpx.WithAuth(httpx.Header("apiSecretAccessKey", conn.Password)),
	)
	return &RESTClient{PollInterval: DefaultPollInterval, http: httpx.New(base, opts...)}, nil
}

func (c *RESTClient) post(ctx context.Context, path string, body, out any) error {
	_, err := c.http.Do(ctx, httpx.Request{Method: http.MethodPost, Path: path, JSON: body}, out)
	return err
}

func (c *RESTClient) put(ctx context.Context, path string, body, out any) error {
	_, err := c.http.Do(ctx, httpx.Request{Method: http.MethodPut, Path: path, JSON: body}, out)
	return err
}

// Query runs ZOQL through action/query and follows queryMore until done.
func (c *RESTClient) Query(ctx context.Context, zoql string) ([]map[string]any, error) {
	type cursor struct {
		locator string
		first   bool
	}
	fetch := func(ctx context.Context, cur cursor) ([]map[string]any, cursor, bool, error) {
		var resp map[string]any
		var err error
		if cur.first {
			err = c.post(ctx, "action/query", map[string]string{"queryString": zoql}, &resp)
		} else {
			err = c.post(ctx, "action/queryMore", map[string]string{"queryLocator": cur.locator}, &resp)
		}
		if err != nil {
			return nil, cur, false, fmt.Errorf("zoql query: %w", err)
		}
		next := cursor{locator: httpx.String(resp["queryLocator"])}
		done, _ := resp["done"].(bool)
		return httpx.Maps(resp["records"]), next, !done && next.locator != "", nil
	}
	return httpx.Paginate(ctx, cursor{first: true}, fetch)
}

// CreateObject posts payload to object/<name>.
func (c *RESTClient) CreateObject(ctx context.Context, name string, payload any) (map[string]any, error) {
	var resp map[string]any
	if err := c.post(ctx, "object/"+name, payload, &resp); err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	return resp, nil
}

// UpdateObject puts payload to object/<name>/<id>.
func (c *RESTClient) UpdateObject(ctx context.Context, name, id string, payload any) (map[string]any, error) {
	var resp map[string]any
	if err := c.put(ctx, "object/"+name+"/"+url.PathEscape(id), payload, &resp); err != nil {
		return nil, fmt.Errorf("update %s %s: %w", name, id, err)
	}
	return resp, nil
}

// BillRun is the object/bill-run payload.
type BillRun struct {
	InvoiceDate                 string `json:"InvoiceDate"`
	TargetDate                  string `json:"TargetDate"`
	AccountID                   string `json:"AccountId,omitempty"`
	AutoEmail                   bool   `json:"AutoEmail"`
	AutoPost                    bool   `json:"AutoPost"`
	AutoRenewal                 bool   `json:"AutoRenewal"`
	Batch                       string `json:"Batch,omitempty"`
	BillCycleDay                string `json:"BillCycleDay,omitempty"`
	ChargeTypeToExclude         string `json:"ChargeTypeToExclude,omitempty"`
	NoEmailForZeroAmountInvoice bool   `json:"NoEmailForZeroAmountInvoice"`
}

// CreateBillRun starts a bill run and returns its id.
func (c *RESTClient) CreateBillRun(ctx context.Context, br BillRun) (string, error) {
	if br.Batch == "" {
		br.Batch = "AllBatches"
	}
	if br.BillCycleDay == "" {
		br.BillCycleDay = "AllBillCycleDays"
	}
	resp, err := c.CreateObject(ctx, "bill-run", br)
	if err != nil {
		return "", err
	}
	if ok, _ := resp["Success"].(bool); !ok {
		return "", fmt.Errorf("bill run rejected: %v", resp["Errors"])
	}
	return httpx.String(resp["Id"]), nil
}

// CreateCreditBalanceAdjustment posts one credit balance adjustment.
func (c *RESTClient) CreateCreditBalanceAdjustment(ctx context.Context, payload map[string]any) (map[string]any, error) {
	return c.CreateObject(ctx, "credit-balance-adjustment", payload)
}

// CancelSubscription cancels a subscription with the given policy payload.
func (c *RESTClient) CancelSubscription(ctx context.Context, id string, payload map[string]any) (map[string]any, error) {
	var resp map[string]any
	if err := c.put(ctx, "subscriptions/"+url.PathEscape(id)+"/cancel", payload, &resp); err != nil {
		return nil, fmt.Errorf("cancel subscription %s: %w", id, err)
	}
	if ok, present := resp["success"].(bool); present && !ok {
		return resp, fmt.Errorf("cancel subscription %s rejected: %v", id, resp["reasons"])
	}
	return resp, nil
}

// ── AQuA ───────────────────────────────────────────────────

var (
	aquaRunning = map[string]bool{"submitted": true, "executing": true, "pending": true}
	aquaFailed  = map[string]bool{"aborted": true, "cancelled": true, "error": true}
)

// AquaQuery submits a ZOQL export job, polls it to completion and returns
// the CSV result rows keyed by header.
func (c *RESTClient) AquaQuery(ctx context.Context, zoql string) ([]map[string]any, error) {
	payload := map[string]any{
		"format":         "csv",
		"name":           "saasloader",
		"encrypted":      "none",
		"useQueryLabels": "true",
		"dateTimeUtc":    "true",
		"queries": []map[string]string{
			{"name": "ZOQLQUERY", "query": zoql, "type": "zoqlexport"},
		},
	}
	var job map[string]any
	if err := c.post(ctx, "batch-query/", payload, &job); err != nil {
		return nil, fmt.Errorf("submit aqua job: %w", err)
	}

	for {
		status := httpx.String(job["status"])
		if aquaFailed[status] {
			return nil, fmt.Errorf("aqua job %s %s: %s", httpx.String(job["id"]), status, httpx.String(job["message"]))
		}
		if !aquaRunning[status] {
			break
		}
		if err := sleep(ctx, c.PollInterval); err != nil {
			return nil, err
		}
		id := httpx.String(job["id"])
		job = nil
		if err := c.http.Get(ctx, "batch-query/jobs/"+url.PathEscape(id), nil, &job); err != nil {
			return nil, fmt.Errorf("poll aqua job %s: %w", id, err)
		}
	}

	batches := httpx.Maps(job["batches"])
	if len(batches) == 0 {
		return nil, fmt.Errorf("aqua job %s returned no batches", httpx.String(job["id"]))
	}
	var raw []byte
	if err := c.http.Get(ctx, "files/"+url.PathEscape(httpx.String(batches[0]["fileId"])), nil, &raw); err != nil {
		return nil, fmt.Errorf("download aqua file: %w", err)
	}
	return parseCSV(strings.NewReader(string(raw)))
}

func parseCSV(r io.Reader) ([]map[string]any, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read aqua header: %w", err)
	}
	var rows []map[string]any
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read aqua row: %w", err)
		}
		row := make(map[string]any, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
