package operators_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saasloader/internal/domain"
)

// ─── Warehouse → HubSpot ────────────────────────────────────

func TestWarehouseToHubSpot(t *testing.T) {
	h := newHarness(t,
		`CREATE TABLE contacts (email TEXT, firstname TEXT, segment TEXT)`,
		`INSERT INTO contacts VALUES ('a@example.com', 'Ann', 'smb'), ('b@example.com', 'Bob', 'ent')`,
	)
	h.store.objects["sql/contacts.sql"] = []byte(
		"select email, firstname from contacts where segment = :segment -- :ignored\n")

	var mu sync.Mutex
	var posted []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contact/batch/", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("hapikey"))
		var batch []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		mu.Lock()
		posted = append(posted, batch...)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)
	h.addConn("hubspot_default", &domain.Connection{Type: "hubspot", Host: srv.URL, Extra: map[string]string{"api_key": "k"}})

	res := h.run(t, "warehouse_to_hubspot", map[string]any{
		"query_s3_bucket": "sql",
		"query_s3_key":    "contacts.sql",
		"sql_params":      map[string]any{"segment": "smb"},
	})

	assert.Equal(t, 1, res.RowsRead)
	assert.Equal(t, 1, res.RowsWritten)
	require.Len(t, posted, 1)
	assert.Equal(t, "a@example.com", posted[0]["email"])
	assert.Equal(t, []any{map[string]any{"property": "firstname", "value": "Ann"}}, posted[0]["properties"])
}

// ─── Warehouse → Salesforce ─────────────────────────────────

func TestSalesforceUpsertShapesRecords(t *testing.T) {
	h := newHarness(t,
		`CREATE TABLE leads (ext_id TEXT, phone TEXT, account__r TEXT, owner_email TEXT)`,
		`INSERT INTO leads VALUES ('L1', NULL, NULL, 'rep@example.com')`,
	)
	h.store.objects["sql/leads.sql"] = []byte("select ext_id, phone, account__r, owner_email from leads")

	var records []map[string]any
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/services/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"access_token": "at", "token_type": "Bearer", "instance_url": srvURL})
	})
	mux.HandleFunc("/services/data/v58.0/composite/sobjects/Lead/Ext_Id__c", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Records []map[string]any `json:"records"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		records = body.Records
		writeJSON(w, 200, []any{map[string]any{"id": "00Q1", "success": true, "created": true}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL
	h.addConn("salesforce_default", &domain.Connection{
		Type: "salesforce", Host: srv.URL, Login: "user@example.com", Password: "pw",
		Extra: map[string]string{"client_id": "cid", "client_secret": "cs"},
	})

	res := h.run(t, "salesforce_upsert", map[string]any{
		"query_s3_bucket":   "sql",
		"query_s3_key":      "leads.sql",
		"salesforce_object": "Lead",
		"upsert_field":      "Ext_Id__c",
		"no_null_list":      []any{"PHONE"},
		"lookup_mapping":    map[string]any{"Owner_Email": "Email"},
	})

	assert.Equal(t, 1, res.RowsWritten)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "L1", rec["ext_id"])
	assert.NotContains(t, rec, "phone")
	assert.NotContains(t, rec, "account__r")
	v, ok := rec["account__c"]
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.Equal(t, map[string]any{"email": "rep@example.com"}, rec["owner_email"])
}

// ─── Generic sync ───────────────────────────────────────────

func TestSyncCSVFileToWarehouse(t *testing.T) {
	h := newHarness(t,
		`CREATE TABLE products (sku TEXT, name TEXT)`,
		`INSERT INTO products VALUES ('A', 'old')`,
	)
	path := filepath.Join(t.TempDir(), "products.csv")
	require.NoError(t, os.WriteFile(path, []byte("sku,name\nA,Anvil\nB,Bolt\n"), 0o644))

	res := h.run(t, "sync", map[string]any{
		"source_type":         "csv_file",
		"source":              map[string]any{"file_path": path},
		"table":               "products",
		"primary_key":         []any{"sku"},
		"columns":             []any{"sku", "name"},
		"destination_conn_id": "warehouse",
	})

	assert.Equal(t, 2, res.RowsRead)
	assert.Equal(t, 2, res.RowsWritten)
	assert.Equal(t, [][]string{{"A", "Anvil"}, {"B", "Bolt"}},
		h.rows(t, `SELECT sku, name FROM products ORDER BY sku`))
}

// ─── Outreach (credential refresh) ──────────────────────────

func TestOutreachRefreshesCredentialsAndMerges(t *testing.T) {
	h := newHarness(t,
		`ATTACH DATABASE ':memory:' AS outreach`,
		`CREATE TABLE outreach.oauth_credentials (client_id TEXT, access_token TEXT, refresh_token TEXT,
			expires_in INTEGER, expires_at TEXT, updated_at TEXT, token_type TEXT, scope TEXT)`,
		`INSERT INTO outreach.oauth_credentials (client_id, refresh_token) VALUES ('cid', 'r-old')`,
		`CREATE TABLE outreach.prospects (id TEXT, name TEXT, account TEXT)`,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "r-old", body["refresh_token"])
		writeJSON(w, 200, map[string]any{
			"access_token": "at-new", "refresh_token": "r-new", "expires_in": 7200,
			"token_type": "bearer", "scope": "prospects.read",
		})
	})
	mux.HandleFunc("/prospects", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-new", r.Header.Get("Authorization"))
		if r.URL.Query().Get("page[offset]") != "0" {
			writeJSON(w, 200, map[string]any{"data": []any{}})
			return
		}
		writeJSON(w, 200, map[string]any{
			"data": []any{map[string]any{
				"id":            1,
				"attributes":    map[string]any{"name": "Pat"},
				"relationships": map[string]any{"account": map[string]any{"data": map[string]any{"type": "account", "id": 9}}},
			}},
			"links": map[string]any{"next": "/prospects?page[offset]=1"},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	h.addConn("outreach_default", &domain.Connection{
		Type: "outreach", Host: srv.URL,
		Extra: map[string]string{"client_id": "cid", "client_secret": "cs", "token_url": srv.URL + "/oauth/token"},
	})

	res := h.run(t, "outreach_to_warehouse", map[string]any{
		"resource":           "prospects",
		"target_table":       "outreach.prospects",
		"primary_key":        "id",
		"ordered_field_list": []any{"id", "name", "account"},
	})

	assert.Equal(t, 1, res.RowsWritten)
	assert.Equal(t, [][]string{{"1", "Pat", "9"}},
		h.rows(t, `SELECT id, name, account FROM outreach.prospects`))
	assert.Equal(t, [][]string{{"at-new", "r-new", "7200", "bearer", "prospects.read"}},
		h.rows(t, `SELECT access_token, refresh_token, expires_in, token_type, scope FROM outreach.oauth_credentials`))
}
