package zuora_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saasloader/internal/domain"
	"saasloader/internal/hooks/zuora"
)

func restClient(t *testing.T, mux *http.ServeMux) *zuora.RESTClient {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := zuora.NewREST(&domain.Connection{ID: "z", Host: srv.URL, Login: "key", Password: "secret"})
	require.NoError(t, err)
	c.PollInterval = time.Millisecond
	return c
}

func decode(t *testing.T, r *http.Request) map[string]any {
	var m map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
	return m
}

// ─── REST ───────────────────────────────────────────────────

func TestRESTQueryFollowsQueryMore(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/action/query", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("apiAccessKeyId"))
		assert.Equal(t, "secret", r.Header.Get("apiSecretAccessKey"))
		assert.Equal(t, "select Id from Account", decode(t, r)["queryString"])
		w.Write([]byte(`{"done":false,"queryLocator":"L1","records":[{"Id":"a"},{"Id":"b"}]}`))
	})
	mux.HandleFunc("/action/queryMore", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "L1", decode(t, r)["queryLocator"])
		w.Write([]byte(`{"done":true,"records":[{"Id":"c"}]}`))
	})
	c := restClient(t, mux)

	recs, err := c.Query(context.Background(), "select Id from Account")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "c", recs[2]["Id"])
}

func TestCreateBillRunDefaults(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/object/bill-run", func(w http.ResponseWriter, r *http.Request) {
		body := decode(t, r)
		assert.Equal(t, "AllBatches", body["Batch"])
		assert.Equal(t, "AllBillCycleDays", body["BillCycleDay"])
		assert.Equal(t, "2020-01-31", body["InvoiceDate"])
		w.Write([]byte(`{"Success":true,"Id":"br-1"}`))
	})
	c := restClient(t, mux)

	id, err := c.CreateBillRun(context.Background(), zuora.BillRun{InvoiceDate: "2020-01-31", TargetDate: "2020-01-31"})
	require.NoError(t, err)
	assert.Equal(t, "br-1", id)
}

func TestCreateBillRunRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/object/bill-run", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Success":false,"Errors":[{"Message":"nope"}]}`))
	})
	_, err := restClient(t, mux).CreateBillRun(context.Background(), zuora.BillRun{})
	assert.Error(t, err)
}

func TestCancelAndUpdate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/subscriptions/s1/cancel", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "SpecificDate", decode(t, r)["cancellationPolicy"])
		w.Write([]byte(`{"success":true}`))
	})
	mux.HandleFunc("/object/payment-method/pm1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "Closed", decode(t, r)["PaymentMethodStatus"])
		w.Write([]byte(`{"Success":true,"Id":"pm1"}`))
	})
	c := restClient(t, mux)

	_, err := c.CancelSubscription(context.Background(), "s1", map[string]any{"cancellationPolicy": "SpecificDate"})
	require.NoError(t, err)
	_, err = c.UpdateObject(context.Background(), "payment-method", "pm1", map[string]any{"PaymentMethodStatus": "Closed"})
	require.NoError(t, err)
}

// ─── AQuA ───────────────────────────────────────────────────

func TestAquaQueryPollsAndParsesCSV(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/batch-query/", func(w http.ResponseWriter, r *http.Request) {
		body := decode(t, r)
		assert.Equal(t, "csv", body["format"])
		w.Write([]byte(`{"id":"job1","status":"submitted"}`))
	})
	mux.HandleFunc("/batch-query/jobs/job1", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) < 2 {
			w.Write([]byte(`{"id":"job1","status":"executing"}`))
			return
		}
		w.Write([]byte(`{"id":"job1","status":"completed","batches":[{"fileId":"f1"}]}`))
	})
	mux.HandleFunc("/files/f1", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "account,id\nA1,S1\nA2,S2\n")
	})
	c := restClient(t, mux)

	rows, err := c.AquaQuery(context.Background(), "select Id from Subscription")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&polls))
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]any{"account": "A2", "id": "S2"}, rows[1])
}

func TestAquaQueryFailedJob(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/batch-query/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"job1","status":"error","message":"bad zoql"}`))
	})
	_, err := restClient(t, mux).AquaQuery(context.Background(), "select")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad zoql")
}

// ─── SOAP ───────────────────────────────────────────────────

const soapNS = `xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:ns1="http://api.zuora.com/" xmlns:ns2="http://object.api.zuora.com/"`

func TestSOAPLoginAndQuery(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body := string(b)
		bodies = append(bodies, body)
		w.Header().Set("Content-Type", "text/xml")
		switch {
		case strings.Contains(body, "<api:login>"):
			io.WriteString(w, `<soap:Envelope `+soapNS+`><soap:Body><ns1:loginResponse><ns1:result>
				<ns1:ServerUrl>x</ns1:ServerUrl><ns1:Session>S-1</ns1:Session></ns1:result></ns1:loginResponse></soap:Body></soap:Envelope>`)
		case strings.Contains(body, "<api:queryMore>"):
			io.WriteString(w, `<soap:Envelope `+soapNS+`><soap:Body><ns1:queryMoreResponse><ns1:result>
				<ns1:done>true</ns1:done>
				<ns1:records><ns2:Id>c</ns2:Id><ns2:Name>Cy</ns2:Name></ns1:records>
				<ns1:size>1</ns1:size></ns1:result></ns1:queryMoreResponse></soap:Body></soap:Envelope>`)
		default:
			io.WriteString(w, `<soap:Envelope `+soapNS+`><soap:Body><ns1:queryResponse><ns1:result>
				<ns1:done>false</ns1:done><ns1:queryLocator>Q1</ns1:queryLocator>
				<ns1:records><ns2:Id>a</ns2:Id><ns2:Name>Ann</ns2:Name></ns1:records>
				<ns1:records><ns2:Id>b</ns2:Id><ns2:Name>Bo</ns2:Name></ns1:records>
				<ns1:size>2</ns1:size></ns1:result></ns1:queryResponse></soap:Body></soap:Envelope>`)
		}
	}))
	defer srv.Close()

	c, err := zuora.NewSOAP(&domain.Connection{ID: "z", Host: srv.URL, Login: "u", Password: "p"})
	require.NoError(t, err)

	var q zuora.Querier = c
	recs, err := q.Query(context.Background(), "select Id, Name from Account where Balance < 0")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, map[string]any{"Id": "b", "Name": "Bo"}, recs[1])
	assert.Equal(t, "Cy", recs[2]["Name"])

	require.Len(t, bodies, 3)
	assert.Contains(t, bodies[1], "<api:session>S-1</api:session>")
	assert.Contains(t, bodies[1], "Balance &lt; 0")
	assert.Contains(t, bodies[2], "<api:queryLocator>Q1</api:queryLocator>")
}

func TestSOAPFollowsLoginServerURL(t *testing.T) {
	var queried atomic.Int32
	tenant := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(b), "<api:session>S-2</api:session>")
		queried.Add(1)
		io.WriteString(w, `<soap:Envelope `+soapNS+`><soap:Body><ns1:queryResponse><ns1:result>
			<ns1:done>true</ns1:done><ns1:records><ns2:Id>a</ns2:Id></ns1:records>
			<ns1:size>1</ns1:size></ns1:result></ns1:queryResponse></soap:Body></soap:Envelope>`)
	}))
	defer tenant.Close()
	login := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		require.Contains(t, string(b), "<api:login>")
		io.WriteString(w, `<soap:Envelope `+soapNS+`><soap:Body><ns1:loginResponse><ns1:result>
			<ns1:ServerUrl>`+tenant.URL+`/apps/services/a/91.0</ns1:ServerUrl><ns1:Session>S-2</ns1:Session>
			</ns1:result></ns1:loginResponse></soap:Body></soap:Envelope>`)
	}))
	defer login.Close()

	c, err := zuora.NewSOAP(&domain.Connection{ID: "z", Host: login.URL, Login: "u", Password: "p"})
	require.NoError(t, err)
	recs, err := c.Query(context.Background(), "select Id from Account")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int32(1), queried.Load())
	assert.Equal(t, tenant.URL+"/apps/services/a/91.0", c.URL)
}

func TestSOAPFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `<soap:Envelope `+soapNS+`><soap:Body><soap:Fault>
			<faultcode>fns:INVALID_VALUE</faultcode><faultstring>invalid login</faultstring>
			</soap:Fault></soap:Body></soap:Envelope>`)
	}))
	defer srv.Close()

	c, err := zuora.NewSOAP(&domain.Connection{ID: "z", Host: srv.URL, Login: "u"})
	require.NoError(t, err)
	_, err = c.Query(context.Background(), "select Id from Account")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid login")
}
