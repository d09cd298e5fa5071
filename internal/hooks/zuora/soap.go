package zuora

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"saasloader/internal/domain"
	"saasloader/internal/hooks/httpx"
)

const DefaultSOAPURL = "https://www.zuora.com/apps/services/a/91.0"

// SOAPClient queries Zuora over the SOAP API. Login happens lazily on the
// first Query and the session is reused afterwards.
type SOAPClient struct {
	URL      string
	username string
	password string
	http     *httpx.Client
	session  string
}

// NewSOAP uses Login/Password; Host or extra "wsdl_url" overrides the service URL.
func NewSOAP(conn *domain.Connection, opts ...httpx.Option) (*SOAPClient, error) {
	if conn.Login == "" {
		return nil, fmt.Errorf("zuora connection %q needs a login", conn.ID)
	}
	u := conn.Host
	if u == "" {
		u = conn.ExtraValue("wsdl_url", DefaultSOAPURL)
	}
	return &SOAPClient{URL: u, username: conn.Login, password: conn.Password, http: httpx.New(u, opts...)}, nil
}

// ── Envelope ───────────────────────────────────────────────

type soapField struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type soapRecord struct {
	Fields []soapField `xml:",any"`
}

type soapQueryResult struct {
	Done         bool         `xml:"done"`
	QueryLocator string       `xml:"queryLocator"`
	Records      []soapRecord `xml:"records"`
	Size         int          `xml:"size"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type soapResponse struct {
	Body struct {
		Fault *soapFault `xml:"Fault"`
		Login *struct {
			Result struct {
				Session   string `xml:"Session"`
				ServerURL string `xml:"ServerUrl"`
			} `xml:"result"`
		} `xml:"loginResponse"`
		Query *struct {
			Result soapQueryResult `xml:"result"`
		} `xml:"queryResponse"`
		QueryMore *struct {
			Result soapQueryResult `xml:"result"`
		} `xml:"queryMoreResponse"`
	} `xml:"Body"`
}

const envelopeHead = `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:api="http://api.zuora.com/">`

// envelope renders a request with an optional session header. params are
// element name / text pairs inside the operation element.
func envelope(session, op string, params ...string) []byte {
	var b bytes.Buffer
	b.WriteString(envelopeHead)
	b.WriteString("<soapenv:Header>")
	if session != "" {
		b.WriteString("<api:SessionHeader><api:session>")
		xml.EscapeText(&b, []byte(session))
		b.WriteString("</api:session></api:SessionHeader>")
	}
	b.WriteString("</soapenv:Header><soapenv:Body><api:" + op + ">")
	for i := 0; i+1 < len(params); i += 2 {
		b.WriteString("<api:" + params[i] + ">")
		xml.EscapeText(&b, []byte(params[i+1]))
		b.WriteString("</api:" + params[i] + ">")
	}
	b.WriteString("</api:" + op + "></soapenv:Body></soapenv:Envelope>")
	return b.Bytes()
}

func (c *SOAPClient) call(ctx context.Context, body []byte) (*soapResponse, error) {
	var raw []byte
	_, err := c.http.Do(ctx, httpx.Request{
		Method:      http.MethodPost,
		Body:        bytes.NewReader(body),
		ContentType: "text/xml; charset=utf-8",
		Header:      map[string]string{"Accept": "text/xml", "SOAPAction": `""`},
	}, &raw)

	var apiErr *httpx.APIError
	if errors.As(err, &apiErr) {
		raw = apiErr.Body
	} else if err != nil {
		return nil, err
	}

	var resp soapResponse
	if xerr := xml.Unmarshal(raw, &resp); xerr != nil {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("decode soap response: %w", xerr)
	}
	if f := resp.Body.Fault; f != nil {
		return nil, fmt.Errorf("soap fault %s: %s", f.Code, f.String)
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login opens a session. Later calls go to the server URL the login
// response names, when it is an absolute http(s) URL.
func (c *SOAPClient) Login(ctx context.Context) error {
	resp, err := c.call(ctx, envelope("", "login", "username", c.username, "password", c.password))
	if err != nil {
		return fmt.Errorf("zuora login: %w", err)
	}
	if resp.Body.Login == nil || resp.Body.Login.Result.Session == "" {
		return fmt.Errorf("zuora login: no session in response")
	}
	c.session = resp.Body.Login.Result.Session
	if server := strings.TrimSpace(resp.Body.Login.Result.ServerURL); server != "" {
		if u, err := url.Parse(server); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
			c.URL = server
			c.http.BaseURL = server
		}
	}
	return nil
}

// Query runs ZOQL and follows queryMore until done. Field values are
// returned as text keyed by field name.
func (c *SOAPClient) Query(ctx context.Context, zoql string) ([]map[string]any, error) {
	if c.session == "" {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}

	fetch := func(ctx context.Context, locator string) ([]map[string]any, string, bool, error) {
		var req []byte
		if locator == "" {
			req = envelope(c.session, "query", "queryString", zoql)
		} else {
			req = envelope(c.session, "queryMore", "queryLocator", locator)
		}
		resp, err := c.call(ctx, req)
		if err != nil {
			return nil, locator, false, fmt.Errorf("zoql query: %w", err)
		}
		var res *soapQueryResult
		switch {
		case resp.Body.Query != nil:
			res = &resp.Body.Query.Result
		case resp.Body.QueryMore != nil:
			res = &resp.Body.QueryMore.Result
		default:
			return nil, locator, false, fmt.Errorf("zoql query: empty response")
		}

		records := make([]map[string]any, 0, len(res.Records))
		for _, r := range res.Records {
			m := make(map[string]any, len(r.Fields))
			for _, f := range r.Fields {
				m[f.XMLName.Local] = f.Value
			}
			records = append(records, m)
		}
		return records, res.QueryLocator, !res.Done && res.QueryLocator != "", nil
	}
	return httpx.Paginate(ctx, "", fetch)
}
