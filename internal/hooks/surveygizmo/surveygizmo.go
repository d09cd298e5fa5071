// Package surveygizmo reads surveys, questions, options and responses from
// the SurveyGizmo v5 REST API.
package surveygizmo

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"saasloader/internal/domain"
	"saasloader/internal/hooks/httpx"
)

const DefaultBaseURL = "https://restapi.surveygizmo.com/"

// Filter restricts GetResponses, e.g. {"date_submitted", ">=", "2020-01-01"}.
type Filter struct {
	Field    string
	Operator string
	Value    string
}

type Client struct {
	http *httpx.Client
}

// New reads api_token and api_token_secret (and optional api_version,
// default v5) from the connection extras.
func New(conn *domain.Connection, opts ...httpx.Option) (*Client, error) {
	token := conn.ExtraValue("api_token", conn.Login)
	secret := conn.ExtraValue("api_token_secret", conn.Password)
	if token == "" {
		return nil, fmt.Errorf("surveygizmo connection %q needs api_token", conn.ID)
	}
	base := conn.Host
	if base == "" {
		base = DefaultBaseURL
	}
	base = strings.TrimRight(base, "/") + "/" + conn.ExtraValue("api_version", "v5") + "/"
	opts = append(opts,
		httpx.WithAuth(httpx.QueryParam("api_token", token)),
		httpx.WithAuth(httpx.QueryParam("api_token_secret", secret)),
	)
	return &Client{http: httpx.New(base, opts...)}, nil
}

// GetSurveyData returns one survey row, its questions (base_type Question
// only) and their options.
func (c *Client) GetSurveyData(ctx context.Context, surveyID string) (survey, questions, options []map[string]any, err error) {
	var sresp map[string]any
	if err := c.http.Get(ctx, "survey/"+url.PathEscape(surveyID), nil, &sresp); err != nil {
		return nil, nil, nil, fmt.Errorf("get survey %s: %w", surveyID, err)
	}
	data := httpx.Map(sresp["data"])
	stats := httpx.Map(data["statistics"])
	survey = []map[string]any{{
		"id":       surveyID,
		"title":    data["title"],
		"partial":  statistic(stats, "Partial"),
		"deleted":  statistic(stats, "Deleted"),
		"complete": statistic(stats, "Complete"),
	}}

	var qresp map[string]any
	if err := c.http.Get(ctx, "survey/"+url.PathEscape(surveyID)+"/surveyquestion", nil, &qresp); err != nil {
		return nil, nil, nil, fmt.Errorf("list questions %s: %w", surveyID, err)
	}
	for _, q := range httpx.Maps(qresp["data"]) {
		if httpx.String(q["base_type"]) != "Question" {
			continue
		}
		questions = append(questions, map[string]any{
			"id":             q["id"],
			"survey_id":      surveyID,
			"question_title": httpx.Path(q, "title", "English"),
			"type":           strings.ToLower(httpx.String(q["type"])),
		})
		for _, o := range httpx.Maps(q["options"]) {
			options = append(options, map[string]any{
				"id":          o["id"],
				"question_id": q["id"],
				"survey_id":   surveyID,
				"value":       o["value"],
			})
		}
	}
	return survey, questions, options, nil
}

func statistic(stats map[string]any, key string) any {
	if v, ok := stats[key]; ok {
		return v
	}
	return 0
}

// GetResponses pages through the responses of a survey and returns one row
// per selected option, or one row per answer for questions without options.
func (c *Client) GetResponses(ctx context.Context, surveyID string, f *Filter) ([]map[string]any, error) {
	fetch := func(ctx context.Context, page int) ([]map[string]any, int, bool, error) {
		q := url.Values{"page": {strconv.Itoa(page)}}
		if f != nil && f.Field != "" {
			q.Set("filter[field][0]", f.Field)
			q.Set("filter[operator][0]", f.Operator)
			q.Set("filter[value][0]", f.Value)
		}
		var resp map[string]any
		if err := c.http.Get(ctx, "survey/"+url.PathEscape(surveyID)+"/surveyresponse", q, &resp); err != nil {
			return nil, page, false, fmt.Errorf("list responses %s: %w", surveyID, err)
		}
		var rows []map[string]any
		for _, r := range httpx.Maps(resp["data"]) {
			rows = append(rows, responseRows(surveyID, r)...)
		}
		return rows, page + 1, page < httpx.Int(resp["total_pages"]), nil
	}
	return httpx.Paginate(ctx, 1, fetch)
}

func responseRows(surveyID string, r map[string]any) []map[string]any {
	respID := httpx.String(r["id"])
	submitted := FormatSubmitted(httpx.String(r["date_submitted"]))

	answers := httpx.Map(r["survey_data"])
	var rows []map[string]any
	for _, key := range sortedKeys(answers) {
		a := httpx.Map(answers[key])
		if httpx.String(a["type"]) == "GDATASPREADSHEET" {
			continue
		}
		qid := httpx.String(a["id"])
		base := func(optionID any, suffix string) map[string]any {
			return map[string]any{
				"id":           respID + surveyID + qid + suffix,
				"response_id":  r["id"],
				"survey_id":    surveyID,
				"question_id":  a["id"],
				"option_id":    optionID,
				"answer_text":  a["answer"],
				"submitted_at": submitted,
			}
		}
		opts := httpx.Map(a["options"])
		if len(opts) == 0 {
			rows = append(rows, base(nil, "0"))
			continue
		}
		for _, ok := range sortedKeys(opts) {
			o := httpx.Map(opts[ok])
			rows = append(rows, base(o["id"], httpx.String(o["id"])))
		}
	}
	return rows
}

// sortedKeys orders numeric ids numerically, others lexically after them.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		}
		return keys[i] < keys[j]
	})
	return keys
}

var submittedLayouts = []string{
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05 -0700",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FormatSubmitted renders a submission date as "YYYY-MM-DD HH:MM:SS" on its
// own wall clock, or nil when empty or unparseable.
func FormatSubmitted(s string) any {
	if s == "" {
		return nil
	}
	for _, layout := range submittedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02 15:04:05")
		}
	}
	return nil
}
