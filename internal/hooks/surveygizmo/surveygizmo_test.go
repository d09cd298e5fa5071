package surveygizmo_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saasloader/internal/domain"
	"saasloader/internal/hooks/surveygizmo"
)

func newClient(t *testing.T, h http.Handler) *surveygizmo.Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := surveygizmo.New(&domain.Connection{
		ID: "sg", Host: srv.URL,
		Extra: map[string]string{"api_token": "tok", "api_token_secret": "sec"},
	})
	require.NoError(t, err)
	return c
}

func TestFormatSubmitted(t *testing.T) {
	assert.Equal(t, "2018-05-01 10:20:30", surveygizmo.FormatSubmitted("2018-05-01 10:20:30 EDT"))
	assert.Equal(t, "2018-05-01 10:20:30", surveygizmo.FormatSubmitted("2018-05-01T10:20:30Z"))
	assert.Nil(t, surveygizmo.FormatSubmitted(""))
	assert.Nil(t, surveygizmo.FormatSubmitted("yesterday"))
}

func TestGetSurveyData(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/survey/55", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.URL.Query().Get("api_token"))
		assert.Equal(t, "sec", r.URL.Query().Get("api_token_secret"))
		w.Write([]byte(`{"data":{"title":"NPS","statistics":{"Complete":4}}}`))
	})
	mux.HandleFunc("/v5/survey/55/surveyquestion", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"id":1,"base_type":"Question","type":"RADIO","title":{"English":"Score?"},
			 "options":[{"id":10,"value":"Yes"},{"id":11,"value":"No"}]},
			{"id":2,"base_type":"Decorative","type":"INSTRUCTIONS","title":{"English":"hi"}}
		]}`))
	})
	c := newClient(t, mux)

	survey, questions, options, err := c.GetSurveyData(context.Background(), "55")
	require.NoError(t, err)
	require.Len(t, survey, 1)
	assert.Equal(t, "NPS", survey[0]["title"])
	assert.Equal(t, json.Number("4"), survey[0]["complete"])
	assert.Equal(t, 0, survey[0]["partial"])

	require.Len(t, questions, 1)
	assert.Equal(t, "radio", questions[0]["type"])
	assert.Equal(t, "Score?", questions[0]["question_title"])
	require.Len(t, options, 2)
	assert.Equal(t, json.Number("1"), options[1]["question_id"])
}

func TestGetResponsesExplodesOptions(t *testing.T) {
	var pages []string
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/survey/55/surveyresponse", r.URL.Path)
		assert.Equal(t, "date_submitted", r.URL.Query().Get("filter[field][0]"))
		pages = append(pages, r.URL.Query().Get("page"))
		if r.URL.Query().Get("page") == "2" {
			w.Write([]byte(`{"total_pages":2,"data":[]}`))
			return
		}
		w.Write([]byte(`{"total_pages":2,"data":[{
			"id":9,"date_submitted":"2020-03-04 05:06:07 EST",
			"survey_data":{
				"1":{"id":1,"type":"RADIO","answer":"Yes","options":{"10":{"id":10},"11":{"id":11}}},
				"2":{"id":2,"type":"TEXTBOX","answer":"great"},
				"3":{"id":3,"type":"GDATASPREADSHEET"}
			}}]}`))
	}))

	rows, err := c.GetResponses(context.Background(), "55", &surveygizmo.Filter{Field: "date_submitted", Operator: ">=", Value: "2020-01-01"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, pages)
	require.Len(t, rows, 3)
	assert.Equal(t, "955110", rows[0]["id"])
	assert.Equal(t, "955111", rows[1]["id"])
	assert.Equal(t, "95520", rows[2]["id"])
	assert.Nil(t, rows[2]["option_id"])
	assert.Equal(t, "great", rows[2]["answer_text"])
	assert.Equal(t, "2020-03-04 05:06:07", rows[0]["submitted_at"])
}
