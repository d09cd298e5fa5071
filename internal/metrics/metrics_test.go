package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saasloader/internal/metrics"
)

func TestRecordRun(t *testing.T) {
	c := metrics.New()
	c.RecordRun("zoom", "zoom_webinar_to_warehouse", "success", 3*time.Second, map[string]int{"zoom.webinar": 4})
	c.RecordRun("zoom", "zoom_webinar_to_warehouse", "success", time.Second, map[string]int{"zoom.webinar": 2})
	c.RecordRun("zoom", "zoom_webinar_to_warehouse", "error", time.Second, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.TaskRuns.WithLabelValues("zoom", "zoom_webinar_to_warehouse", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TaskRuns.WithLabelValues("zoom", "zoom_webinar_to_warehouse", "error")))
	assert.Equal(t, 6.0, testutil.ToFloat64(c.RowsWritten.WithLabelValues("zoom.webinar")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *metrics.Collector
	assert.NotPanics(t, func() { c.RecordRun("t", "op", "success", time.Second, nil) })
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := metrics.New()
	c.RecordRun("hubspot", "warehouse_to_hubspot", "success", time.Second, map[string]int{"hubspot.contacts": 1})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{
		"saasloader_task_runs_total",
		"saasloader_task_duration_seconds",
		"saasloader_rows_written_total",
	} {
		assert.Contains(t, string(body), name)
	}
}
