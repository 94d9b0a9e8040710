package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordToolCallIncrementsCounters(t *testing.T) {
	m := New()
	m.RecordToolCall("poll_task", false)
	m.RecordToolCall("poll_task", true)

	body := scrape(t, m)
	assert.Contains(t, body, `busd_tool_calls_total{tool="poll_task"} 2`)
	assert.Contains(t, body, `busd_tool_errors_total{tool="poll_task"} 1`)
}

func TestSetWorkerCounts(t *testing.T) {
	m := New()
	m.SetWorkerCounts(2, 1, 0, 3)

	body := scrape(t, m)
	assert.Contains(t, body, `busd_workers{status="idle"} 2`)
	assert.Contains(t, body, `busd_workers{status="executing"} 3`)
}

func TestSetQueueDepth(t *testing.T) {
	m := New()
	m.SetQueueDepth(4)
	assert.Contains(t, scrape(t, m), "busd_queue_depth 4")
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return strings.TrimSpace(rec.Body.String())
}
