package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steadytls/internal/outcome"
	"steadytls/internal/stats"
)

func TestObserve(t *testing.T) {
	m := NewMetrics()
	m.Observe(outcome.Record{Status: 200, Bytes: 10, Timings: outcome.Timings{Connect: time.Millisecond, Total: 5 * time.Millisecond}})
	m.Observe(outcome.Record{Status: 200, Bytes: 5, Retried: true, Timings: outcome.Timings{Total: time.Millisecond}})
	m.Observe(outcome.Record{Kind: outcome.KindTimeout, Timings: outcome.Timings{Total: time.Second}})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("None", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("Timeout", "")))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.Bytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retries))
	assert.Equal(t, 2, testutil.CollectAndCount(m.Duration))

	m.ObserveSnapshot(stats.Snapshot{ActiveVUs: 3, Inflight: 2, Conns: 4})
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActiveVUs))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Connections))
}

func TestHandler(t *testing.T) {
	m := NewMetrics()
	m.Observe(outcome.Record{Status: 204})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `steadytls_requests_total{kind="None",status="204"} 1`))
}
