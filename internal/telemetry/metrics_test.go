package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("instances do not share registries", func(t *testing.T) {
		a := New()
		b := New()
		a.CacheHit("stats")
		assert.Equal(t, 1.0, testutil.ToFloat64(a.CacheLookups.WithLabelValues("stats", "hit")))
		assert.Equal(t, 0.0, testutil.ToFloat64(b.CacheLookups.WithLabelValues("stats", "hit")))
	})

	t.Run("handler exposes collectors", func(t *testing.T) {
		m := New()
		m.ObserveRequest("GET", "/health", 200, 0.01)
		m.ActiveSessions.Set(3)

		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.True(t, strings.Contains(body, `lighthouse_requests_total{method="GET",path="/health",status="200"} 1`))
		assert.True(t, strings.Contains(body, "lighthouse_terminal_sessions 3"))
	})
}
