package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMetrics_Middleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics("tenant-lifecycle", reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/tenants/:id", func(c echo.Context) error {
		if c.Param("id") == "missing" {
			return echo.NewHTTPError(http.StatusNotFound, "not found")
		}
		return c.NoContent(http.StatusOK)
	})

	for _, id := range []string{"a", "b", "missing"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tenants/"+id, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("tenant-lifecycle", "GET", "/tenants/:id", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("tenant-lifecycle", "GET", "/tenants/:id", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.statusCategory.WithLabelValues("tenant-lifecycle", "4xx", "GET", "/tenants/:id")))
}

func TestSweeperMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSweeperMetrics(reg)

	m.ObserveCycle(2, 1, 0, 150*time.Millisecond)
	m.ObserveCycle(1, 0, 1, 50*time.Millisecond)
	m.ObserveLeaseHeld()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cycles))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.tenants.WithLabelValues("deleted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tenants.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.leaseHeld))

	expected := `
# HELP tenant_sweeper_lease_held_total Cycles skipped because another replica held the sweeper lease
# TYPE tenant_sweeper_lease_held_total counter
tenant_sweeper_lease_held_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "tenant_sweeper_lease_held_total"))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewSweeperMetrics(reg).ObserveLeaseHeld()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenant_sweeper_lease_held_total 1")
}
