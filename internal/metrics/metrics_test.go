package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors_CountersAndGauges(t *testing.T) {
	open := 3.0
	c := New(func() float64 { return open }, nil)

	c.ObserveEvent("register", "ok")
	c.ObserveEvent("register", "ok")
	c.ObserveDenial("cooldown")
	c.ObserveRegistration("committed")
	c.ObserveSweep("sessions", 4)
	c.ObserveSweepFailure()
	c.ObserveLookup(0.3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.events.WithLabelValues("register", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.denials.WithLabelValues("cooldown")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.sweepRemoved.WithLabelValues("sessions")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sweepFailures))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "rosterbot_open_sessions 3")
	assert.Contains(t, string(body), `rosterbot_events_total{kind="register",outcome="ok"} 2`)
}

func TestCollectors_NilSafe(t *testing.T) {
	var c *Collectors
	c.ObserveEvent("x", "y")
	c.ObserveDenial("x")
	c.ObserveRegistration("x")
	c.ObserveSweep("x", 1)
	c.ObserveSweepFailure()
	c.ObserveLookup(1)
	assert.Nil(t, c.Registry())

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
