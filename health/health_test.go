package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportAggregatesWorstState(t *testing.T) {
	m := NewMonitor()
	m.Healthy("http", "listening")
	m.Healthy("socket", "4 connections")
	assert.Equal(t, StateHealthy, m.Report().State)

	m.Degraded("nats", "reconnecting")
	assert.Equal(t, StateDegraded, m.Report().State)

	m.Unhealthy("nats", "connection lost")
	assert.Equal(t, StateUnhealthy, m.Report().State)

	m.Healthy("nats", "connected")
	assert.Equal(t, StateHealthy, m.Report().State)
}

func TestReportOrdersSubsystems(t *testing.T) {
	m := NewMonitor()
	m.Healthy("socket", "")
	m.Healthy("http", "")
	m.Healthy("nats", "")

	report := m.Report()
	require.Len(t, report.Subsystems, 3)
	assert.Equal(t, "http", report.Subsystems[0].Component)
	assert.Equal(t, "nats", report.Subsystems[1].Component)
	assert.Equal(t, "socket", report.Subsystems[2].Component)
}

func TestHandlerStatusCodes(t *testing.T) {
	m := NewMonitor()
	m.Healthy("http", "listening")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var report Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, StateHealthy, report.State)

	m.Unhealthy("http", "listener down")
	resp2, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}

func TestGetAndRemove(t *testing.T) {
	m := NewMonitor()
	m.Healthy("http", "listening")

	s, ok := m.Get("http")
	require.True(t, ok)
	assert.Equal(t, StateHealthy, s.State)
	assert.False(t, s.Timestamp.IsZero())

	m.Remove("http")
	_, ok = m.Get("http")
	assert.False(t, ok)
}
