package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.TurnStarted("text")
	m.TurnCompleted(time.Second)
	m.TurnTimedOut()
	m.EventReceived("serverContent")
	m.MalformedEvent("unknown")
	m.Media("sent", 1)
	m.SessionError("backend_error")
	m.SessionOpened()
	m.SessionClosed()
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.TurnStarted("text")
	m.TurnStarted("text")
	m.TurnStarted("audio")
	m.TurnCompleted(1500 * time.Millisecond)
	m.Media("dropped", 3)
	m.Media("dropped", 0)
	m.SessionOpened()

	body := scrape(t, m)
	assert.Contains(t, body, `consult_turns_started_total{modality="text"} 2`)
	assert.Contains(t, body, `consult_turns_started_total{modality="audio"} 1`)
	assert.Contains(t, body, "consult_turns_completed_total 1")
	assert.Contains(t, body, "consult_turn_duration_seconds_count 1")
	assert.Contains(t, body, `consult_media_items_total{status="dropped"} 3`)
	assert.Contains(t, body, "consult_sessions_active 1")
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.EventReceived("setupComplete")

	assert.Contains(t, scrape(t, m), `consult_events_received_total{kind="setupComplete"} 1`)
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}
