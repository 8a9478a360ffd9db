package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ExposesCollectors(t *testing.T) {
	m := New(func() float64 { return 3 })
	m.RequestsTotal.WithLabelValues("web", "main", "api", "200").Inc()
	m.SessionsExpired.Add(2)
	m.TCPConnsActive.WithLabelValues("tcp-in").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `lanegate_requests_total{code="200",route="main",server="web",service="api"} 1`)
	assert.Contains(t, body, "lanegate_udp_sessions_expired_total 2")
	assert.Contains(t, body, "lanegate_udp_sessions_active 3")
	assert.Contains(t, body, `lanegate_tcp_connections_active{server="tcp-in"} 1`)
}
