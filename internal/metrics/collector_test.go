package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("ghostdriver", reg, zap.NewNop()), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector_RegistersOnGivenRegistry(t *testing.T) {
	c, reg := newTestCollector(t)
	c.RecordSessionCreated()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["ghostdriver_sessions_created_total"])
	assert.True(t, names["ghostdriver_sessions_active"])

	// A second collector on a fresh registry must not collide.
	assert.NotPanics(t, func() { newTestCollector(t) })
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordHTTPRequest("GET", "/session/:id", 200, 100*time.Millisecond, 1024, 2048)
	c.RecordHTTPRequest("GET", "/session/:id", 204, 50*time.Millisecond, 512, 1024)
	c.RecordHTTPRequest("DELETE", "/session/:id", 404, time.Millisecond, 0, 64)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/session/:id", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("DELETE", "/session/:id", "4xx")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.httpRequestDuration))
}

func TestCollector_SessionLifecycle(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordSessionCreated()
	c.RecordSessionCreated()
	c.SetActiveSessions(2)
	c.RecordSessionDeleted("explicit")
	c.RecordSessionDeleted("cleanup")
	c.SetActiveSessions(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.sessionsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsDeleted.WithLabelValues("explicit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsDeleted.WithLabelValues("cleanup")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.sessionsActive))
}

func TestCollector_RecordCleanupSweep(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordCleanupSweep(3, 1)
	c.RecordCleanupSweep(0, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cleanupSweeps))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.cleanupReclaimed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cleanupFailures))
}

func TestCollector_RecordCommand(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordCommand("")
	c.RecordCommand("")
	c.RecordCommand("NO_SUCH_WINDOW")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.commandsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commandsTotal.WithLabelValues("NO_SUCH_WINDOW")))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{405, "4xx"},
		{500, "5xx"},
		{100, "100"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.code))
	}
}
