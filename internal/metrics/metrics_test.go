package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Scan("recorded")
	m.Scan("recorded")
	m.Scan("duplicate")
	m.SessionOpened()
	m.SessionClosed("sweep")
	m.LiveDropped("outbox")
	m.SubscriberAdded()
	m.SubscriberAdded()
	m.SubscriberRemoved()
	m.SweepRun(3)
	m.RateLimited()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.scans.WithLabelValues("recorded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scans.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsOpen))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsClose.WithLabelValues("sweep")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.liveDropped.WithLabelValues("outbox")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscribers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepRuns))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sweepFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["attendance_scans_total"])
	assert.True(t, names["attendance_live_subscribers"])
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Scan("recorded")
		m.SessionOpened()
		m.SessionClosed("manual")
		m.DeviceAuth("ok")
		m.LiveDropped("bus")
		m.SubscriberAdded()
		m.SubscriberRemoved()
		m.SweepRun(0)
		m.RateLimited()
	})
}
