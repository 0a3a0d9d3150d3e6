package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestJobLifecycleMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.JobStarted()
	m.JobStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsRunning))

	m.JobFinished("completed", "sequential", time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("completed", "sequential")))
}

func TestPagesAndCache(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.AddPages("parallel", 4, 1)
	m.AddPages("parallel", 2, 0)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)

	assert.Equal(t, 6.0, testutil.ToFloat64(m.pagesFetched.WithLabelValues("parallel")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pagesMissing.WithLabelValues("parallel")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.activityCache.WithLabelValues("miss")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("work-entries", "ok", time.Millisecond)
		m.IncRetry("work-entries")
		m.AddEvicted(3)
		m.JobStarted()
		m.JobFinished("error", "sequential", time.Second)
	})
}
