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
	return NewCollector("test", reg, zap.NewNop()), reg
}

func TestCollectorCounts(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordSubmission("kling", "ok")
	c.RecordSubmission("kling", "ok")
	c.RecordSubmission("kling", "quota")
	assert.Equal(t, 2.0, testutil.ToFloat64(c.submissions.WithLabelValues("kling", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.submissions.WithLabelValues("kling", "quota")))

	c.RecordPoll("luma", "empty")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.polls.WithLabelValues("luma", "empty")))

	c.RecordFallback("runway")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fallbacks.WithLabelValues("runway")))

	c.RecordScene("runway", "v2v", "completed")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.scenes.WithLabelValues("runway", "v2v", "completed")))

	c.RecordQueueTask("storyboard:advance", "ok")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.queueTasks.WithLabelValues("storyboard:advance", "ok")))
}

func TestCollectorDurations(t *testing.T) {
	c, reg := newTestCollector(t)

	c.RecordTaskOutcome("veo", "failed", "timeout", 30*time.Minute)
	c.RecordHTTPRequest("GET", "/v1/api/tasks/:id", 200, 5*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.taskOutcomes.WithLabelValues("veo", "failed", "timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.taskDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "/v1/api/tasks/:id", "200")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "test_task_duration_seconds")
	assert.Contains(t, names, "test_http_request_duration_seconds")
}

func TestCollectorsOnSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		newTestCollector(t)
		newTestCollector(t)
	})
}
