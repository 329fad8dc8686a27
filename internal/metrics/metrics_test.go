package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docbatch/constants"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()

	c.RecordJobSubmitted("ocr")
	c.RecordJobSubmitted("ocr")
	c.RecordJobTerminal("ocr", constants.JobStatusCompleted)
	c.RecordTaskCompleted("ocr", 0.25)
	c.RecordTaskErrored("ocr", 0.5)
	c.RecordTaskRetried("ocr")
	c.RecordRecovery(3)
	c.SetQueueDepth(7)
	c.SetWorkerCounts(8, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.jobsSubmitted.WithLabelValues("ocr")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsTerminal.WithLabelValues("ocr", "COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksCompleted.WithLabelValues("ocr")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksErrored.WithLabelValues("ocr")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksRetried.WithLabelValues("ocr")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.recoveries))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.queueDepth))
	assert.Equal(t, 8.0, testutil.ToFloat64(c.workers))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workersUnhealthy))
}

func TestCollectorsAreIsolated(t *testing.T) {
	a := NewCollector()
	b := NewCollector()
	a.RecordJobSubmitted("ocr")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.jobsSubmitted.WithLabelValues("ocr")))
}

func TestHandlerServesMetrics(t *testing.T) {
	c := NewCollector()
	c.SetQueueDepth(5)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "docbatch_queue_depth 5")
}
