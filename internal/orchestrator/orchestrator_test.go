package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docbatch/constants"
	"github.com/joseph-ayodele/docbatch/internal/common"
	"github.com/joseph-ayodele/docbatch/internal/executor"
	"github.com/joseph-ayodele/docbatch/internal/metrics"
)

func testConfig() *common.Config {
	return &common.Config{
		Queue: common.QueueConfig{Driver: "memory", MaxQueueSize: 100},
		Pool: common.PoolConfig{
			MaxWorkers:         2,
			PollInterval:       5 * time.Millisecond,
			TaskTimeout:        time.Second,
			MaxRetries:         3,
			RetryBackoffBase:   time.Millisecond,
			RetryBackoffCap:    time.Millisecond,
			HeartbeatTimeout:   time.Minute,
			ErrorRateThreshold: 0.9,
			MinErrorSample:     10,
		},
		Supervision: common.SupervisionConfig{
			HealthCheckInterval: 10 * time.Millisecond,
			ShutdownTimeout:     2 * time.Second,
		},
	}
}

func startSystem(t *testing.T, cfg *common.Config, execs *executor.Registry) *System {
	t.Helper()
	system := New(cfg, execs, nil, WithCollector(metrics.NewCollector()))
	require.NoError(t, system.Initialize(context.Background()))
	require.NoError(t, system.Start())
	t.Cleanup(func() {
		if system.State() == constants.SystemRunning {
			_ = system.Shutdown(context.Background())
		}
	})
	return system
}

func okExec(payload string) executor.Executor {
	return executor.Func(func(_ context.Context, _ string, _ map[string]any) ([]byte, error) {
		return []byte(payload), nil
	})
}

func TestSystemLifecycle(t *testing.T) {
	execs := executor.NewRegistry()
	execs.Register("ocr", okExec(`{}`))
	system := New(testConfig(), execs, nil)

	assert.Equal(t, constants.SystemUninitialized, system.State())
	assert.Error(t, system.Start(), "start before initialize")

	_, err := system.SubmitBatchJob(context.Background(), "ocr", []string{"/a.pdf"}, nil, 0)
	assert.ErrorIs(t, err, common.ErrNotRunning)

	require.NoError(t, system.Initialize(context.Background()))
	assert.Error(t, system.Initialize(context.Background()), "double initialize")
	require.NoError(t, system.Start())
	assert.Equal(t, constants.SystemRunning, system.State())

	require.NoError(t, system.Shutdown(context.Background()))
	assert.Equal(t, constants.SystemStopped, system.State())
	assert.Error(t, system.Shutdown(context.Background()), "double shutdown")
}

func TestSystemEndToEnd(t *testing.T) {
	execs := executor.NewRegistry()
	execs.Register("ocr", okExec(`{"text":"hello"}`))
	system := startSystem(t, testConfig(), execs)
	ctx := context.Background()

	jobID, err := system.SubmitBatchJob(ctx, "ocr", []string{"/a.pdf", "/b.pdf", "/c.pdf"}, nil, 1)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st, err := system.AwaitJob(waitCtx, jobID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, st.Status)
	assert.Equal(t, 3, st.Completed)
	assert.InDelta(t, 1.0, st.Progress, 1e-9)

	results, err := system.JobResults(jobID)
	require.NoError(t, err)
	assert.Equal(t, 3, results.Succeeded)
	assert.Len(t, results.Documents, 3)
	for _, d := range results.Documents {
		assert.JSONEq(t, `{"text":"hello"}`, string(d.Result))
	}
}

func TestSystemSubmissionValidation(t *testing.T) {
	execs := executor.NewRegistry()
	schema := []byte(`{"type":"object","properties":{"language":{"type":"string"}},"additionalProperties":false}`)
	require.NoError(t, execs.RegisterWithSchema("ocr", okExec(`{}`), schema))
	system := startSystem(t, testConfig(), execs)
	ctx := context.Background()

	_, err := system.SubmitBatchJob(ctx, "ocr", nil, nil, 0)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = system.SubmitBatchJob(ctx, "fax", []string{"/a.pdf"}, nil, 0)
	assert.ErrorIs(t, err, common.ErrUnknownJobType)

	_, err = system.SubmitBatchJob(ctx, "ocr", []string{"/a.pdf"}, map[string]any{"bogus": 1}, 0)
	assert.Error(t, err)
}

func TestSystemBackpressureLeavesNoTrace(t *testing.T) {
	cfg := testConfig()
	cfg.Queue.MaxQueueSize = 2
	execs := executor.NewRegistry()
	block := make(chan struct{})
	defer close(block)
	execs.Register("ocr", executor.Func(func(ctx context.Context, _ string, _ map[string]any) ([]byte, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return []byte(`{}`), nil
	}))
	system := startSystem(t, cfg, execs)
	ctx := context.Background()

	_, err := system.SubmitBatchJob(ctx, "ocr", []string{"/a.pdf", "/b.pdf", "/c.pdf"}, nil, 0)
	assert.ErrorIs(t, err, common.ErrQueueFull)

	// The rejected job left nothing behind; a fitting batch still goes in.
	jobID, err := system.SubmitBatchJob(ctx, "ocr", []string{"/a.pdf", "/b.pdf"}, nil, 0)
	require.NoError(t, err)
	st, err := system.JobStatus(jobID)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
}

func TestSystemCancelJob(t *testing.T) {
	execs := executor.NewRegistry()
	started := make(chan string, 16)
	release := make(chan struct{})
	execs.Register("ocr", executor.Func(func(ctx context.Context, doc string, _ map[string]any) ([]byte, error) {
		started <- doc
		select {
		case <-release:
		case <-ctx.Done():
		}
		return []byte(`{}`), nil
	}))
	system := startSystem(t, testConfig(), execs)
	ctx := context.Background()

	docs := []string{"/a.pdf", "/b.pdf", "/c.pdf", "/d.pdf"}
	jobID, err := system.SubmitBatchJob(ctx, "ocr", docs, nil, 0)
	require.NoError(t, err)

	// Two workers are mid-flight, two tasks still queued.
	<-started
	<-started
	require.NoError(t, system.CancelJob(ctx, jobID))
	close(release)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st, err := system.AwaitJob(waitCtx, jobID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCancelled, st.Status)
	assert.Equal(t, 4, st.Cancelled, "in-flight results are discarded after cancel")
	assert.Zero(t, st.Completed)

	assert.ErrorIs(t, system.CancelJob(ctx, uuid.New()), common.ErrJobNotFound)
}

func TestSystemPriorityPreemptsQueuedWork(t *testing.T) {
	execs := executor.NewRegistry()
	var mu sync.Mutex
	var order []string
	record := func(jobType string) {
		mu.Lock()
		order = append(order, jobType)
		mu.Unlock()
	}
	gateA := make(chan struct{})
	gateB := make(chan struct{})
	execs.Register("ocr", executor.Func(func(ctx context.Context, doc string, _ map[string]any) ([]byte, error) {
		if strings.HasPrefix(doc, "/block") {
			gate := gateA
			if doc == "/block-b.pdf" {
				gate = gateB
			}
			select {
			case <-gate:
			case <-ctx.Done():
			}
			return []byte(`{}`), nil
		}
		record("ocr")
		return []byte(`{}`), nil
	}))
	execs.Register("nlp", executor.Func(func(_ context.Context, _ string, _ map[string]any) ([]byte, error) {
		record("nlp")
		return []byte(`{}`), nil
	}))
	system := startSystem(t, testConfig(), execs)
	ctx := context.Background()

	// Both workers get stuck on the blocking documents; two more ocr tasks
	// wait in the queue at priority 5.
	ocrJob, err := system.SubmitBatchJob(ctx, "ocr",
		[]string{"/block-a.pdf", "/block-b.pdf", "/plain-1.pdf", "/plain-2.pdf"}, nil, 5)
	require.NoError(t, err)

	// A higher-priority job arrives while everything above is pending.
	nlpJob, err := system.SubmitBatchJob(ctx, "nlp", []string{"/x.json", "/y.json"}, nil, 10)
	require.NoError(t, err)

	// Free exactly one worker so the drain order is observable serially.
	close(gateA)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = system.AwaitJob(waitCtx, nlpJob)
	require.NoError(t, err)

	close(gateB)
	_, err = system.AwaitJob(waitCtx, ocrJob)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 4)
	assert.Equal(t, []string{"nlp", "nlp"}, order[:2], "priority 10 runs before queued priority 5")
}

func TestSystemJobTimeoutExpiresStaleJobs(t *testing.T) {
	cfg := testConfig()
	cfg.Supervision.JobTimeout = 50 * time.Millisecond
	cfg.Pool.MaxWorkers = 1
	execs := executor.NewRegistry()
	release := make(chan struct{})
	defer close(release)
	execs.Register("ocr", executor.Func(func(ctx context.Context, _ string, _ map[string]any) ([]byte, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return []byte(`{}`), nil
	}))
	system := startSystem(t, cfg, execs)
	ctx := context.Background()

	jobID, err := system.SubmitBatchJob(ctx, "ocr", []string{"/a.pdf", "/b.pdf"}, nil, 0)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st, err := system.AwaitJob(waitCtx, jobID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, st.Status)
	assert.Equal(t, common.ErrJobTimeout.Error(), st.LastError)
}

func TestSystemHealthAndMetricsSurface(t *testing.T) {
	execs := executor.NewRegistry()
	execs.Register("ocr", okExec(`{}`))
	system := startSystem(t, testConfig(), execs)
	ctx := context.Background()

	health, err := system.HealthStatus()
	require.NoError(t, err)
	assert.Equal(t, constants.HealthHealthy, health.State)
	assert.Equal(t, 2, health.TotalWorkers)

	jobID, err := system.SubmitBatchJob(ctx, "ocr", []string{"/a.pdf"}, nil, 0)
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = system.AwaitJob(waitCtx, jobID)
	require.NoError(t, err)

	pm, err := system.PerformanceMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pm.TasksCompleted)
	assert.Equal(t, 2, pm.TotalWorkers)
}
