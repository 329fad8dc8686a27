package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joseph-ayodele/docbatch/internal/entity"
	"github.com/joseph-ayodele/docbatch/internal/executor"
	"github.com/joseph-ayodele/docbatch/internal/registry"
)

// worker is one pool goroutine: dequeue, execute, report, repeat. A worker
// with a non-empty jobTypes list only pulls those types (partitioned pools);
// an empty list pulls anything.
type worker struct {
	id       string
	jobTypes []string
	pool     *Pool

	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	done   chan struct{}

	// abandoned is set when recovery or a drain timeout gives up on this
	// worker; a late executor return must not report an outcome then.
	abandoned atomic.Bool

	completed atomic.Uint64
	errored   atomic.Uint64
	lastBeat  atomic.Int64 // unix nanos

	mu      sync.Mutex
	current *entity.Task
}

func (w *worker) beat() {
	w.lastBeat.Store(time.Now().UnixNano())
}

func (w *worker) heartbeat() time.Time {
	return time.Unix(0, w.lastBeat.Load())
}

func (w *worker) currentTask() *entity.Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *worker) run() {
	defer close(w.done)
	w.beat()
	w.pool.logger.Info("pool.worker.started", "worker_id", w.id, "job_types", w.jobTypes)

	for {
		select {
		case <-w.stop:
			w.pool.logger.Info("pool.worker.stopped", "worker_id", w.id)
			return
		default:
		}

		task, err := w.pool.store.Dequeue(w.ctx, w.jobTypes...)
		if err != nil {
			w.pool.logger.Error("pool.dequeue.failed", "worker_id", w.id, "error", err)
		}
		if task == nil {
			w.beat()
			select {
			case <-w.stop:
				w.pool.logger.Info("pool.worker.stopped", "worker_id", w.id)
				return
			case <-time.After(w.pool.cfg.PollInterval):
			}
			continue
		}
		w.execute(task)
	}
}

func (w *worker) execute(task *entity.Task) {
	w.mu.Lock()
	w.current = task
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.current = nil
		w.mu.Unlock()
	}()
	w.beat()

	attempt, err := w.pool.registry.MarkTaskRunning(task.ID, w.id)
	if err != nil {
		// Lost a race with cancellation; drop without an outcome.
		if !errors.Is(err, registry.ErrTaskFinished) {
			w.pool.logger.Error("pool.task.claim_failed", "worker_id", w.id, "task_id", task.ID, "error", err)
		}
		return
	}
	task.Attempt = attempt

	exec, ok := w.pool.execs.Lookup(task.JobType)
	if !ok {
		// Executors are checked at submission; hitting this means the
		// registration changed underneath a running system.
		_ = w.pool.registry.FailTask(task.ID, "no executor registered for "+task.JobType)
		w.errored.Add(1)
		return
	}

	ctx, cancel := context.WithTimeout(w.ctx, w.pool.cfg.TaskTimeout)
	start := time.Now()
	payload, execErr := exec.Execute(ctx, task.DocumentRef, task.Options)
	cancel()
	elapsed := time.Since(start)
	w.beat()

	if w.abandoned.Load() {
		w.pool.logger.Warn("pool.task.abandoned_result",
			"worker_id", w.id, "task_id", task.ID, "job_id", task.JobID)
		return
	}

	if execErr == nil {
		w.completed.Add(1)
		if w.pool.collector != nil {
			w.pool.collector.RecordTaskCompleted(task.JobType, elapsed.Seconds())
		}
		if err := w.pool.registry.CompleteTask(task.ID, payload); err != nil && !errors.Is(err, registry.ErrTaskFinished) {
			w.pool.logger.Error("pool.task.report_failed", "worker_id", w.id, "task_id", task.ID, "error", err)
		}
		w.pool.logger.Debug("pool.task.ok",
			"worker_id", w.id,
			"task_id", task.ID,
			"job_id", task.JobID,
			"attempt", attempt,
			"duration_ms", elapsed.Milliseconds(),
		)
		return
	}

	w.errored.Add(1)
	if w.pool.collector != nil {
		w.pool.collector.RecordTaskErrored(task.JobType, elapsed.Seconds())
	}

	if !executor.IsPermanent(execErr) && attempt <= w.pool.cfg.MaxRetries {
		w.retry(task, execErr.Error(), attempt)
		return
	}
	if err := w.pool.registry.FailTask(task.ID, execErr.Error()); err != nil && !errors.Is(err, registry.ErrTaskFinished) {
		w.pool.logger.Error("pool.task.report_failed", "worker_id", w.id, "task_id", task.ID, "error", err)
	}
	w.pool.logger.Warn("pool.task.failed",
		"worker_id", w.id,
		"task_id", task.ID,
		"job_id", task.JobID,
		"attempt", attempt,
		"permanent", executor.IsPermanent(execErr),
		"error", execErr,
	)
}

// retry puts the task back with a backoff delay. Uses a background context:
// a retry must survive this worker's own cancellation.
func (w *worker) retry(task *entity.Task, cause string, attempt int) {
	if err := w.pool.registry.RecordRetry(task.ID, cause); err != nil {
		return // job cancelled meanwhile
	}
	delay := w.pool.backoff.Delay(attempt)
	if err := w.pool.store.EnqueueRetry(context.Background(), task, time.Now().Add(delay)); err != nil {
		_ = w.pool.registry.FailTask(task.ID, "requeue after failure: "+err.Error())
		w.pool.logger.Error("pool.task.requeue_failed", "task_id", task.ID, "error", err)
		return
	}
	if w.pool.collector != nil {
		w.pool.collector.RecordTaskRetried(task.JobType)
	}
	w.pool.logger.Info("pool.task.retry",
		"worker_id", w.id,
		"task_id", task.ID,
		"job_id", task.JobID,
		"attempt", attempt,
		"delay_ms", delay.Milliseconds(),
		"error", cause,
	)
}
