package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docbatch/constants"
	"github.com/joseph-ayodele/docbatch/internal/common"
	"github.com/joseph-ayodele/docbatch/internal/entity"
	"github.com/joseph-ayodele/docbatch/internal/executor"
	"github.com/joseph-ayodele/docbatch/internal/metrics"
	"github.com/joseph-ayodele/docbatch/internal/pool"
	"github.com/joseph-ayodele/docbatch/internal/queue"
	"github.com/joseph-ayodele/docbatch/internal/registry"
)

// System wires the queue store, job registry, and worker pool together and
// runs the supervision loop. Lifecycle:
//
//	UNINITIALIZED --Initialize--> INITIALIZING --Start--> RUNNING
//	RUNNING --Shutdown--> SHUTTING_DOWN --> STOPPED
//
// Submission and control APIs are only served while RUNNING.
type System struct {
	cfg       *common.Config
	execs     *executor.Registry
	collector *metrics.Collector
	logger    *slog.Logger

	mu       sync.RWMutex
	state    constants.SystemState
	store    queue.Store
	registry *registry.Registry
	pool     *pool.Pool

	superStop chan struct{}
	superDone chan struct{}
}

type Option func(*System)

// WithCollector attaches a metrics collector shared with the HTTP endpoint.
func WithCollector(c *metrics.Collector) Option {
	return func(s *System) { s.collector = c }
}

func New(cfg *common.Config, execs *executor.Registry, logger *slog.Logger, opts ...Option) *System {
	if logger == nil {
		logger = slog.Default()
	}
	s := &System{
		cfg:    cfg,
		execs:  execs,
		logger: logger,
		state:  constants.SystemUninitialized,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *System) State() constants.SystemState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Initialize validates configuration and builds the components in dependency
// order: queue store first, then registry, then the pool that consumes both.
func (s *System) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != constants.SystemUninitialized {
		return common.NewAppError("LIFECYCLE_ERROR", "initialize called in state "+string(s.state), nil)
	}
	s.state = constants.SystemInitializing

	if err := s.cfg.Validate(); err != nil {
		s.state = constants.SystemUninitialized
		return err
	}

	store, err := s.buildStore(ctx)
	if err != nil {
		s.state = constants.SystemUninitialized
		return common.WrapError(err, "building queue store")
	}
	s.store = store
	s.registry = registry.New(s.logger)
	if s.collector != nil {
		s.registry.OnTerminal(s.collector.RecordJobTerminal)
	}
	s.pool = pool.New(s.cfg.Pool, s.store, s.registry, s.execs, s.logger,
		pool.WithCollector(s.collector))

	s.logger.Info("orchestrator.initialized",
		"queue_driver", s.cfg.Queue.Driver,
		"max_workers", s.cfg.Pool.MaxWorkers,
		"job_types", s.execs.JobTypes(),
	)
	return nil
}

func (s *System) buildStore(ctx context.Context) (queue.Store, error) {
	switch s.cfg.Queue.Driver {
	case "memory":
		return queue.NewMemoryStore(s.cfg.Queue.MaxQueueSize, s.logger), nil
	case "sqlite":
		return queue.NewSQLiteStore(ctx, s.cfg.Queue.DSN, s.cfg.Queue.MaxQueueSize, s.logger)
	case "postgres":
		return queue.NewPostgresStore(ctx, queue.PostgresConfig{
			DSN:          s.cfg.Queue.DSN,
			MaxQueueSize: s.cfg.Queue.MaxQueueSize,
		}, s.logger)
	default:
		return nil, common.NewAppError("CONFIG_ERROR", "unknown queue driver "+s.cfg.Queue.Driver, common.ErrInvalidInput)
	}
}

// Start launches the worker pool and the supervision loop.
func (s *System) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != constants.SystemInitializing {
		return common.NewAppError("LIFECYCLE_ERROR", "start called in state "+string(s.state), nil)
	}
	if err := s.pool.Start(); err != nil {
		return common.WrapError(err, "starting worker pool")
	}
	s.superStop = make(chan struct{})
	s.superDone = make(chan struct{})
	go s.supervise()
	s.state = constants.SystemRunning
	s.logger.Info("orchestrator.started")
	return nil
}

// Shutdown stops intake, drains the pool within ShutdownTimeout, stops the
// supervision loop, and closes the store. Safe to call once.
func (s *System) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.state != constants.SystemRunning {
		s.mu.Unlock()
		return common.NewAppError("LIFECYCLE_ERROR", "shutdown called in state "+string(s.state), nil)
	}
	s.state = constants.SystemShuttingDown
	superStop := s.superStop
	superDone := s.superDone
	s.mu.Unlock()

	s.logger.Info("orchestrator.shutdown.begin", "timeout", s.cfg.Supervision.ShutdownTimeout)

	close(superStop)
	<-superDone

	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.Supervision.ShutdownTimeout)
	defer cancel()
	drainErr := s.pool.Stop(drainCtx)

	if err := s.store.Close(); err != nil {
		s.logger.Error("orchestrator.store.close_failed", "error", err)
	}

	s.mu.Lock()
	s.state = constants.SystemStopped
	s.mu.Unlock()

	if drainErr != nil {
		s.logger.Error("orchestrator.shutdown.dirty", "error", drainErr)
		return drainErr
	}
	s.logger.Info("orchestrator.shutdown.clean")
	return nil
}

// supervise runs the periodic health check, worker recovery, job-timeout
// expiry, and metrics refresh until Shutdown closes superStop.
func (s *System) supervise() {
	defer close(s.superDone)
	ticker := time.NewTicker(s.cfg.Supervision.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.superStop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Supervision.HealthCheckInterval)
		s.superviseOnce(ctx)
		cancel()
	}
}

func (s *System) superviseOnce(ctx context.Context) {
	health := s.pool.Health()
	if health.State != constants.HealthHealthy {
		s.logger.Warn("orchestrator.health.degraded",
			"state", health.State,
			"unhealthy", health.UnhealthyWorkerIDs,
		)
		if replaced := s.pool.Recover(ctx); replaced > 0 {
			s.logger.Info("orchestrator.recovery.done", "replaced", replaced)
		}
	}

	s.expireStaleJobs(ctx)

	pm := s.pool.Metrics(ctx)
	if s.collector != nil {
		s.collector.SetQueueDepth(pm.QueueDepth)
		s.collector.SetWorkerCounts(health.TotalWorkers, len(health.UnhealthyWorkerIDs))
	}
	s.logger.Debug("orchestrator.tick",
		"health", health.State,
		"workers", pm.TotalWorkers,
		"queue_depth", pm.QueueDepth,
		"completed", pm.TasksCompleted,
		"errored", pm.TasksErrored,
	)
}

// expireStaleJobs fails jobs that have been non-terminal longer than
// JobTimeout. Queued tasks are pulled from the store; running tasks finish
// but their outcomes no longer change the job status.
func (s *System) expireStaleJobs(ctx context.Context) {
	if s.cfg.Supervision.JobTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.cfg.Supervision.JobTimeout)
	for _, jobID := range s.registry.NonTerminalJobsOlderThan(cutoff) {
		removed, err := s.store.CancelJob(ctx, jobID)
		if err != nil {
			s.logger.Error("orchestrator.expire.cancel_failed", "job_id", jobID, "error", err)
			continue
		}
		if err := s.registry.ExpireJob(jobID, removed); err != nil {
			s.logger.Error("orchestrator.expire.failed", "job_id", jobID, "error", err)
			continue
		}
		s.logger.Warn("orchestrator.job.expired", "job_id", jobID, "queued_removed", len(removed))
	}
}

// SubmitBatchJob validates the request, decomposes it into one task per
// document, and admits the whole batch atomically. On queue backpressure the
// registry entry is rolled back and common.ErrQueueFull returned.
func (s *System) SubmitBatchJob(ctx context.Context, jobType string, documents []string, options map[string]any, priority int) (uuid.UUID, error) {
	if s.State() != constants.SystemRunning {
		return uuid.Nil, common.ErrNotRunning
	}
	if len(documents) == 0 {
		return uuid.Nil, common.NewAppError("INVALID_JOB", "job has no documents", common.ErrInvalidInput)
	}
	if _, ok := s.execs.Lookup(jobType); !ok {
		return uuid.Nil, common.NewAppError("INVALID_JOB", "job type "+jobType, common.ErrUnknownJobType)
	}
	if err := s.execs.ValidateOptions(jobType, options); err != nil {
		return uuid.Nil, err
	}

	now := time.Now()
	job := &entity.Job{
		ID:          uuid.New(),
		JobType:     jobType,
		Documents:   documents,
		Options:     options,
		Priority:    priority,
		SubmittedAt: now,
		Status:      constants.JobStatusPending,
		TotalTasks:  len(documents),
	}
	tasks := make([]*entity.Task, 0, len(documents))
	for _, doc := range documents {
		tasks = append(tasks, &entity.Task{
			ID:          uuid.New(),
			JobID:       job.ID,
			JobType:     jobType,
			DocumentRef: doc,
			Options:     options,
			Priority:    priority,
			Status:      constants.TaskStatusQueued,
			SubmittedAt: now,
		})
	}

	if err := s.registry.Create(job, tasks); err != nil {
		return uuid.Nil, err
	}
	if err := s.store.EnqueueBatch(ctx, tasks); err != nil {
		if rbErr := s.registry.Remove(job.ID); rbErr != nil {
			s.logger.Error("orchestrator.submit.rollback_failed", "job_id", job.ID, "error", rbErr)
		}
		if errors.Is(err, common.ErrQueueFull) {
			s.logger.Warn("orchestrator.submit.rejected",
				"job_id", job.ID, "job_type", jobType, "documents", len(documents))
		}
		return uuid.Nil, err
	}

	if s.collector != nil {
		s.collector.RecordJobSubmitted(jobType)
	}
	s.logger.Info("orchestrator.job.submitted",
		"job_id", job.ID,
		"job_type", jobType,
		"documents", len(documents),
		"priority", priority,
	)
	return job.ID, nil
}

// CancelJob requests cooperative cancellation: queued tasks are removed from
// the store and marked cancelled; in-flight tasks finish but their outcomes
// are discarded.
func (s *System) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	if s.State() != constants.SystemRunning {
		return common.ErrNotRunning
	}
	if err := s.registry.RequestCancel(jobID); err != nil {
		return err
	}
	removed, err := s.store.CancelJob(ctx, jobID)
	if err != nil {
		return common.WrapError(err, "removing queued tasks")
	}
	s.registry.CancelQueued(removed)
	s.logger.Info("orchestrator.job.cancel_requested", "job_id", jobID, "queued_removed", len(removed))
	return nil
}

// JobStatus returns the polling snapshot for a job.
func (s *System) JobStatus(jobID uuid.UUID) (entity.JobStatusInfo, error) {
	s.mu.RLock()
	reg := s.registry
	s.mu.RUnlock()
	if reg == nil {
		return entity.JobStatusInfo{}, common.ErrNotRunning
	}
	return reg.Status(jobID)
}

// JobResults returns per-document results once the job is terminal, and
// (nil, common.ErrResultsPending) before that.
func (s *System) JobResults(jobID uuid.UUID) (*entity.JobResults, error) {
	s.mu.RLock()
	reg := s.registry
	s.mu.RUnlock()
	if reg == nil {
		return nil, common.ErrNotRunning
	}
	return reg.Results(jobID)
}

// AwaitJob blocks until the job reaches a terminal status or ctx expires.
func (s *System) AwaitJob(ctx context.Context, jobID uuid.UUID) (entity.JobStatusInfo, error) {
	s.mu.RLock()
	reg := s.registry
	s.mu.RUnlock()
	if reg == nil {
		return entity.JobStatusInfo{}, common.ErrNotRunning
	}
	return reg.AwaitTerminal(ctx, jobID)
}

// HealthStatus reports worker pool health.
func (s *System) HealthStatus() (entity.HealthStatus, error) {
	s.mu.RLock()
	p := s.pool
	s.mu.RUnlock()
	if p == nil {
		return entity.HealthStatus{}, common.ErrNotRunning
	}
	return p.Health(), nil
}

// PerformanceMetrics aggregates pool throughput, queue depth, and runtime
// stats.
func (s *System) PerformanceMetrics(ctx context.Context) (entity.PerformanceMetrics, error) {
	s.mu.RLock()
	p := s.pool
	s.mu.RUnlock()
	if p == nil {
		return entity.PerformanceMetrics{}, common.ErrNotRunning
	}
	return p.Metrics(ctx), nil
}
