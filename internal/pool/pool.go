package pool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/joseph-ayodele/docbatch/constants"
	"github.com/joseph-ayodele/docbatch/internal/common"
	"github.com/joseph-ayodele/docbatch/internal/entity"
	"github.com/joseph-ayodele/docbatch/internal/executor"
	"github.com/joseph-ayodele/docbatch/internal/metrics"
	"github.com/joseph-ayodele/docbatch/internal/queue"
	"github.com/joseph-ayodele/docbatch/internal/registry"
)

const sharedPartition = "shared"

// Pool owns the worker goroutines. Workers are either dedicated to one job
// type (from PoolSizes) or shared across all types, up to MaxWorkers total.
type Pool struct {
	cfg       common.PoolConfig
	store     queue.Store
	registry  *registry.Registry
	execs     *executor.Registry
	collector *metrics.Collector
	backoff   Strategy
	logger    *slog.Logger

	mu      sync.Mutex
	workers map[string]*worker
	nextID  int
	started time.Time
	running bool
}

type Option func(*Pool)

// WithBackoff overrides the retry delay strategy.
func WithBackoff(s Strategy) Option {
	return func(p *Pool) { p.backoff = s }
}

// WithCollector attaches a metrics collector; nil disables instrumentation.
func WithCollector(c *metrics.Collector) Option {
	return func(p *Pool) { p.collector = c }
}

func New(cfg common.PoolConfig, store queue.Store, reg *registry.Registry, execs *executor.Registry, logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		cfg:      cfg,
		store:    store,
		registry: reg,
		execs:    execs,
		backoff:  ExponentialWithJitter{Base: cfg.RetryBackoffBase, Cap: cfg.RetryBackoffCap},
		logger:   logger,
		workers:  make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start spawns the configured workers: one dedicated set per PoolSizes
// entry, then shared workers for whatever headroom MaxWorkers leaves.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	dedicated := 0
	types := make([]string, 0, len(p.cfg.PoolSizes))
	for jt := range p.cfg.PoolSizes {
		types = append(types, jt)
	}
	sort.Strings(types)
	for _, jt := range types {
		n := p.cfg.PoolSizes[jt]
		for i := 0; i < n; i++ {
			p.spawnLocked([]string{jt})
		}
		dedicated += n
	}
	for i := dedicated; i < p.cfg.MaxWorkers; i++ {
		p.spawnLocked(nil)
	}

	p.started = time.Now()
	p.running = true
	p.logger.Info("pool.started",
		"workers", len(p.workers),
		"dedicated", dedicated,
		"shared", len(p.workers)-dedicated,
	)
	return nil
}

func (p *Pool) spawnLocked(jobTypes []string) *worker {
	p.nextID++
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		id:       fmt.Sprintf("worker-%d", p.nextID),
		jobTypes: jobTypes,
		pool:     p,
		ctx:      ctx,
		cancel:   cancel,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	w.beat() // not stale before the goroutine gets scheduled
	p.workers[w.id] = w
	go w.run()
	return w
}

// Stop drains the pool: workers finish their in-flight task, then exit. If
// the context expires first the stragglers are cancelled, their tasks
// failed, and ErrShutdownTimeout is returned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	workers := make([]*worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.mu.Unlock()

	for _, w := range workers {
		close(w.stop)
	}

	drained := make(chan struct{})
	go func() {
		for _, w := range workers {
			<-w.done
		}
		close(drained)
	}()

	select {
	case <-drained:
		p.logger.Info("pool.stopped", "workers", len(workers))
		return nil
	case <-ctx.Done():
	}

	// Deadline hit: give up on whatever is still running.
	var stranded int
	for _, w := range workers {
		select {
		case <-w.done:
			continue
		default:
		}
		stranded++
		w.abandoned.Store(true)
		w.cancel()
		if task := w.currentTask(); task != nil {
			_ = p.registry.FailTask(task.ID, "shutdown deadline exceeded before task finished")
		}
	}
	p.logger.Error("pool.stop.timeout", "stranded", stranded)
	return common.ErrShutdownTimeout
}

// Health reports worker liveness. A worker is unhealthy when its heartbeat
// is stale or its error rate crosses the configured threshold with enough
// samples to mean something.
func (p *Pool) Health() entity.HealthStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var unhealthy []string
	for id, w := range p.workers {
		if p.unhealthyLocked(w, now) {
			unhealthy = append(unhealthy, id)
		}
	}
	sort.Strings(unhealthy)

	state := constants.HealthHealthy
	switch {
	case len(p.workers) == 0:
		state = constants.HealthUnhealthy
	case len(unhealthy) == len(p.workers):
		state = constants.HealthUnhealthy
	case len(unhealthy) > 0:
		state = constants.HealthDegraded
	}
	return entity.HealthStatus{
		State:              state,
		TotalWorkers:       len(p.workers),
		UnhealthyWorkerIDs: unhealthy,
	}
}

func (p *Pool) unhealthyLocked(w *worker, now time.Time) bool {
	if now.Sub(w.heartbeat()) > p.cfg.HeartbeatTimeout {
		return true
	}
	completed := w.completed.Load()
	errored := w.errored.Load()
	total := completed + errored
	if total >= uint64(p.cfg.MinErrorSample) &&
		float64(errored)/float64(total) >= p.cfg.ErrorRateThreshold {
		return true
	}
	return false
}

// Recover replaces unhealthy workers. Each one is abandoned and cancelled,
// its in-flight task requeued for immediate redelivery, and a fresh worker
// spawned with the same partition. Returns the number replaced.
func (p *Pool) Recover(ctx context.Context) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return 0
	}

	now := time.Now()
	replaced := 0
	for id, w := range p.workers {
		if !p.unhealthyLocked(w, now) {
			continue
		}
		w.abandoned.Store(true)
		close(w.stop)
		w.cancel()
		delete(p.workers, id)

		if task := w.currentTask(); task != nil {
			if err := p.registry.RecordRetry(task.ID, "worker "+id+" unresponsive"); err == nil {
				if err := p.store.EnqueueRetry(ctx, task, time.Now()); err != nil {
					_ = p.registry.FailTask(task.ID, "requeue after worker recovery: "+err.Error())
					p.logger.Error("pool.recover.requeue_failed", "task_id", task.ID, "error", err)
				}
			}
		}

		nw := p.spawnLocked(w.jobTypes)
		replaced++
		p.logger.Warn("pool.worker.recovered", "replaced", id, "spawned", nw.id, "job_types", w.jobTypes)
	}
	if replaced > 0 && p.collector != nil {
		p.collector.RecordRecovery(replaced)
	}
	return replaced
}

// Workers snapshots per-worker state for introspection.
func (p *Pool) Workers() []entity.WorkerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]entity.WorkerInfo, 0, len(p.workers))
	for _, w := range p.workers {
		info := entity.WorkerInfo{
			ID:            w.id,
			JobTypes:      w.jobTypes,
			Completed:     w.completed.Load(),
			Errored:       w.errored.Load(),
			LastHeartbeat: w.heartbeat(),
		}
		if task := w.currentTask(); task != nil {
			id := task.ID
			info.CurrentTask = &id
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Metrics aggregates throughput and runtime stats. Queue depths are
// best-effort: a store error leaves them zero rather than failing the call.
func (p *Pool) Metrics(ctx context.Context) entity.PerformanceMetrics {
	p.mu.Lock()
	byType := make(map[string]entity.TypeMetrics)
	var totalCompleted, totalErrored uint64
	total := len(p.workers)
	uptime := time.Duration(0)
	if !p.started.IsZero() {
		uptime = time.Since(p.started)
	}
	for _, w := range p.workers {
		part := sharedPartition
		if len(w.jobTypes) == 1 {
			part = w.jobTypes[0]
		}
		tm := byType[part]
		tm.Workers++
		tm.Completed += w.completed.Load()
		tm.Errored += w.errored.Load()
		byType[part] = tm
		totalCompleted += w.completed.Load()
		totalErrored += w.errored.Load()
	}
	p.mu.Unlock()

	depths, err := p.store.SizeByType(ctx)
	if err != nil {
		p.logger.Error("pool.metrics.queue_depth_failed", "error", err)
		depths = nil
	}
	queueDepth := 0
	for jt, n := range depths {
		queueDepth += n
		tm := byType[jt]
		tm.QueueDepth = n
		byType[jt] = tm
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return entity.PerformanceMetrics{
		TotalWorkers:   total,
		TasksCompleted: totalCompleted,
		TasksErrored:   totalErrored,
		QueueDepth:     queueDepth,
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: ms.HeapAlloc,
		Uptime:         uptime,
		ByType:         byType,
	}
}
