package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joseph-ayodele/docbatch/internal/common"
	"github.com/joseph-ayodele/docbatch/internal/entity"
)

// Advisory lock key serializing capacity checks across submitters.
const pgCapacityLockKey = int64(0x646f6362) // "docb"

const pgSchema = `
CREATE TABLE IF NOT EXISTS docbatch_tasks (
	id           UUID PRIMARY KEY,
	job_id       UUID NOT NULL,
	job_type     TEXT NOT NULL,
	document_ref TEXT NOT NULL,
	options      JSONB,
	priority     INT NOT NULL DEFAULT 0,
	attempt      INT NOT NULL DEFAULT 0,
	seq          BIGINT GENERATED ALWAYS AS IDENTITY,
	ready_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	submitted_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS docbatch_tasks_order ON docbatch_tasks (job_type, priority DESC, seq ASC);
CREATE INDEX IF NOT EXISTS docbatch_tasks_job ON docbatch_tasks (job_id);
`

const pgDequeue = `
DELETE FROM docbatch_tasks
WHERE id = (
	SELECT id FROM docbatch_tasks
	WHERE ready_at <= now()
	  AND (cardinality($1::text[]) = 0 OR job_type = ANY($1))
	ORDER BY priority DESC, seq ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, job_id, job_type, document_ref, options, priority, attempt, submitted_at`

// PostgresStore is a networked queue backend. Dequeue relies on
// FOR UPDATE SKIP LOCKED so concurrent workers never receive the same row.
type PostgresStore struct {
	pool   *pgxpool.Pool
	max    int
	logger *slog.Logger
}

// PostgresConfig carries the connection-pool knobs we care about here.
type PostgresConfig struct {
	DSN             string
	MaxQueueSize    int
	MaxConns        int32
	MaxConnLifetime time.Duration
	DialTimeout     time.Duration
}

// NewPostgresStore connects, applies the schema, and returns the store.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "docbatch"

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		logger.Error("failed to connect to queue database", "error", err)
		return nil, err
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply queue schema: %w", err)
	}
	logger.Info("queue.postgres.ready", "max_queue_size", cfg.MaxQueueSize)
	return &PostgresStore{pool: pool, max: cfg.MaxQueueSize, logger: logger}, nil
}

func (s *PostgresStore) Enqueue(ctx context.Context, task *entity.Task) error {
	return s.EnqueueBatch(ctx, []*entity.Task{task})
}

func (s *PostgresStore) EnqueueBatch(ctx context.Context, tasks []*entity.Task) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin enqueue: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, pgCapacityLockKey); err != nil {
		return fmt.Errorf("capacity lock: %w", err)
	}
	var size int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM docbatch_tasks`).Scan(&size); err != nil {
		return fmt.Errorf("count tasks: %w", err)
	}
	if size+len(tasks) > s.max {
		return common.ErrQueueFull
	}
	for _, t := range tasks {
		if err := insertTaskPg(ctx, tx, t, time.Time{}); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) EnqueueRetry(ctx context.Context, task *entity.Task, readyAt time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin retry enqueue: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := insertTaskPg(ctx, tx, task, readyAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertTaskPg(ctx context.Context, tx pgx.Tx, t *entity.Task, readyAt time.Time) error {
	var opts []byte
	if t.Options != nil {
		b, err := json.Marshal(t.Options)
		if err != nil {
			return fmt.Errorf("marshal options: %w", err)
		}
		opts = b
	}
	if readyAt.IsZero() {
		readyAt = time.Now()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO docbatch_tasks (id, job_id, job_type, document_ref, options, priority, attempt, ready_at, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.JobID, t.JobType, t.DocumentRef, opts, t.Priority, t.Attempt, readyAt, t.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) Dequeue(ctx context.Context, jobTypes ...string) (*entity.Task, error) {
	if jobTypes == nil {
		jobTypes = []string{}
	}
	row := s.pool.QueryRow(ctx, pgDequeue, jobTypes)

	var t entity.Task
	var opts []byte
	err := row.Scan(&t.ID, &t.JobID, &t.JobType, &t.DocumentRef, &opts, &t.Priority, &t.Attempt, &t.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &t.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options for task %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func (s *PostgresStore) CancelJob(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `DELETE FROM docbatch_tasks WHERE job_id = $1 RETURNING id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		s.logger.Info("queue.job.cancelled", "job_id", jobID, "removed", len(ids))
	}
	return ids, nil
}

func (s *PostgresStore) Size(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM docbatch_tasks`).Scan(&n)
	return n, err
}

func (s *PostgresStore) SizeByType(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT job_type, count(*) FROM docbatch_tasks GROUP BY job_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var jt string
		var n int
		if err := rows.Scan(&jt, &n); err != nil {
			return nil, err
		}
		out[jt] = n
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
