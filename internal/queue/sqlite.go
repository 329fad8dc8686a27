package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/docbatch/internal/common"
	"github.com/joseph-ayodele/docbatch/internal/entity"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS docbatch_tasks (
	id           TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL,
	job_type     TEXT NOT NULL,
	document_ref TEXT NOT NULL,
	options      TEXT,
	priority     INTEGER NOT NULL DEFAULT 0,
	attempt      INTEGER NOT NULL DEFAULT 0,
	seq          INTEGER NOT NULL,
	ready_at     INTEGER NOT NULL,
	submitted_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS docbatch_tasks_order ON docbatch_tasks (job_type, priority DESC, seq ASC);
CREATE INDEX IF NOT EXISTS docbatch_tasks_job ON docbatch_tasks (job_id);
`

// SQLiteStore is a file-backed queue backend for single-node durable mode.
// A single connection serializes all access; the mutex keeps the
// select-then-delete dequeue atomic with respect to other goroutines.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	max    int
	seq    int64
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(ctx context.Context, path string, maxSize int, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply queue schema: %w", err)
	}
	var seq sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(seq) FROM docbatch_tasks`).Scan(&seq); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("restore sequence: %w", err)
	}
	logger.Info("queue.sqlite.ready", "path", path, "max_queue_size", maxSize, "restored", seq.Int64)
	return &SQLiteStore{db: db, max: maxSize, seq: seq.Int64, logger: logger}, nil
}

func (s *SQLiteStore) Enqueue(ctx context.Context, task *entity.Task) error {
	return s.EnqueueBatch(ctx, []*entity.Task{task})
}

func (s *SQLiteStore) EnqueueBatch(ctx context.Context, tasks []*entity.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enqueue: %w", err)
	}
	defer tx.Rollback()

	var size int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM docbatch_tasks`).Scan(&size); err != nil {
		return fmt.Errorf("count tasks: %w", err)
	}
	if size+len(tasks) > s.max {
		return common.ErrQueueFull
	}
	for _, t := range tasks {
		if err := s.insert(ctx, tx, t, time.Now()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) EnqueueRetry(ctx context.Context, task *entity.Task, readyAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin retry enqueue: %w", err)
	}
	defer tx.Rollback()
	if err := s.insert(ctx, tx, task, readyAt); err != nil {
		return err
	}
	return tx.Commit()
}

// insert assumes the caller holds the mutex (seq is not otherwise protected).
func (s *SQLiteStore) insert(ctx context.Context, tx *sql.Tx, t *entity.Task, readyAt time.Time) error {
	var opts []byte
	if t.Options != nil {
		b, err := json.Marshal(t.Options)
		if err != nil {
			return fmt.Errorf("marshal options: %w", err)
		}
		opts = b
	}
	s.seq++
	_, err := tx.ExecContext(ctx, `
		INSERT INTO docbatch_tasks (id, job_id, job_type, document_ref, options, priority, attempt, seq, ready_at, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.JobID.String(), t.JobType, t.DocumentRef, opts,
		t.Priority, t.Attempt, s.seq, readyAt.UnixNano(), t.SubmittedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Dequeue(ctx context.Context, jobTypes ...string) (*entity.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin dequeue: %w", err)
	}
	defer tx.Rollback()

	q := `SELECT id, job_id, job_type, document_ref, options, priority, attempt, submitted_at
		FROM docbatch_tasks WHERE ready_at <= ?`
	args := []any{time.Now().UnixNano()}
	if len(jobTypes) > 0 {
		q += ` AND job_type IN (?` + strings.Repeat(",?", len(jobTypes)-1) + `)`
		for _, jt := range jobTypes {
			args = append(args, jt)
		}
	}
	q += ` ORDER BY priority DESC, seq ASC LIMIT 1`

	var t entity.Task
	var id, jobID string
	var opts []byte
	var submitted int64
	err = tx.QueryRowContext(ctx, q, args...).Scan(
		&id, &jobID, &t.JobType, &t.DocumentRef, &opts, &t.Priority, &t.Attempt, &submitted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse task id %q: %w", id, err)
	}
	if t.JobID, err = uuid.Parse(jobID); err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", jobID, err)
	}
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &t.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options for task %s: %w", t.ID, err)
		}
	}
	t.SubmittedAt = time.Unix(0, submitted)

	if _, err := tx.ExecContext(ctx, `DELETE FROM docbatch_tasks WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("claim task %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStore) CancelJob(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM docbatch_tasks WHERE job_id = ?`, jobID.String())
	if err != nil {
		return nil, fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse task id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM docbatch_tasks WHERE job_id = ?`, jobID.String()); err != nil {
		return nil, fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	s.logger.Info("queue.job.cancelled", "job_id", jobID, "removed", len(ids))
	return ids, nil
}

func (s *SQLiteStore) Size(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM docbatch_tasks`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) SizeByType(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT job_type, count(*) FROM docbatch_tasks GROUP BY job_type`)
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

func (s *SQLiteStore) Close() error { return s.db.Close() }
