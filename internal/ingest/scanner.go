package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docbatch/internal/common"
)

// Submitter is the slice of the orchestrator the scanner needs.
type Submitter interface {
	SubmitBatchJob(ctx context.Context, jobType string, documents []string, options map[string]any, priority int) (uuid.UUID, error)
}

// Scanner polls a drop directory and submits every batch of newly appearing
// documents as one job. Files are deduplicated by content hash so renames and
// re-scans do not resubmit work. On queue backpressure the batch stays
// pending and is retried on the next tick.
type Scanner struct {
	cfg    common.IngestConfig
	sub    Submitter
	logger *slog.Logger

	seen          map[string]struct{} // content hashes already submitted
	pendingHashes map[string]string   // path -> hash for the current scan
}

func NewScanner(cfg common.IngestConfig, sub Submitter, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		cfg:           cfg,
		sub:           sub,
		logger:        logger,
		seen:          make(map[string]struct{}),
		pendingHashes: make(map[string]string),
	}
}

// Run blocks, scanning every ScanInterval until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	s.logger.Info("ingest.scanner.started",
		"dir", s.cfg.WatchDir,
		"interval", s.cfg.ScanInterval,
		"job_type", s.cfg.DefaultJobType,
	)
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		s.scanOnce(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("ingest.scanner.stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Scanner) scanOnce(ctx context.Context) {
	clear(s.pendingHashes)
	fresh, stats, err := s.scanDirectory(s.cfg.WatchDir)
	if err != nil {
		s.logger.Error("ingest.scan.failed", "dir", s.cfg.WatchDir, "error", err)
		return
	}
	if len(fresh) == 0 {
		return
	}
	sort.Strings(fresh)

	jobID, err := s.sub.SubmitBatchJob(ctx, s.cfg.DefaultJobType, fresh, nil, s.cfg.DefaultPriority)
	if err != nil {
		if errors.Is(err, common.ErrQueueFull) {
			// Leave the hashes unmarked; the next tick retries the batch.
			s.logger.Warn("ingest.submit.backpressure", "documents", len(fresh))
			return
		}
		s.logger.Error("ingest.submit.failed", "documents", len(fresh), "error", err)
		return
	}
	for _, hash := range s.pendingHashes {
		s.seen[hash] = struct{}{}
	}
	s.logger.Info("ingest.submit.ok",
		"job_id", jobID,
		"documents", len(fresh),
		"scanned", stats.Scanned,
		"deduplicated", stats.Deduplicated,
	)
}
