package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/docbatch/constants"
	"github.com/joseph-ayodele/docbatch/internal/common"
	"github.com/joseph-ayodele/docbatch/internal/executor"
	"github.com/joseph-ayodele/docbatch/internal/export"
	"github.com/joseph-ayodele/docbatch/internal/orchestrator"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir      = flag.String("dir", "", "directory of documents to process (required)")
		jobType  = flag.String("type", constants.JobTypeOCR, "job type to run (ocr, validation)")
		priority = flag.Int("priority", 0, "job priority (higher runs first)")
		out      = flag.String("out", "", "output XLSX file path (optional, defaults to parent directory)")
		wait     = flag.Duration("wait", 30*time.Minute, "maximum time to wait for the job")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		parentDir := filepath.Dir(*dir)
		*out = filepath.Join(parentDir, "results.xlsx")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	documents, err := collectDocuments(*dir)
	if err != nil {
		logger.Error("failed to scan directory", "dir", *dir, "error", err)
		os.Exit(1)
	}
	if len(documents) == 0 {
		printError("Error: no processable documents under %s\n", *dir)
		os.Exit(1)
	}

	cfg := common.LoadConfig()

	execs := executor.NewRegistry()
	execs.Register(constants.JobTypeOCR, executor.NewTextExtract(executor.TextExtractConfig{
		Pdftotext: os.Getenv("PDFTOTEXT_BIN"),
		Tesseract: os.Getenv("TESSERACT_BIN"),
		Language:  os.Getenv("OCR_LANGUAGE"),
	}, logger))
	execs.Register(constants.JobTypeValidation, executor.NewValidate(logger))

	system := orchestrator.New(cfg, execs, logger)

	ctx := context.Background()
	if err := system.Initialize(ctx); err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	if err := system.Start(); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	logger.Info("submitting batch", "documents", len(documents), "job_type", *jobType)
	jobID, err := system.SubmitBatchJob(ctx, *jobType, documents, nil, *priority)
	if err != nil {
		logger.Error("submission failed", "error", err)
		os.Exit(1)
	}

	waitCtx, cancel := context.WithTimeout(ctx, *wait)
	defer cancel()
	status, err := system.AwaitJob(waitCtx, jobID)
	if err != nil {
		logger.Error("job did not finish in time", "job_id", jobID, "error", err)
		os.Exit(1)
	}
	logger.Info("job finished",
		"job_id", jobID,
		"status", status.Status,
		"completed", status.Completed,
		"failed", status.Failed,
		"cancelled", status.Cancelled,
	)

	results, err := system.JobResults(jobID)
	if err != nil {
		logger.Error("failed to fetch results", "job_id", jobID, "error", err)
		os.Exit(1)
	}

	exportService := export.NewService(logger)
	xlsxBytes, err := exportService.ResultsXLSX(results)
	if err != nil {
		logger.Error("failed to render results", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, xlsxBytes, 0644); err != nil {
		logger.Error("failed to write output file", "out", *out, "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel2 := context.WithTimeout(ctx, cfg.Supervision.ShutdownTimeout+5*time.Second)
	defer cancel2()
	if err := system.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown was not clean", "error", err)
	}

	logger.Info("batch complete",
		"documents", len(documents),
		"succeeded", results.Succeeded,
		"failed", results.Failed,
		"output", *out,
	)
	if status.Status != constants.JobStatusCompleted {
		os.Exit(1)
	}
}

// collectDocuments walks dir and returns every processable file, skipping
// hidden entries.
func collectDocuments(dir string) ([]string, error) {
	var docs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		base := filepath.Base(path)
		if len(base) > 1 && base[0] == '.' {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := constants.NormalizeExt(filepath.Ext(path))
		if _, ok := constants.AllowedExtensions[ext]; ok {
			docs = append(docs, path)
		}
		return nil
	})
	return docs, err
}
