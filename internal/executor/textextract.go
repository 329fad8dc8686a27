package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/docbatch/constants"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	return out.Bytes(), errb.Bytes(), err
}

// TextExtractConfig configures the built-in "ocr" executor.
type TextExtractConfig struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"
	Language  string // default "eng"
}

// TextExtract shells out to pdftotext / tesseract to turn a document into
// text. The payload is {"text": ..., "method": ..., "chars": n}.
type TextExtract struct {
	cfg    TextExtractConfig
	runner Runner
	logger *slog.Logger
}

func NewTextExtract(cfg TextExtractConfig, logger *slog.Logger) *TextExtract {
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TextExtract{cfg: cfg, runner: execRunner{}, logger: logger}
}

func (e *TextExtract) Execute(ctx context.Context, documentRef string, options map[string]any) ([]byte, error) {
	lang := e.cfg.Language
	if l, ok := options["language"].(string); ok && l != "" {
		lang = l
	}

	start := time.Now()
	var text, method string
	var stderr []byte
	var err error

	switch ext := constants.NormalizeExt(filepath.Ext(documentRef)); ext {
	case "pdf":
		method = "pdf-text"
		var out []byte
		out, stderr, err = e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", documentRef, "-")
		text = string(out)
	case "jpg", "jpeg", "png":
		method = "image-ocr"
		var out []byte
		out, stderr, err = e.runner.Run(ctx, e.cfg.Tesseract, documentRef, "stdout", "-l", lang)
		text = string(out)
	case "txt":
		method = "plain"
		var out []byte
		out, stderr, err = e.runner.Run(ctx, "cat", documentRef)
		text = string(out)
	default:
		return nil, Permanent(fmt.Errorf("unsupported document format %q", ext))
	}
	if err != nil {
		e.logger.Error("textextract.exec.failed",
			"document", documentRef,
			"method", method,
			"duration_ms", time.Since(start).Milliseconds(),
			"stderr", truncate(string(stderr), 8<<10),
			"error", err,
		)
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	text = strings.TrimSpace(text)
	e.logger.Debug("textextract.exec.ok",
		"document", documentRef,
		"method", method,
		"chars", len(text),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return json.Marshal(map[string]any{
		"text":   text,
		"method": method,
		"chars":  len(text),
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
