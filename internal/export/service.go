package export

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docbatch/internal/entity"
)

// Service produces XLSX bytes from terminal job results.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// ResultsXLSX renders one workbook for a finished job: a summary block at the
// top, then one row per document with its outcome.
func (s *Service) ResultsXLSX(results *entity.JobResults) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	const sheet = "Results"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		_, err := f.NewSheet(sheet)
		if err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	write := func(col, row int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}

	// Summary block
	write(1, 1, "Job ID")
	write(2, 1, results.JobID.String())
	write(1, 2, "Job Type")
	write(2, 2, results.JobType)
	write(1, 3, "Status")
	write(2, 3, string(results.Status))
	write(1, 4, "Succeeded / Failed / Cancelled")
	write(2, 4, fmt.Sprintf("%d / %d / %d", results.Succeeded, results.Failed, results.Cancelled))

	headers := []string{
		"Document",
		"Status",
		"Attempts",
		"Result",
		"Error",
	}
	const headerRow = 6
	for i, h := range headers {
		write(i+1, headerRow, h)
	}

	row := headerRow + 1
	for _, d := range results.Documents {
		write(1, row, d.DocumentRef)
		write(2, row, string(d.Status))
		write(3, row, d.Attempts)
		write(4, row, truncate(string(d.Result), 140))
		write(5, row, truncate(d.Error, 140))
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 60) // document path
	_ = f.SetColWidth(sheet, "B", "B", 14)
	_ = f.SetColWidth(sheet, "C", "C", 10)
	_ = f.SetColWidth(sheet, "D", "D", 48)
	_ = f.SetColWidth(sheet, "E", "E", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"job_id", results.JobID.String(),
		"rows", len(results.Documents),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
