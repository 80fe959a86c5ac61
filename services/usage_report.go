package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"document-chat-platform/internal/usage"
	"document-chat-platform/models"
)

// UsageReportService renders the usage ledger for an owner.
type UsageReportService struct {
	meter *usage.Meter
	log   *slog.Logger
}

func NewUsageReportService(meter *usage.Meter, log *slog.Logger) *UsageReportService {
	if log == nil {
		log = slog.Default()
	}
	return &UsageReportService{meter: meter, log: log.With("component", "usage_report")}
}

func (s *UsageReportService) Summary(ctx context.Context, owner string, since time.Time) (*models.UsageSummary, error) {
	return s.meter.Summary(ctx, owner, since)
}

// ExportXLSX builds a workbook with a summary sheet and a sheet of raw records.
func (s *UsageReportService) ExportXLSX(ctx context.Context, owner string, since time.Time) ([]byte, error) {
	sum, err := s.meter.Summary(ctx, owner, since)
	if err != nil {
		return nil, err
	}
	records, err := s.meter.Records(ctx, owner, since)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.log.Warn("failed to close workbook", "error", err)
		}
	}()

	const summarySheet = "Summary"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("failed to name summary sheet: %w", err)
	}

	rows := [][]interface{}{
		{"Owner", sum.Owner},
		{"Since", sum.Since.UTC().Format(time.RFC3339)},
		{"Total cost (USD)", sum.TotalCost},
		{"Saved by reuse (USD)", sum.SavedCost},
		{"Deleted documents", sum.DeletedDocuments},
		{"Deleted pages", sum.DeletedPages},
		{},
		{"Operation", "Records", "Quantity", "Pages", "Cost (USD)", "Would-be cost (USD)"},
	}
	for _, l := range sum.Lines {
		rows = append(rows, []interface{}{l.Operation, l.Records, l.Quantity, l.Pages, l.Cost, l.WouldBeCost})
	}
	if err := writeRows(f, summarySheet, rows); err != nil {
		return nil, err
	}
	f.SetColWidth(summarySheet, "A", "F", 22)

	const recordsSheet = "Records"
	if _, err := f.NewSheet(recordsSheet); err != nil {
		return nil, fmt.Errorf("failed to create records sheet: %w", err)
	}
	rows = [][]interface{}{{
		"Created at", "Operation", "Quantity", "Unit", "Pages", "Input tokens",
		"Output tokens", "Cost (USD)", "Would-be cost (USD)", "Document", "Session",
	}}
	for _, r := range records {
		rows = append(rows, []interface{}{
			r.CreatedAt.UTC().Format("2006-01-02 15:04:05"), r.Operation, r.Quantity, r.Unit, r.Pages,
			r.InputTokens, r.OutputTokens, r.Cost, r.WouldBeCost, r.DocumentHash, r.SessionID,
		})
	}
	if err := writeRows(f, recordsSheet, rows); err != nil {
		return nil, err
	}
	f.SetColWidth(recordsSheet, "A", "K", 15)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
