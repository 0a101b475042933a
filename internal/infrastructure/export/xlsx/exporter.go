package xlsx

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/agrirag/internal/core/domain"
)

const (
	sheetName   = "Reports"
	contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Exporter writes report summaries as a single-sheet workbook.
type Exporter struct{}

func NewExporter() *Exporter {
	return &Exporter{}
}

func (e *Exporter) ContentType() string {
	return contentType
}

func (e *Exporter) Export(w io.Writer, reports []domain.ReportSummary) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := exportHeader()
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, r := range reports {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := exportRow(r)
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func exportHeader() []any {
	header := []any{"form_id", "cooperative", "user_id", "filename", "indexed_at", "chunks"}
	for _, field := range domain.Fields {
		header = append(header, string(field))
	}
	for _, key := range domain.MetricKeys {
		header = append(header, key)
	}
	return header
}

func exportRow(r domain.ReportSummary) []any {
	row := []any{r.FormID, r.Cooperative, r.UserID, r.Filename, r.IndexedAt, r.Chunks}
	for _, field := range domain.Fields {
		row = append(row, r.Fields[field])
	}
	for _, key := range domain.MetricKeys {
		if v, ok := r.Metrics[key]; ok {
			row = append(row, v)
			continue
		}
		row = append(row, "")
	}
	return row
}
