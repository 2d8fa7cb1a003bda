package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/lucamihailescu/codescan/pkg/classify"
)

// ExcelExtractor extracts cell text from .xlsx workbooks.
type ExcelExtractor struct{}

// NewExcelExtractor creates a new Excel extractor.
func NewExcelExtractor() *ExcelExtractor {
	return &ExcelExtractor{}
}

// Name returns the extractor name.
func (ee *ExcelExtractor) Name() string {
	return "ExcelExtractor"
}

// CanExtract checks if the file is a modern Excel workbook.
func (ee *ExcelExtractor) CanExtract(path string, fileType classify.FileType) bool {
	return fileType == classify.Excel
}

// Extract sweeps every sheet row by row, joining non-empty cells with
// spaces. Sheets that fail to read are skipped.
func (ee *ExcelExtractor) Extract(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer f.Close()

	var parts []string
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, row := range rows {
			var cells []string
			for _, cell := range row {
				if text := strings.TrimSpace(cell); text != "" {
					cells = append(cells, text)
				}
			}
			if len(cells) > 0 {
				parts = append(parts, strings.Join(cells, " "))
			}
		}
	}

	return strings.Join(parts, "\n"), nil
}

// Priority returns medium priority (5).
func (ee *ExcelExtractor) Priority() int {
	return 5
}
