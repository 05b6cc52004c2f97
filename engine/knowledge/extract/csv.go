package extract

import (
	"context"
	"encoding/csv"
	"fmt"
	"strings"
)

// CSVExtractor renders each non-blank row as cells joined by " | ".
type CSVExtractor struct{}

func (e *CSVExtractor) Extract(_ context.Context, src Source) (*Result, error) {
	text, err := DecodeText(src.Data, "text/csv")
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		if blankRow(row) {
			continue
		}
		lines = append(lines, strings.Join(row, " | "))
	}
	columns := 0
	if len(rows) > 0 {
		columns = len(rows[0])
	}
	return &Result{
		Text: strings.Join(lines, "\n"),
		Metadata: map[string]any{
			MetaFileType:    TypeCSV,
			"total_rows":    len(rows),
			"total_columns": columns,
		},
	}, nil
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
