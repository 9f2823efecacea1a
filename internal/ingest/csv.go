package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CSVImporter handles .csv and .tsv files.
type CSVImporter struct{}

// CanHandle returns true for CSV/TSV file extensions.
func (c *CSVImporter) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".csv" || ext == ".tsv"
}

// Import parses a CSV file into entity records.
// First row is treated as headers (lowercased). kind and value columns are
// required; unknown columns become metadata.
func (c *CSVImporter) Import(ctx context.Context, path string) ([]RawEntity, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)

	// Auto-detect TSV
	if strings.ToLower(filepath.Ext(path)) == ".tsv" {
		reader.Comma = '\t'
	}

	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing CSV %s: %w", path, err)
	}

	if len(rows) < 2 {
		// Need at least headers + one row
		return nil, nil
	}

	headers := make([]string, len(rows[0]))
	hasValue := false
	for i, h := range rows[0] {
		headers[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if headers[i] == "value" {
			hasValue = true
		}
	}
	if !hasValue {
		return nil, fmt.Errorf("CSV %s has no value column", path)
	}

	var records []RawEntity
	for i, row := range rows[1:] {
		fields := make(map[string]string, len(headers))
		for j, val := range row {
			if j < len(headers) && strings.TrimSpace(val) != "" {
				fields[headers[j]] = val
			}
		}
		if len(fields) == 0 {
			continue
		}
		records = append(records, recordFromMap(fields, absPath, i+2)) // 1-indexed, skip header row
	}

	return records, nil
}
