package ingest

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// PlainTextImporter handles .txt and .log files: one value per line. A line
// may name its kind with a "kind: " prefix; otherwise ImportOptions.DefaultKind
// applies. Blank lines and lines starting with '#' are skipped.
type PlainTextImporter struct{}

var kindPrefixRE = regexp.MustCompile(`^([A-Za-z][A-Za-z_-]{0,23}):\s+(.+)$`)

// CanHandle returns true for plain text file extensions.
func (t *PlainTextImporter) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".txt" || ext == ".log" || ext == ".text"
}

// Import parses a text file into entity records.
func (t *PlainTextImporter) Import(ctx context.Context, path string) ([]RawEntity, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []RawEntity
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		rec := RawEntity{Value: text, SourceFile: absPath, SourceLine: line}
		if m := kindPrefixRE.FindStringSubmatch(text); m != nil {
			rec.Kind = strings.ToLower(m[1])
			rec.Value = strings.TrimSpace(m[2])
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return records, nil
}
