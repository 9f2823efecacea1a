package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// JSONImporter handles .json files.
type JSONImporter struct{}

// CanHandle returns true for JSON file extensions.
func (j *JSONImporter) CanHandle(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".json"
}

// Import parses a JSON file into entity records.
// - Array of objects: each element is one record.
// - Object with an "entities" array: each element of it is one record.
// - Single object with a "value": one record.
// Nested objects are flattened with dot notation into metadata.
func (j *JSONImporter) Import(ctx context.Context, path string) ([]RawEntity, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}

	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}

	var elems []interface{}
	switch v := raw.(type) {
	case []interface{}:
		elems = v
	case map[string]interface{}:
		if list, ok := v["entities"].([]interface{}); ok {
			elems = list
		} else {
			elems = []interface{}{v}
		}
	default:
		return nil, fmt.Errorf("JSON in %s is neither an object nor an array", path)
	}

	var records []RawEntity
	for i, elem := range elems {
		obj, ok := elem.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("element %d in %s is not an object", i, path)
		}
		records = append(records, recordFromMap(flattenRecord(obj), absPath, i+1))
	}
	return records, nil
}

// JSONLImporter handles newline-delimited JSON (.jsonl, .ndjson).
type JSONLImporter struct{}

// CanHandle returns true for JSONL file extensions.
func (j *JSONLImporter) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".jsonl" || ext == ".ndjson"
}

// Import parses one record per non-blank line.
func (j *JSONLImporter) Import(ctx context.Context, path string) ([]RawEntity, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var records []RawEntity
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			return nil, fmt.Errorf("invalid JSON on line %d of %s: %w", line, path, err)
		}
		records = append(records, recordFromMap(flattenRecord(obj), absPath, line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return records, nil
}

// flattenRecord turns a decoded object into flat string fields. A link_to
// array is joined with ';'.
func flattenRecord(obj map[string]interface{}) map[string]string {
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		if k == "link_to" {
			if list, ok := v.([]interface{}); ok {
				refs := make([]string, 0, len(list))
				for _, r := range list {
					refs = append(refs, fmt.Sprint(r))
				}
				out[k] = strings.Join(refs, ";")
				continue
			}
		}
		flattenJSON(k, v, out)
	}
	return out
}

// flattenJSON recursively flattens a JSON value into dot-notation key-value pairs.
func flattenJSON(prefix string, val interface{}, out map[string]string) {
	switch v := val.(type) {
	case map[string]interface{}:
		for k, inner := range v {
			flattenJSON(prefix+"."+k, inner, out)
		}
	case []interface{}:
		for i, elem := range v {
			flattenJSON(fmt.Sprintf("%s[%d]", prefix, i), elem, out)
		}
	case string:
		out[prefix] = v
	case float64:
		out[prefix] = fmt.Sprintf("%g", v)
	case bool:
		out[prefix] = fmt.Sprintf("%t", v)
	case nil:
		// absent
	default:
		out[prefix] = fmt.Sprintf("%v", v)
	}
}
