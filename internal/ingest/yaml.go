package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// YAMLImporter handles .yaml and .yml files.
type YAMLImporter struct{}

// CanHandle returns true for YAML file extensions.
func (y *YAMLImporter) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Import parses a YAML file into entity records. Each document may be a list
// of records, a mapping with an "entities" list, or a single record mapping.
func (y *YAMLImporter) Import(ctx context.Context, path string) ([]RawEntity, error) {
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

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var records []RawEntity
	docNum := 0
	index := 0

	for {
		var doc interface{}
		err := decoder.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid YAML in %s (document %d): %w", path, docNum+1, err)
		}
		docNum++
		if doc == nil {
			continue
		}

		var elems []interface{}
		switch v := doc.(type) {
		case []interface{}:
			elems = v
		case map[string]interface{}:
			if list, ok := v["entities"].([]interface{}); ok {
				elems = list
			} else {
				elems = []interface{}{v}
			}
		default:
			return nil, fmt.Errorf("YAML document %d in %s is neither a mapping nor a list", docNum, path)
		}

		for _, elem := range elems {
			index++
			obj, ok := elem.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("record %d in %s is not a mapping", index, path)
			}
			records = append(records, recordFromMap(flattenRecord(normalizeYAML(obj).(map[string]interface{})), absPath, index))
		}
	}

	return records, nil
}

// normalizeYAML converts yaml.v3 scalars to the JSON-shaped values
// flattenRecord expects.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, inner := range t {
			out[k] = normalizeYAML(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, inner := range t {
			out[i] = normalizeYAML(inner)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return t
	}
}
