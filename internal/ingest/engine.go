package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hurttlocker/casegraph/internal/engine"
	"github.com/hurttlocker/casegraph/internal/graph"
	"github.com/hurttlocker/casegraph/internal/resolve"
)

// Engine feeds parsed records into a casegraph engine.
type Engine struct {
	eng       *engine.Engine
	decider   resolve.Decider
	importers []Importer
}

// NewEngine returns an import engine. decider answers near-duplicate
// decisions; nil creates the entity anyway.
func NewEngine(eng *engine.Engine, decider resolve.Decider) *Engine {
	if decider == nil {
		decider = resolve.CreateAnyway
	}
	return &Engine{
		eng:     eng,
		decider: decider,
		importers: []Importer{
			&JSONImporter{},
			&JSONLImporter{},
			&CSVImporter{},
			&YAMLImporter{},
			&PlainTextImporter{},
		},
	}
}

// ImportFile imports a file, or every supported file under a directory.
func (e *Engine) ImportFile(ctx context.Context, path string, opts ImportOptions) (*ImportResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return e.importDir(ctx, path, opts)
	}

	imp := e.detectImporter(path)
	if imp == nil {
		imp = e.sniffFormat(path)
	}
	if imp == nil {
		return nil, fmt.Errorf("unsupported file format: %s", path)
	}
	result := &ImportResult{FilesScanned: 1}
	if e.tooLarge(info, opts) {
		result.FilesSkipped = 1
		result.Errors = append(result.Errors, ImportError{File: path, Message: "file exceeds max size"})
		return result, nil
	}
	if opts.ProgressFn != nil {
		opts.ProgressFn(1, 1, path)
	}
	e.importOne(ctx, imp, path, opts, result)
	return result, nil
}

func (e *Engine) importDir(ctx context.Context, root string, opts ImportOptions) (*ImportResult, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && (!opts.Recursive || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if e.detectImporter(p) != nil {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	result := &ImportResult{}
	for i, p := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.FilesScanned++
		info, err := os.Stat(p)
		if err != nil || e.tooLarge(info, opts) {
			result.FilesSkipped++
			continue
		}
		if opts.ProgressFn != nil {
			opts.ProgressFn(i+1, len(files), p)
		}
		e.importOne(ctx, e.detectImporter(p), p, opts, result)
	}
	return result, nil
}

func (e *Engine) tooLarge(info os.FileInfo, opts ImportOptions) bool {
	limit := opts.MaxFileSize
	if limit <= 0 {
		limit = DefaultMaxFileSize
	}
	return info.Size() > limit
}

func (e *Engine) importOne(ctx context.Context, imp Importer, path string, opts ImportOptions, result *ImportResult) {
	records, err := imp.Import(ctx, path)
	if err != nil {
		result.FilesSkipped++
		result.Errors = append(result.Errors, ImportError{File: path, Message: err.Error()})
		return
	}
	result.FilesImported++
	result.Add(e.ImportRecords(ctx, records, opts))
}

// ImportRecords adds records in order, then creates their link_to
// relationships so references to later records resolve.
func (e *Engine) ImportRecords(ctx context.Context, records []RawEntity, opts ImportOptions) *ImportResult {
	result := &ImportResult{}
	ids := make([]string, len(records))

	for i, rec := range records {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, ImportError{File: rec.SourceFile, Line: rec.SourceLine, Message: ctx.Err().Error()})
			return result
		}
		in, err := entityInput(rec, opts)
		if err != nil {
			result.Errors = append(result.Errors, ImportError{File: rec.SourceFile, Line: rec.SourceLine, Message: err.Error()})
			continue
		}

		if opts.DryRun {
			if _, ok := e.eng.Propose(in, opts.Force).Immediate(); ok {
				result.EntitiesExisting++
			} else {
				result.EntitiesNew++
			}
			continue
		}

		out, err := e.eng.AddEntity(ctx, in, opts.Force, e.decider)
		if err != nil {
			result.Errors = append(result.Errors, ImportError{File: rec.SourceFile, Line: rec.SourceLine, Message: err.Error()})
			continue
		}
		switch {
		case out.Cancelled:
			result.EntitiesCancelled++
		case out.WasExisting:
			result.EntitiesExisting++
		case out.Created:
			result.EntitiesNew++
		}
		if out.LinkedTo != "" {
			result.HypotheticalLinks++
		}
		ids[i] = out.EntityID
	}

	if opts.DryRun {
		return result
	}
	for i, rec := range records {
		if ids[i] == "" {
			continue
		}
		for _, ref := range rec.LinkTo {
			target, ok := e.resolveRef(ref)
			if !ok {
				result.Errors = append(result.Errors, ImportError{File: rec.SourceFile, Line: rec.SourceLine, Message: "link target not found: " + ref})
				continue
			}
			_, added, err := e.eng.AddRelationship(ids[i], target, graph.EdgeStyle{Class: graph.ClassLink}, "imported")
			if err != nil {
				result.Errors = append(result.Errors, ImportError{File: rec.SourceFile, Line: rec.SourceLine, Message: err.Error()})
				continue
			}
			if added {
				result.Relationships++
			}
		}
	}
	return result
}

// resolveRef resolves an entity id or a "kind:value" reference.
func (e *Engine) resolveRef(ref string) (string, bool) {
	if _, ok := e.eng.Entity(ref); ok {
		return ref, true
	}
	kind, value, ok := strings.Cut(ref, ":")
	if !ok {
		return "", false
	}
	return e.eng.Lookup(graph.EntityType(strings.ToLower(strings.TrimSpace(kind))), strings.TrimSpace(value))
}

func entityInput(rec RawEntity, opts ImportOptions) (graph.EntityInput, error) {
	kind := rec.Kind
	if kind == "" {
		kind = strings.ToLower(strings.TrimSpace(opts.DefaultKind))
	}
	if kind == "" {
		return graph.EntityInput{}, fmt.Errorf("record has no kind")
	}
	if rec.Value == "" {
		return graph.EntityInput{}, fmt.Errorf("record has no value")
	}

	meta := make(map[string]any, len(rec.Metadata)+2)
	for k, v := range rec.Metadata {
		meta[k] = v
	}
	if rec.SourceFile != "" {
		meta["source_file"] = rec.SourceFile
		meta["source_line"] = rec.SourceLine
	}
	return graph.EntityInput{
		Kind:           graph.EntityType(kind),
		Value:          rec.Value,
		Label:          rec.Label,
		Notes:          rec.Notes,
		SourceMetadata: meta,
	}, nil
}

func (e *Engine) detectImporter(path string) Importer {
	for _, imp := range e.importers {
		if imp.CanHandle(path) {
			return imp
		}
	}
	return nil
}

// sniffFormat guesses the format of a file with an unknown extension from
// its first non-blank lines.
func (e *Engine) sniffFormat(path string) Importer {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() && len(lines) < 2 {
		if text := strings.TrimSpace(scanner.Text()); text != "" {
			lines = append(lines, text)
		}
	}
	if len(lines) == 0 {
		return nil
	}

	first := lines[0]
	switch {
	case strings.HasPrefix(first, "{") && strings.HasSuffix(first, "}") && (len(lines) == 1 || strings.HasPrefix(lines[1], "{")):
		if len(lines) == 1 {
			return &JSONImporter{}
		}
		return &JSONLImporter{}
	case strings.HasPrefix(first, "{") || strings.HasPrefix(first, "["):
		return &JSONImporter{}
	case strings.Contains(strings.ToLower(first), "value") && strings.Contains(first, ","):
		return &CSVImporter{}
	default:
		return &PlainTextImporter{}
	}
}
