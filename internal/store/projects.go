package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hurttlocker/casegraph/internal/graph"
)

// SaveProject stores doc as the current document of project name and appends a
// revision. The document must decode as a graph document. Saving a document
// identical to the current one records nothing new.
func (s *SQLiteStore) SaveProject(ctx context.Context, name string, doc []byte) (*ProjectInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("saving project: name required")
	}
	parsed, err := graph.DecodeDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("saving project %q: %w", name, err)
	}
	hash := HashDocument(doc)
	now := formatTime(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT hash FROM projects WHERE name = ?`, name).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reading project %q: %w", name, err)
	}
	if current == hash {
		tx.Rollback()
		return s.projectInfo(ctx, name)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO projects (name, document, hash, entities, relationships, clusters, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			document = excluded.document,
			hash = excluded.hash,
			entities = excluded.entities,
			relationships = excluded.relationships,
			clusters = excluded.clusters,
			updated_at = excluded.updated_at`,
		name, string(doc), hash, len(parsed.Entities), len(parsed.Relationships), len(parsed.Clusters), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("writing project %q: %w", name, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO project_revisions (project, document, hash, entities, created_at) VALUES (?, ?, ?, ?, ?)`,
		name, string(doc), hash, len(parsed.Entities), now,
	)
	if err != nil {
		return nil, fmt.Errorf("writing revision for %q: %w", name, err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM project_revisions
		 WHERE project = ? AND id NOT IN (
			SELECT id FROM project_revisions WHERE project = ? ORDER BY id DESC LIMIT ?
		 )`,
		name, name, s.maxRevisions,
	)
	if err != nil {
		return nil, fmt.Errorf("trimming revisions for %q: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing save of %q: %w", name, err)
	}
	return s.projectInfo(ctx, name)
}

// LoadProject returns the current document of project name.
func (s *SQLiteStore) LoadProject(ctx context.Context, name string) ([]byte, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM projects WHERE name = ?`, name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("loading project %q: %w", name, err)
	}
	return []byte(doc), nil
}

// ListProjects returns every saved project ordered by name.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]ProjectInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			p.name, p.entities, p.relationships, p.clusters, p.hash, p.updated_at,
			(SELECT COUNT(*) FROM project_revisions r WHERE r.project = p.name) AS revision_count
		FROM projects p
		ORDER BY p.name
	`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []ProjectInfo
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// DeleteProject removes project name and its revisions. Logged events are kept.
func (s *SQLiteStore) DeleteProject(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM project_revisions WHERE project = ?`, name); err != nil {
		return fmt.Errorf("deleting revisions of %q: %w", name, err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting project %q: %w", name, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}
	return tx.Commit()
}

// ListRevisions returns up to limit revisions of project name, newest first.
func (s *SQLiteStore) ListRevisions(ctx context.Context, name string, limit int) ([]Revision, error) {
	if limit <= 0 {
		limit = s.maxRevisions
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project, hash, entities, created_at
		 FROM project_revisions WHERE project = ?
		 ORDER BY id DESC LIMIT ?`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("listing revisions of %q: %w", name, err)
	}
	defer rows.Close()

	var revs []Revision
	for rows.Next() {
		var r Revision
		var created string
		if err := rows.Scan(&r.ID, &r.Project, &r.Hash, &r.Entities, &created); err != nil {
			return nil, fmt.Errorf("scanning revision row: %w", err)
		}
		r.CreatedAt = parseTime(created)
		revs = append(revs, r)
	}
	return revs, rows.Err()
}

// LoadRevision returns the document stored in revision id of project name.
func (s *SQLiteStore) LoadRevision(ctx context.Context, name string, id int64) ([]byte, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM project_revisions WHERE project = ? AND id = ?`, name, id,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s revision %d", ErrProjectNotFound, name, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading revision %d of %q: %w", id, name, err)
	}
	return []byte(doc), nil
}

func (s *SQLiteStore) projectInfo(ctx context.Context, name string) (*ProjectInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			p.name, p.entities, p.relationships, p.clusters, p.hash, p.updated_at,
			(SELECT COUNT(*) FROM project_revisions r WHERE r.project = p.name)
		FROM projects p WHERE p.name = ?`, name)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (ProjectInfo, error) {
	var p ProjectInfo
	var updated string
	if err := row.Scan(&p.Name, &p.Entities, &p.Relationships, &p.Clusters, &p.Hash, &updated, &p.Revisions); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("scanning project row: %w", err)
	}
	p.UpdatedAt = parseTime(updated)
	return p, nil
}
