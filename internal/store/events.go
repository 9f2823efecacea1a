package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultEventLimit caps ListEvents when no limit is given.
const DefaultEventLimit = 100

// LogEvent appends e to the event log, assigning its ID and CreatedAt.
func (s *SQLiteStore) LogEvent(ctx context.Context, e *Event) error {
	if e.Op == "" {
		return fmt.Errorf("logging event: op required")
	}
	now := time.Now().UTC()
	id := uuid.New().String()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, project, op, description, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, e.Project, e.Op, e.Description, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("logging event: %w", err)
	}

	e.ID = id
	e.CreatedAt = now
	return nil
}

// ListEvents returns up to limit events, newest first. An empty project lists
// events of every project.
func (s *SQLiteStore) ListEvents(ctx context.Context, project string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	query := `SELECT id, project, op, description, created_at FROM events`
	args := []any{}
	if project != "" {
		query += ` WHERE project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var created string
		if err := rows.Scan(&e.ID, &e.Project, &e.Op, &e.Description, &created); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		e.CreatedAt = parseTime(created)
		events = append(events, e)
	}
	return events, rows.Err()
}
