package planner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS crew_audit_events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	graph_id    TEXT    NOT NULL,
	run_id      TEXT    NOT NULL DEFAULT '',
	node_id     TEXT    NOT NULL,
	node_type   TEXT    NOT NULL,
	status      TEXT    NOT NULL,
	output_json TEXT,
	error_text  TEXT    NOT NULL DEFAULT '',
	started_ns  INTEGER NOT NULL DEFAULT 0,
	finished_ns INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS crew_audit_events_run ON crew_audit_events(run_id, seq);
CREATE INDEX IF NOT EXISTS crew_audit_events_finished ON crew_audit_events(finished_ns);
`

// SQLiteAuditStore persists audit events in a SQLite database.
type SQLiteAuditStore struct {
	db    *sql.DB
	owned bool
}

// NewSQLiteAuditStore uses an already opened database and creates the
// schema when missing. Close leaves db open.
func NewSQLiteAuditStore(db *sql.DB) (*SQLiteAuditStore, error) {
	if db == nil {
		return nil, errors.New("audit store: nil database")
	}
	if _, err := db.Exec(auditSchema); err != nil {
		return nil, fmt.Errorf("audit schema: %w", err)
	}
	return &SQLiteAuditStore{db: db}, nil
}

// OpenSQLiteAuditStore opens or creates the database file at path.
func OpenSQLiteAuditStore(path string) (*SQLiteAuditStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	store, err := NewSQLiteAuditStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// Close closes the database if OpenSQLiteAuditStore opened it.
func (s *SQLiteAuditStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Record implements AuditStore.
func (s *SQLiteAuditStore) Record(ctx context.Context, event AuditEvent) error {
	output, err := encodeAuditOutput(event.Output)
	if err != nil {
		return fmt.Errorf("encode audit output: %w", err)
	}
	var outputCol any
	if output != nil {
		outputCol = string(output)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO crew_audit_events
			(graph_id, run_id, node_id, node_type, status, output_json, error_text, started_ns, finished_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.GraphID, event.RunID, event.NodeID, event.NodeType, event.Status,
		outputCol, event.Error, unixNanos(event.StartedAt), unixNanos(event.FinishedAt),
	)
	return err
}

// List implements AuditStore. Events come back in insertion order.
func (s *SQLiteAuditStore) List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	var (
		conds []string
		args  []any
	)
	for _, f := range []struct{ col, val string }{
		{"graph_id", filter.GraphID},
		{"run_id", filter.RunID},
		{"node_id", filter.NodeID},
		{"status", filter.Status},
	} {
		if f.val != "" {
			conds = append(conds, f.col+" = ?")
			args = append(args, f.val)
		}
	}

	var q strings.Builder
	q.WriteString(`SELECT graph_id, run_id, node_id, node_type, status, output_json, error_text, started_ns, finished_ns
		FROM crew_audit_events`)
	if len(conds) > 0 {
		q.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	q.WriteString(" ORDER BY seq")
	if filter.Limit > 0 {
		q.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			ev                AuditEvent
			output            sql.NullString
			started, finished int64
		)
		if err := rows.Scan(&ev.GraphID, &ev.RunID, &ev.NodeID, &ev.NodeType, &ev.Status,
			&output, &ev.Error, &started, &finished); err != nil {
			return nil, err
		}
		if output.Valid {
			// Undecodable payloads are dropped; the rest of the event is still useful.
			if v, err := decodeAuditOutput([]byte(output.String)); err == nil {
				ev.Output = v
			}
		}
		ev.StartedAt = fromUnixNanos(started)
		ev.FinishedAt = fromUnixNanos(finished)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Prune deletes events that finished before cutoff and reports how many
// were removed.
func (s *SQLiteAuditStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM crew_audit_events WHERE finished_ns > 0 AND finished_ns < ?`, unixNanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}
	return res.RowsAffected()
}

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
