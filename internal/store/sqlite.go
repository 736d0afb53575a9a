package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/miga/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// the daemon's writes.
	db.SetMaxOpenConns(1)

	// Enable WAL mode so status readers do not block the daemon.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Daemon runs ---

func (s *SQLiteStore) StartInstance(ctx context.Context, inst *model.DaemonInstance) error {
	s.logger.Debug("sql", "op", "insert", "table", "instances", "id", inst.ID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instances (id, project, pid, backend, started_at) VALUES (?, ?, ?, ?, ?)`,
		inst.ID, inst.Project, inst.PID, inst.Backend, inst.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) StopInstance(ctx context.Context, id string) error {
	s.logger.Debug("sql", "op", "update", "table", "instances", "id", id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE instances SET stopped_at = ? WHERE id = ? AND stopped_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("instance %s not found or already stopped", id)
	}
	return nil
}

// ListInstances returns the most recent daemon runs first.
func (s *SQLiteStore) ListInstances(ctx context.Context, limit int) ([]*model.DaemonInstance, error) {
	s.logger.Debug("sql", "op", "list", "table", "instances", "limit", limit)
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project, pid, backend, started_at, stopped_at
		 FROM instances ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.DaemonInstance
	for rows.Next() {
		var inst model.DaemonInstance
		var startedAt string
		var stoppedAt *string
		if err := rows.Scan(&inst.ID, &inst.Project, &inst.PID, &inst.Backend, &startedAt, &stoppedAt); err != nil {
			return nil, err
		}
		inst.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if stoppedAt != nil {
			t, _ := time.Parse(time.RFC3339Nano, *stoppedAt)
			inst.StoppedAt = &t
		}
		out = append(out, &inst)
	}
	return out, rows.Err()
}

// --- Job events ---

func (s *SQLiteStore) RecordEvent(ctx context.Context, ev *model.JobEvent) error {
	s.logger.Debug("sql", "op", "insert", "table", "events", "event", ev.Type, "task", ev.TaskName)

	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (instance, at, event, ds_name, job, task_name, handle)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Instance, at.UTC().Format(time.RFC3339Nano), string(ev.Type),
		ev.Dataset, string(ev.Kind), ev.TaskName, ev.Handle,
	)
	if err != nil {
		return err
	}
	ev.ID, err = res.LastInsertId()
	return err
}

// ListEvents returns events matching f, newest first, and the total number
// of matches.
func (s *SQLiteStore) ListEvents(ctx context.Context, f model.EventFilter) ([]*model.JobEvent, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "events", "limit", f.Limit, "offset", f.Offset)
	f.Clamp()

	var whereClauses []string
	var countArgs []any
	if f.Instance != "" {
		whereClauses = append(whereClauses, "instance = ?")
		countArgs = append(countArgs, f.Instance)
	}
	if f.Dataset != "" {
		whereClauses = append(whereClauses, "ds_name = ?")
		countArgs = append(countArgs, f.Dataset)
	}
	if f.Type != "" {
		whereClauses = append(whereClauses, "event = ?")
		countArgs = append(countArgs, string(f.Type))
	}
	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`+whereSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := `SELECT id, instance, at, event, ds_name, job, task_name, handle
		FROM events` + whereSQL + ` ORDER BY id DESC LIMIT ? OFFSET ?`
	listArgs := append(countArgs, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*model.JobEvent
	for rows.Next() {
		var ev model.JobEvent
		var at, typ, kind string
		if err := rows.Scan(&ev.ID, &ev.Instance, &at, &typ, &ev.Dataset, &kind, &ev.TaskName, &ev.Handle); err != nil {
			return nil, 0, err
		}
		ev.Time, _ = time.Parse(time.RFC3339Nano, at)
		ev.Type = model.EventType(typ)
		ev.Kind = model.TaskKind(kind)
		events = append(events, &ev)
	}
	return events, total, rows.Err()
}
