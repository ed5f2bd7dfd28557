package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "timebox/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Insert(ctx context.Context, owner string, t Task) (string, error) {
	if strings.TrimSpace(owner) == "" {
		return "", errors.New("owner is required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = StatusNotStarted
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, owner, name, duration_hours, deadline, priority,
		                   window_start, window_end, status, conflict, conflict_reason,
		                   created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, owner, t.Name, t.DurationHours, fmtTime(t.Deadline), string(t.Priority),
		fmtTimePtr(t.WindowStart), fmtTimePtr(t.WindowEnd), string(t.Status),
		boolInt(t.Conflict), nullStr(t.ConflictReason),
		fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return t.ID, nil
}

func (s *sqliteStore) UpdateFields(ctx context.Context, owner, id string, f Fields) error {
	if f.Empty() {
		return nil
	}

	sets := make([]string, 0, 8)
	args := make([]any, 0, 10)

	if f.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *f.Name)
	}
	if f.DurationHours != nil {
		sets = append(sets, "duration_hours = ?")
		args = append(args, *f.DurationHours)
	}
	if f.Deadline != nil {
		sets = append(sets, "deadline = ?")
		args = append(args, fmtTime(*f.Deadline))
	}
	if f.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, string(*f.Priority))
	}
	if f.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.ResetPlacement {
		sets = append(sets, "window_start = NULL", "window_end = NULL", "conflict = 0", "conflict_reason = NULL")
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, fmtTime(time.Now()))
	args = append(args, id, owner)

	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ? AND owner = ?",
		args...,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, owner, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND owner = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListByOwner(ctx context.Context, owner string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, name, duration_hours, deadline, priority,
		        window_start, window_end, status, conflict, conflict_reason,
		        created_at, updated_at
		 FROM tasks WHERE owner = ? ORDER BY deadline ASC, id ASC`, owner)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ApplyPlacements(ctx context.Context, owner string, ps []Placement) error {
	if len(ps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin placements: %w", err)
	}
	defer tx.Rollback()

	now := fmtTime(time.Now())
	for _, p := range ps {
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET window_start = ?, window_end = ?, conflict = ?, conflict_reason = ?, updated_at = ?
			 WHERE id = ? AND owner = ?`,
			fmtTimePtr(p.WindowStart), fmtTimePtr(p.WindowEnd),
			boolInt(p.Conflict), nullStr(p.ConflictReason), now,
			p.TaskID, owner,
		)
		if err != nil {
			return fmt.Errorf("apply placement %s: %w", p.TaskID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		// A missing row fails the whole batch; the caller retries it as a unit.
		if n == 0 {
			return fmt.Errorf("apply placement %s: %w", p.TaskID, ErrNotFound)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) OwnersWithConflicts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT owner FROM tasks WHERE conflict = 1`)
	if err != nil {
		return nil, fmt.Errorf("owners with conflicts: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, owner, action, task_id, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?)`,
		fmtTime(e.At), e.Owner, e.Action, nullStr(e.TaskID), boolInt(e.OK), nullStr(e.Error), e.TookMS,
	)
	return err
}

func (s *sqliteStore) PruneAudit(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit WHERE at < ?`, fmtTime(olderThan))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- scanning helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (Task, error) {
	var (
		t                          Task
		deadline, created, updated string
		wstart, wend, reason       sql.NullString
		priority, status           string
		conflict                   int
	)
	err := r.Scan(&t.ID, &t.Owner, &t.Name, &t.DurationHours, &deadline, &priority,
		&wstart, &wend, &status, &conflict, &reason, &created, &updated)
	if err != nil {
		return Task{}, fmt.Errorf("scan task: %w", err)
	}
	t.Priority = Priority(priority)
	t.Status = Status(status)
	t.Conflict = conflict != 0
	if reason.Valid {
		t.ConflictReason = reason.String
	}
	if t.Deadline, err = parseTime(deadline); err != nil {
		return Task{}, err
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return Task{}, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return Task{}, err
	}
	if t.WindowStart, err = parseTimePtr(wstart); err != nil {
		return Task{}, err
	}
	if t.WindowEnd, err = parseTimePtr(wend); err != nil {
		return Task{}, err
	}
	return t, nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
