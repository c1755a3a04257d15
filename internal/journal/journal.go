// Package journal persists dispatched hook calls and plugin lifecycle events
// to SQLite.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultLimit = 100
	// Fixed width so stored timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// ErrNotFound is returned when a journaled call does not exist.
var ErrNotFound = errors.New("not found")

// Journal writes to the tables created by storage.BootstrapSQLite.
type Journal struct {
	db *sql.DB
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// RecordCall stores c, assigning an ID and start time when missing.
func (j *Journal) RecordCall(ctx context.Context, c *Call) (string, error) {
	if c.Hook == "" {
		return "", fmt.Errorf("hook is empty")
	}
	if c.Status != StatusOK && c.Status != StatusError {
		return "", fmt.Errorf("invalid status %q", c.Status)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now()
	}

	plugins, err := json.Marshal(nonNil(c.Plugins))
	if err != nil {
		return "", fmt.Errorf("encode plugins: %w", err)
	}
	kwargs := string(c.Kwargs)
	if kwargs == "" {
		kwargs = "{}"
	}
	var result any
	if len(c.Result) > 0 {
		result = string(c.Result)
	}

	_, err = j.db.ExecContext(ctx, `
INSERT INTO hook_calls(id, hook, plugins, kwargs, status, result, error, started_at, duration_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, c.ID, c.Hook, string(plugins), kwargs, string(c.Status), result, c.Error,
		c.StartedAt.UTC().Format(timeLayout), c.Duration.Milliseconds())
	if err != nil {
		return "", fmt.Errorf("record hook call: %w", err)
	}
	return c.ID, nil
}

// ListCalls returns journaled calls, newest first.
func (j *Journal) ListCalls(ctx context.Context, f CallFilter) ([]Call, error) {
	var (
		where []string
		args  []any
	)
	if f.Hook != "" {
		where = append(where, "hook = ?")
		args = append(args, f.Hook)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.Since.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	query := `SELECT ` + callColumns + ` FROM hook_calls`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, rowid DESC LIMIT ?;"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list hook calls: %w", err)
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list hook calls: %w", err)
	}
	return out, nil
}

// GetCall returns the journaled call with id, or ErrNotFound.
func (j *Journal) GetCall(ctx context.Context, id string) (*Call, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM hook_calls WHERE id = ?;`, id)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("call %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

const callColumns = "id, hook, plugins, kwargs, status, result, error, started_at, duration_ms"

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(s scanner) (*Call, error) {
	var (
		c          Call
		pluginsS   string
		kwargsS    string
		statusS    string
		result     sql.NullString
		errMsg     sql.NullString
		startedAtS string
		durationMS int64
	)
	if err := s.Scan(&c.ID, &c.Hook, &pluginsS, &kwargsS, &statusS, &result, &errMsg, &startedAtS, &durationMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan hook call: %w", err)
	}
	if err := json.Unmarshal([]byte(pluginsS), &c.Plugins); err != nil {
		return nil, fmt.Errorf("decode plugins of call %s: %w", c.ID, err)
	}
	c.Kwargs = json.RawMessage(kwargsS)
	c.Status = Status(statusS)
	if result.Valid {
		c.Result = json.RawMessage(result.String)
	}
	if errMsg.Valid {
		c.Error = &errMsg.String
	}
	if t, err := time.Parse(timeLayout, startedAtS); err == nil {
		c.StartedAt = t
	}
	c.Duration = time.Duration(durationMS) * time.Millisecond
	return &c, nil
}

// RecordEvent stores a plugin lifecycle event.
func (j *Journal) RecordEvent(ctx context.Context, plugin string, kind EventKind, detail string) (string, error) {
	if plugin == "" {
		return "", fmt.Errorf("plugin is empty")
	}
	id := uuid.NewString()
	now := time.Now().UTC().Format(timeLayout)

	var d any
	if detail != "" {
		d = detail
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO plugin_events(id, plugin, event, detail, created_at)
VALUES(?, ?, ?, ?, ?);
`, id, plugin, string(kind), d, now)
	if err != nil {
		return "", fmt.Errorf("record plugin event: %w", err)
	}
	return id, nil
}

// ListEvents returns lifecycle events, newest first. An empty plugin lists
// events of every plugin.
func (j *Journal) ListEvents(ctx context.Context, plugin string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	query := `SELECT id, plugin, event, detail, created_at FROM plugin_events`
	args := []any{}
	if plugin != "" {
		query += " WHERE plugin = ?"
		args = append(args, plugin)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?;"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plugin events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e          Event
			kindS      string
			detail     sql.NullString
			createdAtS string
		)
		if err := rows.Scan(&e.ID, &e.Plugin, &kindS, &detail, &createdAtS); err != nil {
			return nil, fmt.Errorf("scan plugin event: %w", err)
		}
		e.Kind = EventKind(kindS)
		e.Detail = detail.String
		if t, err := time.Parse(timeLayout, createdAtS); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list plugin events: %w", err)
	}
	return out, nil
}

// Prune deletes calls and events older than before. Returns the number of
// rows removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UTC().Format(timeLayout)

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, stmt := range []string{
		`DELETE FROM hook_calls WHERE started_at < ?;`,
		`DELETE FROM plugin_events WHERE created_at < ?;`,
	} {
		res, err := tx.ExecContext(ctx, stmt, cutoff)
		if err != nil {
			return 0, fmt.Errorf("prune journal: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return total, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
