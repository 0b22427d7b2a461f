// Package store persists commands deferred for background execution.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stateforward/go-invoke/ledger"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("command not found")

type Status string

const (
	Pending   Status = "PENDING"
	Completed Status = "COMPLETED"
	Failed    Status = "FAILED"
)

// Dialect adapts queries written with ? placeholders to a driver.
type Dialect struct {
	Driver string
	rebind func(query string) string
}

var (
	SQLite   = Dialect{Driver: "sqlite", rebind: func(query string) string { return query }}
	Postgres = Dialect{Driver: "postgres", rebind: numbered}
)

func numbered(query string) string {
	var builder strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			builder.WriteString("$" + strconv.Itoa(n))
			continue
		}
		builder.WriteRune(r)
	}
	return builder.String()
}

// Commands is a SQL command store.
type Commands struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects with dialect's driver and migrates the schema.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Commands, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Driver, err)
	}
	store, err := New(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Commands, error) {
	store := &Commands{db: db, dialect: dialect}
	if err := store.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate commands: %w", err)
	}
	return store, nil
}

func (store *Commands) Close() error {
	return store.db.Close()
}

func (store *Commands) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS commands (
		id TEXT PRIMARY KEY,
		executor TEXT NOT NULL,
		execute_in TEXT NOT NULL,
		member TEXT NOT NULL,
		memento TEXT,
		started_at TEXT,
		completed_at TEXT,
		status TEXT NOT NULL,
		result_type TEXT NOT NULL DEFAULT '',
		result_id TEXT NOT NULL DEFAULT '',
		failure TEXT NOT NULL DEFAULT ''
	);`
	_, err := store.db.ExecContext(ctx, query)
	return err
}

func (store *Commands) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return store.db.ExecContext(ctx, store.dialect.rebind(query), args...)
}

// PersistIfPossible stores command as pending. It always persists.
func (store *Commands) PersistIfPossible(ctx context.Context, command *ledger.Command) (bool, error) {
	var memento any
	if command.Memento != nil {
		data, err := json.Marshal(command.Memento)
		if err != nil {
			return false, fmt.Errorf("encode memento: %w", err)
		}
		memento = string(data)
	}
	_, err := store.exec(ctx, `INSERT INTO commands (id, executor, execute_in, member, memento, started_at, status) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		command.Id(), string(command.Executor), string(command.ExecuteIn), command.Member, memento, formatTime(command.StartedAt()), string(Pending),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert command: %w", err)
	}
	return true, nil
}

// Record is a stored command with its lifecycle state.
type Record struct {
	Command     *ledger.Command
	Status      Status
	CompletedAt time.Time
	Failure     string
}

const columns = `id, executor, execute_in, member, memento, started_at, completed_at, status, result_type, result_id, failure`

func (store *Commands) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	row := store.db.QueryRowContext(ctx, store.dialect.rebind(`SELECT `+columns+` FROM commands WHERE id = ?`), id.String())
	record, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return record, err
}

// Pending lists up to limit commands awaiting execution, oldest first.
func (store *Commands) Pending(ctx context.Context, limit int) ([]*Record, error) {
	rows, err := store.db.QueryContext(ctx, store.dialect.rebind(`SELECT `+columns+` FROM commands WHERE status = ? ORDER BY id LIMIT ?`), string(Pending), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		record, err := scan(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Complete marks a command done with the bookmark of what it produced, or failed
// when cause is not nil.
func (store *Commands) Complete(ctx context.Context, command *ledger.Command, completedAt time.Time, cause error) error {
	status, failure := Completed, ""
	if cause != nil {
		status, failure = Failed, cause.Error()
	}
	result, _ := command.Result()
	res, err := store.exec(ctx, `UPDATE commands SET status = ?, started_at = ?, completed_at = ?, result_type = ?, result_id = ?, failure = ? WHERE id = ?`,
		string(status), formatTime(command.StartedAt()), formatTime(completedAt), result.Type, result.ID, failure, command.Id(),
	)
	if err != nil {
		return fmt.Errorf("failed to complete command: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", command.Id(), ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*Record, error) {
	var (
		id, executor, mode, member, status string
		resultType, resultID, failure      string
		memento, startedAt, completedAt    sql.NullString
	)
	if err := row.Scan(&id, &executor, &mode, &member, &memento, &startedAt, &completedAt, &status, &resultType, &resultID, &failure); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("command id %q: %w", id, err)
	}
	command := &ledger.Command{
		ID:        parsed,
		Executor:  ledger.Executor(executor),
		ExecuteIn: ledger.Mode(mode),
		Member:    member,
	}
	if memento.Valid && memento.String != "" {
		command.Memento = &ledger.Memento{}
		if err := json.Unmarshal([]byte(memento.String), command.Memento); err != nil {
			return nil, fmt.Errorf("decode memento of %s: %w", id, err)
		}
	}
	started, err := parseTime(startedAt)
	if err != nil {
		return nil, err
	}
	completed, err := parseTime(completedAt)
	if err != nil {
		return nil, err
	}
	command.Restore(started, ledger.Bookmark{Type: resultType, ID: resultID})
	return &Record{Command: command, Status: Status(status), CompletedAt: completed, Failure: failure}, nil
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value sql.NullString) (time.Time, error) {
	if !value.Valid || value.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", value.String, err)
	}
	return t, nil
}
