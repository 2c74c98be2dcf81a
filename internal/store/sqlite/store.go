// Package sqlite persists the job command log in a local SQLite file.
package sqlite

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cuongbtq/jobengine/internal/actor"
	"github.com/cuongbtq/jobengine/internal/job"
)

//go:embed schema.sql
var schemaSQL string

// Store is a job.CommandLog backed by SQLite
type Store struct {
	db *sqlx.DB
}

var _ job.CommandLog = (*Store)(nil)

// Open creates or opens the database at path and applies the schema.
// SQLite allows one writer, so the pool is held to a single connection.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open command store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func applyPragmas(ctx context.Context, db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// row is the table layout of a command
type row struct {
	ID       string `db:"id"`
	Job      string `db:"job"`
	Target   string `db:"target"`
	Action   string `db:"action"`
	Seconds  int    `db:"seconds"`
	Accepted bool   `db:"accepted"`
	Status   string `db:"status"`
	Error    string `db:"error"`
	At       int64  `db:"at"`
}

// Append stores cmd
func (s *Store) Append(ctx context.Context, cmd job.Command) error {
	r := row{
		ID:       cmd.ID,
		Job:      cmd.Job,
		Target:   cmd.Target,
		Action:   cmd.Action.String(),
		Seconds:  cmd.Seconds,
		Accepted: cmd.Accepted,
		Status:   cmd.Status.String(),
		Error:    cmd.Error,
		At:       cmd.At.UnixNano(),
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO commands (id, job, target, action, seconds, accepted, status, error, at)
		VALUES (:id, :job, :target, :action, :seconds, :accepted, :status, :error, :at)`, r)
	if err != nil {
		return fmt.Errorf("failed to append command: %w", err)
	}
	return nil
}

// List returns up to limit of the most recent commands, oldest first
func (s *Store) List(ctx context.Context, limit int) ([]job.Command, error) {
	if limit <= 0 {
		limit = -1
	}

	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, job, target, action, seconds, accepted, status, error, at FROM (
			SELECT * FROM commands ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list commands: %w", err)
	}

	cmds := make([]job.Command, 0, len(rows))
	for _, r := range rows {
		cmd, err := r.command()
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func (r row) command() (job.Command, error) {
	action, err := actor.ParseAction(r.Action)
	if err != nil {
		return job.Command{}, fmt.Errorf("failed to decode command %s: %w", r.ID, err)
	}
	status, err := actor.ParseStatus(r.Status)
	if err != nil {
		return job.Command{}, fmt.Errorf("failed to decode command %s: %w", r.ID, err)
	}
	return job.Command{
		ID:       r.ID,
		Job:      r.Job,
		Target:   r.Target,
		Action:   action,
		Seconds:  r.Seconds,
		Accepted: r.Accepted,
		Status:   status,
		Error:    r.Error,
		At:       time.Unix(0, r.At).UTC(),
	}, nil
}
