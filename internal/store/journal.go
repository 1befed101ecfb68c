// Copyright (c) 2022 Netskope, Inc. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Supported journal drivers.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

const (
	dbPoolSize = 10
	dbConnLife = 30 * time.Minute
	dbTimeout  = 5
)

var (
	ErrBadDSN   = fmt.Errorf("journal dsn is required")
	ErrNotFound = errors.New("run not found")
)

// Status of a publish run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is one publish run as recorded in the journal.
type Run struct {
	ID           string     `json:"id"`
	Site         string     `json:"site"`
	Device       string     `json:"device"`
	Phantom      string     `json:"phantom"`
	ResultFolder string     `json:"result_folder"`
	FileName     string     `json:"file_name,omitempty"`
	DocumentID   string     `json:"document_id,omitempty"`
	NumericCount int        `json:"numeric_count"`
	TextualCount int        `json:"textual_count"`
	Status       Status     `json:"status"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

const schema = `CREATE TABLE IF NOT EXISTS publish_runs (
	id VARCHAR(36) NOT NULL PRIMARY KEY,
	site VARCHAR(255) NOT NULL,
	device VARCHAR(255) NOT NULL,
	phantom VARCHAR(255) NOT NULL,
	result_folder TEXT NOT NULL,
	file_name VARCHAR(255) NOT NULL DEFAULT '',
	document_id VARCHAR(255) NOT NULL DEFAULT '',
	numeric_count INT NOT NULL DEFAULT 0,
	textual_count INT NOT NULL DEFAULT 0,
	status VARCHAR(16) NOT NULL,
	error TEXT,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NULL
)`

const runColumns = `id, site, device, phantom, result_folder, file_name, document_id, numeric_count, textual_count, status, error, started_at, finished_at`

// Journal records publish runs in MySQL/MariaDB or SQLite.
type Journal struct {
	db      *sql.DB
	timeout time.Duration
	driver  string
}

// Open connects to the journal database, checks the connection and creates
// the table when missing.
func Open(driver, dsn string, timeout int) (*Journal, error) {
	if dsn == "" {
		return nil, ErrBadDSN
	}

	switch driver {
	case DriverMySQL:
		if !strings.Contains(dsn, "parseTime=") {
			if strings.Contains(dsn, "?") {
				dsn += "&parseTime=true"
			} else {
				dsn += "?parseTime=true"
			}
		}
	case DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported journal driver: %s (must be mysql or sqlite)", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	db.SetConnMaxLifetime(dbConnLife)
	if driver == DriverSQLite {
		// single writer
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(dbPoolSize)
		db.SetMaxIdleConns(dbPoolSize)
	}

	j := New(db, driver, timeout)
	if err = j.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err = j.EnsureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, driver string, timeout int) *Journal {
	if timeout < 1 {
		timeout = dbTimeout
	}
	return &Journal{
		db:      db,
		timeout: time.Duration(timeout) * time.Second,
		driver:  driver,
	}
}

func (j *Journal) Driver() string {
	if j == nil {
		return ""
	}
	return j.driver
}

func (j *Journal) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, j.timeout)
}

func (j *Journal) Close() error {
	if j.db != nil {
		err := j.db.Close()
		j.db = nil
		return err
	}
	return nil
}

func (j *Journal) Ping() error {
	ctx, cancel := j.context(context.Background())
	defer cancel()
	return j.db.PingContext(ctx)
}

// EnsureSchema creates the publish_runs table if it does not exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	ctx, cancel := j.context(ctx)
	defer cancel()
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create publish_runs table: %w", err)
	}
	return nil
}

// Start inserts a run in the running state.
func (j *Journal) Start(ctx context.Context, run Run) error {
	ctx, cancel := j.context(ctx)
	defer cancel()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO publish_runs (id, site, device, phantom, result_folder, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Site, run.Device, run.Phantom, run.ResultFolder, string(StatusRunning), run.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// Finish stores the outcome of a run. A run whose start was never recorded is
// inserted whole, so the outcome still reaches the history.
func (j *Journal) Finish(ctx context.Context, run Run) error {
	ctx, cancel := j.context(ctx)
	defer cancel()

	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}

	res, err := j.db.ExecContext(ctx,
		`UPDATE publish_runs SET file_name = ?, document_id = ?, numeric_count = ?, textual_count = ?,
		status = ?, error = ?, finished_at = ? WHERE id = ?`,
		run.FileName, run.DocumentID, run.NumericCount, run.TextualCount,
		string(run.Status), run.Error, finished, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", run.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", run.ID, err)
	}
	if n > 0 {
		return nil
	}

	started := finished
	if !run.StartedAt.IsZero() {
		started = run.StartedAt.UTC()
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO publish_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Site, run.Device, run.Phantom, run.ResultFolder,
		run.FileName, run.DocumentID, run.NumericCount, run.TextualCount,
		string(run.Status), run.Error, started, finished,
	)
	if err != nil {
		return fmt.Errorf("failed to insert finished run %s: %w", run.ID, err)
	}
	return nil
}

// Get returns a single run.
func (j *Journal) Get(ctx context.Context, id string) (Run, error) {
	ctx, cancel := j.context(ctx)
	defer cancel()

	row := j.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM publish_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to read run %s: %w", id, err)
	}
	return run, nil
}

// Recent returns the latest runs, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit < 1 {
		limit = 50
	}
	ctx, cancel := j.context(ctx)
	defer cancel()

	rows, err := j.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM publish_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r        Run
		status   string
		errText  sql.NullString
		finished sql.NullTime
	)
	err := s.Scan(&r.ID, &r.Site, &r.Device, &r.Phantom, &r.ResultFolder, &r.FileName, &r.DocumentID,
		&r.NumericCount, &r.TextualCount, &status, &errText, &r.StartedAt, &finished)
	if err != nil {
		return Run{}, err
	}
	r.Status = Status(status)
	r.Error = errText.String
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return r, nil
}
