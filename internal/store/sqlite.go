package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/briefsmith/internal/domain"
	"github.com/ashureev/briefsmith/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeAttempts  = 3
	writeBaseDelay = 100 * time.Millisecond

	defaultListLimit = 50
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers proceed while a run is being written.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		owner_id TEXT,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		stage TEXT,
		error TEXT,
		record_json TEXT NOT NULL,
		artifacts_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_owner_created ON runs(owner_id, created_at DESC);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveRun inserts or replaces a run. Writes are retried on SQLite lock
// contention.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *domain.Run) error {
	if run == nil || run.ID == "" {
		return errors.New("save run: missing id")
	}

	recordJSON, err := json.Marshal(run.Record)
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}
	var artifactsJSON any
	if run.Artifacts != nil {
		data, err := json.Marshal(run.Artifacts)
		if err != nil {
			return fmt.Errorf("encode run artifacts: %w", err)
		}
		artifactsJSON = string(data)
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
	INSERT INTO runs (id, session_id, owner_id, source, status, stage, error, record_json, artifacts_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		stage = excluded.stage,
		error = excluded.error,
		record_json = excluded.record_json,
		artifacts_json = excluded.artifacts_json`

	err = shared.RetryOnConflict(ctx, "save_run", writeAttempts, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			run.ID, run.SessionID, run.OwnerID, run.Source,
			string(run.Status), run.Stage, run.Error,
			string(recordJSON), artifactsJSON, createdAt.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `id, session_id, owner_id, source, status, stage, error, record_json, artifacts_json, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.Run, error) {
	var (
		run                               domain.Run
		sessionID, ownerID, stage, errMsg sql.NullString
		status, recordJSON                string
		artifactsJSON                     sql.NullString
		createdAt                         int64
	)
	if err := row.Scan(
		&run.ID, &sessionID, &ownerID, &run.Source, &status,
		&stage, &errMsg, &recordJSON, &artifactsJSON, &createdAt,
	); err != nil {
		return nil, err
	}

	run.SessionID = sessionID.String
	run.OwnerID = ownerID.String
	run.Status = domain.RunStatus(status)
	run.Stage = stage.String
	run.Error = errMsg.String
	run.CreatedAt = time.UnixMilli(createdAt).UTC()

	if err := json.Unmarshal([]byte(recordJSON), &run.Record); err != nil {
		return nil, fmt.Errorf("decode run record: %w", err)
	}
	if artifactsJSON.Valid && artifactsJSON.String != "" {
		var art domain.Artifacts
		if err := json.Unmarshal([]byte(artifactsJSON.String), &art); err != nil {
			return nil, fmt.Errorf("decode run artifacts: %w", err)
		}
		run.Artifacts = &art
	}
	return &run, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan run row: %w", err)
	}
	return run, nil
}

// ListRuns returns the newest runs of ownerID.
func (s *SQLiteStore) ListRuns(ctx context.Context, ownerID string, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + runColumns + ` FROM runs WHERE owner_id = ? ORDER BY created_at DESC, id LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close run rows", "error", closeErr)
		}
	}()

	runs := make([]*domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
