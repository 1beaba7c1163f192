package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"neptuneload/internal/loader"

	_ "modernc.org/sqlite"
)

const loadColumns = `load_id, endpoint, source, status, start_time, time_total,
	total_records, total_duplicates, errors_parsing, errors_mismatch, errors_insert,
	raw, created_at, updated_at`

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	closed  atomic.Bool
	writeMu sync.Mutex
	now     func() time.Time
}

// NewSQLiteStore opens (and creates if needed) the journal at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(60000)&_time_format=sqlite", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{
		db:  db,
		now: time.Now,
	}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS loads (
		load_id TEXT PRIMARY KEY,
		endpoint TEXT NOT NULL,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		start_time DATETIME,
		time_total INTEGER DEFAULT 0,
		total_records INTEGER DEFAULT 0,
		total_duplicates INTEGER DEFAULT 0,
		errors_parsing INTEGER DEFAULT 0,
		errors_mismatch INTEGER DEFAULT 0,
		errors_insert INTEGER DEFAULT 0,
		raw TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_loads_status ON loads(status);
	`

	_, err := s.db.Exec(query)
	return err
}

// GetLoad returns the record for loadID, or nil when it is not journalled.
func (s *SQLiteStore) GetLoad(loadID string) (*LoadRecord, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("database store is closed")
	}

	var result *LoadRecord
	err := s.retryOnBusy(func() error {
		row := s.db.QueryRow(`SELECT `+loadColumns+` FROM loads WHERE load_id = ?`, loadID)
		record, err := scanLoad(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		result = record
		return err
	})
	return result, err
}

// SaveLoad upserts a record. CreatedAt is kept from the first save.
func (s *SQLiteStore) SaveLoad(record *LoadRecord) error {
	if s.closed.Load() {
		return fmt.Errorf("database store is closed")
	}
	if record.LoadID == "" {
		return fmt.Errorf("load id is required")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		return s.saveLoad(record)
	})
}

func (s *SQLiteStore) saveLoad(record *LoadRecord) error {
	now := s.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO loads (` + loadColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(load_id) DO UPDATE SET
		endpoint = excluded.endpoint,
		source = CASE WHEN excluded.source = '' THEN loads.source ELSE excluded.source END,
		status = excluded.status,
		start_time = excluded.start_time,
		time_total = excluded.time_total,
		total_records = excluded.total_records,
		total_duplicates = excluded.total_duplicates,
		errors_parsing = excluded.errors_parsing,
		errors_mismatch = excluded.errors_mismatch,
		errors_insert = excluded.errors_insert,
		raw = excluded.raw,
		updated_at = excluded.updated_at
	`

	_, err = tx.Exec(query,
		record.LoadID,
		record.Endpoint,
		record.Source,
		record.Status,
		record.StartTime.UTC(),
		record.TimeTotal,
		record.TotalRecords,
		record.TotalDuplicates,
		record.ErrorsParsing,
		record.ErrorsMismatch,
		record.ErrorsInsert,
		record.Raw,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert load %s: %w", record.LoadID, err)
	}

	return tx.Commit()
}

// retryOnBusy retries the operation while SQLite reports lock contention.
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	const maxRetries = 10
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err = operation(); err == nil || !isSQLiteBusyError(err) {
			return err
		}
		time.Sleep(baseDelay*time.Duration(1<<uint(attempt)) + time.Duration(attempt*10)*time.Millisecond)
	}
	return err
}

func isSQLiteBusyError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// ListPending returns the loads whose last recorded status is pending,
// oldest update first.
func (s *SQLiteStore) ListPending() ([]*LoadRecord, error) {
	pending := []any{
		loader.StatusNotStarted.String(),
		loader.StatusInQueue.String(),
		loader.StatusInProgress.String(),
	}
	return s.query(`SELECT `+loadColumns+` FROM loads WHERE status IN (?, ?, ?) ORDER BY updated_at ASC`, pending...)
}

// ListLoads returns every journalled load, newest first.
func (s *SQLiteStore) ListLoads() ([]*LoadRecord, error) {
	return s.query(`SELECT ` + loadColumns + ` FROM loads ORDER BY created_at DESC`)
}

func (s *SQLiteStore) query(query string, args ...any) ([]*LoadRecord, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("database store is closed")
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*LoadRecord
	for rows.Next() {
		record, err := scanLoad(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLoad(row scanner) (*LoadRecord, error) {
	var record LoadRecord
	var raw sql.NullString
	var startTime sql.NullTime

	err := row.Scan(
		&record.LoadID,
		&record.Endpoint,
		&record.Source,
		&record.Status,
		&startTime,
		&record.TimeTotal,
		&record.TotalRecords,
		&record.TotalDuplicates,
		&record.ErrorsParsing,
		&record.ErrorsMismatch,
		&record.ErrorsInsert,
		&raw,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if startTime.Valid {
		record.StartTime = startTime.Time.UTC()
	}
	record.Raw = raw.String
	return &record, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
