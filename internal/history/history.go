package history

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/aatn/firegate/internal/fireconn"
)

// timeLayout is the storage format for probe timestamps.
const timeLayout = time.RFC3339Nano

// Store wraps the SQLite database holding health probe history
type Store struct {
	*sql.DB
	path string
	mu   sync.Mutex
}

// New opens (or creates) the history database
func New(path string) (*Store, error) {
	// SQLite connection with WAL mode for better concurrency
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	// SQLite with WAL mode supports concurrent reads but serializes writes
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	log.Debug().Str("path", path).Msg("History database opened")

	return &Store{
		DB:   db,
		path: path,
	}, nil
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Transaction wraps a function in a database transaction
func (s *Store) Transaction(fn func(*sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("Failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Check is one persisted health probe result
type Check struct {
	ID          int64     `json:"id"`
	Status      string    `json:"status"`
	ProjectID   string    `json:"project_id,omitempty"`
	Collections int       `json:"collections_count"`
	Reinits     int       `json:"reinits"`
	Error       string    `json:"error,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
}

// RecordCheck persists one probe result
func (s *Store) RecordCheck(res fireconn.Result) error {
	_, err := s.Exec(`
		INSERT INTO health_checks (status, project_id, collections, reinits, error, checked_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(res.Status), res.ProjectID, res.Collections, res.Reinits, res.Error, res.CheckedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to record health check: %w", err)
	}
	return nil
}

// RecentChecks returns up to limit probe results, newest first
func (s *Store) RecentChecks(limit int) ([]Check, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.Query(`
		SELECT id, status, project_id, collections, reinits, error, checked_at
		FROM health_checks
		ORDER BY checked_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query health checks: %w", err)
	}
	defer rows.Close()

	var checks []Check
	for rows.Next() {
		check, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		checks = append(checks, check)
	}
	return checks, rows.Err()
}

// LastTransition returns the most recent probe whose status differs from its
// predecessor (i.e. the start of the current healthy/unhealthy streak).
// Returns nil when no probes have been recorded.
func (s *Store) LastTransition() (*Check, error) {
	row := s.QueryRow(`
		SELECT id, status, project_id, collections, reinits, error, checked_at FROM (
			SELECT *, LAG(status) OVER (ORDER BY checked_at, id) AS prev_status
			FROM health_checks
		)
		WHERE prev_status IS NULL OR status != prev_status
		ORDER BY checked_at DESC, id DESC
		LIMIT 1
	`)

	check, err := scanCheck(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &check, nil
}

// Prune deletes probe results older than the cutoff and returns the number removed
func (s *Store) Prune(olderThan time.Time) (int64, error) {
	res, err := s.Exec(`DELETE FROM health_checks WHERE checked_at < ?`, olderThan.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to prune health checks: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned rows: %w", err)
	}
	if removed > 0 {
		log.Debug().Int64("removed", removed).Msg("Pruned health check history")
	}
	return removed, nil
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanCheck(row scanner) (Check, error) {
	var check Check
	var checkedAt string

	if err := row.Scan(&check.ID, &check.Status, &check.ProjectID, &check.Collections, &check.Reinits, &check.Error, &checkedAt); err != nil {
		return Check{}, err
	}

	parsed, err := time.Parse(timeLayout, checkedAt)
	if err != nil {
		return Check{}, fmt.Errorf("failed to parse checked_at %q: %w", checkedAt, err)
	}
	check.CheckedAt = parsed

	return check, nil
}
