package history

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "create_health_checks",
		SQL: `
			CREATE TABLE IF NOT EXISTS health_checks (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				status TEXT NOT NULL,
				project_id TEXT NOT NULL DEFAULT '',
				collections INTEGER NOT NULL DEFAULT 0,
				reinits INTEGER NOT NULL DEFAULT 0,
				error TEXT NOT NULL DEFAULT '',
				checked_at TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_health_checks_checked_at ON health_checks(checked_at);
		`,
	},
}

// Migrate runs all pending database migrations
func (s *Store) Migrate() error {
	log.Info().Msg("Running history database migrations")

	_, err := s.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err = s.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	log.Debug().Int("current_version", currentVersion).Msg("Current schema version")

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Applying migration")

		if err := s.Transaction(func(tx *sql.Tx) error {
			for i, stmt := range splitSQLStatements(m.SQL) {
				if _, err := tx.Exec(stmt); err != nil {
					return fmt.Errorf("migration %d statement %d failed: %w", m.Version, i+1, err)
				}
			}

			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
			}
			return nil
		}); err != nil {
			return err
		}
	}

	return nil
}

// splitSQLStatements splits migration SQL into individual statements
func splitSQLStatements(sqlText string) []string {
	var statements []string
	for _, stmt := range strings.Split(sqlText, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
