package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tribal-authentica/maskauth/pkg/utils"
)

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// Checksum identifies the migration body
func (m *Migration) Checksum() string {
	sum := sha256.Sum256([]byte(m.SQL))
	return hex.EncodeToString(sum[:])
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create submission_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS submission_events (
					tx_hash TEXT NOT NULL,
					log_index INTEGER NOT NULL,
					submission_id INTEGER NOT NULL,
					submitter TEXT NOT NULL,
					ipfs_hash TEXT NOT NULL,
					block_number INTEGER NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (tx_hash, log_index)
				);

				CREATE INDEX IF NOT EXISTS idx_submission_events_block ON submission_events(block_number, log_index);
				CREATE INDEX IF NOT EXISTS idx_submission_events_ipfs_hash ON submission_events(ipfs_hash);
				CREATE INDEX IF NOT EXISTS idx_submission_events_submission_id ON submission_events(submission_id);
			`,
		},
		{
			Version:     "002",
			Description: "Create system_state table",
			SQL: `
				CREATE TABLE IF NOT EXISTS system_state (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				INSERT OR IGNORE INTO system_state (key, value) VALUES ('latest_indexed_block', '0');
			`,
		},
		{
			Version:     "003",
			Description: "Drop unused indexed block seed",
			SQL: `
				DELETE FROM system_state
				WHERE key = 'latest_indexed_block' AND value = '0'
				AND NOT EXISTS (SELECT 1 FROM submission_events);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create submission_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS submission_events (
					tx_hash TEXT NOT NULL,
					log_index INTEGER NOT NULL,
					submission_id BIGINT NOT NULL,
					submitter TEXT NOT NULL,
					ipfs_hash TEXT NOT NULL,
					block_number BIGINT NOT NULL,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					PRIMARY KEY (tx_hash, log_index)
				);

				CREATE INDEX IF NOT EXISTS idx_submission_events_block ON submission_events(block_number, log_index);
				CREATE INDEX IF NOT EXISTS idx_submission_events_ipfs_hash ON submission_events(ipfs_hash);
				CREATE INDEX IF NOT EXISTS idx_submission_events_submission_id ON submission_events(submission_id);
			`,
		},
		{
			Version:     "002",
			Description: "Create system_state table",
			SQL: `
				CREATE TABLE IF NOT EXISTS system_state (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				INSERT INTO system_state (key, value) VALUES ('latest_indexed_block', '0')
				ON CONFLICT (key) DO NOTHING;
			`,
		},
		{
			Version:     "003",
			Description: "Drop unused indexed block seed",
			SQL: `
				DELETE FROM system_state
				WHERE key = 'latest_indexed_block' AND value = '0'
				AND NOT EXISTS (SELECT 1 FROM submission_events);
			`,
		},
	}
}

// migrationTableSQL is valid for both SQLite and PostgreSQL
const migrationTableSQL = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)
`

// applyMigrations runs every migration not yet recorded in schema_migrations.
// insertSQL records a version and must take (version, description, checksum).
func applyMigrations(ctx context.Context, db *sql.DB, migrations []*Migration, insertSQL string, logger *logrus.Entry) error {
	if _, err := db.ExecContext(ctx, migrationTableSQL); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create migrations table", err.Error())
	}

	applied := make(map[string]string)
	rows, err := db.QueryContext(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to read applied migrations", err.Error())
	}
	for rows.Next() {
		var version, checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			rows.Close()
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan migration", err.Error())
		}
		applied[version] = checksum
	}
	rows.Close()

	for _, migration := range migrations {
		log := logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		})

		if checksum, ok := applied[migration.Version]; ok {
			if checksum != migration.Checksum() {
				log.Warn("Applied migration differs from current definition")
			}
			continue
		}

		log.Info("Applying migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin migration", err.Error())
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
		if _, err := tx.ExecContext(ctx, insertSQL, migration.Version, migration.Description, migration.Checksum()); err != nil {
			tx.Rollback()
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Failed to record migration %s", migration.Version),
				err.Error())
		}
		if err := tx.Commit(); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit migration", err.Error())
		}
	}

	return nil
}
