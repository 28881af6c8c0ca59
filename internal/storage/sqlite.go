// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tribal-authentica/maskauth/internal/models"
	"github.com/tribal-authentica/maskauth/pkg/utils"
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Entry
	migrations []*Migration
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.ComponentLogger("storage").WithField("backend", "sqlite"),
		migrations: GetSQLiteMigrations(),
	}
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	// Ensure directory exists
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// Configure connection pool
	if s.config.MaxConnections > 0 {
		db.SetMaxOpenConns(s.config.MaxConnections)
		db.SetMaxIdleConns(s.config.MaxConnections / 2)
	}
	db.SetConnMaxIdleTime(s.config.MaxIdleTime)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set busy timeout", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	s.logger.Info("Starting database migrations")
	err := applyMigrations(context.Background(), s.db, s.migrations,
		"INSERT INTO schema_migrations (version, description, checksum) VALUES (?, ?, ?)", s.logger)
	if err != nil {
		return err
	}
	s.logger.Info("Database migrations completed")
	return nil
}

const sqliteSetCursorSQL = `
		INSERT INTO system_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`

// SaveSubmissionEvents saves events and the indexed block cursor in a transaction
func (s *SQLiteStorage) SaveSubmissionEvents(ctx context.Context, events []models.SubmissionEvent, indexedTo uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO submission_events
		(tx_hash, log_index, submission_id, submitter, ipfs_hash, block_number)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to prepare statement", err.Error())
	}
	defer stmt.Close()

	for _, event := range events {
		_, err := stmt.ExecContext(ctx,
			event.TransactionHash.Hex(), int64(event.LogIndex), int64(event.SubmissionID),
			event.Submitter.Hex(), event.IPFSHash, int64(event.BlockNumber))
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save submission event", err.Error())
		}
	}

	if _, err := tx.ExecContext(ctx, sqliteSetCursorSQL,
		latestIndexedBlockKey, strconv.FormatUint(indexedTo, 10), time.Now().UTC()); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set latest indexed block", err.Error())
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}

	s.logger.WithFields(logrus.Fields{"events": len(events), "indexed_to": indexedTo}).Debug("Saved submission events")
	return nil
}

// SubmissionEvents returns events at or after fromBlock ordered by block and log index
func (s *SQLiteStorage) SubmissionEvents(ctx context.Context, fromBlock uint64) ([]models.SubmissionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT submission_id, submitter, ipfs_hash, tx_hash, block_number, log_index
		FROM submission_events
		WHERE block_number >= ?
		ORDER BY block_number ASC, log_index ASC
	`, int64(fromBlock))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query submission events", err.Error())
	}
	defer rows.Close()

	return scanSubmissionEvents(rows)
}

// GetSubmissionEventByIPFSHash returns the latest event for ipfsHash
func (s *SQLiteStorage) GetSubmissionEventByIPFSHash(ctx context.Context, ipfsHash string) (*models.SubmissionEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT submission_id, submitter, ipfs_hash, tx_hash, block_number, log_index
		FROM submission_events
		WHERE ipfs_hash = ?
		ORDER BY block_number DESC, log_index DESC
		LIMIT 1
	`, ipfsHash)

	event, err := scanSubmissionEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Submission event not found", ipfsHash)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get submission event", err.Error())
	}
	return event, nil
}

// GetLatestIndexedBlock returns the latest indexed block number
func (s *SQLiteStorage) GetLatestIndexedBlock(ctx context.Context) (uint64, bool, error) {
	return getLatestIndexedBlock(ctx, s.db, "SELECT value FROM system_state WHERE key = ?")
}

// SetLatestIndexedBlock sets the latest indexed block number
func (s *SQLiteStorage) SetLatestIndexedBlock(ctx context.Context, blockNumber uint64) error {
	_, err := s.db.ExecContext(ctx, sqliteSetCursorSQL,
		latestIndexedBlockKey, strconv.FormatUint(blockNumber, 10), time.Now().UTC())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set latest indexed block", err.Error())
	}
	return nil
}

// GetStorageStats returns storage statistics
func (s *SQLiteStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}

	var latestEvent sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT ipfs_hash), MAX(block_number) FROM submission_events",
	).Scan(&stats.TotalEvents, &stats.DistinctHashes, &latestEvent)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get event statistics", err.Error())
	}
	if latestEvent.Valid {
		stats.LatestEventBlock = uint64(latestEvent.Int64)
	}

	stats.LatestBlock, stats.HasIndexed, err = s.GetLatestIndexedBlock(ctx)
	if err != nil {
		return nil, err
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			stats.DatabaseSize = pageCount * pageSize
		}
	}

	return stats, nil
}
