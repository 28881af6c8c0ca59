package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/tribal-authentica/maskauth/internal/models"
	"github.com/tribal-authentica/maskauth/pkg/utils"
)

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Entry
	migrations []*Migration
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		config:     config,
		logger:     utils.ComponentLogger("storage").WithField("backend", "postgres"),
		migrations: GetPostgresMigrations(),
	}
}

// Connect establishes database connection
func (p *PostgreSQLStorage) Connect() error {
	connector, err := pq.NewConnector(p.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Invalid PostgreSQL connection string", err.Error())
	}
	db := sql.OpenDB(connector)

	// Configure connection pool
	if p.config.MaxConnections > 0 {
		db.SetMaxOpenConns(p.config.MaxConnections)
		db.SetMaxIdleConns(p.config.MaxConnections / 2)
	}
	db.SetConnMaxIdleTime(p.config.MaxIdleTime)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	p.db = db
	p.logger.Info("PostgreSQL database connected")

	return nil
}

// Close closes the database connection
func (p *PostgreSQLStorage) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		p.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgreSQLStorage) Ping() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}
	return p.db.Ping()
}

// Migrate runs database migrations
func (p *PostgreSQLStorage) Migrate() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}

	p.logger.Info("Starting PostgreSQL database migrations")
	err := applyMigrations(context.Background(), p.db, p.migrations,
		"INSERT INTO schema_migrations (version, description, checksum) VALUES ($1, $2, $3)", p.logger)
	if err != nil {
		return err
	}
	p.logger.Info("PostgreSQL database migrations completed")
	return nil
}

const postgresSetCursorSQL = `
		INSERT INTO system_state (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`

// SaveSubmissionEvents saves events and the indexed block cursor in a transaction
func (p *PostgreSQLStorage) SaveSubmissionEvents(ctx context.Context, events []models.SubmissionEvent, indexedTo uint64) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO submission_events
		(tx_hash, log_index, submission_id, submitter, ipfs_hash, block_number)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tx_hash, log_index) DO UPDATE SET
			submission_id = EXCLUDED.submission_id,
			submitter = EXCLUDED.submitter,
			ipfs_hash = EXCLUDED.ipfs_hash,
			block_number = EXCLUDED.block_number
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

	if _, err := tx.ExecContext(ctx, postgresSetCursorSQL,
		latestIndexedBlockKey, strconv.FormatUint(indexedTo, 10), time.Now().UTC()); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set latest indexed block", err.Error())
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}

	p.logger.WithFields(logrus.Fields{"events": len(events), "indexed_to": indexedTo}).Debug("Saved submission events")
	return nil
}

// SubmissionEvents returns events at or after fromBlock ordered by block and log index
func (p *PostgreSQLStorage) SubmissionEvents(ctx context.Context, fromBlock uint64) ([]models.SubmissionEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT submission_id, submitter, ipfs_hash, tx_hash, block_number, log_index
		FROM submission_events
		WHERE block_number >= $1
		ORDER BY block_number ASC, log_index ASC
	`, int64(fromBlock))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query submission events", err.Error())
	}
	defer rows.Close()

	return scanSubmissionEvents(rows)
}

// GetSubmissionEventByIPFSHash returns the latest event for ipfsHash
func (p *PostgreSQLStorage) GetSubmissionEventByIPFSHash(ctx context.Context, ipfsHash string) (*models.SubmissionEvent, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT submission_id, submitter, ipfs_hash, tx_hash, block_number, log_index
		FROM submission_events
		WHERE ipfs_hash = $1
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
func (p *PostgreSQLStorage) GetLatestIndexedBlock(ctx context.Context) (uint64, bool, error) {
	return getLatestIndexedBlock(ctx, p.db, "SELECT value FROM system_state WHERE key = $1")
}

// SetLatestIndexedBlock sets the latest indexed block number
func (p *PostgreSQLStorage) SetLatestIndexedBlock(ctx context.Context, blockNumber uint64) error {
	_, err := p.db.ExecContext(ctx, postgresSetCursorSQL,
		latestIndexedBlockKey, strconv.FormatUint(blockNumber, 10), time.Now().UTC())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set latest indexed block", err.Error())
	}
	return nil
}

// GetStorageStats returns storage statistics
func (p *PostgreSQLStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}

	var latestEvent sql.NullInt64
	err := p.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT ipfs_hash), MAX(block_number) FROM submission_events",
	).Scan(&stats.TotalEvents, &stats.DistinctHashes, &latestEvent)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get event statistics", err.Error())
	}
	if latestEvent.Valid {
		stats.LatestEventBlock = uint64(latestEvent.Int64)
	}

	stats.LatestBlock, stats.HasIndexed, err = p.GetLatestIndexedBlock(ctx)
	if err != nil {
		return nil, err
	}

	if err := p.db.QueryRowContext(ctx, "SELECT pg_database_size(current_database())").Scan(&stats.DatabaseSize); err != nil {
		p.logger.WithError(err).Debug("Failed to get database size")
	}

	return stats, nil
}
