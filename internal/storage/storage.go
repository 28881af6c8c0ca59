// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/tribal-authentica/maskauth/internal/models"
)

// Storage defines the interface for the MaskSubmitted event index
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// SaveSubmissionEvents upserts events and advances the indexed block cursor
	// to indexedTo in one transaction. Events are keyed by (tx_hash, log_index).
	SaveSubmissionEvents(ctx context.Context, events []models.SubmissionEvent, indexedTo uint64) error
	// SubmissionEvents returns indexed events at or after fromBlock in log order
	SubmissionEvents(ctx context.Context, fromBlock uint64) ([]models.SubmissionEvent, error)
	// GetSubmissionEventByIPFSHash returns the latest event for an IPFS hash
	GetSubmissionEventByIPFSHash(ctx context.Context, ipfsHash string) (*models.SubmissionEvent, error)

	// Block tracking operations. ok is false until a block has been indexed.
	GetLatestIndexedBlock(ctx context.Context) (block uint64, ok bool, err error)
	SetLatestIndexedBlock(ctx context.Context, blockNumber uint64) error

	// Statistics and monitoring
	GetStorageStats(ctx context.Context) (*StorageStats, error)
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalEvents      int64  `json:"total_events"`
	DistinctHashes   int64  `json:"distinct_ipfs_hashes"`
	LatestBlock      uint64 `json:"latest_indexed_block"`
	HasIndexed       bool   `json:"has_indexed"`
	LatestEventBlock uint64 `json:"latest_event_block"`
	DatabaseSize     int64  `json:"database_size_bytes"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}

const latestIndexedBlockKey = "latest_indexed_block"
