package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tribal-authentica/maskauth/internal/config"
	"github.com/tribal-authentica/maskauth/internal/metrics"
	"github.com/tribal-authentica/maskauth/internal/models"
	"github.com/tribal-authentica/maskauth/pkg/utils"
)

func newTestSQLite(t *testing.T) *SQLiteStorage {
	t.Helper()
	store := NewSQLiteStorage(&StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "data", "index.db"),
		MaxConnections:   4,
	})
	require.NoError(t, store.Connect())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())
	return store
}

func testEvent(id uint64, hash string, tx string, block uint64, index uint) models.SubmissionEvent {
	return models.SubmissionEvent{
		SubmissionID:    id,
		Submitter:       common.HexToAddress("0x1111111111111111111111111111111111111111"),
		IPFSHash:        hash,
		TransactionHash: common.HexToHash(tx),
		BlockNumber:     block,
		LogIndex:        index,
	}
}

func TestSQLiteSaveAndQueryEventsInLogOrder(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSubmissionEvents(ctx, []models.SubmissionEvent{
		testEvent(2, "QmC", "0x3", 20, 1),
		testEvent(0, "QmA", "0x1", 10, 4),
		testEvent(1, "QmB", "0x2", 20, 0),
	}, 25))

	events, err := store.SubmissionEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, testEvent(0, "QmA", "0x1", 10, 4), events[0])
	assert.Equal(t, testEvent(1, "QmB", "0x2", 20, 0), events[1])
	assert.Equal(t, testEvent(2, "QmC", "0x3", 20, 1), events[2])

	later, err := store.SubmissionEvents(ctx, 15)
	require.NoError(t, err)
	assert.Len(t, later, 2)

	block, ok, err := store.GetLatestIndexedBlock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(25), block)
}

func TestSQLiteCursorUnsetUntilFirstSave(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	_, ok, err := store.GetLatestIndexedBlock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := store.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.False(t, stats.HasIndexed)

	require.NoError(t, store.SaveSubmissionEvents(ctx, nil, 0))

	block, ok, err := store.GetLatestIndexedBlock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(0), block)
}

func TestSQLiteUpsertIsIdempotent(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	batch := []models.SubmissionEvent{testEvent(0, "QmA", "0x1", 10, 0)}
	require.NoError(t, store.SaveSubmissionEvents(ctx, batch, 10))
	require.NoError(t, store.SaveSubmissionEvents(ctx, batch, 11))

	stats, err := store.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalEvents)
	assert.Equal(t, int64(1), stats.DistinctHashes)
	assert.Equal(t, uint64(11), stats.LatestBlock)
	assert.Equal(t, uint64(10), stats.LatestEventBlock)
	assert.Greater(t, stats.DatabaseSize, int64(0))
}

func TestSQLiteLatestEventByIPFSHash(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSubmissionEvents(ctx, []models.SubmissionEvent{
		testEvent(0, "QmDup", "0x1", 10, 0),
		testEvent(3, "QmDup", "0x2", 12, 0),
	}, 12))

	event, err := store.GetSubmissionEventByIPFSHash(ctx, "QmDup")
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x2"), event.TransactionHash)

	_, err = store.GetSubmissionEventByIPFSHash(ctx, "QmMissing")
	assert.Equal(t, utils.ErrCodeNotFound, utils.CodeOf(err))
}

func TestSQLiteMigrateIsRepeatable(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, store.SetLatestIndexedBlock(ctx, 99))
	require.NoError(t, store.Migrate())

	block, ok, err := store.GetLatestIndexedBlock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(99), block)
}

func TestSQLiteNotConnected(t *testing.T) {
	store := NewSQLiteStorage(&StorageConfig{ConnectionString: "unused.db"})
	assert.Equal(t, utils.ErrCodeDatabase, utils.CodeOf(store.Ping()))
	assert.Equal(t, utils.ErrCodeDatabase, utils.CodeOf(store.Migrate()))
	assert.NoError(t, store.Close())
}

func TestStorageWithMetricsRecordsOperations(t *testing.T) {
	pm := metrics.NewPrometheusMetrics(prometheus.NewRegistry())
	store := NewStorageWithMetrics(newTestSQLite(t), pm)
	ctx := context.Background()

	require.NoError(t, store.SaveSubmissionEvents(ctx, []models.SubmissionEvent{testEvent(0, "QmA", "0x1", 1, 0)}, 1))
	_, err := store.SubmissionEvents(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.DatabaseOperationsTotal.WithLabelValues("upsert", "submission_events", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.DatabaseOperationsTotal.WithLabelValues("select", "submission_events", "success")))
}

func TestNewStorage(t *testing.T) {
	store, err := NewStorage(&config.StorageConfig{Type: "sqlite", ConnectionString: "x.db"})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStorage{}, store)

	store, err = NewStorage(&config.StorageConfig{Type: "PostgreSQL", ConnectionString: "postgres://localhost/maskauth"})
	require.NoError(t, err)
	assert.IsType(t, &PostgreSQLStorage{}, store)

	_, err = NewStorage(&config.StorageConfig{Type: "mysql", ConnectionString: "x"})
	assert.Equal(t, utils.ErrCodeConfiguration, utils.CodeOf(err))

	_, err = NewStorage(&config.StorageConfig{Type: "sqlite"})
	assert.Equal(t, utils.ErrCodeConfiguration, utils.CodeOf(err))
}

func TestMigrationChecksumsAreStable(t *testing.T) {
	for _, set := range [][]*Migration{GetSQLiteMigrations(), GetPostgresMigrations()} {
		seen := map[string]bool{}
		for _, m := range set {
			assert.False(t, seen[m.Version], "duplicate version %s", m.Version)
			seen[m.Version] = true
			assert.Len(t, m.Checksum(), 64)
			assert.Equal(t, m.Checksum(), m.Checksum())
		}
	}
}
