package indexer

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tribal-authentica/maskauth/internal/metrics"
	"github.com/tribal-authentica/maskauth/internal/models"
	"github.com/tribal-authentica/maskauth/internal/storage"
)

type blockRange struct {
	from, to uint64
}

type fakeSource struct {
	mu      sync.Mutex
	latest  uint64
	events  []models.SubmissionEvent
	ranges  []blockRange
	failErr error
}

func (f *fakeSource) LatestBlock(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

func (f *fakeSource) SubmissionEventsInRange(ctx context.Context, from, to uint64) ([]models.SubmissionEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	f.ranges = append(f.ranges, blockRange{from, to})
	var out []models.SubmissionEvent
	for _, e := range f.events {
		if e.BlockNumber >= from && e.BlockNumber <= to {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeSource) calls() []blockRange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]blockRange(nil), f.ranges...)
}

func newStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store := storage.NewSQLiteStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "index.db"),
		MaxConnections:   4,
	})
	require.NoError(t, store.Connect())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())
	return store
}

func event(id uint64, hash string, block uint64) models.SubmissionEvent {
	return models.SubmissionEvent{
		SubmissionID:    id,
		Submitter:       common.HexToAddress("0x2222222222222222222222222222222222222222"),
		IPFSHash:        hash,
		TransactionHash: common.BigToHash(new(big.Int).SetUint64(id + 1)),
		BlockNumber:     block,
	}
}

func TestSyncOnceRespectsBatchSizeAndConfirmations(t *testing.T) {
	source := &fakeSource{
		latest: 130,
		events: []models.SubmissionEvent{
			event(0, "QmA", 101),
			event(1, "QmB", 110),
			event(2, "QmC", 122),
		},
	}
	store := newStore(t)
	ix := New(source, store, &Config{BatchSize: 10, ConfirmationBlocks: 5, StartBlock: 100}, nil)
	ctx := context.Background()

	result, err := ix.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), result.FromBlock)
	assert.Equal(t, uint64(109), result.ToBlock)
	assert.Equal(t, 1, result.EventsIndexed)
	assert.Equal(t, uint64(16), result.BlocksBehind)
	assert.False(t, result.UpToDate)

	result, err = ix.CatchUp(ctx)
	require.NoError(t, err)
	assert.True(t, result.UpToDate)
	assert.Equal(t, uint64(125), result.ToBlock)
	assert.Equal(t, 2, result.EventsIndexed)

	assert.Equal(t, []blockRange{{100, 109}, {110, 119}, {120, 125}}, source.calls())

	cursor, ok, err := store.GetLatestIndexedBlock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(125), cursor)

	events, err := store.SubmissionEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "QmC", events[2].IPFSHash)
}

func TestSyncOnceUpToDate(t *testing.T) {
	source := &fakeSource{latest: 3}
	store := newStore(t)
	ix := New(source, store, &Config{BatchSize: 10, ConfirmationBlocks: 6}, nil)

	result, err := ix.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, result.UpToDate)
	assert.Empty(t, source.calls())

	source.latest = 20
	result, err = ix.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), result.FromBlock)
	assert.Equal(t, uint64(9), result.ToBlock)

	// cursor 9, confirmed head 14
	result, err = ix.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(10), result.FromBlock)
	assert.Equal(t, uint64(14), result.ToBlock)
	assert.True(t, result.UpToDate)
}

func TestSyncOnceGenesisBlockIndexedOnce(t *testing.T) {
	source := &fakeSource{
		latest: 0,
		events: []models.SubmissionEvent{event(0, "QmGenesis", 0)},
	}
	store := newStore(t)
	ix := New(source, store, &Config{BatchSize: 10}, nil)
	ctx := context.Background()

	result, err := ix.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), result.FromBlock)
	assert.Equal(t, uint64(0), result.ToBlock)
	assert.Equal(t, 1, result.EventsIndexed)
	assert.True(t, result.UpToDate)

	// block 0 is recorded as indexed, so the next pass has nothing to do
	result, err = ix.SyncOnce(ctx)
	require.NoError(t, err)
	assert.True(t, result.UpToDate)
	assert.Equal(t, 0, result.EventsIndexed)
	assert.Equal(t, []blockRange{{0, 0}}, source.calls())
}

func TestSyncOnceFailureKeepsCursor(t *testing.T) {
	source := &fakeSource{latest: 50, failErr: errors.New("rpc down")}
	store := newStore(t)
	require.NoError(t, store.SetLatestIndexedBlock(context.Background(), 20))

	pm := metrics.NewPrometheusMetrics(prometheus.NewRegistry())
	ix := New(source, store, &Config{BatchSize: 10}, pm)

	_, err := ix.SyncOnce(context.Background())
	require.Error(t, err)

	cursor, _, err := store.GetLatestIndexedBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(20), cursor)

	stats := ix.GetStats()
	assert.Equal(t, uint64(1), stats.ErrorCount)
	require.NotNil(t, stats.LastError)
	assert.Contains(t, *stats.LastError, "rpc down")
	assert.False(t, ix.GetHealth().Healthy)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.IndexerSyncsTotal.WithLabelValues("error")))
}

func TestStartStop(t *testing.T) {
	source := &fakeSource{latest: 40, events: []models.SubmissionEvent{event(0, "QmA", 12)}}
	store := newStore(t)
	pm := metrics.NewPrometheusMetrics(prometheus.NewRegistry())
	ix := New(source, store, &Config{PollInterval: 10 * time.Millisecond, BatchSize: 100, StartBlock: 10}, pm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, ix.Start(ctx))
	assert.True(t, ix.IsRunning())
	assert.Error(t, ix.Start(ctx))

	require.Eventually(t, func() bool {
		return ix.GetStats().LatestIndexedBlock == 40
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ix.Stop())
	assert.False(t, ix.IsRunning())
	require.NoError(t, ix.Stop())

	assert.Equal(t, 40.0, testutil.ToFloat64(pm.LatestIndexedBlock))
	assert.Equal(t, uint64(1), ix.GetStats().TotalEventsIndexed)
}
