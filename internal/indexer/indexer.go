// File: internal/indexer/indexer.go
package indexer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tribal-authentica/maskauth/internal/metrics"
	"github.com/tribal-authentica/maskauth/internal/models"
	"github.com/tribal-authentica/maskauth/pkg/utils"
)

// Source reads MaskSubmitted logs from the chain
type Source interface {
	LatestBlock(ctx context.Context) (uint64, error)
	SubmissionEventsInRange(ctx context.Context, fromBlock, toBlock uint64) ([]models.SubmissionEvent, error)
}

// Store persists indexed events and the block cursor
type Store interface {
	SaveSubmissionEvents(ctx context.Context, events []models.SubmissionEvent, indexedTo uint64) error
	GetLatestIndexedBlock(ctx context.Context) (uint64, bool, error)
}

// Config holds indexer configuration
type Config struct {
	PollInterval       time.Duration `json:"poll_interval"`
	BatchSize          int           `json:"batch_size"`
	ConfirmationBlocks int           `json:"confirmation_blocks"`
	StartBlock         uint64        `json:"start_block"`
}

// SyncResult describes one sync pass
type SyncResult struct {
	FromBlock      uint64        `json:"from_block"`
	ToBlock        uint64        `json:"to_block"`
	LatestBlock    uint64        `json:"latest_block"`
	EventsIndexed  int           `json:"events_indexed"`
	BlocksBehind   uint64        `json:"blocks_behind"`
	UpToDate       bool          `json:"up_to_date"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// Stats provides indexer statistics
type Stats struct {
	StartTime          time.Time     `json:"start_time"`
	Uptime             time.Duration `json:"uptime"`
	IsRunning          bool          `json:"is_running"`
	LatestIndexedBlock uint64        `json:"latest_indexed_block"`
	LatestChainBlock   uint64        `json:"latest_chain_block"`
	BlocksBehind       uint64        `json:"blocks_behind"`
	TotalSyncs         uint64        `json:"total_syncs"`
	TotalEventsIndexed uint64        `json:"total_events_indexed"`
	ErrorCount         uint64        `json:"error_count"`
	LastSyncAt         *time.Time    `json:"last_sync_at,omitempty"`
	LastError          *string       `json:"last_error,omitempty"`
	LastErrorTime      *time.Time    `json:"last_error_time,omitempty"`
}

// HealthStatus provides health information
type HealthStatus struct {
	Healthy      bool     `json:"healthy"`
	IsRunning    bool     `json:"is_running"`
	BlocksBehind uint64   `json:"blocks_behind"`
	Issues       []string `json:"issues,omitempty"`
}

// Indexer mirrors MaskSubmitted logs into storage so fetches can avoid an
// unbounded log scan
type Indexer struct {
	source  Source
	store   Store
	config  *Config
	logger  *logrus.Entry
	metrics *metrics.PrometheusMetrics

	// State management
	mu       sync.RWMutex
	syncMu   sync.Mutex
	running  bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	stats Stats
}

// New creates a new indexer. m may be nil.
func New(source Source, store Store, cfg *Config, m *metrics.PrometheusMetrics) *Indexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	return &Indexer{
		source:   source,
		store:    store,
		config:   cfg,
		logger:   utils.ComponentLogger("indexer"),
		metrics:  m,
		stopChan: make(chan struct{}),
		stats:    Stats{StartTime: time.Now()},
	}
}

// Start starts the polling loop
func (ix *Indexer) Start(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Indexer already running")
	}

	ix.running = true
	ix.stats.StartTime = time.Now()
	ix.stats.IsRunning = true

	ix.wg.Add(1)
	go ix.loop(ctx)

	ix.logger.WithFields(logrus.Fields{
		"poll_interval": ix.config.PollInterval,
		"batch_size":    ix.config.BatchSize,
		"start_block":   ix.config.StartBlock,
	}).Info("Indexer started")

	return nil
}

// Stop stops the polling loop and waits for it to exit
func (ix *Indexer) Stop() error {
	ix.mu.Lock()
	if !ix.running {
		ix.mu.Unlock()
		return nil
	}
	ix.running = false
	ix.stats.IsRunning = false
	ix.stopOnce.Do(func() {
		close(ix.stopChan)
	})
	ix.mu.Unlock()

	ix.wg.Wait()

	ix.logger.Info("Indexer stopped")
	return nil
}

// IsRunning returns whether the loop is running
func (ix *Indexer) IsRunning() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.running
}

func (ix *Indexer) loop(ctx context.Context) {
	defer ix.wg.Done()

	ticker := time.NewTicker(ix.config.PollInterval)
	defer ticker.Stop()

	ix.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			ix.logger.Info("Indexer loop stopped by context")
			return
		case <-ix.stopChan:
			return
		case <-ticker.C:
			ix.tick(ctx)
		}
	}
}

func (ix *Indexer) tick(ctx context.Context) {
	if _, err := ix.SyncOnce(ctx); err != nil && ctx.Err() == nil {
		ix.logger.WithError(err).Error("Indexer sync failed")
	}
}

// SyncOnce indexes at most one batch of confirmed blocks past the cursor
func (ix *Indexer) SyncOnce(ctx context.Context) (result *SyncResult, err error) {
	ix.syncMu.Lock()
	defer ix.syncMu.Unlock()

	start := time.Now()
	defer func() {
		ix.record(result, err)
	}()

	latest, err := ix.source.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}

	cursor, indexed, err := ix.store.GetLatestIndexedBlock(ctx)
	if err != nil {
		return nil, err
	}

	fromBlock := ix.config.StartBlock
	if indexed && cursor+1 > fromBlock {
		fromBlock = cursor + 1
	}

	result = &SyncResult{FromBlock: fromBlock, LatestBlock: latest}

	confirmations := uint64(ix.config.ConfirmationBlocks)
	if latest < confirmations || latest-confirmations < fromBlock {
		result.ToBlock = cursor
		result.UpToDate = true
		result.ProcessingTime = time.Since(start)
		return result, nil
	}
	confirmed := latest - confirmations

	toBlock := confirmed
	if toBlock-fromBlock+1 > uint64(ix.config.BatchSize) {
		toBlock = fromBlock + uint64(ix.config.BatchSize) - 1
	}

	events, err := ix.source.SubmissionEventsInRange(ctx, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}

	if err := ix.store.SaveSubmissionEvents(ctx, events, toBlock); err != nil {
		return nil, err
	}

	result.ToBlock = toBlock
	result.EventsIndexed = len(events)
	result.BlocksBehind = confirmed - toBlock
	result.UpToDate = toBlock == confirmed
	result.ProcessingTime = time.Since(start)

	ix.logger.WithFields(logrus.Fields{
		"from":          fromBlock,
		"to":            toBlock,
		"events":        len(events),
		"blocks_behind": result.BlocksBehind,
	}).Debug("Indexed block range")

	return result, nil
}

// CatchUp syncs batches until the confirmed head is reached
func (ix *Indexer) CatchUp(ctx context.Context) (*SyncResult, error) {
	total := &SyncResult{}
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		result, err := ix.SyncOnce(ctx)
		if err != nil {
			return total, err
		}

		if first {
			total.FromBlock = result.FromBlock
			first = false
		}
		total.ToBlock = result.ToBlock
		total.LatestBlock = result.LatestBlock
		total.EventsIndexed += result.EventsIndexed
		total.BlocksBehind = result.BlocksBehind
		total.ProcessingTime += result.ProcessingTime

		if result.UpToDate {
			total.UpToDate = true
			return total, nil
		}
	}
}

func (ix *Indexer) record(result *SyncResult, err error) {
	now := time.Now()

	ix.mu.Lock()
	ix.stats.TotalSyncs++
	if err != nil {
		msg := err.Error()
		ix.stats.ErrorCount++
		ix.stats.LastError = &msg
		ix.stats.LastErrorTime = &now
	} else if result != nil {
		ix.stats.LatestChainBlock = result.LatestBlock
		ix.stats.LatestIndexedBlock = result.ToBlock
		ix.stats.BlocksBehind = result.BlocksBehind
		ix.stats.TotalEventsIndexed += uint64(result.EventsIndexed)
		ix.stats.LastSyncAt = &now
	}
	ix.mu.Unlock()

	if ix.metrics == nil {
		return
	}
	if err != nil {
		ix.metrics.RecordIndexerSync("error", 0)
		return
	}
	ix.metrics.RecordIndexerSync("success", result.EventsIndexed)
	ix.metrics.UpdateLatestIndexedBlock(result.ToBlock)
	ix.metrics.UpdateBlocksBehind(result.BlocksBehind)
}

// GetStats returns indexer statistics
func (ix *Indexer) GetStats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	stats := ix.stats
	if stats.IsRunning {
		stats.Uptime = time.Since(stats.StartTime)
	}
	return stats
}

// GetHealth reports whether the indexer keeps up with the chain
func (ix *Indexer) GetHealth() *HealthStatus {
	stats := ix.GetStats()
	health := &HealthStatus{
		Healthy:      true,
		IsRunning:    stats.IsRunning,
		BlocksBehind: stats.BlocksBehind,
	}

	if !stats.IsRunning {
		health.Issues = append(health.Issues, "indexer is not running")
	}
	if stats.LastErrorTime != nil && (stats.LastSyncAt == nil || stats.LastErrorTime.After(*stats.LastSyncAt)) {
		health.Healthy = false
		health.Issues = append(health.Issues, "last sync failed: "+*stats.LastError)
	}
	if stats.BlocksBehind > uint64(ix.config.BatchSize) {
		health.Issues = append(health.Issues, "indexer is more than one batch behind")
	}

	return health
}
