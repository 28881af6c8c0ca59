package storage

import (
	"context"
	"time"

	"github.com/tribal-authentica/maskauth/internal/metrics"
	"github.com/tribal-authentica/maskauth/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metrics *metrics.PrometheusMetrics
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, m *metrics.PrometheusMetrics) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage: storage,
		metrics: m,
	}
}

func (s *StorageWithMetrics) record(operation, table string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordDatabaseOperation(operation, table, status, time.Since(start))
}

// SaveSubmissionEvents saves events and records metrics
func (s *StorageWithMetrics) SaveSubmissionEvents(ctx context.Context, events []models.SubmissionEvent, indexedTo uint64) error {
	start := time.Now()
	err := s.Storage.SaveSubmissionEvents(ctx, events, indexedTo)
	s.record("upsert", "submission_events", start, err)
	return err
}

// SubmissionEvents queries events and records metrics
func (s *StorageWithMetrics) SubmissionEvents(ctx context.Context, fromBlock uint64) ([]models.SubmissionEvent, error) {
	start := time.Now()
	events, err := s.Storage.SubmissionEvents(ctx, fromBlock)
	s.record("select", "submission_events", start, err)
	return events, err
}

// GetLatestIndexedBlock reads the cursor and records metrics
func (s *StorageWithMetrics) GetLatestIndexedBlock(ctx context.Context) (uint64, bool, error) {
	start := time.Now()
	block, ok, err := s.Storage.GetLatestIndexedBlock(ctx)
	s.record("select", "system_state", start, err)
	return block, ok, err
}
