// File: internal/server/server.go
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/tribal-authentica/maskauth/internal/catalog"
	"github.com/tribal-authentica/maskauth/internal/connection"
	"github.com/tribal-authentica/maskauth/internal/dashboard"
	"github.com/tribal-authentica/maskauth/internal/indexer"
	"github.com/tribal-authentica/maskauth/internal/metrics"
	"github.com/tribal-authentica/maskauth/internal/models"
	"github.com/tribal-authentica/maskauth/internal/storage"
	"github.com/tribal-authentica/maskauth/pkg/utils"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int           `json:"port"`
	Host           string        `json:"host"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	RequestTimeout time.Duration `json:"request_timeout"`
	EnableMetrics  bool          `json:"enable_metrics"`
	EnableHealth   bool          `json:"enable_health"`
	AllowedOrigins []string      `json:"allowed_origins"`
	Version        string        `json:"version"`
}

// SubmissionService is the dashboard surface served over HTTP
type SubmissionService interface {
	Views(ctx context.Context) ([]dashboard.View, error)
	Detail(ctx context.Context, id uint64) (*dashboard.Detail, error)
	SubmitMask(ctx context.Context, name string) (string, error)
	CastVote(ctx context.Context, id uint64, approved bool) (*dashboard.VoteResult, error)
	GetStats() dashboard.Stats
}

// Catalog lists marketplace masks
type Catalog interface {
	List(q catalog.Query) ([]models.Mask, error)
	Tribes() []string
}

// Analyzer runs the mask image analysis
type Analyzer interface {
	Analyze(ctx context.Context) (*models.AnalysisResult, error)
}

// ChainHealth reports on the RPC connection
type ChainHealth interface {
	HealthCheckWithContext(ctx context.Context) error
	IsConnected() bool
	Stats() connection.ConnectionStats
}

// IndexStatus reports on the event indexer
type IndexStatus interface {
	GetStats() indexer.Stats
	GetHealth() *indexer.HealthStatus
}

// IndexStorage reports on the event index database
type IndexStorage interface {
	GetSubmissionEventByIPFSHash(ctx context.Context, ipfsHash string) (*models.SubmissionEvent, error)
	GetStorageStats(ctx context.Context) (*storage.StorageStats, error)
}

// Dependencies are the components behind the API. Only Submissions is
// required.
type Dependencies struct {
	Submissions SubmissionService
	Catalog     Catalog
	Analyzer    Analyzer
	Chain       ChainHealth
	Indexer     IndexStatus
	Storage     IndexStorage
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         *ServerConfig
	server         *http.Server
	router         *mux.Router
	handler        http.Handler
	deps           Dependencies
	metricsManager *metrics.Manager
	logger         *logrus.Entry

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewHTTPServer creates a new HTTP server. metricsManager may be nil.
func NewHTTPServer(config *ServerConfig, deps Dependencies, metricsManager *metrics.Manager) (*HTTPServer, error) {
	if deps.Submissions == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Submission service is required")
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}

	server := &HTTPServer{
		config:         config,
		deps:           deps,
		metricsManager: metricsManager,
		logger:         utils.ComponentLogger("http"),
		stopChan:       make(chan struct{}),
	}

	// Setup router
	server.setupRouter()

	server.handler = cors.New(cors.Options{
		AllowedOrigins: config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
	}).Handler(server.router)

	// Create HTTP server
	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}

	if s.config.EnableMetrics && s.metricsManager != nil {
		s.router.Handle("/metrics", s.metricsManager.Handler())
	}
	api.HandleFunc("/stats", s.statsHandler).Methods("GET")

	// Submission endpoints
	api.HandleFunc("/submissions", s.listSubmissionsHandler).Methods("GET")
	api.HandleFunc("/submissions", s.submitMaskHandler).Methods("POST")
	api.HandleFunc("/submissions/{id}", s.getSubmissionHandler).Methods("GET")
	api.HandleFunc("/submissions/{id}/votes", s.castVoteHandler).Methods("POST")

	// Catalog endpoints
	api.HandleFunc("/marketplace", s.marketplaceHandler).Methods("GET")
	api.HandleFunc("/analysis", s.analysisHandler).Methods("POST")

	// Indexer endpoints
	api.HandleFunc("/indexer/status", s.indexerStatusHandler).Methods("GET")
	api.HandleFunc("/events/{ipfs_hash}", s.eventHandler).Methods("GET")
}

// Handler returns the root handler including CORS
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	// Update system and component metrics so they appear on first scrape
	if s.metricsManager != nil {
		s.updateHealthMetrics()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Give the server a moment to start and check for immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.updateHealthMetrics()
		}
	}
}

func (s *HTTPServer) updateHealthMetrics() {
	s.metricsManager.UpdateSystemMetrics()

	pm := s.metricsManager.GetPrometheusMetrics()
	if s.deps.Chain != nil {
		pm.UpdateComponentHealth("chain", s.deps.Chain.IsConnected())
	}
	if s.deps.Indexer != nil {
		pm.UpdateComponentHealth("indexer", s.deps.Indexer.GetHealth().Healthy)
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// requestContext bounds a handler's chain calls by the request timeout
func (s *HTTPServer) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.config.RequestTimeout)
}
