// File: internal/server/handlers.go
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tribal-authentica/maskauth/internal/catalog"
	"github.com/tribal-authentica/maskauth/pkg/utils"
)

const maxBodyBytes = 1 << 20

// Health Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"version":         s.config.Version,
		"metrics_enabled": s.config.EnableMetrics,
	})
}

// detailedHealthHandler checks the chain connection and the indexer
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	status := "healthy"
	components := map[string]interface{}{}

	if s.deps.Chain != nil {
		chain := map[string]interface{}{"healthy": true}
		if err := s.deps.Chain.HealthCheckWithContext(ctx); err != nil {
			status = "degraded"
			chain["healthy"] = false
			chain["error"] = utils.DisplayMessage(err)
		}
		chain["stats"] = s.deps.Chain.Stats()
		components["chain"] = chain
	}

	if s.deps.Indexer != nil {
		health := s.deps.Indexer.GetHealth()
		if !health.Healthy {
			status = "degraded"
		}
		components["indexer"] = health
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now(),
		"version":    s.config.Version,
		"components": components,
	})
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"timestamp":       time.Now(),
		"dashboard":       s.deps.Submissions.GetStats(),
		"metrics_enabled": s.config.EnableMetrics,
	}
	if s.deps.Chain != nil {
		stats["connection"] = s.deps.Chain.Stats()
	}
	if s.deps.Indexer != nil {
		stats["indexer"] = s.deps.Indexer.GetStats()
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Submission Handlers

// listSubmissionsHandler returns every submission with its derived status
func (s *HTTPServer) listSubmissionsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	views, err := s.deps.Submissions.Views(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"submissions": views,
		"total":       len(views),
	})
}

// getSubmissionHandler returns one submission with its image references
func (s *HTTPServer) getSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := submissionID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	detail, err := s.deps.Submissions.Detail(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, detail)
}

// submitMaskHandler sends submitMask for the posted name
func (s *HTTPServer) submitMaskHandler(w http.ResponseWriter, r *http.Request) {
	var request struct {
		IPFSHash string `json:"ipfs_hash"`
	}
	if err := decodeBody(w, r, &request); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	txHash, err := s.deps.Submissions.SubmitMask(ctx, request.IPFSHash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Mask submitted successfully",
		"tx_hash": txHash,
	})
}

// castVoteHandler sends validateMask for a submission
func (s *HTTPServer) castVoteHandler(w http.ResponseWriter, r *http.Request) {
	id, err := submissionID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var request struct {
		Approved *bool `json:"approved"`
	}
	if err := decodeBody(w, r, &request); err != nil {
		s.writeError(w, r, err)
		return
	}
	if request.Approved == nil {
		s.writeError(w, r, utils.NewAppError(utils.ErrCodeValidation, "Field approved is required"))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	result, err := s.deps.Submissions.CastVote(ctx, id, *request.Approved)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// Catalog Handlers

// marketplaceHandler lists masks filtered by search, tribe and sort
func (s *HTTPServer) marketplaceHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		s.writeError(w, r, utils.NewAppError(utils.ErrCodeNotFound, "Marketplace is not available"))
		return
	}

	query := r.URL.Query()
	masks, err := s.deps.Catalog.List(catalog.Query{
		Search: query.Get("search"),
		Tribe:  query.Get("tribe"),
		Sort:   query.Get("sort"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"masks":  masks,
		"tribes": s.deps.Catalog.Tribes(),
		"total":  len(masks),
	})
}

// analysisHandler runs the mask analysis
func (s *HTTPServer) analysisHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Analyzer == nil {
		s.writeError(w, r, utils.NewAppError(utils.ErrCodeNotFound, "Analysis is not available"))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	result, err := s.deps.Analyzer.Analyze(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// Indexer Handlers

// indexerStatusHandler reports indexer progress
func (s *HTTPServer) indexerStatusHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Indexer == nil {
		s.writeError(w, r, utils.NewAppError(utils.ErrCodeNotFound, "Indexer is not enabled"))
		return
	}

	status := map[string]interface{}{
		"running":   s.deps.Indexer.GetStats().IsRunning,
		"health":    s.deps.Indexer.GetHealth(),
		"stats":     s.deps.Indexer.GetStats(),
		"timestamp": time.Now(),
	}

	if s.deps.Storage != nil {
		ctx, cancel := s.requestContext(r)
		defer cancel()

		storageStats, err := s.deps.Storage.GetStorageStats(ctx)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		status["storage"] = storageStats
	}

	s.writeJSON(w, http.StatusOK, status)
}

// eventHandler returns the indexed MaskSubmitted event for an IPFS hash
func (s *HTTPServer) eventHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Storage == nil {
		s.writeError(w, r, utils.NewAppError(utils.ErrCodeNotFound, "Event index is not enabled"))
		return
	}

	ipfsHash := mux.Vars(r)["ipfs_hash"]

	ctx, cancel := s.requestContext(r)
	defer cancel()

	event, err := s.deps.Storage.GetSubmissionEventByIPFSHash(ctx, ipfsHash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, event)
}

// Utility Methods

func submissionID(r *http.Request) (uint64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeValidation, "Invalid submission id", raw)
	}
	return id, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid request body", err.Error())
	}
	return nil
}

// statusForError maps an AppError code to an HTTP status
func statusForError(err error) int {
	switch utils.CodeOf(err) {
	case utils.ErrCodeValidation:
		return http.StatusBadRequest
	case utils.ErrCodeWallet:
		return http.StatusUnauthorized
	case utils.ErrCodeNotFound:
		return http.StatusNotFound
	case utils.ErrCodeConflict:
		return http.StatusConflict
	case utils.ErrCodeBlockchain, utils.ErrCodeConnection:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes the error envelope carrying the display message
func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	message := utils.DisplayMessage(err)

	log := s.logger.WithFields(logrus.Fields{
		"status":     status,
		"code":       utils.CodeOf(err),
		"path":       r.URL.Path,
		"request_id": RequestID(r.Context()),
	})
	if status >= http.StatusInternalServerError {
		var appErr *utils.AppError
		if !errors.As(err, &appErr) {
			appErr = utils.NewAppError(utils.ErrCodeInternal, err.Error())
		}
		if appErr.StackTrace == "" {
			appErr.WithStackTrace()
		}
		log.WithError(err).WithField("stack", appErr.StackTrace).Error("HTTP error")
	} else {
		log.Debug(message)
	}

	s.writeJSON(w, status, map[string]string{"error": message})
}
