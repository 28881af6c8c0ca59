package dashboard

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"
	"github.com/tribal-authentica/maskauth/internal/metrics"
	"github.com/tribal-authentica/maskauth/internal/models"
	"github.com/tribal-authentica/maskauth/internal/voting"
	"github.com/tribal-authentica/maskauth/pkg/utils"
	"golang.org/x/sync/errgroup"
)

// Chain reads submission state from the contract
type Chain interface {
	SubmissionCount(ctx context.Context) (uint64, error)
	Submission(ctx context.Context, id uint64) (models.Submission, error)
}

// EventSource returns MaskSubmitted events in log order
type EventSource interface {
	SubmissionEvents(ctx context.Context, fromBlock uint64) ([]models.SubmissionEvent, error)
}

// Wallet sends contract writes on behalf of the validator
type Wallet interface {
	WalletAddress() (common.Address, bool)
	SubmitMask(ctx context.Context, ipfsHash string) (common.Hash, error)
	ValidateMask(ctx context.Context, id uint64, approved bool) (common.Hash, error)
}

// Options tunes the service
type Options struct {
	DeployBlock        uint64
	MaxConcurrentReads int
	CacheSize          int
	ExplorerURL        string
	// MaxSubmissions bounds how many submissions a single fetch will read
	MaxSubmissions uint64
}

const defaultMaxSubmissions = 10000

// View is a reconciled submission with its derived status
type View struct {
	models.ReconciledSubmission
	Status      Status `json:"status"`
	ExplorerURL string `json:"explorer_url,omitempty"`
}

// Detail is a single submission as shown in the detail modal
type Detail struct {
	View
	Images []string `json:"images"`
}

// VoteResult is returned after a validateMask transaction was sent
type VoteResult struct {
	TxHash     string `json:"tx_hash"`
	Submission *View  `json:"submission,omitempty"`
}

// Stats holds service counters
type Stats struct {
	Fetches         uint64    `json:"fetches"`
	FailedFetches   uint64    `json:"failed_fetches"`
	VotesSent       uint64    `json:"votes_sent"`
	MasksSubmitted  uint64    `json:"masks_submitted"`
	LastFetchAt     time.Time `json:"last_fetch_at"`
	LastFetchCount  int       `json:"last_fetch_count"`
	LastUnresolved  int       `json:"last_unresolved"`
	LastDivergent   int       `json:"last_divergent"`
	WalletConnected bool      `json:"wallet_connected"`
	WalletAddress   string    `json:"wallet_address,omitempty"`
	CachedSnapshots int       `json:"cached_snapshots"`
}

// Service fetches, reconciles and votes on mask submissions
type Service struct {
	chain     Chain
	events    EventSource
	wallet    Wallet
	locker    voting.Locker
	opts      Options
	cache     *lru.Cache
	sanitizer *bluemonday.Policy
	metrics   *metrics.PrometheusMetrics
	logger    *logrus.Entry

	mu    sync.RWMutex
	stats Stats
}

// NewService creates a dashboard service. wallet may be nil for read-only
// use and m may be nil when metrics are disabled.
func NewService(chain Chain, events EventSource, wallet Wallet, locker voting.Locker, opts Options, m *metrics.PrometheusMetrics) (*Service, error) {
	if opts.MaxConcurrentReads <= 0 {
		opts.MaxConcurrentReads = 8
	}
	if opts.MaxSubmissions == 0 {
		opts.MaxSubmissions = defaultMaxSubmissions
	}
	if locker == nil {
		locker = voting.NewMemoryLocker()
	}

	s := &Service{
		chain:     chain,
		events:    events,
		wallet:    wallet,
		locker:    locker,
		opts:      opts,
		sanitizer: bluemonday.StrictPolicy(),
		metrics:   m,
		logger:    utils.ComponentLogger("dashboard"),
	}

	if opts.CacheSize > 0 {
		cache, err := lru.New(opts.CacheSize)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Failed to create submission cache", err.Error())
		}
		s.cache = cache
	}

	return s, nil
}

// Fetch reads every submission and its creation event and reconciles them.
// Any failed read fails the whole fetch.
func (s *Service) Fetch(ctx context.Context) (reconciled []models.ReconciledSubmission, err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		if s.metrics != nil {
			s.metrics.RecordFetch(status, time.Since(start))
		}
		s.mu.Lock()
		s.stats.Fetches++
		if err != nil {
			s.stats.FailedFetches++
		}
		s.mu.Unlock()
	}()

	count, err := s.chain.SubmissionCount(ctx)
	if err != nil {
		return nil, fetchError(err)
	}
	if count > s.opts.MaxSubmissions {
		return nil, fetchError(utils.NewAppError(utils.ErrCodeBlockchain, "Submission count exceeds limit",
			fmt.Sprintf("contract reports %d submissions, limit is %d", count, s.opts.MaxSubmissions)))
	}

	events, err := s.events.SubmissionEvents(ctx, s.opts.DeployBlock)
	if err != nil {
		return nil, fetchError(err)
	}

	submissions, err := s.readSubmissions(ctx, count)
	if err != nil {
		return nil, fetchError(err)
	}

	reconciled, report := reconcile(submissions, events)

	divergent := 0
	for _, r := range reconciled {
		if DeriveStatus(r.Submission).Diverges {
			divergent++
		}
	}
	s.report(len(reconciled), report, divergent)

	return reconciled, nil
}

func (s *Service) readSubmissions(ctx context.Context, count uint64) ([]models.Submission, error) {
	submissions := make([]models.Submission, count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrentReads)

	for i := uint64(0); i < count; i++ {
		id := i
		if cached, ok := s.cached(id); ok {
			submissions[id] = cached
			continue
		}
		g.Go(func() error {
			submission, err := s.chain.Submission(gctx, id)
			if err != nil {
				return err
			}
			submissions[id] = submission
			if submission.IsCompleted && s.cache != nil {
				s.cache.Add(id, submission)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return submissions, nil
}

// cached returns a snapshot of a completed submission; those no longer change on chain
func (s *Service) cached(id uint64) (models.Submission, bool) {
	if s.cache == nil {
		return models.Submission{}, false
	}
	value, ok := s.cache.Get(id)
	if !ok {
		return models.Submission{}, false
	}
	if s.metrics != nil {
		s.metrics.RecordCacheHit()
	}
	return value.(models.Submission), true
}

func (s *Service) report(total int, report ReconcileReport, divergent int) {
	log := s.logger.WithFields(logrus.Fields{
		"submissions": total,
		"unresolved":  len(report.Unresolved),
		"duplicates":  len(report.Duplicates),
		"divergent":   divergent,
	})
	if len(report.Duplicates) > 0 {
		log.WithField("ipfs_hashes", report.Duplicates).Warn("Several MaskSubmitted events share an IPFS hash, using the latest")
	}
	if divergent > 0 {
		log.Warn("Derived status disagrees with contract flags")
	}
	log.Debug("Submissions reconciled")

	if s.metrics != nil {
		s.metrics.UpdateReconciliation(total, len(report.Unresolved), len(report.Duplicates), divergent)
	}

	s.mu.Lock()
	s.stats.LastFetchAt = time.Now()
	s.stats.LastFetchCount = total
	s.stats.LastUnresolved = len(report.Unresolved)
	s.stats.LastDivergent = divergent
	s.mu.Unlock()
}

func fetchError(err error) error {
	code := utils.CodeOf(err)
	if code == utils.ErrCodeInternal {
		code = utils.ErrCodeBlockchain
	}
	return utils.NewAppError(code, "Failed to fetch submissions", utils.DisplayMessage(err))
}

// Views returns every submission with its derived status, in index order
func (s *Service) Views(ctx context.Context) ([]View, error) {
	reconciled, err := s.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]View, len(reconciled))
	for i, r := range reconciled {
		views[i] = s.newView(r)
	}
	return views, nil
}

// Detail returns one submission with its image references
func (s *Service) Detail(ctx context.Context, id uint64) (*Detail, error) {
	views, err := s.Views(ctx)
	if err != nil {
		return nil, err
	}
	if id >= uint64(len(views)) {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Submission not found", fmt.Sprintf("submission %d", id))
	}

	view := views[id]
	return &Detail{
		View:   view,
		Images: []string{view.IPFSHash + "_front", view.IPFSHash + "_back"},
	}, nil
}

func (s *Service) newView(r models.ReconciledSubmission) View {
	view := View{ReconciledSubmission: r, Status: DeriveStatus(r.Submission)}
	if r.HasTransaction() && s.opts.ExplorerURL != "" {
		view.ExplorerURL = strings.TrimRight(s.opts.ExplorerURL, "/") + "/tx/" + r.TxHash
	}
	return view
}

// SanitizeMaskName strips markup and surrounding space from a user entered name
func (s *Service) SanitizeMaskName(name string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(name)))
}

// SubmitMask registers a new mask under the given name
func (s *Service) SubmitMask(ctx context.Context, name string) (hash string, err error) {
	defer func() {
		if s.metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			s.metrics.RecordMaskSubmitted(status)
		}
	}()

	ipfsHash := s.SanitizeMaskName(name)
	if ipfsHash == "" {
		return "", utils.NewAppError(utils.ErrCodeValidation, "Please enter a name for your mask")
	}
	if !s.walletConnected() {
		return "", utils.NewAppError(utils.ErrCodeWallet, "Please connect your wallet!")
	}

	txHash, err := s.wallet.SubmitMask(ctx, ipfsHash)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.stats.MasksSubmitted++
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{"ipfs_hash": ipfsHash, "tx_hash": txHash.Hex()}).Info("Mask submitted")
	return txHash.Hex(), nil
}

// CastVote sends validateMask for a submission. Only one vote per submission
// may be in flight; votes on other submissions are not blocked.
func (s *Service) CastVote(ctx context.Context, id uint64, approved bool) (result *VoteResult, err error) {
	defer func() {
		if s.metrics == nil {
			return
		}
		switch {
		case err == nil:
			s.metrics.RecordVote(approved, "success")
		case utils.CodeOf(err) == utils.ErrCodeConflict:
			s.metrics.RecordVoteConflict()
		default:
			s.metrics.RecordVote(approved, "error")
		}
	}()

	if !s.walletConnected() {
		return nil, utils.NewAppError(utils.ErrCodeWallet, "Please connect your wallet!")
	}

	release, err := s.locker.TryLock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.checkVotable(ctx, id); err != nil {
		return nil, err
	}

	txHash, err := s.wallet.ValidateMask(ctx, id, approved)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.stats.VotesSent++
	s.mu.Unlock()

	log := s.logger.WithFields(logrus.Fields{
		"submission_id": id,
		"approved":      approved,
		"tx_hash":       txHash.Hex(),
	})
	log.Info("Vote sent")

	result = &VoteResult{TxHash: txHash.Hex()}
	if detail, err := s.Detail(ctx, id); err != nil {
		log.WithError(err).Warn("Failed to refresh submission after vote")
	} else {
		result.Submission = &detail.View
	}
	return result, nil
}

// checkVotable rejects votes on unknown submissions and on those the contract
// has completed. The contract flag is authoritative for voting.
func (s *Service) checkVotable(ctx context.Context, id uint64) error {
	count, err := s.chain.SubmissionCount(ctx)
	if err != nil {
		return voteError(err)
	}
	if id >= count {
		return utils.NewAppError(utils.ErrCodeNotFound, "Submission not found", fmt.Sprintf("submission %d", id))
	}
	current, err := s.chain.Submission(ctx, id)
	if err != nil {
		return voteError(err)
	}
	if current.IsCompleted {
		return utils.NewAppError(utils.ErrCodeValidation, "Voting is closed for this submission",
			fmt.Sprintf("submission %d", id))
	}
	if DeriveStatus(current).Diverges {
		s.logger.WithFields(logrus.Fields{
			"submission_id": id,
			"approvals":     current.ApprovalCount,
			"rejections":    current.RejectionCount,
		}).Warn("Derived status disagrees with contract flags, contract still accepts votes")
	}
	return nil
}

func voteError(err error) error {
	return utils.NewAppError(utils.CodeOf(err), "Failed to validate mask", utils.DisplayMessage(err))
}

func (s *Service) walletConnected() bool {
	if s.wallet == nil {
		return false
	}
	_, ok := s.wallet.WalletAddress()
	return ok
}

// GetStats returns service statistics
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	stats := s.stats
	s.mu.RUnlock()

	stats.WalletConnected = s.walletConnected()
	if stats.WalletConnected {
		addr, _ := s.wallet.WalletAddress()
		stats.WalletAddress = addr.Hex()
	}
	if s.cache != nil {
		stats.CachedSnapshots = s.cache.Len()
	}
	return stats
}
