package voting

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/tribal-authentica/maskauth/internal/config"
	"github.com/tribal-authentica/maskauth/pkg/utils"
)

// Locker serializes votes per submission. TryLock never waits: a held lock
// fails immediately with a CONFLICT error. The returned release func is
// safe to call more than once.
type Locker interface {
	TryLock(ctx context.Context, submissionID uint64) (release func(), err error)
}

// ErrVoteInProgress builds the error returned for a held lock
func ErrVoteInProgress(submissionID uint64) error {
	return utils.NewAppError(utils.ErrCodeConflict,
		"A vote is already in progress for this submission",
		fmt.Sprintf("submission %d", submissionID))
}

// MemoryLocker keeps locks in process
type MemoryLocker struct {
	mu     sync.Mutex
	active map[uint64]struct{}
}

// NewMemoryLocker creates an in-process locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{active: make(map[uint64]struct{})}
}

// TryLock implements Locker
func (l *MemoryLocker) TryLock(_ context.Context, submissionID uint64) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.active[submissionID]; held {
		return nil, ErrVoteInProgress(submissionID)
	}
	l.active[submissionID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.active, submissionID)
			l.mu.Unlock()
		})
	}, nil
}

// Held reports whether a vote on submissionID is in flight
func (l *MemoryLocker) Held(submissionID uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, held := l.active[submissionID]
	return held
}

// NewLocker builds the locker selected by cfg
func NewLocker(cfg config.VotingConfig) (Locker, error) {
	switch strings.ToLower(cfg.LockBackend) {
	case "", "memory":
		return NewMemoryLocker(), nil
	case "redis":
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid redis URL", err.Error())
		}
		return NewRedisLocker(redis.NewClient(opt), cfg.KeyPrefix, cfg.LockTTL), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Unsupported vote lock backend", cfg.LockBackend)
	}
}
