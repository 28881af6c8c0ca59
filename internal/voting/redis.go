package voting

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/tribal-authentica/maskauth/pkg/utils"
)

// releaseScript deletes the key only if we still own it
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLocker shares locks between service instances. The TTL bounds how long
// a crashed holder can block a submission.
type RedisLocker struct {
	client redisClient
	prefix string
	ttl    time.Duration
	logger *logrus.Entry
}

// NewRedisLocker creates a redis backed locker
func NewRedisLocker(client redisClient, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: utils.ComponentLogger("vote_lock"),
	}
}

func (l *RedisLocker) key(submissionID uint64) string {
	return l.prefix + strconv.FormatUint(submissionID, 10)
}

// TryLock implements Locker
func (l *RedisLocker) TryLock(ctx context.Context, submissionID uint64) (func(), error) {
	key := l.key(submissionID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to acquire vote lock", err.Error())
	}
	if !ok {
		return nil, ErrVoteInProgress(submissionID)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be done by the time we release
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.client.Eval(releaseCtx, releaseScript, []string{key}, token).Err(); err != nil {
				l.logger.WithError(err).WithField("key", key).Warn("Failed to release vote lock")
			}
		})
	}, nil
}
