package voting

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tribal-authentica/maskauth/internal/config"
	"github.com/tribal-authentica/maskauth/pkg/utils"
)

func TestMemoryLockerRejectsSecondVoteOnSameSubmission(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	release, err := locker.TryLock(ctx, 1)
	require.NoError(t, err)
	assert.True(t, locker.Held(1))

	_, err = locker.TryLock(ctx, 1)
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeConflict, utils.CodeOf(err))

	other, err := locker.TryLock(ctx, 2)
	require.NoError(t, err)
	other()

	release()
	release()
	assert.False(t, locker.Held(1))

	again, err := locker.TryLock(ctx, 1)
	require.NoError(t, err)
	again()
}

func TestMemoryLockerConcurrentAcquire(t *testing.T) {
	locker := NewMemoryLocker()
	var acquired int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := locker.TryLock(context.Background(), 9); err == nil {
				atomic.AddInt32(&acquired, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), acquired)
}

// fakeRedis mimics SETNX and the compare-and-delete script
type fakeRedis struct {
	mu   sync.Mutex
	keys map[string]interface{}
	ttls map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: map[string]interface{}{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = value
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[keys[0]] == args[0] {
		delete(f.keys, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestRedisLocker(t *testing.T) {
	rdb := newFakeRedis()
	locker := NewRedisLocker(rdb, "maskauth:vote:", time.Minute)
	ctx := context.Background()

	release, err := locker.TryLock(ctx, 3)
	require.NoError(t, err)
	assert.Contains(t, rdb.keys, "maskauth:vote:3")
	assert.Equal(t, time.Minute, rdb.ttls["maskauth:vote:3"])

	_, err = locker.TryLock(ctx, 3)
	assert.Equal(t, utils.ErrCodeConflict, utils.CodeOf(err))

	release()
	assert.NotContains(t, rdb.keys, "maskauth:vote:3")

	_, err = locker.TryLock(ctx, 3)
	require.NoError(t, err)
}

func TestRedisLockerReleaseKeepsForeignLock(t *testing.T) {
	rdb := newFakeRedis()
	locker := NewRedisLocker(rdb, "p:", time.Minute)

	release, err := locker.TryLock(context.Background(), 1)
	require.NoError(t, err)

	// Lock expired and was taken by another instance
	rdb.keys["p:1"] = "someone-else"
	release()

	assert.Equal(t, "someone-else", rdb.keys["p:1"])
}

func TestNewLocker(t *testing.T) {
	locker, err := NewLocker(config.VotingConfig{LockBackend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryLocker{}, locker)

	locker, err = NewLocker(config.VotingConfig{LockBackend: "redis", RedisURL: "redis://localhost:6379/0", KeyPrefix: "x:"})
	require.NoError(t, err)
	assert.IsType(t, &RedisLocker{}, locker)

	_, err = NewLocker(config.VotingConfig{LockBackend: "redis", RedisURL: "://bad"})
	assert.Equal(t, utils.ErrCodeConfiguration, utils.CodeOf(err))

	_, err = NewLocker(config.VotingConfig{LockBackend: "etcd"})
	assert.Equal(t, utils.ErrCodeConfiguration, utils.CodeOf(err))
}
