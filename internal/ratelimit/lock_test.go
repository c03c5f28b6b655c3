package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/karma/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSerializerWithoutRedisUsesLocalMutex(t *testing.T) {
	serializer := NewSerializer(NewLocker(nil))
	assert.IsType(t, &localSerializer{}, serializer)

	calls := 0
	err := serializer.Do(context.Background(), "alice", func(context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	err = serializer.Do(context.Background(), "alice", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestLocalSerializerExcludesSameKey(t *testing.T) {
	serializer := newLocalSerializer()

	var inflight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := serializer.Do(context.Background(), "alice", func(context.Context) error {
				n := atomic.AddInt32(&inflight, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inflight, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak)
	assert.Empty(t, serializer.keys)
}

func TestLocalSerializerKeysAreIndependent(t *testing.T) {
	serializer := newLocalSerializer()
	entered := make(chan struct{})
	unblock := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- serializer.Do(context.Background(), "alice", func(context.Context) error {
			close(entered)
			<-unblock
			return nil
		})
	}()
	<-entered

	ran := false
	require.NoError(t, serializer.Do(context.Background(), "bob", func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := serializer.Do(ctx, "alice", func(context.Context) error {
		t.Fatal("ran while alice was held")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(unblock)
	require.NoError(t, <-done)
	assert.Empty(t, serializer.keys)
}

func TestNilLockerReportsNotConfigured(t *testing.T) {
	var locker *Locker
	assert.False(t, locker.Enabled())
	assert.False(t, NewLocker(nil).Enabled())

	_, ok, err := locker.TryLock(context.Background(), "k", 0)
	assert.False(t, ok)
	assert.Error(t, err)
	assert.NoError(t, locker.Release(context.Background(), "k", "t"))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "karma:rl:alice:rating", trackerKey("alice", ActionRating))
	assert.Equal(t, "karma:rl:alice:actions", actionsKey("alice"))
	assert.Nil(t, NewRedisLimiter(nil))
	assert.Nil(t, NewAPIThrottle(configWithThrottle(5, 10), nil))
}

func configWithThrottle(rate float64, burst int) config.Config {
	return config.Config{APIThrottleRate: rate, APIThrottleBurst: burst}
}
