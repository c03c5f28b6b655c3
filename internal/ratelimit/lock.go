package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const (
	keyPrincipalLock = "karma:lock:principal:%s"

	defaultLockTTL   = 10 * time.Second
	defaultLockWait  = 2 * time.Second
	lockPollInterval = 25 * time.Millisecond
)

var ErrLockTimeout = errors.New("lock_timeout")

type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

// Enabled reports whether l is backed by redis.
func (l *Locker) Enabled() bool {
	return l != nil && l.client != nil
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// Serializer runs fn while holding the write lock of principal.
type Serializer interface {
	Do(ctx context.Context, principal string, fn func(ctx context.Context) error) error
}

// NewSerializer returns a redis-backed serializer, or an in-process keyed
// mutex when locker is nil.
func NewSerializer(locker *Locker) Serializer {
	if locker == nil {
		return newLocalSerializer()
	}
	return &redisSerializer{locker: locker, ttl: defaultLockTTL, wait: defaultLockWait}
}

type localSerializer struct {
	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	held chan struct{}
	refs int
}

func newLocalSerializer() *localSerializer {
	return &localSerializer{keys: make(map[string]*keyLock)}
}

func (s *localSerializer) Do(ctx context.Context, principal string, fn func(ctx context.Context) error) error {
	lock := s.acquire(principal)
	defer s.release(principal, lock)

	select {
	case lock.held <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock.held }()
	return fn(ctx)
}

func (s *localSerializer) acquire(principal string) *keyLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.keys[principal]
	if !ok {
		lock = &keyLock{held: make(chan struct{}, 1)}
		s.keys[principal] = lock
	}
	lock.refs++
	return lock
}

func (s *localSerializer) release(principal string, lock *keyLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.keys, principal)
	}
}

type redisSerializer struct {
	locker *Locker
	ttl    time.Duration
	wait   time.Duration
}

func (s *redisSerializer) Do(ctx context.Context, principal string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf(keyPrincipalLock, principal)

	deadline := time.Now().Add(s.wait)
	for {
		token, ok, err := s.locker.TryLock(ctx, key, s.ttl)
		if err != nil {
			return err
		}
		if ok {
			defer func() {
				// Release on a fresh context so a cancelled request still frees the key.
				_ = s.locker.Release(context.WithoutCancel(ctx), key, token)
			}()
			return fn(ctx)
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}
