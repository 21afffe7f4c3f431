package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/clover/pkg/runcontext"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockNotHeld     = errors.New("lock not held")
)

// Both scripts act only when the key still holds the caller's token, so a holder whose
// lock expired cannot release or extend a lock another run now holds.
var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)
	refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)
)

// Lock is a held publish lock
type Lock struct {
	client *Client
	key    string
	token  string
	ttl    time.Duration
}

// LockerConfig configures publish locking
type LockerConfig struct {
	KeyPrefix string
	// TTL bounds how long a crashed holder keeps the lock. A live holder refreshes it.
	TTL time.Duration
	// Timeout bounds how long WithLock waits for another run to finish publishing
	Timeout time.Duration
}

// Locker serializes promotion of one output root across processes. It satisfies
// output.Locker.
type Locker struct {
	client *Client
	cfg    LockerConfig
}

func NewLocker(client *Client, cfg LockerConfig) *Locker {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "clover:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Locker{client: client, cfg: cfg}
}

// token identifies the holder. It leads with the run id so Holder can name the run
// that is publishing.
func token(ctx context.Context) string {
	runID := runcontext.GetRunID(ctx)
	if runID == "" {
		runID = "anonymous"
	}
	return runID + "/" + uuid.NewString()
}

// Acquire takes the lock for key once, ErrLockNotAcquired when another holder has it
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	lock := &Lock{client: l.client, key: l.cfg.KeyPrefix + key, token: token(ctx), ttl: ttl}

	ok, err := l.client.rdb.SetNX(ctx, lock.key, lock.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired publish lock %s", lock.key)
	return lock, nil
}

// Holder returns the token of whoever holds the lock for key, empty when it is free
func (l *Locker) Holder(ctx context.Context, key string) (string, error) {
	holder, err := l.client.rdb.Get(ctx, l.cfg.KeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return holder, err
}

// wait retries Acquire with capped exponential backoff until the configured timeout
func (l *Locker) wait(ctx context.Context, key string) (*Lock, error) {
	deadline := time.Now().Add(l.cfg.Timeout)
	backoff := 10 * time.Millisecond
	logged := false

	for {
		lock, err := l.Acquire(ctx, key, l.cfg.TTL)
		if !errors.Is(err, ErrLockNotAcquired) {
			return lock, err
		}
		if !time.Now().Add(backoff).Before(deadline) {
			return nil, ErrLockNotAcquired
		}

		if !logged {
			holder, _ := l.Holder(ctx, key)
			l.client.logger.WithContext(ctx).WithFields(map[string]any{
				"key":    key,
				"holder": holder,
			}).Info("Waiting for another run to finish publishing")
			logged = true
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 500*time.Millisecond)
	}
}

// Refresh extends the lock by its ttl, ErrLockNotHeld when it already expired
func (lock *Lock) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.token, lock.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Release frees the lock if this holder still has it
func (lock *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}

	lock.client.logger.WithContext(ctx).Debugf("Released publish lock %s", lock.key)
	return nil
}

// keepAlive refreshes lock every third of its ttl until stop is closed
func (lock *Lock) keepAlive(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(lock.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := lock.Refresh(ctx); err != nil {
				lock.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to refresh publish lock %s", lock.key)
			}
		}
	}
}

// WithLock runs fn while holding the lock for key. It waits up to the configured timeout
// for the lock and keeps it alive while fn runs. The lock is released even when fn fails
// or ctx is cancelled.
func (l *Locker) WithLock(ctx context.Context, key string, fn func() error) error {
	lock, err := l.wait(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to acquire publish lock for %s: %w", key, err)
	}

	bg := context.WithoutCancel(ctx)
	stop := make(chan struct{})
	go lock.keepAlive(bg, stop)

	fnErr := fn()
	close(stop)

	releaseCtx, cancel := context.WithTimeout(bg, 5*time.Second)
	defer cancel()
	if err := lock.Release(releaseCtx); err != nil {
		l.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to release publish lock %s", key)
	}
	return fnErr
}
