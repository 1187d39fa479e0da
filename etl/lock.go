package etl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/warp/retail-dsr/sales"
)

// =============================================================================
// LOCKER - Serializes ingestion runs
// =============================================================================

// IngestionLockKey is the single key every ingestion run contends for.
const IngestionLockKey = "dsr:ingestion"

// Locker hands out exclusive locks by key. Obtain waits until the lock is
// free or ctx is done; in the latter case it returns sales.ErrIngestionLocked.
type Locker interface {
	Obtain(ctx context.Context, key string) (Lock, error)
}

type Lock interface {
	Release(ctx context.Context) error
}

// LocalLocker serializes ingestion within one process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *LocalLocker) Obtain(ctx context.Context, key string) (Lock, error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		return &localLock{ch: ch}, nil
	default:
	}
	select {
	case ch <- struct{}{}:
		return &localLock{ch: ch}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", sales.ErrIngestionLocked, ctx.Err())
	}
}

type localLock struct {
	once sync.Once
	ch   chan struct{}
}

func (l *localLock) Release(context.Context) error {
	l.once.Do(func() { <-l.ch })
	return nil
}

// =============================================================================
// REDIS LOCKER - Serializes ingestion across processes
// =============================================================================

// RedisLocker uses redislock so that several server instances sharing one
// database never reconcile concurrently. A held lock is refreshed every
// TTL/3 until it is released, so a run may outlast TTL; TTL only bounds how
// long a crashed holder keeps others out.
type RedisLocker struct {
	client  *redislock.Client
	TTL     time.Duration
	Backoff time.Duration
	Refresh time.Duration
	Logger  logrus.FieldLogger
}

func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{
		client:  redislock.New(rdb),
		TTL:     ttl,
		Backoff: 500 * time.Millisecond,
		Refresh: ttl / 3,
		Logger:  logrus.StandardLogger(),
	}
}

func (r *RedisLocker) Obtain(ctx context.Context, key string) (Lock, error) {
	lock, err := r.client.Obtain(ctx, key, r.TTL, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.Backoff),
	})
	if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("%w: %v", sales.ErrIngestionLocked, err)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain redis lock %s: %w", key, err)
	}

	held := &redisLock{lock: lock, stop: make(chan struct{}), done: make(chan struct{})}
	go held.keepAlive(r.TTL, r.refreshEvery(), r.log().WithField("key", key))
	return held, nil
}

func (r *RedisLocker) refreshEvery() time.Duration {
	if r.Refresh > 0 && r.Refresh < r.TTL {
		return r.Refresh
	}
	return r.TTL / 3
}

func (r *RedisLocker) log() logrus.FieldLogger {
	if r.Logger == nil {
		return logrus.StandardLogger()
	}
	return r.Logger
}

type redisLock struct {
	lock *redislock.Lock
	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// keepAlive extends the lock until Release. A failed refresh means the lock
// was lost; it is logged and refreshing stops.
func (l *redisLock) keepAlive(ttl, every time.Duration, log logrus.FieldLogger) {
	defer close(l.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			err := l.lock.Refresh(ctx, ttl, nil)
			cancel()
			if err != nil {
				log.WithError(err).Error("ingestion lock lost")
				return
			}
		}
	}
}

func (l *redisLock) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		err = l.lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			err = nil
		}
	})
	return err
}

// =============================================================================
// BOUNDED WAIT
// =============================================================================

// WithMaxWait bounds how long Obtain waits for a held lock. Past the bound
// Obtain returns sales.ErrIngestionLocked, so a directory pass gives up
// instead of queueing behind another run. The lock itself is not tied to
// the shortened context.
func WithMaxWait(l Locker, wait time.Duration) Locker {
	if wait <= 0 {
		return l
	}
	return &waitLocker{Locker: l, wait: wait}
}

type waitLocker struct {
	Locker
	wait time.Duration
}

func (w *waitLocker) Obtain(ctx context.Context, key string) (Lock, error) {
	ctx, cancel := context.WithTimeout(ctx, w.wait)
	defer cancel()
	return w.Locker.Obtain(ctx, key)
}
