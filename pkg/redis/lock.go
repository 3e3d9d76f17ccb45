package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotAcquired is returned when a lock cannot be acquired
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when trying to release a lock not held
	ErrLockNotHeld = errors.New("lock not held")
)

// Lock represents a held distributed lock
type Lock struct {
	client *Client
	key    string
	value  string
}

// ItemLocker serializes ingestion per item id across replicas. Lineage
// linking is a read-then-write, so two replicas ingesting the same item
// concurrently could both create it; the lock closes that window.
type ItemLocker struct {
	client      *Client
	keyPrefix   string
	ttl         time.Duration
	waitTimeout time.Duration
}

// NewItemLocker creates the distributed per-item locker. ttl bounds how long
// a crashed holder can block an item; waitTimeout bounds how long an ingest
// worker waits its turn.
func NewItemLocker(client *Client, keyPrefix string, ttl, waitTimeout time.Duration) *ItemLocker {
	if keyPrefix == "" {
		keyPrefix = "clover:item-lock:"
	}
	return &ItemLocker{
		client:      client,
		keyPrefix:   keyPrefix,
		ttl:         ttl,
		waitTimeout: waitTimeout,
	}
}

// LockItem acquires the item's lock, retrying with backoff until waitTimeout.
// The returned release func is safe to call exactly once; release failures
// are logged and left to the TTL.
func (l *ItemLocker) LockItem(ctx context.Context, itemID string) (func(), error) {
	lock, err := l.tryAcquire(ctx, itemID)
	if err != nil {
		return nil, err
	}

	return func() {
		if err := lock.release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrLockNotHeld) {
			l.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to release lock for item %s", itemID)
		}
	}, nil
}

func (l *ItemLocker) tryAcquire(ctx context.Context, itemID string) (*Lock, error) {
	deadline := time.Now().Add(l.waitTimeout)
	backoff := 10 * time.Millisecond

	for {
		lock, err := l.acquire(ctx, itemID)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			// exponential backoff with cap
			backoff = backoff * 2
			if backoff > 500*time.Millisecond {
				backoff = 500 * time.Millisecond
			}
		}
	}
}

// acquire attempts a single SET NX
func (l *ItemLocker) acquire(ctx context.Context, itemID string) (*Lock, error) {
	lockKey := l.keyPrefix + itemID
	lockValue := uuid.New().String()

	ok, err := l.client.rdb.SetNX(ctx, lockKey, lockValue, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired lock: %s", itemID)

	return &Lock{
		client: l.client,
		key:    lockKey,
		value:  lockValue,
	}, nil
}

// release deletes the lock only when this holder still owns it
func (lock *Lock) release(ctx context.Context) error {
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	result, err := script.Run(ctx, lock.client.rdb, []string{lock.key}, lock.value).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	lock.client.logger.WithContext(ctx).Debugf("Released lock: %s", lock.key)
	return nil
}
