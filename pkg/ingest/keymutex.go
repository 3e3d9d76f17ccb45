package ingest

import (
	"context"
	"sync"
)

// ItemLocker serializes work on a single item id. The lineage linker's
// read-then-write is not compare-and-swap safe, so two workers must never
// process the same item concurrently. Single-replica deployments use the
// in-process KeyMutex; multi-replica deployments plug in the redis locker.
type ItemLocker interface {
	LockItem(ctx context.Context, itemID string) (func(), error)
}

// KeyMutex is an in-process ItemLocker backed by one mutex per key
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyMutex() *KeyMutex {
	return &KeyMutex{locks: make(map[string]*keyLock)}
}

// LockItem blocks until the key's mutex is held and returns the release
// function. Entries are reference-counted so the map does not grow with every
// item id ever seen.
func (k *KeyMutex) LockItem(_ context.Context, itemID string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[itemID]
	if !ok {
		l = &keyLock{}
		k.locks[itemID] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, itemID)
		}
		k.mu.Unlock()
	}, nil
}
