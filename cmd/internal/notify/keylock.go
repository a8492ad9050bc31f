package notify

import (
	"slices"
	"sync"
)

// keyedLocks serializes work per key inside one process. Keys are acquired in
// sorted order so overlapping sets never deadlock.
type keyedLocks struct {
	mu   sync.Mutex
	held map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{held: make(map[string]*keyLock)}
}

// lock blocks until every key is held and returns the matching unlock.
func (k *keyedLocks) lock(keys []string) (unlock func()) {
	keys = slices.Compact(slices.Sorted(slices.Values(keys)))

	locks := make([]*keyLock, 0, len(keys))
	for _, key := range keys {
		k.mu.Lock()
		l := k.held[key]
		if l == nil {
			l = &keyLock{}
			k.held[key] = l
		}
		l.refs++
		k.mu.Unlock()

		l.mu.Lock()
		locks = append(locks, l)
	}

	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			l := locks[i]
			l.mu.Unlock()

			k.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(k.held, keys[i])
			}
			k.mu.Unlock()
		}
	}
}

// size is the number of keys currently held or awaited.
func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.held)
}

func dedupKey(recipientID, message string) string {
	return recipientID + "\x1f" + message
}
