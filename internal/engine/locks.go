package engine

import "sync"

// keyedLocks serializes sync passes per listing. A second sync on the same
// listing is rejected rather than queued; concurrent syncs on different
// listings proceed.
type keyedLocks struct {
	mu   sync.Mutex
	busy map[string]bool
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{busy: make(map[string]bool)}
}

func (l *keyedLocks) acquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy[key] {
		return false
	}
	l.busy[key] = true
	return true
}

func (l *keyedLocks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.busy, key)
}
