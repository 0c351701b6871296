package workspace

import (
	"errors"
	"sync"
)

// ErrProjectLocked is returned by fail-fast acquisition when the project is
// already held by another pipeline.
var ErrProjectLocked = errors.New("project is locked by another pipeline")

// Locker hands out advisory per-project locks. Pipelines hold the lock for
// their whole run so two chats in the same project never write the tree
// concurrently.
type Locker struct {
	mu   sync.Mutex
	held map[string]string // project id → holder (chat id)
}

// NewLocker creates a Locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]string)}
}

// Acquire takes the project lock for holder. Fails fast with
// ErrProjectLocked when another holder owns it; re-acquiring by the same
// holder succeeds.
func (l *Locker) Acquire(projectID, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if current, ok := l.held[projectID]; ok && current != holder {
		return ErrProjectLocked
	}
	l.held[projectID] = holder
	return nil
}

// Release drops the lock if holder owns it.
func (l *Locker) Release(projectID, holder string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if current, ok := l.held[projectID]; ok && current == holder {
		delete(l.held, projectID)
	}
}

// Holder returns the current holder of a project lock, if any.
func (l *Locker) Holder(projectID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.held[projectID]
	return h, ok
}
