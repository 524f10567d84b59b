// Package lock provides the mutex primitives of the cache.
//
// Mutex and RWMutex guard in-process shared state (registry map, node
// lock map) and run with optional deadlock detection. Fair serialises
// mirror mutations in arrival order and supports abandoning a wait via
// context cancellation.
package lock

import (
	"context"
	"os"
	"sync"

	"github.com/sasha-s/go-deadlock"
)

// detection has noticeable overhead hence it is only enabled on demand
func init() {
	deadlock.Opts.Disable = os.Getenv("ENABLE_DEADLOCK_DETECTION") != "true"
}

// Mutex is drop-in replacement of sync.Mutex with optional deadlock
// detection
type Mutex = deadlock.Mutex

// RWMutex is drop-in replacement of sync.RWMutex with optional deadlock
// detection
type RWMutex = deadlock.RWMutex

// Fair is a first-requested, first-granted mutual exclusion lock.
// The zero value is an unlocked lock.
type Fair struct {
	mu      sync.Mutex
	locked  bool
	waiters []chan struct{}
}

// Lock acquires the lock, blocking until it is available or ctx is
// done. Waiting requests are granted the lock in arrival order. On
// cancellation the wait is withdrawn and the caller does not hold the
// lock.
func (f *Fair) Lock(ctx context.Context) error {
	f.mu.Lock()
	// a releasing holder hands the lock over to the oldest waiter
	// directly, so locked is only false when there are no waiters and
	// the fast path cannot overtake anyone
	if !f.locked {
		f.locked = true
		f.mu.Unlock()
		return nil
	}

	grant := make(chan struct{})
	f.waiters = append(f.waiters, grant)
	f.mu.Unlock()

	select {
	case <-grant:
		return nil
	case <-ctx.Done():
	}

	f.mu.Lock()
	for i, w := range f.waiters {
		if w == grant {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			f.mu.Unlock()
			return ctx.Err()
		}
	}
	f.mu.Unlock()

	// the lock was handed over before the wait could be withdrawn,
	// release it so the next waiter is not starved
	f.Unlock()
	return ctx.Err()
}

// Unlock releases the lock, handing it to the longest waiting request
// if there is one.
func (f *Fair) Unlock() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.waiters) > 0 {
		grant := f.waiters[0]
		f.waiters = f.waiters[1:]
		close(grant)
		return
	}
	f.locked = false
}

// Locked reports whether the lock is currently held by anyone.
// The answer is immediately stale, it is only useful for logging
// contention.
func (f *Fair) Locked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locked
}
