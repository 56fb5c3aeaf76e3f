// Package lock wraps the sync primitives with the checks the coral runtime
// relies on: mutexes are not recursive, unlock and wait require ownership,
// and teardown waits out a busy primitive with backoff instead of failing.
//
// Ownership is tracked per goroutine.
package lock

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/coral/pkg/gid"
	"github.com/tliron/commonlog"

	"github.com/chazu/coral/pkg/fault"
)

var log = commonlog.GetLogger("coral.lock")

var (
	// ErrRecursive is returned when a goroutine locks something it already holds.
	ErrRecursive = fmt.Errorf("lock: already held by caller: %w", fault.ErrUnavailable)

	// ErrNotOwner is returned when unlocking or waiting without holding the lock.
	ErrNotOwner = fmt.Errorf("lock: not held by caller: %w", fault.ErrUnavailable)

	// ErrBusy is returned by TryLock when the lock is taken.
	ErrBusy = fmt.Errorf("lock: busy: %w", fault.ErrUnavailable)

	// ErrDestroyed is returned by any operation after Destroy.
	ErrDestroyed = fmt.Errorf("lock: destroyed: %w", fault.ErrUninitialized)
)

// Default teardown backoff.
const (
	DefaultInitialBackoff = 10 * time.Microsecond
	DefaultMaxBackoff     = 10 * time.Millisecond
)

func defaultBackoff(b *Backoff) *Backoff {
	if b == nil {
		return NewBackoff(DefaultInitialBackoff, DefaultMaxBackoff)
	}
	b.Reset()
	return b
}

// ---------------------------------------------------------------------------
// Mutex
// ---------------------------------------------------------------------------

// Mutex is a non-recursive mutual exclusion lock. The zero value is unlocked.
type Mutex struct {
	mu        sync.Mutex
	owner     atomic.Int64
	destroyed atomic.Bool
}

// Lock acquires m, blocking until it is available.
func (m *Mutex) Lock() error {
	if m.destroyed.Load() {
		return ErrDestroyed
	}
	me := gid.Current()
	if m.owner.Load() == me {
		return ErrRecursive
	}
	m.mu.Lock()
	if m.destroyed.Load() {
		m.mu.Unlock()
		return ErrDestroyed
	}
	m.owner.Store(me)
	return nil
}

// TryLock acquires m only if it is free.
func (m *Mutex) TryLock() error {
	if m.destroyed.Load() {
		return ErrDestroyed
	}
	me := gid.Current()
	if m.owner.Load() == me {
		return ErrRecursive
	}
	if !m.mu.TryLock() {
		return ErrBusy
	}
	if m.destroyed.Load() {
		m.mu.Unlock()
		return ErrDestroyed
	}
	m.owner.Store(me)
	return nil
}

// Unlock releases m. Only the holder may unlock.
func (m *Mutex) Unlock() error {
	if !m.owner.CompareAndSwap(gid.Current(), 0) {
		return ErrNotOwner
	}
	m.mu.Unlock()
	return nil
}

// Held reports whether the calling goroutine holds m.
func (m *Mutex) Held() bool { return m.owner.Load() == gid.Current() }

// Destroy retires m, sleeping with b between attempts while another goroutine
// holds it. A nil b uses the default backoff. Destroying a mutex the caller
// holds fails with ErrRecursive instead of waiting forever.
func (m *Mutex) Destroy(b *Backoff) error {
	if m.Held() {
		return ErrRecursive
	}
	b = defaultBackoff(b)
	for attempt := 0; ; attempt++ {
		if m.destroyed.Load() {
			return ErrDestroyed
		}
		if m.mu.TryLock() {
			m.destroyed.Store(true)
			m.mu.Unlock()
			if attempt > 0 {
				log.Debugf("mutex destroyed after %d busy attempts", attempt)
			}
			return nil
		}
		b.Sleep()
	}
}

// ---------------------------------------------------------------------------
// Cond
// ---------------------------------------------------------------------------

// Cond is a condition variable bound to a Mutex.
type Cond struct {
	m         *Mutex
	c         *sync.Cond
	waiters   atomic.Int32
	destroyed atomic.Bool
}

// NewCond returns a condition variable using m.
func NewCond(m *Mutex) (*Cond, error) {
	if m == nil {
		return nil, fault.ErrNilArgument
	}
	return &Cond{m: m, c: sync.NewCond(&m.mu)}, nil
}

// Wait atomically releases the mutex and suspends the caller until signalled,
// then reacquires the mutex. The caller must hold the mutex.
func (c *Cond) Wait() error {
	if c.destroyed.Load() {
		return ErrDestroyed
	}
	me := gid.Current()
	if c.m.owner.Load() != me {
		return ErrNotOwner
	}
	c.waiters.Add(1)
	c.m.owner.Store(0)
	c.c.Wait()
	c.m.owner.Store(me)
	c.waiters.Add(-1)
	return nil
}

// Signal wakes one waiter.
func (c *Cond) Signal() error {
	if c.destroyed.Load() {
		return ErrDestroyed
	}
	c.c.Signal()
	return nil
}

// Broadcast wakes every waiter.
func (c *Cond) Broadcast() error {
	if c.destroyed.Load() {
		return ErrDestroyed
	}
	c.c.Broadcast()
	return nil
}

// Waiters returns the number of goroutines blocked in Wait.
func (c *Cond) Waiters() int { return int(c.waiters.Load()) }

// Destroy retires c once no goroutine is waiting on it.
func (c *Cond) Destroy(b *Backoff) error {
	b = defaultBackoff(b)
	for {
		if c.destroyed.Load() {
			return ErrDestroyed
		}
		if c.waiters.Load() == 0 && c.destroyed.CompareAndSwap(false, true) {
			return nil
		}
		b.Sleep()
	}
}

// ---------------------------------------------------------------------------
// RWLock
// ---------------------------------------------------------------------------

// RWLock is a reader/writer lock. A writer may not relock or take a read
// lock while it holds the write lock.
type RWLock struct {
	mu        sync.RWMutex
	writer    atomic.Int64
	readers   atomic.Int32
	destroyed atomic.Bool
}

// RLock acquires a read lock.
func (l *RWLock) RLock() error {
	if l.destroyed.Load() {
		return ErrDestroyed
	}
	if l.writer.Load() == gid.Current() {
		return ErrRecursive
	}
	l.mu.RLock()
	l.readers.Add(1)
	return nil
}

// RUnlock releases a read lock.
func (l *RWLock) RUnlock() error {
	for {
		n := l.readers.Load()
		if n <= 0 {
			return ErrNotOwner
		}
		if l.readers.CompareAndSwap(n, n-1) {
			l.mu.RUnlock()
			return nil
		}
	}
}

// Lock acquires the write lock.
func (l *RWLock) Lock() error {
	if l.destroyed.Load() {
		return ErrDestroyed
	}
	me := gid.Current()
	if l.writer.Load() == me {
		return ErrRecursive
	}
	l.mu.Lock()
	if l.destroyed.Load() {
		l.mu.Unlock()
		return ErrDestroyed
	}
	l.writer.Store(me)
	return nil
}

// Unlock releases the write lock. Only the writer may unlock.
func (l *RWLock) Unlock() error {
	if !l.writer.CompareAndSwap(gid.Current(), 0) {
		return ErrNotOwner
	}
	l.mu.Unlock()
	return nil
}

// Readers returns the number of read locks held.
func (l *RWLock) Readers() int { return int(l.readers.Load()) }

// Destroy retires l once it is neither read nor write locked.
func (l *RWLock) Destroy(b *Backoff) error {
	if l.writer.Load() == gid.Current() {
		return ErrRecursive
	}
	b = defaultBackoff(b)
	for {
		if l.destroyed.Load() {
			return ErrDestroyed
		}
		if l.mu.TryLock() {
			l.destroyed.Store(true)
			l.mu.Unlock()
			return nil
		}
		b.Sleep()
	}
}
