package service

import (
	"context"
	"sync"
	"time"

	"ledger-settlement-engine/internal/core/domain"
	"ledger-settlement-engine/internal/metrics"
	"ledger-settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const defaultLockTimeout = 5 * time.Second

// LockManager serializes mutations per account. Locks are always taken in
// ascending id order so two settlements touching the same pair cannot deadlock.
type LockManager struct {
	mu      sync.Mutex
	locks   map[uuid.UUID]*accountLock
	timeout time.Duration
	metrics *metrics.Metrics
}

type accountLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewLockManager creates a LockManager. A non-positive timeout uses the default.
func NewLockManager(timeout time.Duration, m *metrics.Metrics) *LockManager {
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	return &LockManager{
		locks:   make(map[uuid.UUID]*accountLock),
		timeout: timeout,
		metrics: m,
	}
}

// LockHandle releases the locks taken by one Acquire.
type LockHandle struct {
	m    *LockManager
	held []uuid.UUID
	once sync.Once
}

// Release is idempotent.
func (h *LockHandle) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		for i := len(h.held) - 1; i >= 0; i-- {
			h.m.release(h.held[i])
		}
		h.held = nil
	})
}

// Acquire locks every id, deduplicated and sorted. On timeout or cancellation
// everything already taken is released before returning.
func (m *LockManager) Acquire(ctx context.Context, ids []uuid.UUID) (*LockHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperror.ErrCanceled(err)
	}

	start := time.Now()
	lctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	h := &LockHandle{m: m}
	for _, id := range domain.SortedAccountIDs(ids) {
		l := m.ref(id)
		if err := l.sem.Acquire(lctx, 1); err != nil {
			m.unref(id)
			h.Release()
			if ctx.Err() != nil {
				m.metrics.ObserveLockWait(time.Since(start), false)
				return nil, apperror.ErrCanceled(ctx.Err())
			}
			m.metrics.ObserveLockWait(time.Since(start), true)
			return nil, apperror.ErrLockTimeout(err)
		}
		h.held = append(h.held, id)
	}
	m.metrics.ObserveLockWait(time.Since(start), false)
	return h, nil
}

// WithLocks runs fn while holding the locks of ids. Locks are released on
// every exit path, including a panic in fn.
func (m *LockManager) WithLocks(ctx context.Context, ids []uuid.UUID, fn func() error) error {
	h, err := m.Acquire(ctx, ids)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn()
}

// Size is the number of accounts with a live lock entry.
func (m *LockManager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *LockManager) ref(id uuid.UUID) *accountLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &accountLock{sem: semaphore.NewWeighted(1)}
		m.locks[id] = l
	}
	l.refs++
	return l
}

func (m *LockManager) unref(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		return
	}
	l.refs--
	if l.refs <= 0 {
		delete(m.locks, id)
	}
}

func (m *LockManager) release(id uuid.UUID) {
	m.mu.Lock()
	l := m.locks[id]
	m.mu.Unlock()
	if l != nil {
		l.sem.Release(1)
	}
	m.unref(id)
}
