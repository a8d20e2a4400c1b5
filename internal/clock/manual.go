package clock

import (
	"context"
	"sync"
	"time"
)

// Manual is a virtual clock for deterministic tests. Advance releases every
// waiter whose deadline has been reached, in deadline order, without ever
// touching the wall clock.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
	fired    bool
}

// NewManual creates a virtual clock starting at t0.
func NewManual(t0 time.Time) *Manual {
	return &Manual{now: t0}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Elapsed(start time.Time) time.Duration {
	return m.Now().Sub(start)
}

func (m *Manual) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan time.Time, 1)
	w := &waiter{deadline: m.now.Add(d), ch: ch}
	if d <= 0 {
		w.fired = true
		ch <- m.now
		return ch
	}
	m.waiters = append(m.waiters, w)
	return ch
}

func (m *Manual) Sleep(ctx context.Context, d time.Duration) error {
	ch := m.After(d)
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Advance moves the virtual clock forward by d, firing every waiter whose
// deadline has now been reached, in deadline order.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now

	var ready []*waiter
	remaining := m.waiters[:0:0]
	for _, w := range m.waiters {
		if !w.deadline.After(now) {
			ready = append(ready, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	m.waiters = remaining
	m.mu.Unlock()

	sortByDeadline(ready)
	for _, w := range ready {
		w.ch <- now
	}
}

// PendingWaiters reports how many timers are currently armed — useful in
// tests to confirm a loop has reached its wait point before advancing time.
func (m *Manual) PendingWaiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}

func sortByDeadline(ws []*waiter) {
	for i := 1; i < len(ws); i++ {
		for j := i; j > 0 && ws[j].deadline.Before(ws[j-1].deadline); j-- {
			ws[j], ws[j-1] = ws[j-1], ws[j]
		}
	}
}
