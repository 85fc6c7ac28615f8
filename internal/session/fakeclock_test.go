package session

import (
	"sort"
	"sync"
	"time"
)

// fakeClock runs scheduled callbacks only when Advance moves time past them
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	pending []*fakeHandle
}

type fakeHandle struct {
	clock   *fakeClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	h := &fakeHandle{clock: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.pending = append(c.pending, h)
	return h
}

func (h *fakeHandle) Stop() bool {
	h.clock.mu.Lock()
	defer h.clock.mu.Unlock()

	if h.stopped || h.fired {
		return false
	}
	h.stopped = true
	return true
}

// Advance moves time forward by d, firing due callbacks in deadline order
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.at
		next.fired = true
		c.mu.Unlock()

		next.f()
	}
}

func (c *fakeClock) nextDueLocked(target time.Time) *fakeHandle {
	live := c.pending[:0]
	for _, h := range c.pending {
		if !h.stopped && !h.fired {
			live = append(live, h)
		}
	}
	c.pending = live

	sort.Slice(c.pending, func(i, j int) bool {
		if c.pending[i].at.Equal(c.pending[j].at) {
			return c.pending[i].seq < c.pending[j].seq
		}
		return c.pending[i].at.Before(c.pending[j].at)
	})

	if len(c.pending) == 0 || c.pending[0].at.After(target) {
		return nil
	}
	return c.pending[0]
}

func (c *fakeClock) live() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, h := range c.pending {
		if !h.stopped && !h.fired {
			n++
		}
	}
	return n
}
