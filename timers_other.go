//go:build !linux

package looper

import (
	"sync"
	"time"
)

// runtimeTimerBackend arms one runtime timer per record. Each expiration
// fires its callback on a fresh goroutine, which performs the same
// cancel-check-and-post sequence as the multiplexed backend; the manager's
// record map resolves the id recovered from the closure.
type runtimeTimerBackend struct {
	tm       *timerManager
	mu       sync.Mutex
	timers   map[TimerID]*time.Timer
	periodic map[TimerID]time.Duration
	closed   bool
}

func newTimerBackend(tm *timerManager) (timerBackend, error) {
	return &runtimeTimerBackend{
		tm:       tm,
		timers:   make(map[TimerID]*time.Timer),
		periodic: make(map[TimerID]time.Duration),
	}, nil
}

func (b *runtimeTimerBackend) arm(id TimerID, delayMs uint64, periodic bool) error {
	d := time.Duration(delayMs) * time.Millisecond
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errBackendDown
	}
	b.timers[id] = time.AfterFunc(d, func() { b.fire(id) })
	if periodic {
		b.periodic[id] = d
	}
	return nil
}

// fire re-arms periodic timers before forwarding to the manager, so a slow
// loop never silently drops the cadence.
func (b *runtimeTimerBackend) fire(id TimerID) {
	b.mu.Lock()
	if t, ok := b.timers[id]; ok {
		if d, ok := b.periodic[id]; ok {
			t.Reset(d)
		}
	}
	b.mu.Unlock()
	b.tm.expire(id)
}

func (b *runtimeTimerBackend) rearm(id TimerID, delayMs uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.timers[id]
	if !ok {
		return errBackendDown
	}
	delete(b.periodic, id)
	t.Reset(time.Duration(delayMs) * time.Millisecond)
	return nil
}

func (b *runtimeTimerBackend) disarm(id TimerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.timers[id]; ok {
		t.Stop()
		delete(b.timers, id)
		delete(b.periodic, id)
	}
}

func (b *runtimeTimerBackend) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, t := range b.timers {
		t.Stop()
		delete(b.timers, id)
		delete(b.periodic, id)
	}
}
