package looper

import (
	"errors"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/joeycumines/logiface"
)

// errBackendDown reports that the expiry backend is not operational, either
// because initialisation failed or because it was torn down after a fatal
// demultiplexer error. Subsequent timers fail to arm; the loop stays usable.
var errBackendDown = errors.New("looper: timer backend is not operational")

// timerRecord is the per-live-timer bookkeeping held by the manager.
type timerRecord struct {
	id         TimerID
	callback   func()
	periodic   bool
	intervalMs uint64
	// cancelled points at the owning handle's flag. It may be nil, and is
	// relocated by updateCancelledPtr when the handle is moved.
	cancelled *atomic.Bool
}

// timerBackend is the build-time-selected expiry source. Implementations
// call (*timerManager).expire from their own goroutines; the manager does
// the cancellation checks and posts the callback onto the loop.
//
// Lock order: tm.mu may be held while calling arm/rearm/disarm; backends
// must not call back into the manager from those methods.
type timerBackend interface {
	arm(id TimerID, delayMs uint64, periodic bool) error
	rearm(id TimerID, delayMs uint64) error
	disarm(id TimerID)
	close()
}

// timerManager owns the id→record map and translates backend expirations
// into loop-goroutine callback invocations. It holds only a weak reference
// to the loop: a timer firing after the loop has been collected posts
// nothing.
type timerManager struct {
	loop    weak.Pointer[Looper]
	logger  *logiface.Logger[logiface.Event]
	backend timerBackend

	mu      sync.Mutex
	records map[TimerID]*timerRecord
	closed  bool

	nextID atomic.Uint64
}

func newTimerManager(l *Looper) *timerManager {
	tm := &timerManager{
		loop:    weak.Make(l),
		logger:  l.opts.logger,
		records: make(map[TimerID]*timerRecord),
	}
	backend, err := newTimerBackend(tm)
	if err != nil {
		tm.logger.Err().Err(err).Log("failed to initialise timer backend; timers will not arm")
		backend = failedTimerBackend{}
	}
	tm.backend = backend
	return tm
}

// createTimer registers a record and arms the backend. Returns the new id,
// which is ≥ 1, or 0 on backend failure (no record remains).
func (tm *timerManager) createTimer(cb func(), delayMs uint64, periodic bool, cancelled *atomic.Bool) TimerID {
	if cb == nil {
		return 0
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.closed {
		return 0
	}
	id := tm.nextID.Add(1)
	tm.records[id] = &timerRecord{
		id:         id,
		callback:   cb,
		periodic:   periodic,
		intervalMs: delayMs,
		cancelled:  cancelled,
	}
	if err := tm.backend.arm(id, delayMs, periodic); err != nil {
		delete(tm.records, id)
		tm.logger.Err().Err(err).Uint64("timer", id).Log("failed to arm timer")
		return 0
	}
	return id
}

// cancelTimer tears down the backend resource and removes the record.
// Unknown ids report false; cancelling twice is safe.
func (tm *timerManager) cancelTimer(id TimerID) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if _, ok := tm.records[id]; !ok {
		return false
	}
	tm.backend.disarm(id)
	delete(tm.records, id)
	return true
}

// hasTimer reports whether the id names a live record.
func (tm *timerManager) hasTimer(id TimerID) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	_, ok := tm.records[id]
	return ok
}

// restartTimer reprograms an existing record as a one-shot with the new
// delay, resetting the handle's cancelled flag. On rearm failure the record
// is left in its prior state and false is returned.
func (tm *timerManager) restartTimer(id TimerID, delayMs uint64) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	rec, ok := tm.records[id]
	if !ok {
		return false
	}
	if err := tm.backend.rearm(id, delayMs); err != nil {
		tm.logger.Err().Err(err).Uint64("timer", id).Log("failed to restart timer")
		return false
	}
	if rec.cancelled != nil {
		rec.cancelled.Store(false)
	}
	rec.periodic = false
	rec.intervalMs = delayMs
	return true
}

// updateCancelledPtr re-points the record's cancellation flag, used when a
// Timer handle is moved so the new handle governs future callbacks.
func (tm *timerManager) updateCancelledPtr(id TimerID, newPtr *atomic.Bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if rec, ok := tm.records[id]; ok {
		rec.cancelled = newPtr
	}
}

// activeCount returns the number of live records.
func (tm *timerManager) activeCount() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return len(tm.records)
}

// expire is invoked by the backend for each expiry event. It performs the
// cancel check, tears down one-shot records, and posts the user callback to
// the owning loop, where the cancelled flag is checked once more before the
// callback runs.
func (tm *timerManager) expire(id TimerID) {
	tm.mu.Lock()
	rec, ok := tm.records[id]
	if !ok {
		tm.mu.Unlock()
		return
	}
	if rec.cancelled != nil && rec.cancelled.Load() {
		tm.backend.disarm(id)
		delete(tm.records, id)
		tm.mu.Unlock()
		return
	}
	cb := rec.callback
	cancelled := rec.cancelled
	if !rec.periodic {
		tm.backend.disarm(id)
		delete(tm.records, id)
	}
	tm.mu.Unlock()

	l := tm.loop.Value()
	if l == nil {
		return
	}
	l.PostTask(func() {
		// Final check on the loop goroutine: a Cancel racing the in-flight
		// expiry must still win.
		if cancelled != nil && cancelled.Load() {
			return
		}
		cb()
	})
}

// Close tears down every live timer synchronously, then stops the backend.
func (tm *timerManager) Close() {
	tm.mu.Lock()
	if tm.closed {
		tm.mu.Unlock()
		return
	}
	tm.closed = true
	for id := range tm.records {
		tm.backend.disarm(id)
		delete(tm.records, id)
	}
	tm.mu.Unlock()
	tm.backend.close()
}

// failedTimerBackend stands in when the real backend could not initialise;
// every arm fails so createTimer reports 0 and no records accumulate.
type failedTimerBackend struct{}

func (failedTimerBackend) arm(TimerID, uint64, bool) error { return errBackendDown }
func (failedTimerBackend) rearm(TimerID, uint64) error     { return errBackendDown }
func (failedTimerBackend) disarm(TimerID)                  {}
func (failedTimerBackend) close()                          {}
