package looper

import (
	"sync/atomic"
	"weak"
)

// TimerID identifies a live timer within a loop. Ids are drawn from a
// per-loop counter and never reused; 0 is the null id of an inactive
// handle.
type TimerID = uint64

// Timer is the owning handle of a live timer. The handle, not the loop,
// carries the obligation to cancel: call Cancel when the timer is no longer
// wanted, or Move to transfer that obligation to a fresh handle.
//
// Cancellation is a double fence. Cancel first sets the handle's atomic
// flag, which the expiry path re-checks on the loop goroutine immediately
// before invoking the callback, then tears down the timer record. Either
// fence alone suffices; together they make Cancel effective even against an
// expiration already in flight.
//
// The handle holds only a weak reference to its loop, so a forgotten handle
// never keeps a loop alive, and a timer firing after the loop is gone runs
// nothing.
type Timer struct {
	id        TimerID
	loop      weak.Pointer[Looper]
	cancelled *atomic.Bool
	moved     atomic.Bool
}

func newTimer(l *Looper) *Timer {
	return &Timer{
		loop:      weak.Make(l),
		cancelled: new(atomic.Bool),
	}
}

// ID returns the timer id, or 0 for an inactive handle.
func (t *Timer) ID() TimerID {
	return t.id
}

// Cancel stops the timer. After Cancel returns no further invocations of
// the callback occur. Idempotent; a no-op on a moved-from handle.
func (t *Timer) Cancel() {
	if t.moved.Load() {
		return
	}
	if t.cancelled.Swap(true) {
		return // already cancelled
	}
	if l := t.loop.Value(); l != nil {
		l.cancelTimer(t.id)
	}
}

// IsActive reports whether the timer is still armed: not cancelled, not
// moved-from, and its record still live in the loop's timer manager.
func (t *Timer) IsActive() bool {
	if t.moved.Load() || t.cancelled.Load() || t.id == 0 {
		return false
	}
	if l := t.loop.Value(); l != nil {
		return l.hasTimer(t.id)
	}
	return false
}

// Restart reprograms the timer as a one-shot with a new delay, clearing the
// cancelled flag on success so a previously cancelled-but-still-recorded
// handle fires again. A periodic timer becomes one-shot. Reports false for
// a moved-from handle, a dead loop, or an unknown id.
func (t *Timer) Restart(delayMs uint64) bool {
	if t.moved.Load() {
		return false
	}
	l := t.loop.Value()
	if l == nil {
		return false
	}
	if !l.restartTimer(t.id, delayMs) {
		return false
	}
	t.cancelled.Store(false)
	return true
}

// Move transfers ownership of the timer to a fresh handle and returns it.
// The source becomes inert: IsActive reports false and Cancel/Restart are
// no-ops. The timer record is re-pointed at the new handle's cancellation
// flag so subsequent expiry checks consult the new owner. Move on an
// already-moved handle returns nil.
func (t *Timer) Move() *Timer {
	if t.moved.Swap(true) {
		return nil
	}
	nt := &Timer{
		id:        t.id,
		loop:      t.loop,
		cancelled: new(atomic.Bool),
	}
	nt.cancelled.Store(t.cancelled.Load())
	if l := t.loop.Value(); l != nil {
		l.updateTimerCancelledPtr(t.id, nt.cancelled)
	}
	// The source must never cancel the live timer it no longer owns.
	t.cancelled.Store(true)
	return nt
}
