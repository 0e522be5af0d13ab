// Package looper provides a single-consumer event loop for Go, modelled on
// the Android Looper/Handler pattern: a unified time-ordered queue of
// messages and callables, millisecond timers with safe cross-goroutine
// cancellation, and a promise layer whose callbacks are always delivered on
// a nominated loop.
//
// # Architecture
//
// The core is a [Looper] that owns an [EventQueue] and drains it from exactly
// one consumer goroutine. Producers on any goroutine submit work via the
// Post* family, via [Handler] message sends, or indirectly via timer expiry
// and promise settlement; every user callback (message handler, posted
// callable, timer callback, promise continuation) executes on the loop
// goroutine.
//
// Dispatch order is purely temporal: items run in non-decreasing
// scheduled-time order, with ties broken by insertion order. There is no
// separate priority queue.
//
// # Timers
//
// [Looper.AddTimer] and [Looper.AddPeriodicTimer] return a [Timer] handle
// that owns the underlying timer: Cancel tears it down, Move transfers that
// obligation to a fresh handle. Two backends exist, selected at build time:
// timerfd descriptors multiplexed through a single epoll goroutine on Linux,
// and per-timer runtime timers elsewhere. In both, the user callback is
// re-checked against the handle's cancellation flag on the loop goroutine
// immediately before it runs, so Cancel is effective even against an expiry
// already in flight.
//
// # Promises
//
// [Promise] is a once-settled cell with at most one continuation and one
// error handler, each bound to a target loop. [Then] and [CatchError] chain
// derived promises; [PostWork] runs CPU-bound functions on an off-loop
// worker pool and settles the returned promise back on the loop, optionally
// bounded by a timeout.
//
// # Thread Safety
//
//   - Post*, Handler sends, timer creation/cancellation, and promise
//     settlement are safe from any goroutine
//   - User callbacks only ever run on the owning loop's goroutine
//   - [Looper.Exit] may be called from any goroutine, including from within
//     a callback running on the loop itself
//
// # Usage
//
//	l := looper.MustNew()
//	defer l.Join(context.Background())
//
//	f := looper.Post(l, func() int { return 21 * 2 })
//	v, err := f.Wait(context.Background())
//
//	t := l.AddTimer(func() { fmt.Println("fired") }, 100)
//	defer t.Cancel()
package looper
