package looper

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

var loopIDCounter atomic.Uint64

// Looper owns an [EventQueue] and drains it from exactly one consumer
// goroutine, started by [New]. It dispatches messages to their routing
// target and executes callables directly, isolating panics at both
// boundaries so user errors never terminate the loop.
type Looper struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	queue *EventQueue

	// Lifecycle state machine
	state *fastState

	// Timer manager, constructed lazily on first timer request. timersDown
	// latches at teardown so a racing AddTimer cannot resurrect it.
	timersMu   sync.Mutex
	timers     *timerManager
	timersDown bool

	// Off-loop worker executor, constructed lazily on first PostWork.
	workerMu   sync.Mutex
	worker     *workerExecutor
	workerDown bool

	// Resolved options
	opts loopOptions

	// Goroutine tracking
	loopGoroutineID atomic.Uint64

	// Loop ID
	id uint64

	// Loop termination signaling
	loopDone chan struct{}

	joinOnce sync.Once
}

// New creates a looper and starts its consumer goroutine. The returned loop
// is immediately usable from any goroutine; call [Looper.Exit] or
// [Looper.Join] to stop it.
func New(opts ...LoopOption) (*Looper, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	l := &Looper{
		queue:    NewEventQueue(),
		state:    newFastState(),
		opts:     *cfg,
		id:       loopIDCounter.Add(1),
		loopDone: make(chan struct{}),
	}

	go l.run()

	return l, nil
}

// MustNew is New for callers with static options; it panics on option error.
func MustNew(opts ...LoopOption) *Looper {
	l, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return l
}

// ID returns the process-unique loop id, used in log context.
func (l *Looper) ID() uint64 {
	return l.id
}

// EventQueue returns the underlying queue. Direct queue access bypasses the
// loop's abstractions; prefer the Post* methods.
func (l *Looper) EventQueue() *EventQueue {
	return l.queue
}

// State returns the current lifecycle state.
func (l *Looper) State() LoopState {
	return l.state.Load()
}

// Done returns a channel closed when the consumer goroutine has exited.
func (l *Looper) Done() <-chan struct{} {
	return l.loopDone
}

// run is the consumer goroutine.
func (l *Looper) run() {
	defer close(l.loopDone)

	l.loopGoroutineID.Store(getGoroutineID())
	defer l.loopGoroutineID.Store(0)

	l.state.TryTransition(StateAwake, StateRunning)

	for {
		it, ok := l.queue.PollNext()
		if !ok {
			if l.queue.IsQuit() {
				break
			}
			// Timed wake without readiness; keep polling.
			continue
		}
		l.dispatch(it)
	}

	for {
		cur := l.state.Load()
		if cur == StateTerminated || l.state.TryTransition(cur, StateTerminated) {
			break
		}
	}

	l.opts.logger.Debug().Uint64("loop", l.id).Log("loop finished")
}

// dispatch runs a single queue item with panic isolation and CPU-bound
// detection.
func (l *Looper) dispatch(it QueueItem) {
	start := time.Now()

	switch {
	case it.Message != nil:
		if h := it.Message.target; h != nil {
			l.safeDispatchMessage(h, it.Message)
		}
	case it.Task != nil:
		l.safeExecute(it.Task)
	}

	if threshold := l.opts.cpuBoundThreshold; threshold > 0 {
		if elapsed := time.Since(start); elapsed > threshold {
			l.opts.logger.Warning().
				Uint64("loop", l.id).
				Dur("elapsed", elapsed).
				Dur("threshold", threshold).
				Log("dispatched callback blocked the loop; move CPU-bound work to PostWork")
		}
	}
}

// safeExecute executes a callable with panic recovery.
func (l *Looper) safeExecute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.opts.logger.Err().
				Uint64("loop", l.id).
				Any("panic", r).
				Log("posted callable panicked")
		}
	}()
	fn()
}

// safeDispatchMessage dispatches a message with panic recovery.
func (l *Looper) safeDispatchMessage(h *Handler, msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			l.opts.logger.Err().
				Uint64("loop", l.id).
				Int("what", int(msg.What)).
				Any("panic", r).
				Log("message handler panicked")
		}
	}()
	h.DispatchMessage(msg)
}

// PostTask enqueues fn for immediate execution on the loop goroutine. It
// reports false once the loop has shut down. For a typed result use [Post].
func (l *Looper) PostTask(fn func()) bool {
	return l.queue.EnqueueTask(fn, 0, true)
}

// PostTaskDelayed enqueues fn to run on the loop goroutine after delayMs
// milliseconds. For a typed result use [PostDelayed].
func (l *Looper) PostTaskDelayed(delayMs int64, fn func()) bool {
	return l.queue.EnqueueTask(fn, uptimeAfterMillis(delayMs), false)
}

// Post binds fn into a one-shot callable, enqueues it for immediate
// execution on the loop goroutine, and returns the typed future of its
// result. If fn panics the future resolves with a [PanicError]; if the loop
// is already shut down the future resolves with [ErrFutureDropped].
func Post[R any](l *Looper, fn func() R) *Future[R] {
	f := newFuture[R]()
	if !l.queue.EnqueueTask(futureTask(f, fn), 0, true) {
		f.settle(*new(R), ErrFutureDropped)
	}
	return f
}

// PostDelayed is [Post] with a millisecond delay before execution.
func PostDelayed[R any](l *Looper, delayMs int64, fn func() R) *Future[R] {
	f := newFuture[R]()
	if !l.queue.EnqueueTask(futureTask(f, fn), uptimeAfterMillis(delayMs), false) {
		f.settle(*new(R), ErrFutureDropped)
	}
	return f
}

// futureTask wraps fn so its outcome settles f exactly once, converting a
// panic into a PanicError rather than letting it reach the dispatch
// boundary untyped.
func futureTask[R any](f *Future[R], fn func() R) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				f.settle(*new(R), PanicError{Value: r})
				panic(r) // re-raised for the dispatch boundary to log
			}
		}()
		f.settle(fn(), nil)
	}
}

// PostWithTimeout arms a one-shot timer that runs fn after timeoutMs
// milliseconds, returning the handle so the timeout can be cancelled.
func (l *Looper) PostWithTimeout(fn func(), timeoutMs uint64) *Timer {
	return l.AddTimer(fn, timeoutMs)
}

// Exit requests a graceful stop: the state moves to Terminating and the
// queue quits, so the consumer goroutine exits once its in-flight dispatch
// completes. Items still queued are dropped. Safe from any goroutine,
// including the loop's own.
func (l *Looper) Exit() {
	for {
		cur := l.state.Load()
		if cur == StateTerminating || cur == StateTerminated {
			break
		}
		if l.state.TryTransition(cur, StateTerminating) {
			break
		}
	}
	l.queue.Quit()
}

// Join stops the loop and waits for the consumer goroutine to exit:
// it cancels all live timers, releases the worker pool, quits the queue,
// then blocks until the consumer finishes or ctx expires. Calling Join from
// the loop goroutine itself skips the wait (the self-detach escape) and
// returns nil after initiating shutdown.
func (l *Looper) Join(ctx context.Context) error {
	l.joinOnce.Do(func() {
		l.teardownTimers()
		l.teardownWorker()
	})
	l.Exit()

	if l.isLoopThread() {
		return nil
	}

	select {
	case <-l.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// teardownTimers drops the timer manager, cancelling all live timers
// synchronously.
func (l *Looper) teardownTimers() {
	l.timersMu.Lock()
	tm := l.timers
	l.timers = nil
	l.timersDown = true
	l.timersMu.Unlock()
	if tm != nil {
		tm.Close()
	}
}

// teardownWorker releases the worker pool, if one was ever created.
func (l *Looper) teardownWorker() {
	l.workerMu.Lock()
	w := l.worker
	l.worker = nil
	l.workerDown = true
	l.workerMu.Unlock()
	if w != nil {
		w.Release()
	}
}

// timerManager returns the timer manager, constructing it on first use.
// Returns nil once the loop has been torn down.
func (l *Looper) timerManager() *timerManager {
	l.timersMu.Lock()
	defer l.timersMu.Unlock()
	if l.timers == nil {
		if l.timersDown || l.state.Load() == StateTerminated {
			return nil
		}
		l.timers = newTimerManager(l)
	}
	return l.timers
}

// AddTimer arms a one-shot timer that invokes cb on the loop goroutine
// after delayMs milliseconds. The returned handle owns the timer: Cancel it
// when the callback is no longer wanted, or Move to hand that obligation to
// a new owner.
func (l *Looper) AddTimer(cb func(), delayMs uint64) *Timer {
	return l.addTimer(cb, delayMs, false)
}

// AddTimerDuration is [Looper.AddTimer] with a time.Duration delay,
// truncated to millisecond granularity.
func (l *Looper) AddTimerDuration(cb func(), delay time.Duration) *Timer {
	return l.AddTimer(cb, uint64(delay/time.Millisecond))
}

// AddPeriodicTimer arms a repeating timer with the given interval. The
// timer stays armed until cancelled.
func (l *Looper) AddPeriodicTimer(cb func(), intervalMs uint64) *Timer {
	return l.addTimer(cb, intervalMs, true)
}

// AddPeriodicTimerDuration is [Looper.AddPeriodicTimer] with a
// time.Duration interval, truncated to millisecond granularity.
func (l *Looper) AddPeriodicTimerDuration(cb func(), interval time.Duration) *Timer {
	return l.AddPeriodicTimer(cb, uint64(interval/time.Millisecond))
}

func (l *Looper) addTimer(cb func(), delayMs uint64, periodic bool) *Timer {
	t := newTimer(l)
	if cb == nil {
		l.opts.logger.Err().Uint64("loop", l.id).Log("timer callback is nil")
		return t
	}
	tm := l.timerManager()
	if tm == nil {
		return t
	}
	id := tm.createTimer(cb, delayMs, periodic, t.cancelled)
	if id == 0 {
		l.opts.logger.Err().Uint64("loop", l.id).Log("failed to create timer")
		return t
	}
	t.id = id
	return t
}

// ActiveTimerCount returns the number of live timers.
func (l *Looper) ActiveTimerCount() int {
	l.timersMu.Lock()
	tm := l.timers
	l.timersMu.Unlock()
	if tm == nil {
		return 0
	}
	return tm.activeCount()
}

// cancelTimer tears down the timer record for a handle.
func (l *Looper) cancelTimer(id TimerID) bool {
	l.timersMu.Lock()
	tm := l.timers
	l.timersMu.Unlock()
	if tm == nil {
		return false
	}
	return tm.cancelTimer(id)
}

func (l *Looper) hasTimer(id TimerID) bool {
	l.timersMu.Lock()
	tm := l.timers
	l.timersMu.Unlock()
	if tm == nil {
		return false
	}
	return tm.hasTimer(id)
}

func (l *Looper) restartTimer(id TimerID, delayMs uint64) bool {
	l.timersMu.Lock()
	tm := l.timers
	l.timersMu.Unlock()
	if tm == nil {
		return false
	}
	return tm.restartTimer(id, delayMs)
}

func (l *Looper) updateTimerCancelledPtr(id TimerID, newPtr *atomic.Bool) {
	l.timersMu.Lock()
	tm := l.timers
	l.timersMu.Unlock()
	if tm != nil {
		tm.updateCancelledPtr(id, newPtr)
	}
}

// isLoopThread checks if we're on the loop goroutine.
func (l *Looper) isLoopThread() bool {
	loopID := l.loopGoroutineID.Load()
	if loopID == 0 {
		return false
	}
	return getGoroutineID() == loopID
}

// IsLoopThread reports whether the caller is running on this loop's
// consumer goroutine. Every user callback observes true here.
func (l *Looper) IsLoopThread() bool {
	return l.isLoopThread()
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
