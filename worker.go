// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package looper

import (
	"runtime"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/panjf2000/ants/v2"
)

// workerExecutor runs CPU-bound functions off the loop on a shared
// goroutine pool. It never invokes user completion callbacks itself; every
// outcome is posted back to the loop for settlement.
type workerExecutor struct {
	pool *ants.Pool
}

// antsLogger adapts the pool's plain-format logging onto logiface.
type antsLogger struct {
	logger *logiface.Logger[logiface.Event]
}

func (a antsLogger) Printf(format string, args ...any) {
	a.logger.Warning().Logf(format, args...)
}

func newWorkerExecutor(size int, logger *logiface.Logger[logiface.Event]) (*workerExecutor, error) {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	opts := []ants.Option{
		ants.WithPanicHandler(func(r any) {
			// Worker panics are converted to PanicError inside the submitted
			// task; anything arriving here escaped that wrapping.
			logger.Err().Any("panic", r).Log("worker pool task panicked")
		}),
	}
	if logger != nil {
		opts = append(opts, ants.WithLogger(antsLogger{logger: logger}))
	}
	pool, err := ants.NewPool(size, opts...)
	if err != nil {
		return nil, err
	}
	return &workerExecutor{pool: pool}, nil
}

func (w *workerExecutor) submit(task func()) error {
	return w.pool.Submit(task)
}

// Release stops the pool. Queued tasks that never ran leave their promises
// settling through the submit error path, not hanging.
func (w *workerExecutor) Release() {
	w.pool.Release()
}

// workerExec returns the executor, constructing it on first use. Returns
// nil once the loop has been torn down.
func (l *Looper) workerExec() *workerExecutor {
	l.workerMu.Lock()
	defer l.workerMu.Unlock()
	if l.worker == nil {
		if l.workerDown || l.state.Load() == StateTerminated {
			return nil
		}
		w, err := newWorkerExecutor(l.opts.workerPoolSize, l.opts.logger)
		if err != nil {
			l.opts.logger.Err().Err(err).Log("failed to create worker pool")
			return nil
		}
		l.worker = w
	}
	return l.worker
}

// settleOnLoop posts the outcome to the loop so settlement (and therefore
// any attached continuations) is serialized with other loop work. If the
// loop is already gone the promise settles directly so waiters never hang.
func settleOnLoop[R any](l *Looper, p *Promise[R], v R, err error) {
	settle := func() {
		if err != nil {
			p.SetError(err)
		} else {
			p.SetValue(v)
		}
	}
	if !l.PostTask(settle) {
		settle()
	}
}

// PostWork runs fn on an off-loop worker goroutine and returns a promise
// settled on l with fn's outcome. A panic inside fn settles the promise
// with a [PanicError]. The promise, like any other, delivers its callbacks
// on whichever loop they are attached with; settlement itself happens on l.
func PostWork[R any](l *Looper, fn func() (R, error)) *Promise[R] {
	p := NewPromise[R]()
	w := l.workerExec()
	if w == nil {
		p.SetError(ErrLoopTerminated)
		return p
	}
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				settleOnLoop(l, p, *new(R), PanicError{Value: r})
			}
		}()
		res, err := fn()
		settleOnLoop(l, p, res, err)
	}
	if err := w.submit(task); err != nil {
		p.SetError(err)
	}
	return p
}

// PostWorkTimeout is [PostWork] bounded by a deadline: if fn has not
// completed when the timeout elapses, the promise settles with a
// [*TimeoutError]. The computation itself is not interrupted; it runs to
// natural completion in the background and its late outcome is discarded by
// the once-settled state.
func PostWorkTimeout[R any](l *Looper, fn func() (R, error), timeout time.Duration) *Promise[R] {
	p := NewPromise[R]()
	w := l.workerExec()
	if w == nil {
		p.SetError(ErrLoopTerminated)
		return p
	}
	deadline := time.AfterFunc(timeout, func() {
		settleOnLoop(l, p, *new(R), &TimeoutError{Message: "looper: work timed out"})
	})
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				deadline.Stop()
				settleOnLoop(l, p, *new(R), PanicError{Value: r})
			}
		}()
		res, err := fn()
		deadline.Stop()
		settleOnLoop(l, p, res, err)
	}
	if err := w.submit(task); err != nil {
		deadline.Stop()
		p.SetError(err)
	}
	return p
}
