package looper

// Awaitable adapters: continuation-style helpers that schedule work or a
// delay via the loop and resume the caller's continuation on the loop
// goroutine. Each returns a promise, so resumption is an attachment
// ([Then], [State.SetContinuation]) and double-resume is structurally
// impossible - the underlying state settles once.

// AwaitDelay returns a unit promise settled on l after delayMs
// milliseconds. Attached continuations therefore resume on the loop
// goroutine no earlier than the delay.
func AwaitDelay(l *Looper, delayMs int64) *Promise[Unit] {
	p := NewPromise[Unit]()
	if !l.PostTaskDelayed(delayMs, func() { Complete(p) }) {
		p.SetError(ErrLoopTerminated)
	}
	return p
}

// AwaitWork runs fn on an off-loop worker, stores the outcome, and resumes
// on the loop: the returned promise settles on l with fn's value or error.
func AwaitWork[T any](l *Looper, fn func() (T, error)) *Promise[T] {
	return PostWork(l, fn)
}

// AwaitPost runs fn on the loop goroutine itself and settles the returned
// promise there with its outcome. A panic inside fn settles the promise
// with a [PanicError].
func AwaitPost[T any](l *Looper, fn func() (T, error)) *Promise[T] {
	p := NewPromise[T]()
	ok := l.PostTask(func() {
		defer func() {
			if r := recover(); r != nil {
				p.SetError(PanicError{Value: r})
			}
		}()
		v, err := fn()
		if err != nil {
			p.SetError(err)
			return
		}
		p.SetValue(v)
	})
	if !ok {
		p.SetError(ErrLoopTerminated)
	}
	return p
}
