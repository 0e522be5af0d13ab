package looper

import (
	"sync"
)

// Unit is the value type of promises that carry completion but no payload.
type Unit = struct{}

// stateKind is the settlement discriminator of a State.
type stateKind int

const (
	stateEmpty stateKind = iota
	stateValue
	stateError
)

// State is the once-settled cell shared between a [Promise] and the
// callbacks chained off it. It holds either nothing, a value, or an error,
// plus at most one continuation and at most one error handler, each bound
// to a target loop.
//
// Transitions are monotone: Empty → Value or Empty → Error, exactly once;
// later setters are no-ops. A callback attached before settlement fires
// when the state settles; attached after, it is scheduled immediately.
// Either way it runs on its nominated loop's goroutine, exactly once.
// Re-attaching replaces the previous callback only while that callback has
// not yet been scheduled; afterwards attachments are ignored.
type State[T any] struct {
	mu    sync.Mutex
	kind  stateKind
	value T
	err   error

	contLoop       *Looper
	cont           func(T)
	contDispatched bool

	errLoop       *Looper
	errh          func(error)
	errDispatched bool
}

// SetValue settles the state with a value and schedules the continuation,
// if one is attached. No-op once settled.
func (s *State[T]) SetValue(v T) {
	s.mu.Lock()
	if s.kind != stateEmpty {
		s.mu.Unlock()
		return
	}
	s.kind = stateValue
	s.value = v
	loop, fn := s.contLoop, s.cont
	if fn != nil {
		s.contDispatched = true
	}
	s.mu.Unlock()
	if fn != nil {
		scheduleOn(loop, func() { fn(v) })
	}
}

// SetError settles the state with an error and schedules the error
// handler, if one is attached. No-op once settled.
func (s *State[T]) SetError(err error) {
	s.mu.Lock()
	if s.kind != stateEmpty {
		s.mu.Unlock()
		return
	}
	s.kind = stateError
	s.err = err
	loop, fn := s.errLoop, s.errh
	if fn != nil {
		s.errDispatched = true
	}
	s.mu.Unlock()
	if fn != nil {
		scheduleOn(loop, func() { fn(err) })
	}
}

// SetContinuation attaches the value callback, to run on l. If the state
// already holds a value the callback is scheduled immediately; if it holds
// an error the call is a no-op (that path belongs to the error handler).
func (s *State[T]) SetContinuation(l *Looper, fn func(T)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	switch s.kind {
	case stateEmpty:
		s.contLoop, s.cont = l, fn
		s.mu.Unlock()
	case stateValue:
		if s.contDispatched {
			s.mu.Unlock()
			return
		}
		s.contDispatched = true
		v := s.value
		s.mu.Unlock()
		scheduleOn(l, func() { fn(v) })
	default:
		s.mu.Unlock()
	}
}

// SetErrorHandler attaches the error callback, to run on l. If the state
// already holds an error the callback is scheduled immediately; if it
// holds a value the call is a no-op.
func (s *State[T]) SetErrorHandler(l *Looper, fn func(error)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	switch s.kind {
	case stateEmpty:
		s.errLoop, s.errh = l, fn
		s.mu.Unlock()
	case stateError:
		if s.errDispatched {
			s.mu.Unlock()
			return
		}
		s.errDispatched = true
		err := s.err
		s.mu.Unlock()
		scheduleOn(l, func() { fn(err) })
	default:
		s.mu.Unlock()
	}
}

// scheduleOn posts fn to the loop. Delivery is forfeited, by contract, when
// the nominated loop is no longer running.
func scheduleOn(l *Looper, fn func()) {
	if l == nil {
		return
	}
	l.PostTask(fn)
}

// Promise is a shared handle on a [State]: setters for the producing side,
// attachment and chaining for the consuming side. Copying a Promise copies
// the handle, not the state.
type Promise[T any] struct {
	state *State[T]
}

// NewPromise creates an unsettled promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{state: &State[T]{}}
}

// CreatePromise creates an unsettled promise for callers holding a loop.
// The loop is nominated per attachment ([Then], [CatchError],
// [State.SetContinuation]); this constructor exists so call sites read as
// loop operations, mirroring the Post* family.
func CreatePromise[T any](_ *Looper) *Promise[T] {
	return NewPromise[T]()
}

// State returns the underlying shared state.
func (p *Promise[T]) State() *State[T] {
	return p.state
}

// SetValue settles the promise with a value; a no-op once settled.
func (p *Promise[T]) SetValue(v T) {
	p.state.SetValue(v)
}

// SetError settles the promise with an error; a no-op once settled.
func (p *Promise[T]) SetError(err error) {
	p.state.SetError(err)
}

// SetContinuation attaches fn to run on l when (or because) the promise
// holds a value.
func (p *Promise[T]) SetContinuation(l *Looper, fn func(T)) {
	p.state.SetContinuation(l, fn)
}

// SetErrorHandler attaches fn to run on l when (or because) the promise
// holds an error.
func (p *Promise[T]) SetErrorHandler(l *Looper, fn func(error)) {
	p.state.SetErrorHandler(l, fn)
}

// Settled reports whether the promise has left the empty state.
func (p *Promise[T]) Settled() bool {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	return p.state.kind != stateEmpty
}

// Result returns the settlement, with ok=false while unsettled.
func (p *Promise[T]) Result() (value T, err error, ok bool) {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	if p.state.kind == stateEmpty {
		return value, nil, false
	}
	return p.state.value, p.state.err, true
}

// Complete settles a unit promise; sugar for SetValue(Unit{}).
func Complete(p *Promise[Unit]) {
	p.SetValue(Unit{})
}

// Then chains fn onto p: when p settles with a value, fn maps it on loop l
// and the returned promise settles with fn's result; fn returning an error,
// or p settling with an error, forwards to the child's error path. A panic
// inside fn settles the child with a [PanicError].
func Then[T, R any](p *Promise[T], l *Looper, fn func(T) (R, error)) *Promise[R] {
	child := NewPromise[R]()
	p.state.SetContinuation(l, func(v T) {
		defer func() {
			if r := recover(); r != nil {
				child.SetError(PanicError{Value: r})
			}
		}()
		out, err := fn(v)
		if err != nil {
			child.SetError(err)
			return
		}
		child.SetValue(out)
	})
	p.state.SetErrorHandler(l, func(err error) {
		child.SetError(err)
	})
	return child
}

// CatchError chains a recovery handler onto p: values pass through
// unchanged; an error is given to fn on loop l, whose returned value
// settles the child (recovery) and whose returned error forwards the
// failure. A panic inside fn settles the child with a [PanicError].
func CatchError[T any](p *Promise[T], l *Looper, fn func(error) (T, error)) *Promise[T] {
	child := NewPromise[T]()
	p.state.SetContinuation(l, func(v T) {
		child.SetValue(v)
	})
	p.state.SetErrorHandler(l, func(err error) {
		defer func() {
			if r := recover(); r != nil {
				child.SetError(PanicError{Value: r})
			}
		}()
		out, ferr := fn(err)
		if ferr != nil {
			child.SetError(ferr)
			return
		}
		child.SetValue(out)
	})
	return child
}
