package looper

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrLoopTerminated is returned when operations are attempted on a loop
	// whose consumer goroutine has exited.
	ErrLoopTerminated = errors.New("looper: loop has been terminated")

	// ErrQueueQuit describes an enqueue attempted after Quit. The queue's
	// enqueue methods report that case as a false result, not as this error.
	ErrQueueQuit = errors.New("looper: event queue has quit")

	// ErrFutureDropped is reported by a Future whose callable could not be
	// enqueued because the queue had already quit when it was posted.
	ErrFutureDropped = errors.New("looper: callable dropped before execution")

	// ErrNoLooper is the panic value used when a Handler that was not
	// constructed with a loop is asked to produce or send messages.
	ErrNoLooper = errors.New("looper: handler is not bound to a loop")
)

// PanicError wraps a panic value recovered at a dispatch boundary or inside
// a worker function, so it can travel through error-typed settlement paths.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("looper: callback panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
// This enables use with [errors.Is] and [errors.As] for error matching
// through the cause chain.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// TimeoutError reports that a [PostWorkTimeout] deadline elapsed before the
// worker function completed. It is distinguishable from any user error: user
// code never produces this type, and the worker path never wraps user errors
// in it.
type TimeoutError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Message == "" {
		return "operation timed out"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}
