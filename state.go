package looper

import (
	"sync/atomic"
)

// LoopState represents the lifecycle state of a [Looper].
//
// State Machine:
//
//	StateAwake (0) → StateRunning (1)        [consumer goroutine starts]
//	StateRunning (1) → StateTerminating (2)  [Exit() / Join()]
//	StateTerminating (2) → StateTerminated (3) [consumer drained and exited]
//	StateTerminated (3) → (terminal)
//
// Transition Rules:
//   - Use TryTransition() (CAS) for contended transitions
//   - Use Store() only for the irreversible StateTerminated
type LoopState uint64

const (
	// StateAwake indicates the loop has been created but the consumer
	// goroutine has not begun polling yet.
	StateAwake LoopState = iota
	// StateRunning indicates the consumer goroutine is polling the queue.
	StateRunning
	// StateTerminating indicates shutdown has been requested but the
	// consumer has not finished yet.
	StateTerminating
	// StateTerminated indicates the consumer goroutine has exited.
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free lifecycle state machine with cache-line padding
// to keep the hot word off shared lines.
type fastState struct { // betteralign:ignore
	_ [64]byte      // Cache line padding (before value) //nolint:unused
	v atomic.Uint64 // State value
	_ [56]byte      // Pad to complete cache line (64 - 8 = 56) //nolint:unused
}

func newFastState() *fastState {
	s := &fastState{}
	s.v.Store(uint64(StateAwake))
	return s
}

// Load returns the current state atomically.
func (s *fastState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store atomically stores a new state. No transition validation.
func (s *fastState) Store(state LoopState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
// Returns true if the transition was successful.
func (s *fastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// IsTerminal returns true if the current state is Terminated.
func (s *fastState) IsTerminal() bool {
	return s.Load() == StateTerminated
}

// IsRunning returns true if the consumer goroutine is live.
func (s *fastState) IsRunning() bool {
	state := s.Load()
	return state == StateAwake || state == StateRunning
}
