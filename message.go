package looper

// Message is an addressed unit of work routed to a [Handler] on the loop
// goroutine. Messages are created through the Handler's ObtainMessage
// factories, which bind the routing target; the remaining fields are plain
// data owned by the producer until the message is enqueued.
type Message struct {
	// What discriminates the message for the receiving handler.
	What int32

	// Arg1, Arg2, Arg3 are scalar arguments; cheaper than allocating Obj
	// for small payloads.
	Arg1 int32
	Arg2 int32
	Arg3 int32

	// Obj carries an opaque reference, matched by identity in HasMessages /
	// RemoveMessages scans.
	Obj any

	// Ref carries an owned reference whose lifetime follows the message.
	Ref any

	// target is the owning handler, set by ObtainMessage. A message is
	// queued at most once at any time; requeueing a delivered message is
	// permitted once it is back in producer hands.
	target *Handler

	// whenUS is the scheduled dispatch time, set at enqueue.
	whenUS MicroInstant
}

// Target returns the handler this message is routed to, or nil for a
// message that was never obtained from a handler.
func (m *Message) Target() *Handler {
	return m.target
}

// When returns the scheduled dispatch time of the message, valid once the
// message has been enqueued.
func (m *Message) When() MicroInstant {
	return m.whenUS
}

// SendToTarget enqueues the message for immediate dispatch on its target
// handler's loop. It reports false if the message has no target or the
// queue is shut down.
func (m *Message) SendToTarget() bool {
	if m.target == nil {
		return false
	}
	return m.target.SendMessage(m)
}
