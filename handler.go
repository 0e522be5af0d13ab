package looper

// MessageHandler receives messages on the loop goroutine. Implementations
// are user-extensible; [HandlerFunc] adapts a bare function.
type MessageHandler interface {
	HandleMessage(msg *Message)
}

// HandlerFunc adapts a function to the [MessageHandler] interface.
type HandlerFunc func(msg *Message)

// HandleMessage calls fn(msg).
func (fn HandlerFunc) HandleMessage(msg *Message) { fn(msg) }

// Handler is a routing endpoint: it binds a [MessageHandler] to a loop,
// mints messages addressed to itself, and translates the send/query/remove
// surface onto the loop's queue. Handlers own nothing of the queue.
type Handler struct {
	looper *Looper
	target MessageHandler
}

// NewHandler binds target to the given loop. Messages obtained from the
// returned handler dispatch to target.HandleMessage on the loop goroutine.
func NewHandler(l *Looper, target MessageHandler) *Handler {
	return &Handler{looper: l, target: target}
}

// Looper returns the loop this handler is bound to.
func (h *Handler) Looper() *Looper {
	return h.looper
}

// queue panics for an unbound handler; that is a programmer error, unlike
// the recoverable boolean results of the send APIs.
func (h *Handler) queue() *EventQueue {
	if h == nil || h.looper == nil {
		panic(ErrNoLooper)
	}
	return h.looper.queue
}

// ObtainMessage returns an empty message addressed to this handler.
func (h *Handler) ObtainMessage() *Message {
	h.queue() // assert bound
	return &Message{target: h}
}

// ObtainMessageWhat returns a message with the given discriminator.
func (h *Handler) ObtainMessageWhat(what int32) *Message {
	m := h.ObtainMessage()
	m.What = what
	return m
}

// ObtainMessageArgs returns a message with the discriminator and up to
// three scalar arguments; missing arguments stay zero.
func (h *Handler) ObtainMessageArgs(what int32, args ...int32) *Message {
	m := h.ObtainMessageWhat(what)
	if len(args) > 0 {
		m.Arg1 = args[0]
	}
	if len(args) > 1 {
		m.Arg2 = args[1]
	}
	if len(args) > 2 {
		m.Arg3 = args[2]
	}
	return m
}

// ObtainMessageObj returns a message with the discriminator and an opaque
// reference.
func (h *Handler) ObtainMessageObj(what int32, obj any) *Message {
	m := h.ObtainMessageWhat(what)
	m.Obj = obj
	return m
}

// ObtainMessageArgsObj returns a message with the discriminator, two
// scalar arguments, and an opaque reference.
func (h *Handler) ObtainMessageArgsObj(what, arg1, arg2 int32, obj any) *Message {
	m := h.ObtainMessageArgs(what, arg1, arg2)
	m.Obj = obj
	return m
}

// ObtainMessageRef returns a message with the discriminator and an owned
// reference.
func (h *Handler) ObtainMessageRef(what int32, ref any) *Message {
	m := h.ObtainMessageWhat(what)
	m.Ref = ref
	return m
}

// SendMessage enqueues the message for immediate dispatch. Reports false
// once the queue has shut down.
func (h *Handler) SendMessage(msg *Message) bool {
	return h.queue().EnqueueMessage(msg, UptimeMicros())
}

// SendMessageDelayed enqueues the message to dispatch after delayMs
// milliseconds.
func (h *Handler) SendMessageDelayed(msg *Message, delayMs int64) bool {
	return h.queue().EnqueueMessage(msg, uptimeAfterMillis(delayMs))
}

// SendMessageAtTime enqueues the message for an absolute uptime, in
// microseconds.
func (h *Handler) SendMessageAtTime(msg *Message, whenUS MicroInstant) bool {
	return h.queue().EnqueueMessage(msg, whenUS)
}

// HasMessages reports whether any queued message for this handler matches
// what.
func (h *Handler) HasMessages(what int32) bool {
	return h.queue().HasMessage(h, what, nil)
}

// HasMessagesObj is HasMessages additionally matching the Obj identity.
func (h *Handler) HasMessagesObj(what int32, obj any) bool {
	return h.queue().HasMessage(h, what, obj)
}

// RemoveMessages removes every queued message for this handler matching
// what, reporting whether any was removed.
func (h *Handler) RemoveMessages(what int32) bool {
	return h.queue().RemoveMessages(h, what, nil)
}

// RemoveMessagesObj is RemoveMessages additionally matching the Obj
// identity.
func (h *Handler) RemoveMessagesObj(what int32, obj any) bool {
	return h.queue().RemoveMessages(h, what, obj)
}

// DispatchMessage delivers the message to the bound target. Called by the
// loop; exposed for tests and custom drivers.
func (h *Handler) DispatchMessage(msg *Message) {
	if h.target != nil {
		h.target.HandleMessage(msg)
	}
}

// UptimeMicros returns the monotonic uptime used for message scheduling.
func (h *Handler) UptimeMicros() MicroInstant {
	return UptimeMicros()
}
