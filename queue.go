package looper

import (
	"container/heap"
	"sync"
	"time"
)

// maxPollWait caps how long a single blocking poll sleeps before
// re-evaluating the queue, so a consumer never oversleeps scheduling
// anomalies by more than one slice.
const maxPollWait = 10 * time.Second

// QueueItem is the unified queue element: exactly one of Message or Task is
// set. Task items are move-only in spirit; once returned from PollNext the
// queue retains no reference and the dispatcher owns the thunk.
type QueueItem struct {
	// Message is the payload for message items, nil otherwise.
	Message *Message
	// Task is the payload for callable items, nil otherwise.
	Task func()
	// When is the scheduled dispatch time.
	When MicroInstant

	seq uint64
}

// itemHeap is a min-heap ordered by (When, seq): earliest deadline first,
// insertion order on ties. Both messages and callables share the one
// ordering; there is no cross-kind priority.
type itemHeap []QueueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].When != h[j].When {
		return h[i].When < h[j].When
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) {
	*h = append(*h, x.(QueueItem))
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = QueueItem{}
	*h = old[:n-1]
	return x
}

// EventQueue is a thread-safe, time-ordered store of messages and callables
// with a blocking poll. Many producers, one consumer.
//
// A single mutex protects the heap, the quit flag, and the started flag.
// The wake channel (capacity 1) is the consumer wake primitive; quitCh is
// closed exactly once on Quit so blocked polls and future polls both
// observe shutdown.
type EventQueue struct {
	mu       sync.Mutex
	items    itemHeap
	seq      uint64
	started  bool
	quit     bool
	wake     chan struct{}
	quitCh   chan struct{}
	quitOnce sync.Once
}

// NewEventQueue creates an empty queue.
func NewEventQueue() *EventQueue {
	return &EventQueue{
		wake:   make(chan struct{}, 1),
		quitCh: make(chan struct{}),
	}
}

// push inserts an item. Caller must hold q.mu.
func (q *EventQueue) push(it QueueItem) {
	it.seq = q.seq
	q.seq++
	heap.Push(&q.items, it)
}

// wakeOne nudges the consumer without blocking. A single pending token is
// enough: the consumer re-reads the heap head after every wake.
func (q *EventQueue) wakeOne() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// EnqueueMessage inserts a message scheduled for whenUS, preserving the
// (when, insertion) ordering invariant, and wakes the consumer. It reports
// false once the queue has quit. Safe from any goroutine.
func (q *EventQueue) EnqueueMessage(msg *Message, whenUS MicroInstant) bool {
	if msg == nil {
		return false
	}
	q.mu.Lock()
	if q.quit {
		q.mu.Unlock()
		return false
	}
	msg.whenUS = whenUS
	q.push(QueueItem{Message: msg, When: whenUS})
	q.mu.Unlock()
	q.wakeOne()
	return true
}

// EnqueueTask inserts a callable scheduled for whenUS. Immediate callers
// pass alwaysWake; delayed callers may skip the wake until the consumer has
// begun polling, which suppresses redundant wakeups during construction
// (an optimisation only - correctness never depends on it).
func (q *EventQueue) EnqueueTask(fn func(), whenUS MicroInstant, alwaysWake bool) bool {
	if fn == nil {
		return false
	}
	q.mu.Lock()
	if q.quit {
		q.mu.Unlock()
		return false
	}
	q.push(QueueItem{Task: fn, When: whenUS})
	doWake := alwaysWake || q.started
	q.mu.Unlock()
	if doWake {
		q.wakeOne()
	}
	return true
}

// PollNext blocks until the earliest item is due and returns it, or returns
// ok=false once the queue has quit. Spurious wakes re-evaluate and continue.
// Must be called from a single consumer goroutine.
func (q *EventQueue) PollNext() (QueueItem, bool) {
	for {
		q.mu.Lock()
		if q.quit {
			q.mu.Unlock()
			return QueueItem{}, false
		}
		q.started = true

		wait := time.Duration(-1)
		if len(q.items) > 0 {
			now := UptimeMicros()
			head := q.items[0]
			if head.When <= now {
				it := heap.Pop(&q.items).(QueueItem)
				q.mu.Unlock()
				return it, true
			}
			wait = time.Duration(head.When-now) * time.Microsecond
			if wait > maxPollWait {
				wait = maxPollWait
			}
		}
		q.mu.Unlock()

		if wait < 0 {
			select {
			case <-q.wake:
			case <-q.quitCh:
			}
			continue
		}

		t := time.NewTimer(wait)
		select {
		case <-q.wake:
			t.Stop()
		case <-q.quitCh:
			t.Stop()
		case <-t.C:
		}
	}
}

// Poll is the legacy message-only adapter: it drains via PollNext and drops
// callable items. Retained for handler-message compatibility; prefer
// PollNext.
func (q *EventQueue) Poll() *Message {
	for {
		it, ok := q.PollNext()
		if !ok {
			return nil
		}
		if it.Message != nil {
			return it.Message
		}
	}
}

// HasMessage reports whether a queued message matches the handler, what,
// and, when obj is non-nil, the same Obj identity. Callable items are never
// considered.
func (q *EventQueue) HasMessage(h *Handler, what int32, obj any) bool {
	if h == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		m := q.items[i].Message
		if m != nil && m.target == h && m.What == what && (obj == nil || m.Obj == obj) {
			return true
		}
	}
	return false
}

// RemoveMessages removes every queued message matching the handler, what,
// and, when obj is non-nil, the same Obj identity. It reports whether any
// item was removed. Callable items are never touched.
func (q *EventQueue) RemoveMessages(h *Handler, what int32, obj any) bool {
	if h == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	removed := false
	for i := range q.items {
		m := q.items[i].Message
		if m != nil && m.target == h && m.What == what && (obj == nil || m.Obj == obj) {
			removed = true
			continue
		}
		kept = append(kept, q.items[i])
	}
	if removed {
		for i := len(kept); i < len(q.items); i++ {
			q.items[i] = QueueItem{}
		}
		q.items = kept
		heap.Init(&q.items)
	}
	return removed
}

// Len returns the number of queued items.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Quit marks the queue as shut down and wakes all waiters. Idempotent.
// Items still queued are dropped when the queue is garbage collected; no
// user callbacks run during teardown.
func (q *EventQueue) Quit() {
	q.mu.Lock()
	q.quit = true
	q.mu.Unlock()
	q.quitOnce.Do(func() { close(q.quitCh) })
	q.wakeOne()
}

// IsQuit reports whether Quit has been called.
func (q *EventQueue) IsQuit() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.quit
}

// UptimeMicros returns the monotonic uptime used for queue scheduling.
func (q *EventQueue) UptimeMicros() MicroInstant {
	return UptimeMicros()
}
