package looper

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
)

// captureWriter collects rendered log messages for assertions.
type captureWriter struct {
	mu   sync.Mutex
	msgs []string
}

func (w *captureWriter) add(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msg)
}

func (w *captureWriter) contains(substr string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range w.msgs {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

// captureEvent is a minimal logiface event that records its message.
type captureEvent struct {
	logiface.UnimplementedEvent
	w     *captureWriter
	level logiface.Level
}

func (e *captureEvent) Level() logiface.Level        { return e.level }
func (e *captureEvent) AddField(key string, val any) {}
func (e *captureEvent) AddMessage(msg string) bool {
	e.w.add(msg)
	return true
}

func newCaptureLogger(w *captureWriter) *logiface.Logger[logiface.Event] {
	return logiface.New[logiface.Event](
		logiface.WithEventFactory[logiface.Event](logiface.NewEventFactoryFunc(func(level logiface.Level) logiface.Event {
			return &captureEvent{w: w, level: level}
		})),
		logiface.WithWriter[logiface.Event](logiface.NewWriterFunc(func(event logiface.Event) error {
			return nil
		})),
	)
}

func TestWithLoggerCapturesPanics(t *testing.T) {
	w := &captureWriter{}
	l := newTestLooper(t, WithLogger(newCaptureLogger(w)))

	l.PostTask(func() { panic("logged panic") })
	drainLoop(t, l)

	if !w.contains("posted callable panicked") {
		t.Errorf("panic was not logged; captured: %v", w.msgs)
	}
}

func TestWithCPUBoundThresholdWarns(t *testing.T) {
	w := &captureWriter{}
	l := newTestLooper(t,
		WithLogger(newCaptureLogger(w)),
		WithCPUBoundThreshold(10*time.Millisecond),
	)

	l.PostTask(func() { time.Sleep(30 * time.Millisecond) })
	drainLoop(t, l)

	if !w.contains("blocked the loop") {
		t.Errorf("CPU-bound warning not logged; captured: %v", w.msgs)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	l := newTestLooper(t) // no WithLogger
	l.PostTask(func() { panic("unlogged panic") })
	drainLoop(t, l)
	// Surviving the panic with a nil logger is the assertion.
}
