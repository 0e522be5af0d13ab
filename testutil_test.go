package looper

import (
	"context"
	"testing"
	"time"
)

// newTestLooper creates a loop and registers teardown.
func newTestLooper(t *testing.T, opts ...LoopOption) *Looper {
	t.Helper()
	l, err := New(opts...)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.Join(ctx); err != nil {
			t.Errorf("Join() failed: %v", err)
		}
	})
	return l
}

// drainLoop posts a barrier task and waits for it, guaranteeing everything
// enqueued beforehand has dispatched.
func drainLoop(t *testing.T, l *Looper) {
	t.Helper()
	done := make(chan struct{})
	if !l.PostTask(func() { close(done) }) {
		t.Fatal("PostTask failed on live loop")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out draining loop")
	}
}
