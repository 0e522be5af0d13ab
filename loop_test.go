package looper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPostThreeCallables(t *testing.T) {
	l := newTestLooper(t)

	var sum atomic.Int64
	f1 := Post(l, func() int { sum.Add(1); return 1 })
	f2 := Post(l, func() int { sum.Add(2); return 2 })
	f3 := Post(l, func() int { sum.Add(3); return 3 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i, f := range []*Future[int]{f1, f2, f3} {
		v, err := f.Wait(ctx)
		if err != nil {
			t.Fatalf("future %d failed: %v", i+1, err)
		}
		if v != i+1 {
			t.Errorf("future %d = %d, want %d", i+1, v, i+1)
		}
	}
	if sum.Load() != 6 {
		t.Errorf("side-effect sum = %d, want 6", sum.Load())
	}
}

func TestPostDelayedTiming(t *testing.T) {
	l := newTestLooper(t)

	const delay = 200 * time.Millisecond
	const epsilon = 100 * time.Millisecond

	start := time.Now()
	f := PostDelayed(l, int64(delay/time.Millisecond), func() time.Duration {
		return time.Since(start)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	elapsed, err := f.Wait(ctx)
	if err != nil {
		t.Fatalf("delayed future failed: %v", err)
	}
	if elapsed < delay {
		t.Errorf("callable ran after %v, before the %v delay", elapsed, delay)
	}
	if elapsed >= delay+epsilon {
		t.Errorf("callable ran after %v, outside %v + %v", elapsed, delay, epsilon)
	}
}

func TestLoopSurvivesPanickingCallable(t *testing.T) {
	l := newTestLooper(t)

	f := Post(l, func() int { panic("boom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := f.Wait(ctx)
	var pe PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("future error = %v, want PanicError", err)
	}
	if pe.Value != "boom" {
		t.Errorf("panic value = %v, want boom", pe.Value)
	}

	// The loop must still dispatch.
	v, err := Post(l, func() int { return 5 }).Wait(ctx)
	if err != nil || v != 5 {
		t.Fatalf("loop did not survive panic: v=%d err=%v", v, err)
	}
}

func TestCallbacksRunOnLoopGoroutine(t *testing.T) {
	l := newTestLooper(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	onLoop, err := Post(l, l.IsLoopThread).Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !onLoop {
		t.Error("posted callable did not observe the loop goroutine")
	}
	if l.IsLoopThread() {
		t.Error("test goroutine misidentified as the loop goroutine")
	}
}

func TestExitRejectsLaterWork(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatal(err)
	}

	l.Exit()
	if err := l.Join(context.Background()); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if l.State() != StateTerminated {
		t.Fatalf("state = %v, want Terminated", l.State())
	}

	if l.PostTask(func() { t.Error("callable ran after Exit") }) {
		t.Error("PostTask should fail after Exit")
	}
	f := Post(l, func() int { return 1 })
	if _, err, ok := f.TryGet(); !ok || !errors.Is(err, ErrFutureDropped) {
		t.Errorf("post-exit future = (%v, %v), want immediate ErrFutureDropped", err, ok)
	}
}

func TestExitFromLoopGoroutine(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatal(err)
	}

	l.PostTask(func() { l.Exit() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Join(ctx); err != nil {
		t.Fatalf("Join after self-exit failed: %v", err)
	}
}

func TestJoinIdempotentAndReentrant(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatal(err)
	}

	// Join from within a callback must not deadlock.
	done := make(chan struct{})
	l.PostTask(func() {
		defer close(done)
		if err := l.Join(context.Background()); err != nil {
			t.Errorf("reentrant Join: %v", err)
		}
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reentrant Join deadlocked")
	}

	if err := l.Join(context.Background()); err != nil {
		t.Fatalf("outer Join: %v", err)
	}
}

func TestPostDelayedOrderingAcrossDelays(t *testing.T) {
	l := newTestLooper(t)

	var order []int
	done := make(chan struct{})
	l.PostTaskDelayed(60, func() { order = append(order, 3); close(done) })
	l.PostTaskDelayed(20, func() { order = append(order, 1) })
	l.PostTaskDelayed(40, func() { order = append(order, 2) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delayed tasks did not run")
	}
	for i, v := range order {
		if v != i+1 {
			t.Fatalf("dispatch order %v, want [1 2 3]", order)
		}
	}
}

func TestNewOptionValidation(t *testing.T) {
	if _, err := New(WithCPUBoundThreshold(-time.Second)); err == nil {
		t.Error("negative CPU-bound threshold accepted")
	}
	if _, err := New(WithWorkerPoolSize(-1)); err == nil {
		t.Error("negative worker pool size accepted")
	}
}
