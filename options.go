// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package looper

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
)

// defaultCPUBoundThreshold is the dispatch wall-time above which a warning
// is logged. Long callbacks delay timers and every later callable.
const defaultCPUBoundThreshold = 3 * time.Second

// loopOptions holds configuration options for Looper creation.
type loopOptions struct {
	logger            *logiface.Logger[logiface.Event]
	cpuBoundThreshold time.Duration
	workerPoolSize    int
}

// --- Loop Options ---

// LoopOption configures a Looper instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger attaches a structured logger to the loop. All dispatch-boundary
// panics, timer backend errors, CPU-bound warnings, and shutdown events are
// logged through it. A nil logger (the default) disables logging; logiface
// loggers are nil-safe so no guard is needed at call sites.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithCPUBoundThreshold sets the dispatch wall-time above which a warning is
// logged, suggesting the callback belongs in PostWork. Zero disables the
// check.
func WithCPUBoundThreshold(d time.Duration) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if d < 0 {
			return errors.New("looper: negative CPU-bound threshold")
		}
		opts.cpuBoundThreshold = d
		return nil
	}}
}

// WithWorkerPoolSize caps the number of concurrently running PostWork
// functions. The default (0) lets the pool size itself by GOMAXPROCS.
func WithWorkerPoolSize(n int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if n < 0 {
			return errors.New("looper: negative worker pool size")
		}
		opts.workerPoolSize = n
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		cpuBoundThreshold: defaultCPUBoundThreshold,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
