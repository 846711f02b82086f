package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type stubPurger struct {
	calls atomic.Int64
	err   error
}

func (s *stubPurger) PurgeExpired() error {
	s.calls.Add(1)
	return s.err
}

type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.stopped.Store(true) }

func TestSessionPurgeWorkerPurgesOnTick(t *testing.T) {
	purger := &stubPurger{}
	ticker := newManualTicker()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stop := startSessionPurgeWorkerWithTicker(context.Background(), logger, purger, time.Minute, func(time.Duration) tickSource {
		return ticker
	})

	ticker.ch <- time.Now()
	ticker.ch <- time.Now()
	stop()

	if got := purger.calls.Load(); got != 2 {
		t.Fatalf("expected 2 purge calls, got %d", got)
	}
	if !ticker.stopped.Load() {
		t.Fatal("expected ticker to be stopped")
	}
}

func TestSessionPurgeWorkerLogsErrorsAndContinues(t *testing.T) {
	purger := &stubPurger{err: errors.New("store unavailable")}
	ticker := newManualTicker()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stop := startSessionPurgeWorkerWithTicker(context.Background(), logger, purger, time.Minute, func(time.Duration) tickSource {
		return ticker
	})

	ticker.ch <- time.Now()
	ticker.ch <- time.Now()
	stop()

	if got := purger.calls.Load(); got != 2 {
		t.Fatalf("expected worker to keep purging after errors, got %d calls", got)
	}
}

func TestSessionPurgeWorkerDisabledWithoutInterval(t *testing.T) {
	purger := &stubPurger{}
	stop := startSessionPurgeWorker(context.Background(), nil, purger, 0)
	stop()
	if got := purger.calls.Load(); got != 0 {
		t.Fatalf("expected no purge calls when disabled, got %d", got)
	}
}

func TestSessionPurgeWorkerStopIsIdempotent(t *testing.T) {
	purger := &stubPurger{}
	ticker := newManualTicker()

	stop := startSessionPurgeWorkerWithTicker(context.Background(), nil, purger, time.Minute, func(time.Duration) tickSource {
		return ticker
	})

	stop()
	stop()
}
