package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type sessionPurger interface {
	PurgeExpired() error
}

// tickSource abstracts time.Ticker so tests can drive the purge loop by hand.
type tickSource interface {
	C() <-chan time.Time
	Stop()
}

type wallTicker struct {
	ticker *time.Ticker
}

func (t wallTicker) C() <-chan time.Time { return t.ticker.C }
func (t wallTicker) Stop()               { t.ticker.Stop() }

type tickerFunc func(time.Duration) tickSource

// startSessionPurgeWorker sweeps expired sessions on the given interval until
// the context ends. The returned stop function blocks until the loop exits
// and is safe to call more than once.
func startSessionPurgeWorker(ctx context.Context, logger *slog.Logger, sessions sessionPurger, interval time.Duration) func() {
	return startSessionPurgeWorkerWithTicker(ctx, logger, sessions, interval, func(d time.Duration) tickSource {
		return wallTicker{ticker: time.NewTicker(d)}
	})
}

func startSessionPurgeWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	sessions sessionPurger,
	interval time.Duration,
	newTicker tickerFunc,
) func() {
	if sessions == nil || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				if err := sessions.PurgeExpired(); err != nil && logger != nil {
					logger.Error("session purge sweep failed", "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
