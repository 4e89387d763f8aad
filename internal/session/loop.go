package session

import (
	"context"
	"sync"
	"time"
)

// loop runs fn every interval until its context is cancelled.
type loop struct {
	cancel context.CancelFunc
}

func startLoop(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(ctx context.Context)) *loop {
	ctx, cancel := context.WithCancel(ctx)

	wg.Add(1)

	go func() {
		defer wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()

	return &loop{cancel: cancel}
}

// stop cancels the loop without waiting for it; safe from inside fn.
func (l *loop) stop() {
	if l != nil {
		l.cancel()
	}
}
