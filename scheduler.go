package bifrost

import (
	"context"
	"time"
)

const (
	// maxSchedulerWait caps a single timer wait so the loop re-reads the
	// clock at least once a minute, tolerating system suspend and clock
	// drift.
	maxSchedulerWait = time.Minute

	// dueRefreshDelay is the short pause before refreshing a session that
	// is already inside its renewal window.
	dueRefreshDelay = time.Second
)

// startScheduler ensures the background renewal goroutine is running. If
// it already is, it is kicked to re-evaluate against the current store.
func (b *Bifrost) startScheduler() {
	b.mu.Lock()
	if b.schedStop != nil {
		b.mu.Unlock()
		b.kickScheduler()
		return
	}
	stop := make(chan struct{})
	b.schedStop = stop
	b.mu.Unlock()

	b.log.Debug().Msg("background refresh scheduler started")
	go b.schedulerLoop(stop)
}

// stopScheduler halts the background goroutine. Safe to call repeatedly.
func (b *Bifrost) stopScheduler() {
	b.mu.Lock()
	stop := b.schedStop
	b.schedStop = nil
	b.mu.Unlock()

	if stop != nil {
		close(stop)
		b.log.Debug().Msg("background refresh scheduler stopped")
	}
}

// kickScheduler wakes the scheduler to re-evaluate its timing, e.g. after
// another process rewrote the shared store.
func (b *Bifrost) kickScheduler() {
	select {
	case b.schedKick <- struct{}{}:
	default:
	}
}

func (b *Bifrost) schedulerLoop(stop chan struct{}) {
	for {
		until := b.TimeUntilRefresh()

		var wait time.Duration
		switch {
		case until > 0:
			wait = until
			if wait > maxSchedulerWait {
				wait = maxSchedulerWait
			}
		case b.IsAuthenticated():
			wait = dueRefreshDelay
		default:
			// Signed out: nothing to schedule until state changes.
			select {
			case <-stop:
				return
			case <-b.schedKick:
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-b.schedKick:
			timer.Stop()
			continue
		case <-timer.C:
		}

		if b.IsAuthenticated() && b.ShouldRefreshToken() {
			if _, err := b.RefreshToken(context.Background()); err != nil {
				b.log.Debug().Err(err).Msg("scheduled refresh did not produce a session")
			}
		}
	}
}
