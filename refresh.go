package bifrost

import (
	"context"
	"errors"
	"time"
)

// refreshCall is the in-flight renewal handle. The first caller (the
// leader) performs the network work; every concurrent caller attaches as a
// follower and observes the same outcome.
type refreshCall struct {
	done chan struct{}
	sess *Session
	err  error
}

func (c *refreshCall) wait(ctx context.Context) (*Session, error) {
	select {
	case <-c.done:
		return c.sess, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RefreshToken renews the session using the current token as credential.
//
// Within one process, at most one network renewal is outstanding at any
// time: concurrent callers share the in-flight call's result instead of
// issuing their own. Across processes sharing the store, a fresh advisory
// lock makes this call decline with ErrRefreshLocked before touching the
// network. The lock is best effort only; two processes can still race
// inside its TTL window, so the backend must tolerate a refresh with an
// about-to-be-superseded token.
//
// Renewal is attempted up to MaxRetries times with linear backoff
// (RetryDelay * attempt). Success persists the new session and publishes
// refresh_success; exhaustion clears the stored session, publishes
// refresh_failed, and returns ErrRefreshExhausted.
func (b *Bifrost) RefreshToken(ctx context.Context) (*Session, error) {
	b.mu.Lock()
	if call := b.refreshing; call != nil {
		b.mu.Unlock()
		return call.wait(ctx)
	}

	if held, err := b.creds.RefreshLockHeld(); err == nil && held {
		b.mu.Unlock()
		return nil, ErrRefreshLocked
	}

	call := &refreshCall{done: make(chan struct{})}
	b.refreshing = call
	lockTTL := b.config.LockTTL
	b.mu.Unlock()

	if err := b.creds.AcquireRefreshLock(lockTTL); err != nil {
		b.log.Warn().Err(err).Msg("failed to record refresh lock")
	}

	sess, err := b.performRefresh(ctx)

	b.mu.Lock()
	b.refreshing = nil
	b.mu.Unlock()

	if rerr := b.creds.ReleaseRefreshLock(); rerr != nil {
		b.log.Warn().Err(rerr).Msg("failed to release refresh lock")
	}

	switch {
	case sess != nil:
		b.bus.emit(EventRefreshSuccess, sess)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Caller went away mid-renewal; not a refresh verdict.
	default:
		b.bus.emit(EventRefreshFailed, nil)
	}

	call.sess, call.err = sess, err
	close(call.done)
	return sess, err
}

// performRefresh runs the retry loop. Only the refresh leader calls this.
func (b *Bifrost) performRefresh(ctx context.Context) (*Session, error) {
	current := b.Token()
	if current == "" {
		return nil, ErrNoSession
	}

	b.mu.Lock()
	maxRetries := b.config.MaxRetries
	retryDelay := b.config.RetryDelay
	b.mu.Unlock()

	for attempt := 1; attempt <= maxRetries; attempt++ {
		grant, err := b.exchangeRefresh(ctx, current)
		if err == nil {
			// The refresh grant carries token fields only; the
			// principal is carried over from the stored session.
			principal := b.Principal()
			if principal != nil {
				sess := b.storeGrant(grant, principal)
				b.log.Info().Int("attempt", attempt).Time("expires_at", sess.ExpiresAt).Msg("token refreshed")
				return sess, nil
			}
			err = ErrNoSession
		}

		b.log.Warn().Err(err).Int("attempt", attempt).Int("max_retries", maxRetries).Msg("token refresh attempt failed")

		if attempt == maxRetries {
			if cerr := b.creds.Clear(); cerr != nil {
				b.log.Warn().Err(cerr).Msg("failed to clear credentials after refresh exhaustion")
			}
			return nil, ErrRefreshExhausted
		}

		select {
		case <-time.After(retryDelay * time.Duration(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, ErrRefreshExhausted
}
