package broker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CallPolicy wraps outbound broker calls with a minimum interval between
// calls and exponential-backoff retries on transient failures. It is
// shared by all endpoints of a client so the rate limit covers the whole
// session.
type CallPolicy struct {
	mu         sync.Mutex
	lastCall   time.Time
	minSpacing time.Duration

	maxRetries  int
	backoffBase time.Duration
	log         zerolog.Logger

	// RetryCount is incremented once per retry attempt, for metrics.
	onRetry func()
}

// NewCallPolicy builds a policy. maxRetries is the total attempt cap,
// not the retry count, and is clamped to at least 1.
func NewCallPolicy(minSpacing, backoffBase time.Duration, maxRetries int, log zerolog.Logger) *CallPolicy {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	return &CallPolicy{
		minSpacing:  minSpacing,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		log:         log.With().Str("component", "broker_policy").Logger(),
	}
}

// OnRetry registers a callback fired on every retry, used to feed the
// retry counter metric.
func (p *CallPolicy) OnRetry(fn func()) { p.onRetry = fn }

// Do runs fn under the policy. Transient errors are retried with delay
// backoffBase * 2^(attempt-1); anything else propagates immediately.
func (p *CallPolicy) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		if werr := p.waitTurn(ctx); werr != nil {
			return werr
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == p.maxRetries {
			break
		}

		delay := p.backoffBase * (1 << (attempt - 1))
		p.log.Warn().
			Str("call", name).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("transient broker error, retrying")
		if p.onRetry != nil {
			p.onRetry()
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// waitTurn blocks until minSpacing has elapsed since the previous call.
func (p *CallPolicy) waitTurn(ctx context.Context) error {
	p.mu.Lock()
	wait := p.minSpacing - time.Since(p.lastCall)
	if wait <= 0 {
		p.lastCall = time.Now()
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	p.lastCall = time.Now()
	p.mu.Unlock()
	return nil
}
